/*
scheduler.go - Automated penalty refresh scheduler

PURPOSE:
  Periodically reconciles the penalties of all unpaid tax records so stored
  totals stay current even for records nobody reads.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick runs one PenaltyReconciler pass as of today's UTC date
  - A pass is idempotent: records already current are not written
  - Records every pass in penalty_refresh_runs for audit

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPenaltyScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RefreshPenalties endpoint (manual refresh)
  - fiscal/reconcile.go: PenaltyReconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fiscal-engine/fiscal"
)

// PenaltyScheduler handles automated penalty refreshes.
type PenaltyScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPenaltyScheduler creates a new scheduler.
func NewPenaltyScheduler(handler *Handler) *PenaltyScheduler {
	logger := handler.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PenaltyScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger.Named("scheduler"),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ps *PenaltyScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.Logger.Info("disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.stop = make(chan struct{})
	ps.wg.Add(1)

	go ps.run()

	ps.Logger.Info("started", zap.Duration("check_interval", ps.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (ps *PenaltyScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.ticker = nil
		ps.Logger.Info("stopped")
	}
}

func (ps *PenaltyScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.checkAndProcess()

	for {
		select {
		case <-ps.ticker.C:
			ps.checkAndProcess()
		case <-ps.stop:
			return
		}
	}
}

func (ps *PenaltyScheduler) checkAndProcess() {
	ctx, cancel := context.WithTimeout(context.Background(), ps.CheckInterval)
	defer cancel()

	asOf := fiscal.CalendarDate(ps.Handler.now())
	run, err := ps.Handler.RunPenaltyRefresh(ctx, "scheduler", fiscal.RecordFilter{}, asOf)
	if err != nil {
		ps.Logger.Error("penalty refresh failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if run.Failed > 0 {
		ps.Logger.Warn("penalty refresh completed with failures",
			zap.String("run_id", run.ID),
			zap.Int("failed", run.Failed),
		)
	}
}
