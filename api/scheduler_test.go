package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fiscal-engine/fiscal"
)

func TestScheduler_RunsOnStart(t *testing.T) {
	// GIVEN: an overdue record last reconciled at creation
	ts := setupTestServer(t)
	created := ts.createTIB(t, "prop-1", 2023)
	ts.clock = time.Date(2025, time.September, 15, 0, 0, 0, 0, time.UTC)

	// WHEN: the scheduler starts and stops before its first tick
	s := NewPenaltyScheduler(ts.h)
	s.CheckInterval = time.Hour
	s.Start()
	s.Stop()

	// THEN: exactly one pass ran, as of the handler clock
	runs, err := ts.h.Store.ListRefreshRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduler", runs[0].Source)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, "2025-09-15", runs[0].AsOf.Format(dateLayout))
	assert.Equal(t, 1, runs[0].Updated)

	rec, err := ts.h.Store.Get(context.Background(), fiscal.RecordID(created.ID))
	require.NoError(t, err)
	assert.Equal(t, "5.000", rec.PenaltyAmount.String())
}

func TestScheduler_Disabled(t *testing.T) {
	ts := setupTestServer(t)

	s := NewPenaltyScheduler(ts.h)
	s.Enabled = false
	s.Start()
	s.Stop()

	runs, err := ts.h.Store.ListRefreshRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_Restart(t *testing.T) {
	ts := setupTestServer(t)

	s := NewPenaltyScheduler(ts.h)
	s.Start()
	s.Start() // already running
	s.Stop()
	s.Stop() // already stopped
	s.Start()
	s.Stop()

	runs, err := ts.h.Store.ListRefreshRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
