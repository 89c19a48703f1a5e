package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// PENALTY RECONCILER - Recompute on read, persist if changed
// =============================================================================

// PenaltyReconciler keeps stored penalties in line with the payment calendar.
// Penalty and total are always recomputed from TaxAmount and the read date,
// then written as a full overwrite only when they differ from what is stored.
// Running it twice for the same date is a no-op the second time.
type PenaltyReconciler struct {
	Store     RecordStore
	Penalties *PenaltyCalculator
}

func NewPenaltyReconciler(store RecordStore, penalties *PenaltyCalculator) *PenaltyReconciler {
	return &PenaltyReconciler{Store: store, Penalties: penalties}
}

// Refresh recomputes penalty and total on a copy of rec.
// Paid records are returned unchanged.
func (r *PenaltyReconciler) Refresh(rec TaxRecord, asOf time.Time) (TaxRecord, bool) {
	if rec.IsPaid() {
		return rec, false
	}

	penalty := r.Penalties.LatePayment(rec.TaxAmount.Decimal(), rec.TaxYear, rec.Section, asOf)
	total := rec.TaxAmount.Add(penalty)
	if penalty.Equal(rec.PenaltyAmount) && total.Equal(rec.TotalAmount) {
		return rec, false
	}

	rec.PenaltyAmount = penalty
	rec.TotalAmount = total
	return rec, true
}

// Reconcile loads one record, refreshes it and writes on change.
func (r *PenaltyReconciler) Reconcile(ctx context.Context, id RecordID, asOf time.Time) (*TaxRecord, bool, error) {
	rec, err := r.Store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	refreshed, changed, err := r.apply(ctx, *rec, asOf)
	if err != nil {
		return nil, false, err
	}
	return &refreshed, changed, nil
}

// ReconcileRecords refreshes records that were already loaded, e.g. by a
// list query. Records whose write fails keep their stored values and are
// counted in the summary.
func (r *PenaltyReconciler) ReconcileRecords(ctx context.Context, recs []TaxRecord, asOf time.Time) ([]TaxRecord, ReconcileSummary) {
	summary := ReconcileSummary{AsOf: CalendarDate(asOf)}
	out := make([]TaxRecord, 0, len(recs))
	for _, rec := range recs {
		summary.Scanned++
		refreshed, changed, err := r.apply(ctx, rec, asOf)
		switch {
		case err != nil:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Errorf("record %s: %w", rec.ID, err))
			out = append(out, rec)
		case changed:
			summary.Updated++
			out = append(out, refreshed)
		default:
			out = append(out, refreshed)
		}
	}
	return out, summary
}

// ReconcileAll refreshes every unpaid record matching filter.
func (r *PenaltyReconciler) ReconcileAll(ctx context.Context, filter RecordFilter, asOf time.Time) (ReconcileSummary, error) {
	filter.Unpaid = true
	recs, err := r.Store.List(ctx, filter)
	if err != nil {
		return ReconcileSummary{}, fmt.Errorf("list records: %w", err)
	}
	_, summary := r.ReconcileRecords(ctx, recs, asOf)
	return summary, ctx.Err()
}

func (r *PenaltyReconciler) apply(ctx context.Context, rec TaxRecord, asOf time.Time) (TaxRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return rec, false, err
	}
	refreshed, changed := r.Refresh(rec, asOf)
	if !changed {
		return refreshed, false, nil
	}
	if err := r.Store.SavePenalty(ctx, rec.ID, refreshed.PenaltyAmount, refreshed.TotalAmount); err != nil {
		// Paid between load and write: the stored record wins.
		if errors.Is(err, ErrRecordPaid) {
			return rec, false, nil
		}
		return rec, false, err
	}
	return refreshed, true, nil
}

// ReconcileSummary reports one reconciliation pass.
type ReconcileSummary struct {
	AsOf    time.Time
	Scanned int
	Updated int
	Failed  int
	Errors  []error
}

// Err joins the per-record errors, nil when none failed.
func (s ReconcileSummary) Err() error {
	return errors.Join(s.Errors...)
}
