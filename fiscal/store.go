/*
store.go - Persistence interface for tax records

PURPOSE:
  Defines the interface between the reconciliation logic and the database.
  The engine itself never persists anything; the caller owns TaxRecords and
  the RecordStore is how the caller keeps them.

WRITE CONTRACT:
  - Create(): one record per (asset, section, tax year), ErrDuplicateRecord otherwise
  - SavePenalty(): full overwrite of penalty_amount and total_amount, never
    an increment. Rejected with ErrRecordPaid once the record is paid.
  - SetStatus(): lifecycle transitions (calculated -> notified -> paid ...)

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - fiscal/store/memory.go: In-memory for testing

SEE ALSO:
  - reconcile.go: PenaltyReconciler, the only SavePenalty caller
*/
package fiscal

import "context"

// RecordFilter narrows List. Zero fields are ignored.
type RecordFilter struct {
	Section Section
	TaxYear int
	AssetID string
	Status  TaxStatus

	// Unpaid excludes paid records.
	Unpaid bool
}

// Matches applies the filter to a record in memory.
func (f RecordFilter) Matches(r TaxRecord) bool {
	if f.Section != "" && r.Section != f.Section {
		return false
	}
	if f.TaxYear != 0 && r.TaxYear != f.TaxYear {
		return false
	}
	if f.AssetID != "" && r.AssetID != f.AssetID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Unpaid && r.IsPaid() {
		return false
	}
	return true
}

// RecordStore persists tax records.
type RecordStore interface {
	// Create inserts a new record. Returns ErrDuplicateRecord if one exists
	// for the same asset, section and tax year.
	Create(ctx context.Context, rec TaxRecord) error

	// Get returns ErrRecordNotFound for unknown IDs.
	Get(ctx context.Context, id RecordID) (*TaxRecord, error)

	// List returns records ordered by tax year, then creation time.
	List(ctx context.Context, filter RecordFilter) ([]TaxRecord, error)

	// SavePenalty overwrites the derived amounts of an unpaid record.
	SavePenalty(ctx context.Context, id RecordID, penalty, total Money) error

	// SetStatus changes the lifecycle status.
	SetStatus(ctx context.Context, id RecordID, status TaxStatus) error
}
