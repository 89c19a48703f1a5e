/*
Package sqlite provides a SQLite-backed implementation of fiscal.RecordStore.

PURPOSE:
  Persists tax records and the log of penalty refresh runs. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  fiscal.RecordStore: Tax record persistence

KEY TABLES:
  tax_records:           One row per (asset, section, tax year)
  penalty_refresh_runs:  One row per bulk penalty reconciliation

MONEY COLUMNS:
  Amounts are stored as TEXT in their fixed-decimal form ("60.000") so they
  come back with the same precision and are never re-rounded.

INDEXES:
  - idx_tax_records_asset_year: Enforces one record per asset and year
  - idx_tax_records_status: Unpaid scans for bulk refresh

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SavePenalty guards on status in the
  UPDATE itself, so a record paid concurrently is never overwritten.

USAGE:
  store, err := sqlite.New("./data/fiscal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  reconciler := fiscal.NewPenaltyReconciler(store, penalties)

SEE ALSO:
  - fiscal/store.go: Interface definition
  - fiscal/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/fiscal"
)

// Store implements fiscal.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ fiscal.RecordStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tax_records (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		section TEXT NOT NULL,
		tax_year INTEGER NOT NULL,
		base_amount TEXT NOT NULL,
		rate_percent TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		penalty_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		exemption_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tax_records_asset_year
		ON tax_records(asset_id, section, tax_year);
	CREATE INDEX IF NOT EXISTS idx_tax_records_status
		ON tax_records(status);

	CREATE TABLE IF NOT EXISTS penalty_refresh_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL,
		scanned INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_penalty_refresh_runs_started
		ON penalty_refresh_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TAX RECORDS (fiscal.RecordStore interface)
// =============================================================================

const recordColumns = `id, asset_id, section, tax_year, base_amount, rate_percent,
	tax_amount, penalty_amount, total_amount, status, exemption_reason,
	created_at, updated_at`

// Create inserts a new record.
func (s *Store) Create(ctx context.Context, rec fiscal.TaxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO tax_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.AssetID,
		rec.Section,
		rec.TaxYear,
		rec.BaseAmount.String(),
		rec.RatePercent.String(),
		rec.TaxAmount.String(),
		rec.PenaltyAmount.String(),
		rec.TotalAmount.String(),
		rec.Status,
		nullString(rec.ExemptionReason),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fiscal.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to create tax record: %w", err)
	}
	return nil
}

// Get returns a record by ID.
func (s *Store) Get(ctx context.Context, id fiscal.RecordID) (*fiscal.TaxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM tax_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tax record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns records matching filter ordered by tax year, then creation.
func (s *Store) List(ctx context.Context, filter fiscal.RecordFilter) ([]fiscal.TaxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Section != "" {
		where = append(where, "section = ?")
		args = append(args, filter.Section)
	}
	if filter.TaxYear != 0 {
		where = append(where, "tax_year = ?")
		args = append(args, filter.TaxYear)
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Unpaid {
		where = append(where, "status != ?")
		args = append(args, fiscal.StatusPaid)
	}

	query := `SELECT ` + recordColumns + ` FROM tax_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY tax_year, created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tax records: %w", err)
	}
	defer rows.Close()

	var records []fiscal.TaxRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SavePenalty overwrites penalty_amount and total_amount of an unpaid record.
func (s *Store) SavePenalty(ctx context.Context, id fiscal.RecordID, penalty, total fiscal.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tax_records
		SET penalty_amount = ?, total_amount = ?, updated_at = ?
		WHERE id = ? AND status != ?`,
		penalty.String(), total.String(), time.Now().UTC().Format(time.RFC3339),
		id, fiscal.StatusPaid,
	)
	if err != nil {
		return fmt.Errorf("failed to save penalty for %s: %w", id, err)
	}
	return s.checkUpdated(ctx, res, id)
}

// SetStatus changes the lifecycle status. A paid record stays paid.
func (s *Store) SetStatus(ctx context.Context, id fiscal.RecordID, status fiscal.TaxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tax_records
		SET status = ?, updated_at = ?
		WHERE id = ? AND (status != ? OR ? = ?)`,
		status, time.Now().UTC().Format(time.RFC3339),
		id, fiscal.StatusPaid, status, fiscal.StatusPaid,
	)
	if err != nil {
		return fmt.Errorf("failed to set status for %s: %w", id, err)
	}
	return s.checkUpdated(ctx, res, id)
}

// checkUpdated turns "no row changed" into not-found or paid.
func (s *Store) checkUpdated(ctx context.Context, res sql.Result, id fiscal.RecordID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tax_records WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fiscal.ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	return fiscal.ErrRecordPaid
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (fiscal.TaxRecord, error) {
	var rec fiscal.TaxRecord
	var base, rate, tax, penalty, total, createdAt, updatedAt string
	var exemption sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.AssetID, &rec.Section, &rec.TaxYear,
		&base, &rate, &tax, &penalty, &total,
		&rec.Status, &exemption, &createdAt, &updatedAt,
	); err != nil {
		return rec, err
	}

	var err error
	if rec.BaseAmount, err = fiscal.ParseMoney(base); err != nil {
		return rec, err
	}
	if rec.RatePercent, err = decimal.NewFromString(rate); err != nil {
		return rec, fmt.Errorf("invalid rate_percent %q: %w", rate, err)
	}
	if rec.TaxAmount, err = fiscal.ParseMoney(tax); err != nil {
		return rec, err
	}
	if rec.PenaltyAmount, err = fiscal.ParseMoney(penalty); err != nil {
		return rec, err
	}
	if rec.TotalAmount, err = fiscal.ParseMoney(total); err != nil {
		return rec, err
	}
	rec.ExemptionReason = exemption.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// =============================================================================
// PENALTY REFRESH RUNS
// =============================================================================

// RefreshRun records one bulk penalty reconciliation.
type RefreshRun struct {
	ID          string
	Source      string // scheduler, api
	AsOf        time.Time
	Status      string // running, completed, failed
	Scanned     int
	Updated     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SaveRefreshRun inserts or updates a run.
func (s *Store) SaveRefreshRun(ctx context.Context, r RefreshRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO penalty_refresh_runs (id, source, as_of, status, scanned, updated,
			failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			scanned = excluded.scanned,
			updated = excluded.updated,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		s := r.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &s
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Source, r.AsOf.Format("2006-01-02"), r.Status,
		r.Scanned, r.Updated, r.Failed, nullString(r.Error),
		r.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh run: %w", err)
	}
	return nil
}

// ListRefreshRuns returns the most recent runs first.
func (s *Store) ListRefreshRuns(ctx context.Context, limit int) ([]RefreshRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, as_of, status, scanned, updated, failed, error,
			started_at, completed_at
		FROM penalty_refresh_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RefreshRun
	for rows.Next() {
		var r RefreshRun
		var asOf, startedAt string
		var errText, completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Source, &asOf, &r.Status, &r.Scanned, &r.Updated, &r.Failed,
			&errText, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.AsOf, _ = time.Parse("2006-01-02", asOf)
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.Error = errText.String
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"tax_records", "penalty_refresh_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
