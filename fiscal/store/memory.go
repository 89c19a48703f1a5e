// Package store provides RecordStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/fiscal-engine/fiscal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[fiscal.RecordID]fiscal.TaxRecord
	unique  map[key]fiscal.RecordID

	// Writes counts successful SavePenalty calls.
	writes int
}

type key struct {
	AssetID string
	Section fiscal.Section
	TaxYear int
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[fiscal.RecordID]fiscal.TaxRecord),
		unique:  make(map[key]fiscal.RecordID),
	}
}

func (m *Memory) Create(_ context.Context, rec fiscal.TaxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{AssetID: rec.AssetID, Section: rec.Section, TaxYear: rec.TaxYear}
	if _, exists := m.unique[k]; exists {
		return fiscal.ErrDuplicateRecord
	}
	if _, exists := m.records[rec.ID]; exists {
		return fiscal.ErrDuplicateRecord
	}
	m.records[rec.ID] = rec
	m.unique[k] = rec.ID
	return nil
}

func (m *Memory) Get(_ context.Context, id fiscal.RecordID) (*fiscal.TaxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fiscal.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *Memory) List(_ context.Context, filter fiscal.RecordFilter) ([]fiscal.TaxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fiscal.TaxRecord
	for _, rec := range m.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaxYear != out[j].TaxYear {
			return out[i].TaxYear < out[j].TaxYear
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SavePenalty overwrites both derived amounts.
func (m *Memory) SavePenalty(_ context.Context, id fiscal.RecordID, penalty, total fiscal.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fiscal.ErrRecordNotFound
	}
	if rec.IsPaid() {
		return fiscal.ErrRecordPaid
	}
	rec.PenaltyAmount = penalty
	rec.TotalAmount = total
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	m.writes++
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id fiscal.RecordID, status fiscal.TaxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fiscal.ErrRecordNotFound
	}
	if rec.IsPaid() && status != fiscal.StatusPaid {
		return fiscal.ErrRecordPaid
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return nil
}

// Writes returns how many penalty overwrites have been persisted.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
