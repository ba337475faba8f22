package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/model"
)

// Memory is an in-process store for standalone mode and tests.
type Memory struct {
	mu      sync.RWMutex
	records []*model.Record
	byRef   map[string]int64
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{byRef: make(map[string]int64)}
}

// Insert stores r and returns it with ID and CreatedAt assigned.
func (m *Memory) Insert(ctx context.Context, r *model.Record) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byRef[r.LedgerRef]; dup {
		return nil, fmt.Errorf("insert %s: %w", r.LedgerRef, ErrDuplicateRef)
	}
	rec := cloneRecord(r)
	rec.ID = int64(len(m.records) + 1)
	rec.CreatedAt = time.Now().UTC()
	m.records = append(m.records, rec)
	m.byRef[rec.LedgerRef] = rec.ID
	return cloneRecord(rec), nil
}

// Get returns the record with the given ID.
func (m *Memory) Get(_ context.Context, id int64) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 1 || id > int64(len(m.records)) {
		return nil, ErrNotFound
	}
	return cloneRecord(m.records[id-1]), nil
}

// GetByLedgerRef returns the record anchored under ref.
func (m *Memory) GetByLedgerRef(_ context.Context, ref string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(m.records[id-1]), nil
}

// List returns records newest first.
func (m *Memory) List(_ context.Context, limit, offset int) ([]*model.Record, error) {
	limit, offset = clampList(limit, offset)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Record, 0, limit)
	for i := len(m.records) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRecord(m.records[i]))
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Ping implements a health probe. It always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }
