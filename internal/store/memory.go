package store

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/ledgerline/internal/ir"
)

// Memory is a process-local Store with the same unique-key semantics as the
// SQL stores. Metadata is JSON round-tripped on insert so readers observe the
// same value shapes a database would return.
type Memory struct {
	mu       sync.RWMutex
	records  []ir.Record
	ids      map[string]struct{}
	chain    map[int64]struct{}
	idemKeys map[string]struct{}

	// failInsert, when set, is returned by the next Insert. Used by tests.
	failInsert error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		ids:      make(map[string]struct{}),
		chain:    make(map[int64]struct{}),
		idemKeys: make(map[string]struct{}),
	}
}

// Insert appends rec unless it violates a unique key.
func (m *Memory) Insert(ctx context.Context, rec ir.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := cloneRecord(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsert != nil {
		err := m.failInsert
		m.failInsert = nil
		return err
	}
	if _, ok := m.ids[rec.ID]; ok {
		return &UniqueViolation{Key: KeyID}
	}
	if _, ok := m.chain[rec.ChainSeq]; ok {
		return &UniqueViolation{Key: KeyChainSeq}
	}
	if rec.IdempotencyKey != "" {
		if _, ok := m.idemKeys[rec.IdempotencyKey]; ok {
			return &UniqueViolation{Key: KeyIdempotencyKey}
		}
		m.idemKeys[rec.IdempotencyKey] = struct{}{}
	}
	m.ids[rec.ID] = struct{}{}
	m.chain[rec.ChainSeq] = struct{}{}
	m.records = append(m.records, stored)
	return nil
}

// Select returns matching records in the order f requests.
func (m *Memory) Select(ctx context.Context, f Filter) ([]ir.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := []ir.Record{}
	for _, rec := range m.records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		less := lessOccurred(out[i], out[j])
		if f.Order == OrderChain {
			less = out[i].ChainSeq < out[j].ChainSeq
		}
		if f.Desc {
			return !less && !equalOrder(f.Order, out[i], out[j])
		}
		return less
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []ir.Record{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count returns the number of matching records.
func (m *Memory) Count(ctx context.Context, f Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, rec := range m.records {
		if f.Match(rec) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Tamper replaces the stored record with the same ID. Test-only hook for
// integrity checks; SQL stores are tampered with through raw SQL instead.
func (m *Memory) Tamper(id string, fn func(*ir.Record)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			fn(&m.records[i])
			return true
		}
	}
	return false
}

// FailNextInsert makes the next Insert return err.
func (m *Memory) FailNextInsert(err error) {
	m.mu.Lock()
	m.failInsert = err
	m.mu.Unlock()
}

func lessOccurred(a, b ir.Record) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}

func equalOrder(o Order, a, b ir.Record) bool {
	if o == OrderChain {
		return a.ChainSeq == b.ChainSeq
	}
	return a.OccurredAt.Equal(b.OccurredAt) && a.ID == b.ID
}
