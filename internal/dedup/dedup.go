package dedup

import (
	"sync"
	"time"
)

// DefaultRetention bounds how long processed-quote markers are kept.
// Relays stop replaying events long before this.
const DefaultRetention = 30 * 24 * time.Hour

// Store tracks which quote ids have already been applied. Presence of a
// marker means "done, do not reapply". The orchestrator calls strictly
// check, then mark, then side effect.
type Store interface {
	IsProcessed(quoteID string) (bool, error)
	MarkProcessed(quoteID string, amount int64) (bool, error)

	// SweepBefore deletes markers processed before cutoff (unix millis).
	// Returns how many were removed.
	SweepBefore(cutoff int64) (int, error)
}

// MemStore is an in-memory Store for tests and tooling.
type MemStore struct {
	mu    sync.Mutex
	items map[string]int64 // quoteID -> processedAt millis
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]int64)}
}

func (m *MemStore) IsProcessed(quoteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[quoteID]
	return ok, nil
}

func (m *MemStore) MarkProcessed(quoteID string, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[quoteID]; ok {
		return false, nil
	}
	m.items[quoteID] = time.Now().UnixMilli()
	return true, nil
}

func (m *MemStore) SweepBefore(cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, at := range m.items {
		if at < cutoff {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemStore)(nil)
