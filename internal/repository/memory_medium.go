package repository

import (
	"context"
	"maps"
	"sync"
)

// MemoryMedium keeps the persisted item set in process memory. It counts
// writes, which makes it useful for tests, and its behaviour can be replaced
// through LoadFn and SaveFn.
type MemoryMedium[K comparable, V any] struct {
	mutex  sync.RWMutex
	items  map[K]V
	writes int
	last   Snapshot[K, V]

	LoadFn func(ctx context.Context) ([]Pair[K, V], error)
	SaveFn func(ctx context.Context, snapshot Snapshot[K, V]) error
}

// NewMemoryMedium creates a MemoryMedium seeded with the given pairs.
func NewMemoryMedium[K comparable, V any](seed ...Pair[K, V]) *MemoryMedium[K, V] {
	m := &MemoryMedium[K, V]{}
	if len(seed) > 0 {
		m.items = make(map[K]V, len(seed))
		for _, pair := range seed {
			m.items[pair.Key] = pair.Value
		}
	}

	m.LoadFn = func(ctx context.Context) ([]Pair[K, V], error) {
		m.mutex.RLock()
		defer m.mutex.RUnlock()

		pairs := make([]Pair[K, V], 0, len(m.items))
		for key, value := range m.items {
			pairs = append(pairs, Pair[K, V]{Key: key, Value: value})
		}
		return pairs, nil
	}

	m.SaveFn = func(ctx context.Context, snapshot Snapshot[K, V]) error {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		if snapshot.Empty() {
			m.items = nil
		} else {
			m.items = maps.Clone(snapshot.Items)
		}
		return nil
	}

	return m
}

// LoadItems returns the stored pairs.
func (m *MemoryMedium[K, V]) LoadItems(ctx context.Context) ([]Pair[K, V], error) {
	return m.LoadFn(ctx)
}

// SaveItems replaces the stored pairs and records the write.
func (m *MemoryMedium[K, V]) SaveItems(ctx context.Context, snapshot Snapshot[K, V]) error {
	if err := m.SaveFn(ctx, snapshot); err != nil {
		return err
	}

	m.mutex.Lock()
	m.writes++
	m.last = snapshot
	m.mutex.Unlock()
	return nil
}

// Writes returns how many successful SaveItems calls were made.
func (m *MemoryMedium[K, V]) Writes() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.writes
}

// LastSnapshot returns the snapshot of the most recent successful write.
func (m *MemoryMedium[K, V]) LastSnapshot() Snapshot[K, V] {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.last
}

// Stored returns a copy of the persisted items. A nil map means nothing is persisted.
func (m *MemoryMedium[K, V]) Stored() map[K]V {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return maps.Clone(m.items)
}
