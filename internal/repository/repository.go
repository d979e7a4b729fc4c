package repository

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"
)

// dirtyKind classifies a key relative to the last successful flush.
// Keys absent from Repository.dirty are clean.
type dirtyKind uint8

const (
	dirtyNew dirtyKind = iota + 1
	dirtyUpdated
	dirtyDeleted
)

// Pending counts the changes waiting for the next Save.
type Pending struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Any reports whether there is anything to flush.
func (p Pending) Any() bool {
	return p.New > 0 || p.Updated > 0 || p.Deleted > 0
}

// Repository is a key/value store that loads from its Medium on first use
// and writes back only on Save. All methods are safe for concurrent use.
type Repository[K comparable, V any] struct {
	mu sync.Mutex

	medium Medium[K, V]
	logger *slog.Logger
	equal  func(a, b V) bool

	loaded bool
	closed bool

	items map[K]V
	dirty map[K]dirtyKind
	// flushed holds the value last written to the medium for keys that are
	// updated or deleted since.
	flushed map[K]V
}

// New creates a Repository persisting to medium.
func New[K comparable, V any](medium Medium[K, V], logger *slog.Logger) (*Repository[K, V], error) {
	if medium == nil {
		return nil, ErrNilMedium
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Repository[K, V]{
		medium:  medium,
		logger:  logger,
		equal:   func(a, b V) bool { return reflect.DeepEqual(a, b) },
		items:   make(map[K]V),
		dirty:   make(map[K]dirtyKind),
		flushed: make(map[K]V),
	}, nil
}

// WithEqual replaces the value comparison used when a deleted key is set
// again before a flush. It returns the repository for chaining.
func (r *Repository[K, V]) WithEqual(equal func(a, b V) bool) *Repository[K, V] {
	if equal == nil {
		return r
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equal = equal
	return r
}

// Load populates the repository from its medium. Only the first successful
// call reads the medium; later calls return immediately.
func (r *Repository[K, V]) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLoadedLocked(ctx)
}

// Get returns the value stored under key.
func (r *Repository[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero V
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return zero, false, err
	}

	value, ok := r.items[key]
	return value, ok, nil
}

// Contains reports whether key is present.
func (r *Repository[K, V]) Contains(ctx context.Context, key K) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return false, err
	}

	_, ok := r.items[key]
	return ok, nil
}

// Items returns a copy of every stored item.
func (r *Repository[K, V]) Items(ctx context.Context) (map[K]V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(r.items), nil
}

// Len returns the number of stored items.
func (r *Repository[K, V]) Len(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return 0, err
	}
	return len(r.items), nil
}

// Set inserts or replaces the value stored under key.
func (r *Repository[K, V]) Set(ctx context.Context, key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	if current, exists := r.items[key]; exists {
		if r.dirty[key] != dirtyNew {
			if _, tracked := r.dirty[key]; !tracked {
				r.flushed[key] = current
			}
			r.dirty[key] = dirtyUpdated
		}
		r.items[key] = value
		return nil
	}

	if r.dirty[key] == dirtyDeleted {
		// Re-adding a key whose deletion was never flushed cancels the deletion
		if r.equal(r.flushed[key], value) {
			delete(r.dirty, key)
			delete(r.flushed, key)
		} else {
			r.dirty[key] = dirtyUpdated
		}
	} else {
		r.dirty[key] = dirtyNew
	}
	r.items[key] = value
	return nil
}

// Remove deletes key and reports whether it was present.
func (r *Repository[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return false, err
	}

	if _, exists := r.items[key]; !exists {
		return false, nil
	}
	r.removeLocked(key)
	return true, nil
}

// Clear removes every item. Entries never flushed vanish; flushed entries are
// recorded as deleted.
func (r *Repository[K, V]) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	for key := range r.items {
		r.removeLocked(key)
	}
	return nil
}

// Save flushes pending changes to the medium. It is a no-op when nothing has
// changed since the last flush. On failure all pending changes are kept so a
// later Save retries them.
func (r *Repository[K, V]) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.loaded {
		return nil
	}

	pending := r.pendingLocked()
	if !pending.Any() {
		return nil
	}

	snapshot := r.snapshotLocked()
	if err := r.medium.SaveItems(ctx, snapshot); err != nil {
		r.logger.Error("failed to flush repository",
			"items", len(snapshot.Items),
			"new", pending.New,
			"updated", pending.Updated,
			"deleted", pending.Deleted,
			"error", err)
		return fmt.Errorf("failed to save repository items: %w", err)
	}

	clear(r.dirty)
	clear(r.flushed)

	r.logger.Debug("repository flushed",
		"items", len(snapshot.Items),
		"new", pending.New,
		"updated", pending.Updated,
		"deleted", pending.Deleted)
	return nil
}

// Pending returns the number of changes waiting for Save.
func (r *Repository[K, V]) Pending() Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

// Close drops the in-memory state. Unsaved changes are discarded.
func (r *Repository[K, V]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	clear(r.items)
	clear(r.dirty)
	clear(r.flushed)
}

func (r *Repository[K, V]) ensureLoadedLocked(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	if r.loaded {
		return nil
	}

	pairs, err := r.medium.LoadItems(ctx)
	if err != nil {
		r.logger.Error("failed to load repository", "error", err)
		return fmt.Errorf("failed to load repository items: %w", err)
	}

	clear(r.items)
	clear(r.dirty)
	clear(r.flushed)
	for _, pair := range pairs {
		if _, dup := r.items[pair.Key]; dup {
			r.logger.Warn("duplicate key in persisted items, keeping last value",
				"key", pair.Key)
		}
		r.items[pair.Key] = pair.Value
	}
	r.loaded = true

	r.logger.Debug("repository loaded", "items", len(r.items))
	return nil
}

func (r *Repository[K, V]) removeLocked(key K) {
	switch r.dirty[key] {
	case dirtyNew:
		// Never flushed: nothing to delete on the medium
		delete(r.dirty, key)
	case dirtyUpdated:
		r.dirty[key] = dirtyDeleted
	default:
		r.flushed[key] = r.items[key]
		r.dirty[key] = dirtyDeleted
	}
	delete(r.items, key)
}

func (r *Repository[K, V]) pendingLocked() Pending {
	var p Pending
	for _, kind := range r.dirty {
		switch kind {
		case dirtyNew:
			p.New++
		case dirtyUpdated:
			p.Updated++
		case dirtyDeleted:
			p.Deleted++
		}
	}
	return p
}

func (r *Repository[K, V]) snapshotLocked() Snapshot[K, V] {
	snapshot := Snapshot[K, V]{
		Items:   maps.Clone(r.items),
		New:     make(map[K]V),
		Updated: make(map[K]V),
		Deleted: make(map[K]V),
	}
	for key, kind := range r.dirty {
		switch kind {
		case dirtyNew:
			snapshot.New[key] = r.items[key]
		case dirtyUpdated:
			snapshot.Updated[key] = r.items[key]
		case dirtyDeleted:
			snapshot.Deleted[key] = r.flushed[key]
		}
	}
	return snapshot
}
