package repository

import "context"

// Pair is a single persisted key/value entry.
type Pair[K comparable, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// Snapshot is what a Repository hands to its Medium on flush: the complete
// current item set plus the changes made since the previous flush.
// Deleted carries the values last written to the medium.
type Snapshot[K comparable, V any] struct {
	Items   map[K]V
	New     map[K]V
	Updated map[K]V
	Deleted map[K]V
}

// Empty reports whether the snapshot describes an empty item set.
func (s Snapshot[K, V]) Empty() bool {
	return len(s.Items) == 0
}

// Medium is the storage a Repository persists to (a file, a database table,
// memory). One Medium instance is owned by exactly one Repository.
type Medium[K comparable, V any] interface {
	// LoadItems reads the full persisted item set. Nothing persisted yet is
	// reported as an empty result, not an error.
	LoadItems(ctx context.Context) ([]Pair[K, V], error)

	// SaveItems replaces the persisted item set with snapshot.Items. An empty
	// item set removes the persisted artifact rather than writing an empty one.
	SaveItems(ctx context.Context, snapshot Snapshot[K, V]) error
}
