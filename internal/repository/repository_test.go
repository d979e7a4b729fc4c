package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestRepository(
	t *testing.T,
	seed ...Pair[int, string],
) (*Repository[int, string], *MemoryMedium[int, string]) {
	t.Helper()
	medium := NewMemoryMedium(seed...)
	repo, err := New[int, string](medium, setupTestLogger())
	require.NoError(t, err)
	return repo, medium
}

func TestNew_NilMedium(t *testing.T) {
	repo, err := New[int, string](nil, nil)
	assert.Nil(t, repo)
	assert.ErrorIs(t, err, ErrNilMedium)
}

func TestLoad_IsLazyAndIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t, Pair[int, string]{Key: 1, Value: "a"})

	loads := 0
	load := medium.LoadFn
	medium.LoadFn = func(ctx context.Context) ([]Pair[int, string], error) {
		loads++
		return load(ctx)
	}

	assert.Equal(t, 0, loads, "construction must not touch the medium")

	value, ok, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", value)

	require.NoError(t, repo.Load(ctx))
	found, err := repo.Contains(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, loads)
}

func TestLoad_ErrorPropagates(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t)

	ioErr := errors.New("disk on fire")
	medium.LoadFn = func(ctx context.Context) ([]Pair[int, string], error) {
		return nil, ioErr
	}

	_, _, err := repo.Get(ctx, 1)
	assert.ErrorIs(t, err, ioErr)
	assert.ErrorIs(t, repo.Set(ctx, 1, "a"), ioErr)

	// A failed load is retried on the next access
	medium.LoadFn = func(ctx context.Context) ([]Pair[int, string], error) { return nil, nil }
	require.NoError(t, repo.Set(ctx, 1, "a"))
}

func TestDirtyClassification(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		ops     func(t *testing.T, r *Repository[int, string])
		pending Pending
	}{
		{
			name: "set_absent_key_is_new",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 10, "x"))
			},
			pending: Pending{New: 1},
		},
		{
			name: "updating_a_new_key_stays_new",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 10, "x"))
				require.NoError(t, r.Set(ctx, 10, "y"))
			},
			pending: Pending{New: 1},
		},
		{
			name: "set_persisted_key_is_updated",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 1, "changed"))
				require.NoError(t, r.Set(ctx, 1, "changed again"))
			},
			pending: Pending{Updated: 1},
		},
		{
			name: "removing_new_key_leaves_no_trace",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 10, "x"))
				removed, err := r.Remove(ctx, 10)
				require.NoError(t, err)
				assert.True(t, removed)
			},
			pending: Pending{},
		},
		{
			name: "removing_persisted_key_is_deleted",
			ops: func(t *testing.T, r *Repository[int, string]) {
				removed, err := r.Remove(ctx, 1)
				require.NoError(t, err)
				assert.True(t, removed)
			},
			pending: Pending{Deleted: 1},
		},
		{
			name: "removing_updated_key_is_deleted_only",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 1, "changed"))
				_, err := r.Remove(ctx, 1)
				require.NoError(t, err)
			},
			pending: Pending{Deleted: 1},
		},
		{
			name: "re_adding_deleted_key_with_same_value_is_clean",
			ops: func(t *testing.T, r *Repository[int, string]) {
				_, err := r.Remove(ctx, 1)
				require.NoError(t, err)
				require.NoError(t, r.Set(ctx, 1, "a"))
			},
			pending: Pending{},
		},
		{
			name: "re_adding_deleted_key_with_other_value_is_updated",
			ops: func(t *testing.T, r *Repository[int, string]) {
				_, err := r.Remove(ctx, 1)
				require.NoError(t, err)
				require.NoError(t, r.Set(ctx, 1, "b"))
			},
			pending: Pending{Updated: 1},
		},
		{
			name: "re_adding_after_update_and_delete_compares_flushed_value",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 1, "changed"))
				_, err := r.Remove(ctx, 1)
				require.NoError(t, err)
				require.NoError(t, r.Set(ctx, 1, "a"))
			},
			pending: Pending{},
		},
		{
			name: "removing_absent_key_reports_false",
			ops: func(t *testing.T, r *Repository[int, string]) {
				removed, err := r.Remove(ctx, 99)
				require.NoError(t, err)
				assert.False(t, removed)
			},
			pending: Pending{},
		},
		{
			name: "clear_drops_new_and_deletes_persisted",
			ops: func(t *testing.T, r *Repository[int, string]) {
				require.NoError(t, r.Set(ctx, 10, "x"))
				require.NoError(t, r.Set(ctx, 2, "changed"))
				require.NoError(t, r.Clear(ctx))
				n, err := r.Len(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
			},
			pending: Pending{Deleted: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := newTestRepository(t,
				Pair[int, string]{Key: 1, Value: "a"},
				Pair[int, string]{Key: 2, Value: "b"},
			)
			tt.ops(t, repo)
			assert.Equal(t, tt.pending, repo.Pending())
		})
	}
}

func TestSave_SnapshotCarriesDiff(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t,
		Pair[int, string]{Key: 1, Value: "a"},
		Pair[int, string]{Key: 2, Value: "b"},
	)

	require.NoError(t, repo.Set(ctx, 3, "c"))
	require.NoError(t, repo.Set(ctx, 2, "B"))
	_, err := repo.Remove(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx))
	require.Equal(t, 1, medium.Writes())

	want := Snapshot[int, string]{
		Items:   map[int]string{2: "B", 3: "c"},
		New:     map[int]string{3: "c"},
		Updated: map[int]string{2: "B"},
		Deleted: map[int]string{1: "a"},
	}
	if diff := cmp.Diff(want, medium.LastSnapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[int]string{2: "B", 3: "c"}, medium.Stored())
	assert.False(t, repo.Pending().Any())
}

func TestSave_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t)

	require.NoError(t, repo.Set(ctx, 1, "a"))
	require.NoError(t, repo.Save(ctx))
	require.NoError(t, repo.Save(ctx))

	assert.Equal(t, 1, medium.Writes(), "second Save without changes must not write")
}

func TestSave_NotLoadedIsNoop(t *testing.T) {
	repo, medium := newTestRepository(t)
	require.NoError(t, repo.Save(context.Background()))
	assert.Zero(t, medium.Writes())
}

func TestSave_FlushesUpdateOnlyChanges(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t, Pair[int, string]{Key: 1, Value: "a"})

	require.NoError(t, repo.Set(ctx, 1, "changed"))
	require.NoError(t, repo.Save(ctx))

	assert.Equal(t, 1, medium.Writes())
	assert.Equal(t, map[int]string{1: "changed"}, medium.Stored())
}

func TestSave_EmptySetRemovesArtifact(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t, Pair[int, string]{Key: 1, Value: "a"})

	require.NoError(t, repo.Clear(ctx))
	require.NoError(t, repo.Save(ctx))

	assert.Nil(t, medium.Stored())
	assert.True(t, medium.LastSnapshot().Empty())
}

func TestSave_FailureKeepsPendingChanges(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t)

	require.NoError(t, repo.Set(ctx, 1, "a"))

	ioErr := errors.New("write failed")
	save := medium.SaveFn
	medium.SaveFn = func(ctx context.Context, s Snapshot[int, string]) error { return ioErr }

	err := repo.Save(ctx)
	assert.ErrorIs(t, err, ioErr)
	assert.Equal(t, Pending{New: 1}, repo.Pending())
	assert.Zero(t, medium.Writes())

	medium.SaveFn = save
	require.NoError(t, repo.Save(ctx))
	assert.Equal(t, map[int]string{1: "a"}, medium.Stored())
}

func TestSave_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t)

	medium.SaveFn = func(ctx context.Context, s Snapshot[int, string]) error {
		s.Items[42] = "injected"
		delete(s.New, 1)
		return nil
	}

	require.NoError(t, repo.Set(ctx, 1, "a"))
	require.NoError(t, repo.Save(ctx))

	items, err := repo.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "a"}, items)
}

func TestWithEqual(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, Pair[int, string]{Key: 1, Value: "a"})

	// Treat every value as equal so a re-add never counts as an update
	repo.WithEqual(func(a, b string) bool { return true })

	_, err := repo.Remove(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, 1, "different"))
	assert.Equal(t, Pending{}, repo.Pending())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, Pair[int, string]{Key: 1, Value: "a"})
	require.NoError(t, repo.Load(ctx))

	repo.Close()

	_, _, err := repo.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, repo.Set(ctx, 2, "b"), ErrClosed)
	assert.ErrorIs(t, repo.Save(ctx), ErrClosed)
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	repo, medium := newTestRepository(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := w*100 + i
				assert.NoError(t, repo.Set(ctx, key, "v"))
				if i%2 == 0 {
					_, err := repo.Remove(ctx, key)
					assert.NoError(t, err)
				}
				if i%10 == 0 {
					assert.NoError(t, repo.Save(ctx))
				}
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, repo.Save(ctx))
	n, err := repo.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8*25, n)
	assert.Len(t, medium.Stored(), 8*25)
}
