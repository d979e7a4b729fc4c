// Package filestore provides a backing medium that keeps a repository's items
// as a single JSON document on the local filesystem.
package filestore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/repository"
	"github.com/phrazzld/durable-tasks/internal/store"
	"github.com/sethvargo/go-retry"
)

const entityItemFile = "item file"

// ErrEmptyPath is returned when a Medium is constructed without a file path.
var ErrEmptyPath = errors.New("file path is empty")

// Options tunes how a Medium retries filesystem operations.
type Options struct {
	// RetryAttempts is how many times a failed read, write or remove is
	// attempted in total. Zero means DefaultOptions().RetryAttempts.
	RetryAttempts uint64

	// RetryDelay is the initial backoff between attempts; it doubles on each
	// retry up to MaxRetryDelay. Zero means DefaultOptions().RetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff. Zero means DefaultOptions().MaxRetryDelay.
	MaxRetryDelay time.Duration
}

// DefaultOptions returns the retry settings used when none are given.
func DefaultOptions() Options {
	return Options{
		RetryAttempts: 5,
		RetryDelay:    250 * time.Millisecond,
		MaxRetryDelay: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.RetryAttempts == 0 {
		o.RetryAttempts = def.RetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = max(def.MaxRetryDelay, o.RetryDelay)
	}
	return o
}

// Medium stores items as a JSON array of key/value pairs. Every write goes to
// a temporary file in the same directory which is then renamed over the
// target, so readers only ever see a complete document.
//
// A missing file loads as an empty set, and flushing an empty snapshot
// removes the file. Content that cannot be decoded is reported as
// store.ErrCorrupt and is never overwritten by a load.
type Medium[K cmp.Ordered, V any] struct {
	path    string
	options Options
	logger  *slog.Logger

	// mu serializes file access from this process
	mu sync.Mutex
}

var _ repository.Medium[int64, json.RawMessage] = (*Medium[int64, json.RawMessage])(nil)

// NewMedium creates a Medium backed by the file at path. The parent directory
// is created on the first write.
func NewMedium[K cmp.Ordered, V any](path string, options Options, logger *slog.Logger) (*Medium[K, V], error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Medium[K, V]{
		path:    filepath.Clean(path),
		options: options.withDefaults(),
		logger:  logger.With("file_path", path),
	}, nil
}

// Path returns the file the medium reads and writes.
func (m *Medium[K, V]) Path() string {
	return m.path
}

// LoadItems reads every stored pair.
func (m *Medium[K, V]) LoadItems(ctx context.Context) ([]repository.Pair[K, V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.FromContextOrDefault(ctx, m.logger)

	var data []byte
	err := m.withRetry(ctx, log, "read", func() error {
		content, err := os.ReadFile(m.path)
		if errors.Is(err, fs.ErrNotExist) {
			data = nil
			return nil
		}
		if err != nil {
			return err
		}
		data = content
		return nil
	})
	if err != nil {
		return nil, store.NewStoreError(entityItemFile, "load", "read failed", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		log.Debug("no stored items")
		return nil, nil
	}

	var pairs []repository.Pair[K, V]
	if err := json.Unmarshal(data, &pairs); err != nil {
		log.Error("stored items cannot be decoded", "error", err)
		return nil, store.NewStoreError(
			entityItemFile,
			"load",
			"content cannot be decoded",
			fmt.Errorf("%w: %v", store.ErrCorrupt, err),
		)
	}

	log.Debug("loaded stored items", "count", len(pairs))
	return pairs, nil
}

// SaveItems replaces the file with snapshot.Items, or removes it when the
// snapshot is empty. The diff sets are not needed since the whole document is
// rewritten.
func (m *Medium[K, V]) SaveItems(ctx context.Context, snapshot repository.Snapshot[K, V]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.FromContextOrDefault(ctx, m.logger)

	if snapshot.Empty() {
		err := m.withRetry(ctx, log, "remove", func() error {
			if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		})
		if err != nil {
			return store.NewStoreError(entityItemFile, "save", "remove failed", err)
		}
		log.Debug("removed item file")
		return nil
	}

	data, err := encodePairs(snapshot.Items)
	if err != nil {
		return store.NewStoreError(entityItemFile, "save", "encode failed", err)
	}

	err = m.withRetry(ctx, log, "write", func() error {
		return m.replace(data)
	})
	if err != nil {
		return store.NewStoreError(entityItemFile, "save", "write failed", err)
	}

	log.Debug("wrote item file", "count", len(snapshot.Items), "bytes", len(data))
	return nil
}

// replace writes data to a temporary sibling and renames it over the target.
func (m *Medium[K, V]) replace(data []byte) (err error) {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("failed to replace item file: %w", err)
	}
	return nil
}

// withRetry runs op with capped exponential backoff. Every filesystem error is
// treated as transient; once the attempts are spent the last error is
// returned wrapped in store.ErrUnavailable.
func (m *Medium[K, V]) withRetry(ctx context.Context, log *slog.Logger, name string, op func() error) error {
	backoff := retry.NewExponential(m.options.RetryDelay)
	backoff = retry.WithCappedDuration(m.options.MaxRetryDelay, backoff)
	backoff = retry.WithMaxRetries(m.options.RetryAttempts-1, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := op(); err != nil {
			log.Warn("file operation failed",
				"operation", name,
				"attempt", attempt,
				"max_attempts", m.options.RetryAttempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	log.Error("file operation gave up", "operation", name, "attempts", attempt, "error", err)
	return fmt.Errorf("%w: %s %s after %d attempts: %v", store.ErrUnavailable, name, m.path, attempt, err)
}

func encodePairs[K cmp.Ordered, V any](items map[K]V) ([]byte, error) {
	pairs := make([]repository.Pair[K, V], 0, len(items))
	for key, value := range items {
		pairs = append(pairs, repository.Pair[K, V]{Key: key, Value: value})
	}
	slices.SortFunc(pairs, func(a, b repository.Pair[K, V]) int {
		return cmp.Compare(a.Key, b.Key)
	})

	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	return append(data, '\n'), nil
}
