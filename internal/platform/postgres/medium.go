package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/repository"
	"github.com/phrazzld/durable-tasks/internal/store"
)

const entityTaskItems = "task items"

const (
	selectItemsQuery = `
		SELECT item_key, payload
		FROM durable_task_items
		WHERE queue_name = $1
		ORDER BY item_key ASC
	`

	deleteQueueQuery = `
		DELETE FROM durable_task_items
		WHERE queue_name = $1
	`

	deleteItemQuery = `
		DELETE FROM durable_task_items
		WHERE queue_name = $1 AND item_key = $2
	`

	insertItemQuery = `
		INSERT INTO durable_task_items (queue_name, item_key, payload)
		VALUES ($1, $2, $3)
	`

	upsertItemQuery = `
		INSERT INTO durable_task_items (queue_name, item_key, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue_name, item_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`
)

var (
	// ErrNilDB is returned when a Medium is constructed without a database handle.
	ErrNilDB = errors.New("database handle is nil")

	// ErrEmptyQueueName is returned when a Medium is constructed without a queue name.
	ErrEmptyQueueName = errors.New("queue name is empty")
)

// Medium persists one queue's task records in the durable_task_items table,
// partitioned by queue name. Payloads are stored as JSONB. Flushes apply the
// repository's diff inside a single transaction.
type Medium[V any] struct {
	db     *sql.DB
	queue  string
	logger *slog.Logger
}

var _ repository.Medium[int64, json.RawMessage] = (*Medium[json.RawMessage])(nil)

// NewMedium creates a Medium for the named queue.
func NewMedium[V any](db *sql.DB, queue string, logger *slog.Logger) (*Medium[V], error) {
	if db == nil {
		return nil, ErrNilDB
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Medium[V]{
		db:     db,
		queue:  queue,
		logger: logger.With("queue_name", queue),
	}, nil
}

// LoadItems reads every record of the queue in key order.
func (m *Medium[V]) LoadItems(ctx context.Context) ([]repository.Pair[int64, V], error) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	rows, err := m.db.QueryContext(ctx, selectItemsQuery, m.queue)
	if err != nil {
		log.Error("failed to query task items", "error", err)
		return nil, store.NewStoreError(entityTaskItems, "load", "query failed", MapError(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn("failed to close rows", "error", closeErr)
		}
	}()

	var pairs []repository.Pair[int64, V]
	for rows.Next() {
		var (
			key     int64
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			log.Error("failed to scan task item", "error", err)
			return nil, store.NewStoreError(entityTaskItems, "load", "scan failed", MapError(err))
		}

		var value V
		if err := json.Unmarshal(payload, &value); err != nil {
			log.Error("failed to decode task item payload", "task_key", key, "error", err)
			return nil, store.NewStoreError(
				entityTaskItems,
				"load",
				fmt.Sprintf("payload of item %d cannot be decoded", key),
				fmt.Errorf("%w: %v", store.ErrCorrupt, err),
			)
		}

		pairs = append(pairs, repository.Pair[int64, V]{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		log.Error("failed to iterate task items", "error", err)
		return nil, store.NewStoreError(entityTaskItems, "load", "iteration failed", MapError(err))
	}

	log.Debug("loaded task items", "count", len(pairs))
	return pairs, nil
}

// SaveItems applies the snapshot's diff. An empty snapshot deletes every
// record of the queue.
func (m *Medium[V]) SaveItems(ctx context.Context, snapshot repository.Snapshot[int64, V]) error {
	log := logger.FromContextOrDefault(ctx, m.logger)

	if snapshot.Empty() {
		if _, err := m.db.ExecContext(ctx, deleteQueueQuery, m.queue); err != nil {
			log.Error("failed to delete task items", "error", err)
			return store.NewStoreError(entityTaskItems, "save", "delete all failed", MapError(err))
		}
		log.Debug("deleted all task items")
		return nil
	}

	// Encode before opening the transaction so a bad payload touches nothing
	inserts, err := encodeItems(snapshot.New)
	if err != nil {
		return store.NewStoreError(entityTaskItems, "save", "encode failed", err)
	}
	updates, err := encodeItems(snapshot.Updated)
	if err != nil {
		return store.NewStoreError(entityTaskItems, "save", "encode failed", err)
	}
	deletes := sortedKeys(snapshot.Deleted)

	err = store.RunInTransaction(logger.WithLogger(ctx, log), m.db, func(ctx context.Context, tx *sql.Tx) error {
		return m.applyDiff(ctx, tx, deletes, updates, inserts)
	})
	if err != nil {
		log.Error("failed to save task items",
			"new", len(inserts),
			"updated", len(updates),
			"deleted", len(deletes),
			"error", err)
		return store.NewStoreError(entityTaskItems, "save", "transaction failed", MapError(err))
	}

	log.Debug("saved task items",
		"new", len(inserts),
		"updated", len(updates),
		"deleted", len(deletes))
	return nil
}

type encodedItem struct {
	key     int64
	payload string
}

func (m *Medium[V]) applyDiff(
	ctx context.Context,
	tx store.DBTX,
	deletes []int64,
	updates []encodedItem,
	inserts []encodedItem,
) error {
	for _, key := range deletes {
		result, err := tx.ExecContext(ctx, deleteItemQuery, m.queue, key)
		if err != nil {
			return fmt.Errorf("failed to delete item %d: %w", key, err)
		}
		if err := CheckRowsAffected(result, "task item"); err != nil && !store.IsNotFoundError(err) {
			return err
		}
	}

	for _, item := range updates {
		if _, err := tx.ExecContext(ctx, upsertItemQuery, m.queue, item.key, item.payload); err != nil {
			return fmt.Errorf("failed to update item %d: %w", item.key, err)
		}
	}

	for _, item := range inserts {
		if _, err := tx.ExecContext(ctx, insertItemQuery, m.queue, item.key, item.payload); err != nil {
			return fmt.Errorf("failed to insert item %d: %w", item.key, err)
		}
	}

	return nil
}

func encodeItems[V any](items map[int64]V) ([]encodedItem, error) {
	encoded := make([]encodedItem, 0, len(items))
	for _, key := range sortedKeys(items) {
		payload, err := json.Marshal(items[key])
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", store.ErrInvalidEntity, key, err)
		}
		encoded = append(encoded, encodedItem{key: key, payload: string(payload)})
	}
	return encoded, nil
}

func sortedKeys[V any](items map[int64]V) []int64 {
	keys := make([]int64, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
