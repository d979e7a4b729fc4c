package testdb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/durable-tasks/internal/ciutil"
	"github.com/phrazzld/durable-tasks/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// IsIntegrationTestEnvironment returns true if a database URL is configured.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDatabaseURL returns the database URL for tests, checking
// DATABASE_URL and then DTQ_TEST_DB_URL.
func GetTestDatabaseURL() string {
	return ciutil.GetEnvWithFallbacks(
		[]string{ciutil.EnvDatabaseURL, ciutil.EnvTestDBURL},
		"",
		nil,
	)
}

// GetTestDBWithT returns a migrated database connection and registers its
// cleanup. Without a database URL the test is skipped locally and fails in
// CI, where integration tests are expected to run.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		if ciutil.IsCI() {
			t.Fatal("DATABASE_URL or DTQ_TEST_DB_URL must be set in CI")
		}
		t.Skip("DATABASE_URL or DTQ_TEST_DB_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "Failed to open database connection")

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	t.Cleanup(func() {
		CleanupDB(t, db)
	})

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Database ping failed")

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, postgres.Migrate(context.Background(), db, quiet), "Failed to run migrations")

	return db
}

// UniqueQueueName returns a fresh queue name and deletes its rows when the
// test finishes.
func UniqueQueueName(t *testing.T, db *sql.DB) string {
	t.Helper()

	queue := "test-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
		defer cancel()
		if _, err := db.ExecContext(ctx, "DELETE FROM durable_task_items WHERE queue_name = $1", queue); err != nil {
			t.Logf("Warning: failed to delete rows of queue %s: %v", queue, err)
		}
	})
	return queue
}

// CountRows returns how many rows the queue currently has.
func CountRows(t *testing.T, db *sql.DB, queue string) int {
	t.Helper()

	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM durable_task_items WHERE queue_name = $1", queue).Scan(&count)
	require.NoError(t, err)
	return count
}

// CleanupDB closes a database connection, logging any error.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}

	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}
