package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/durable-tasks/internal/config"
	"github.com/phrazzld/durable-tasks/internal/job"
	"github.com/phrazzld/durable-tasks/internal/platform/filestore"
	"github.com/phrazzld/durable-tasks/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(driver, filePath string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "error"},
		Queue: config.QueueConfig{
			Name:        "test",
			Concurrency: 2,
			AutoSave:    true,
		},
		Storage: config.StorageConfig{
			Driver:        driver,
			FilePath:      filePath,
			RetryAttempts: 2,
		},
		Auth: config.AuthConfig{TokenLifetimeMinutes: 60},
	}
}

func TestOpenMedium(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tasks.json")
		medium, db, err := openMedium(ctx, testConfig("file", path), setupTestLogger())
		require.NoError(t, err)
		assert.Nil(t, db)
		fileMedium, ok := medium.(*filestore.Medium[int64, job.Job])
		require.True(t, ok)
		assert.Equal(t, path, fileMedium.Path())
	})

	t.Run("memory", func(t *testing.T) {
		medium, db, err := openMedium(ctx, testConfig("memory", ""), setupTestLogger())
		require.NoError(t, err)
		assert.Nil(t, db)
		_, ok := medium.(*repository.MemoryMedium[int64, job.Job])
		assert.True(t, ok)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := openMedium(ctx, testConfig("redis", ""), setupTestLogger())
		assert.ErrorContains(t, err, "unsupported storage driver")
	})
}

func TestRunMigrations_RequiresDatabaseURL(t *testing.T) {
	err := runMigrations(context.Background(), testConfig("file", "x.json"), "status", setupTestLogger())
	assert.ErrorContains(t, err, "storage.database_url")
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  name: mail\nstorage:\n  driver: memory\n"), 0o600))

	cfg, err := loadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "mail", cfg.Queue.Name)
	assert.Equal(t, "memory", cfg.Storage.Driver)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplication_ProcessesSubmittedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	app, err := newApplication(context.Background(), testConfig("file", path), setupTestLogger())
	require.NoError(t, err)
	defer app.cleanup()

	server := httptest.NewServer(app.handler)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/tasks", "application/json",
		strings.NewReader(`{"type":"log","data":{"message":"hello"}}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		Key int64 `json:"key"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	assert.Equal(t, int64(1), submitted.Key)

	require.True(t, app.queue.WaitAll(5*time.Second))
	stats, err := app.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Backlog, "a successful job leaves the backlog")
}

func TestApplication_FailedJobSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	cfg := testConfig("file", path)

	first, err := newApplication(context.Background(), cfg, setupTestLogger())
	require.NoError(t, err)

	// The log handler rejects an empty message, so the job fails and stays.
	_, err = first.taskService.Submit(context.Background(), "log", json.RawMessage(`{"message":""}`))
	require.NoError(t, err)
	require.True(t, first.queue.WaitAll(5*time.Second))
	first.cleanup()
	assert.FileExists(t, path)

	second, err := newApplication(context.Background(), cfg, setupTestLogger())
	require.NoError(t, err)
	defer second.cleanup()

	views, err := second.taskService.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "log", views[0].Type)
}
