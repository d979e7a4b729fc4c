package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/phrazzld/durable-tasks/internal/config"
	"github.com/phrazzld/durable-tasks/internal/job"
	"github.com/phrazzld/durable-tasks/internal/platform/filestore"
	"github.com/phrazzld/durable-tasks/internal/platform/postgres"
	"github.com/phrazzld/durable-tasks/internal/repository"
)

// openMedium builds the backing medium selected by cfg.Storage.Driver. The
// returned *sql.DB is nil unless the postgres driver is selected; the caller
// owns it.
func openMedium(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (repository.Medium[int64, job.Job], *sql.DB, error) {
	switch cfg.Storage.Driver {
	case "file":
		medium, err := filestore.NewMedium[int64, job.Job](cfg.Storage.FilePath, filestore.Options{
			RetryAttempts: cfg.Storage.RetryAttempts,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file medium: %w", err)
		}
		logger.Info("using file medium", "file_path", medium.Path())
		return medium, nil, nil

	case "postgres":
		db, err := openDatabase(ctx, cfg.Storage.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		medium, err := postgres.NewMedium[job.Job](db, cfg.Queue.Name, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to create postgres medium: %w", err)
		}
		logger.Info("using postgres medium", "queue_name", cfg.Queue.Name)
		return medium, db, nil

	case "memory":
		logger.Warn("using in-memory medium, tasks will not survive a restart")
		return repository.NewMemoryMedium[int64, job.Job](), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// openDatabase opens a pgx-backed pool and checks that it answers.
func openDatabase(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}

// runMigrations executes a single goose command against the configured
// database and returns.
func runMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Storage.DatabaseURL == "" {
		return fmt.Errorf("migrations need storage.database_url to be set")
	}

	db, err := openDatabase(ctx, cfg.Storage.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := postgres.RunMigrations(ctx, db, command, logger); err != nil {
		return fmt.Errorf("migration %q failed: %w", command, err)
	}
	logger.Info("migration command completed", "command", command)
	return nil
}
