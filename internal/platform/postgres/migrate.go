package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationTableName is the goose version table used for this schema.
const MigrationTableName = "durable_tasks_schema_migrations"

// MigrationCommands lists the commands accepted by RunMigrations.
var MigrationCommands = []string{"up", "down", "reset", "status", "version"}

// ErrUnknownMigrationCommand is returned for a command not in MigrationCommands.
var ErrUnknownMigrationCommand = errors.New("unknown migration command")

// goose keeps its configuration in package globals
var gooseMu sync.Mutex

// slogGooseLogger adapts the goose logger interface to slog
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level and does not exit; the error is returned to the caller.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return RunMigrations(ctx, db, "up", logger)
}

// RunMigrations executes a goose command against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "migrations", "command", command)

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&slogGooseLogger{logger: log})
	goose.SetTableName(MigrationTableName)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	const dir = "migrations"

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, dir)
	case "down":
		err = goose.DownContext(ctx, db, dir)
	case "reset":
		err = goose.ResetContext(ctx, db, dir)
	case "status":
		err = goose.StatusContext(ctx, db, dir)
	case "version":
		err = goose.VersionContext(ctx, db, dir)
	default:
		return fmt.Errorf("%w: %q (expected one of %v)", ErrUnknownMigrationCommand, command, MigrationCommands)
	}

	if err != nil {
		log.Error("migration command failed", "error", err)
		return fmt.Errorf("migration %s failed: %w", command, MapError(err))
	}

	log.Info("migration command completed")
	return nil
}
