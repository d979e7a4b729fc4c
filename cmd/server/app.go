package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/durable-tasks/internal/api"
	"github.com/phrazzld/durable-tasks/internal/config"
	"github.com/phrazzld/durable-tasks/internal/job"
	"github.com/phrazzld/durable-tasks/internal/repository"
	"github.com/phrazzld/durable-tasks/internal/service"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
	"github.com/phrazzld/durable-tasks/internal/task"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds both the HTTP drain and the queue disposal.
const shutdownTimeout = 30 * time.Second

// application holds the long-lived dependencies of the daemon so they can be
// released in order on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	repo         *repository.Repository[int64, job.Job]
	queue        *task.Queue[job.Job]
	taskService  service.TaskService
	tokenService auth.TokenService
	handler      http.Handler
}

// newApplication wires the medium, repository, dispatcher, queue, services and
// router. The queue is started before it returns so that a persisted backlog
// resumes immediately.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	medium, db, err := openMedium(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	app.repo, err = repository.New[int64, job.Job](medium, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	dispatcher := job.NewDispatcher(logger)
	if err := job.RegisterBuiltins(dispatcher, &http.Client{}, logger); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to register job handlers: %w", err)
	}

	app.queue, err = task.New(dispatcher.Handle, app.repo, task.Config{
		Concurrency:   cfg.Queue.Concurrency,
		AutoSave:      cfg.Queue.AutoSave,
		FlushInterval: cfg.Queue.FlushInterval,
	}, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create task queue: %w", err)
	}
	app.queue.SetFailureHandler(func(j job.Job, err error) {
		logger.Warn("job failed and stays queued for retry",
			"job_id", j.ID,
			"job_type", j.Type,
			"error", err)
	})

	app.taskService, err = service.NewTaskService(app.queue, dispatcher, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	if cfg.Auth.Enabled() {
		app.tokenService, err = auth.NewTokenService(cfg.Auth)
		if err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to initialize token service: %w", err)
		}
		logger.Info("admin API authentication enabled",
			"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)
	}

	app.handler = api.NewRouter(api.Deps{
		TaskService:  app.taskService,
		TokenService: app.tokenService,
		Logger:       logger,
	})

	if err := app.queue.Start(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to start task queue: %w", err)
	}

	stats, err := app.queue.Stats(ctx)
	if err == nil {
		logger.Info("task queue started",
			"queue_id", stats.QueueID,
			"backlog", stats.Backlog,
			"concurrency", stats.Concurrency,
			"job_types", dispatcher.Types())
	}

	return app, nil
}

// Run serves the admin API until ctx is canceled or the server fails, then
// shuts everything down.
func (app *application) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	app.cleanup()
	return err
}

// cleanup disposes of the queue, which flushes the backlog, and then closes
// the database.
func (app *application) cleanup() {
	if app.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := app.queue.Dispose(ctx); err != nil {
			app.logger.Error("failed to dispose task queue", "error", err)
		}
		cancel()
	} else if app.repo != nil {
		app.repo.Close()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
