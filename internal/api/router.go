package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/durable-tasks/internal/api/middleware"
	"github.com/phrazzld/durable-tasks/internal/service"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
)

// Deps holds what the router needs to serve requests.
type Deps struct {
	TaskService service.TaskService

	// TokenService authenticates requests. When nil the API is open.
	TokenService auth.TokenService

	Logger *slog.Logger
}

// NewRouter builds the admin API. Read routes require the read scope and
// every route that changes queue state requires the admin scope.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	tasks := NewTaskHandler(deps.TaskService, log)
	queue := NewQueueHandler(deps.TaskService, log)
	authMiddleware := middleware.NewAuthMiddleware(deps.TokenService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewTraceMiddleware(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", queue.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireScope(auth.ScopeRead))
			r.Get("/tasks", tasks.List)
			r.Get("/tasks/failed", tasks.Failed)
			r.Get("/queue/stats", queue.Stats)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireScope(auth.ScopeAdmin))
			r.Post("/tasks", tasks.Submit)
			r.Delete("/tasks", tasks.Clear)
			r.Post("/tasks/retry", tasks.Retry)
			r.Post("/queue/start", queue.Start)
			r.Post("/queue/stop", queue.Stop)
			r.Post("/queue/save", queue.Save)
			r.Put("/queue/concurrency", queue.SetConcurrency)
		})
	})

	if deps.TokenService == nil {
		log.Warn("admin API authentication is disabled")
	}
	return r
}
