package api

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
	ws "github.com/metavida/wellness-automation/internal/websocket"
	"github.com/metavida/wellness-automation/internal/worker"
)

// Deps are the services the HTTP layer calls into. Breaker and DashboardFS
// may be nil.
type Deps struct {
	Store       store.Store
	Dispatcher  *worker.Dispatcher
	Manual      *worker.ManualAdvancer
	Churn       *engine.ChurnBridge
	Breaker     *engine.CircuitBreaker
	Hub         *ws.Hub
	DashboardFS fs.FS
	Logger      *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger.With("component", "api")
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	eventHandler := NewEventHandler(d.Store, logger)
	automationHandler := NewAutomationHandler(d.Store, d.Dispatcher, d.Churn, logger)
	journeyHandler := NewJourneyHandler(d.Store, d.Manual, logger)
	enrollmentHandler := NewEnrollmentHandler(d.Store, d.Manual, logger)
	dashHandler := NewDashboardHandler(d.Store, d.Breaker, d.Hub, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Store))
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		})

		r.Group(func(r chi.Router) {
			r.Use(withActor(d.Store, logger))

			r.Route("/events", func(r chi.Router) {
				r.Post("/", eventHandler.Create)
				r.With(requireAdmin).Get("/", eventHandler.List)
				r.With(requireAdmin).Get("/{id}", eventHandler.Get)
			})

			r.With(requireAdmin).Post("/automation/process", automationHandler.Process)
			r.With(requireAdmin).Post("/churn-scores", automationHandler.ChurnScore)

			r.Route("/journeys", func(r chi.Router) {
				r.Get("/", journeyHandler.List)
				r.Post("/", journeyHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", journeyHandler.Get)
					r.Patch("/", journeyHandler.Update)
					r.Delete("/", journeyHandler.Delete)
					r.With(requireAdmin).Post("/advance", journeyHandler.Advance)

					r.Get("/steps", journeyHandler.ListSteps)
					r.Post("/steps", journeyHandler.CreateStep)
					r.Patch("/steps/{stepID}", journeyHandler.UpdateStep)
					r.Delete("/steps/{stepID}", journeyHandler.DeleteStep)

					r.Get("/progress", journeyHandler.Progress)
					r.Get("/enrollments", journeyHandler.Enrollments)
				})
			})

			r.Route("/enrollments/{id}", func(r chi.Router) {
				r.Get("/", enrollmentHandler.Get)
				r.With(requireAdmin).Post("/advance", enrollmentHandler.Advance)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/dashboard/metrics", dashHandler.Metrics)
				if d.Hub != nil {
					r.Get("/ws", d.Hub.HandleWebSocket)
				}
			})
		})
	})

	if d.DashboardFS != nil {
		r.Handle("/*", http.FileServer(http.FS(d.DashboardFS)))
	}

	return r
}
