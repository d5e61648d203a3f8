// Package api provides the HTTP adapter for the plant-care engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"plantcare-engine/internal/api/handlers"
	"plantcare-engine/internal/api/middleware"
	"plantcare-engine/internal/api/response"
	"plantcare-engine/internal/config"
	"plantcare-engine/internal/engine"
	"plantcare-engine/internal/logging"
	"plantcare-engine/internal/metrics"
)

// Version is reported by /health and the root endpoint
const Version = "1.0.0"

const (
	requestTimeout = 30 * time.Second
	maxRequestSize = 1 << 20
)

// Deps are the services the router serves
type Deps struct {
	Config   *config.Config
	Engine   *engine.Engine
	Profiles handlers.ProfileStore
	Gatherer prometheus.Gatherer
	Health   func(ctx context.Context) error
	Logger   logging.Logger
}

// Router represents the main API router
type Router struct {
	deps Deps
	mux  *chi.Mux
}

// NewRouter creates a new API router with middleware and routes
func NewRouter(deps Deps) *Router {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoOpLogger()
	}
	r := &Router{deps: deps, mux: chi.NewRouter()}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.mux
}

// setupMiddleware configures the middleware stack
func (r *Router) setupMiddleware() {
	// Recovery middleware (should be first)
	r.mux.Use(chimiddleware.Recoverer)
	r.mux.Use(chimiddleware.Timeout(requestTimeout))
	r.mux.Use(middleware.NewLoggingMiddleware(r.deps.Logger).Handler())
	r.mux.Use(chimiddleware.RequestSize(maxRequestSize))

	// Heartbeat for load balancer health checks
	r.mux.Use(chimiddleware.Heartbeat("/ping"))
}

// setupRoutes configures API routes
func (r *Router) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(r.deps.Config, r.deps.Health, Version)
	r.mux.Get("/health", healthHandler.Handle)
	if r.deps.Gatherer != nil {
		r.mux.Handle("/metrics", metrics.HandlerFor(r.deps.Gatherer))
	}

	if r.deps.Engine != nil {
		plants := handlers.NewPlantHandler(r.deps.Engine)
		notifications := handlers.NewNotificationHandler(r.deps.Engine, r.deps.Profiles)

		r.mux.Route("/api/v1", func(rtr chi.Router) {
			rtr.Route("/plants/{plantID}", func(pr chi.Router) {
				pr.Get("/tasks", plants.ListPending)
				pr.Post("/tasks/generate", plants.GenerateTasks)
				pr.Post("/conditions", plants.AdjustForConditions)
				pr.Post("/transition", plants.Transition)
				pr.Post("/notify", plants.Notify)
				pr.Post("/series", plants.CreateSeries)
			})
			rtr.Route("/tasks/{taskID}", func(tr chi.Router) {
				tr.Patch("/status", notifications.SetStatus)
				tr.Delete("/notification", notifications.Cancel)
			})
			rtr.Post("/notifications", notifications.Enqueue)
			rtr.Post("/notifications/flush", notifications.Flush)
			rtr.Post("/escalations/sweep", notifications.Sweep)
			rtr.Get("/escalations", notifications.ListEscalations)
			rtr.Put("/profiles/{userID}", notifications.PutProfile)
		})
	}

	r.mux.Get("/", r.handleRoot)
	r.mux.NotFound(r.handleNotFound)
	r.mux.MethodNotAllowed(r.handleMethodNotAllowed)
}

// handleRoot handles requests to the root endpoint
func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) {
	response.WriteSuccess(w, map[string]interface{}{
		"server":      "plantcare-engine",
		"version":     Version,
		"api_version": "v1",
		"endpoints": map[string]string{
			"health":  "/health",
			"metrics": "/metrics",
			"api":     "/api/v1",
		},
	})
}

// handleNotFound handles 404 errors
func (r *Router) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	response.WriteNotFound(w, "Endpoint not found", "The requested resource does not exist")
}

// handleMethodNotAllowed handles 405 errors
func (r *Router) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	response.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed",
		"The HTTP method is not supported for this endpoint")
}
