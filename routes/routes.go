package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/audit-query/app"
	"github.com/upb/audit-query/handlers"
	authmw "github.com/upb/audit-query/middleware"
	"github.com/upb/audit-query/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	var healthOpts []handlers.HealthOption
	if cache, ok := deps.RedisCache(); ok {
		healthOpts = append(healthOpts, handlers.WithCursorCache(cache))
	}
	healthOpts = append(healthOpts, handlers.WithStatus(deps.QueryService, deps.Config.Environment, deps.Config.Database.Driver))
	health := handlers.NewHealthHandler(deps.DB, deps.Payloads, deps.Logger, healthOpts...)
	audit := handlers.NewAuditHandler(deps.QueryService, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", health.HandleStatus)

		r.Route("/audit", func(r chi.Router) {
			if deps.AuthMiddleware != nil {
				r.Use(deps.AuthMiddleware.RequireAuth)
				if role := deps.Config.Auth.RequiredRole; role != "" {
					r.Use(deps.AuthMiddleware.RequireRole(role))
				}
			}
			r.Get("/events", audit.HandleListEvents)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
