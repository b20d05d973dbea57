package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/tokenmeter/tokenmeter/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Plan registry
	CreatePlan http.HandlerFunc
	ListPlans  http.HandlerFunc
	GetPlan    http.HandlerFunc
	UpdatePlan http.HandlerFunc
	DeletePlan http.HandlerFunc

	// Usage ledger and enforcement
	OpenAccount    http.HandlerFunc
	GetUsage       http.HandlerFunc
	UpdateUsage    http.HandlerFunc
	GetUsageStatus http.HandlerFunc
	ReconcileUsage http.HandlerFunc

	// Event log
	AppendEvent http.HandlerFunc
	ListEvents  http.HandlerFunc
	ListModels  http.HandlerFunc

	// Analytics
	TokenUsage http.HandlerFunc
	APICalls   http.HandlerFunc
	UsageStats http.HandlerFunc

	// Guards plan mutations
	AdminMiddleware func(http.Handler) http.Handler
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	IngestRateLimiter  func(http.Handler) http.Handler
	// HealthChecks are run by the readiness probe, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for name, check := range cfg.HealthChecks {
			if err := check(r.Context()); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	ingest := func(r chi.Router) {
		if cfg.IngestRateLimiter != nil {
			r.Use(cfg.IngestRateLimiter)
		}
	}
	admin := h.AdminMiddleware
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
		}

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Get("/{planID}", h.GetPlan)

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Post("/", h.CreatePlan)
				r.Put("/{planID}", h.UpdatePlan)
				r.Delete("/{planID}", h.DeletePlan)
			})
		})

		r.Route("/usage/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUsage)
			r.Get("/status", h.GetUsageStatus)
			r.Get("/reconcile", h.ReconcileUsage)

			r.Group(func(r chi.Router) {
				ingest(r)
				r.Post("/", h.OpenAccount)
				r.Put("/", h.UpdateUsage)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Get("/models", h.ListModels)

			r.Group(func(r chi.Router) {
				ingest(r)
				r.Post("/", h.AppendEvent)
			})
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/token-usage", h.TokenUsage)
			r.Get("/api-calls", h.APICalls)
			r.Get("/usage-stats", h.UsageStats)
		})
	})

	return r
}
