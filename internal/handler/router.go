package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// maxBatchSize caps POST /v1/transactions/batch.
const maxBatchSize = 10000

// HealthCheck probes one dependency for GET /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.RiskService, auth *service.ReviewerAuth, checks []HealthCheck, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(checks, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// Transactions
		r.Post("/transactions", ingestHandler(svc, logger))
		r.Post("/transactions/analyze", analyzeHandler(svc, logger))
		r.Post("/transactions/batch", batchHandler(svc, logger))

		// Assessments & alerts
		r.Get("/assessments/{transactionId}", getAssessmentHandler(svc, logger))
		r.Get("/alerts/{alertId}", getAlertHandler(svc, logger))
		r.With(RequireReviewer(auth, logger)).
			Post("/alerts/{alertId}/feedback", feedbackHandler(svc, logger))

		// Entities
		r.Get("/entities/{entityId}/alerts", listAlertsHandler(svc, logger))
		r.Get("/entities/{entityId}/profile", getProfileHandler(svc, logger))
		r.Put("/entities/{entityId}/profile", putProfileHandler(svc, logger))
		r.Post("/entities/{entityId}/profile/rebuild", rebuildProfileHandler(svc, logger))

		// Engine
		r.Get("/metrics/engine", engineMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "risk-engine", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}
		for _, c := range checks {
			start := time.Now()
			err := c.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("health check failed", zap.String("service", c.Name), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: c.Name, Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func engineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
