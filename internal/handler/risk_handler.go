package handler

import (
	"fmt"
	"net/http"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transactions
// POST /v1/transactions
// POST /v1/transactions/analyze
// POST /v1/transactions/batch
// ============================================================

func ingestHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions")
		defer span.End()

		var txn domain.Transaction
		if err := decodeBody(w, r, &txn); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("transaction.id", txn.ID))

		res, err := svc.Ingest(ctx, txn)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func analyzeHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/analyze")
		defer span.End()

		var txn domain.Transaction
		if err := decodeBody(w, r, &txn); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("transaction.id", txn.ID))

		res, err := svc.Analyze(ctx, txn)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func batchHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/batch")
		defer span.End()

		var req domain.BatchRequest
		if err := decodeBody(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if len(req.Transactions) == 0 {
			writeError(w, http.StatusBadRequest, "transactions must not be empty")
			return
		}
		if len(req.Transactions) > maxBatchSize {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d transactions", maxBatchSize))
			return
		}
		span.SetAttributes(
			attribute.Int("batch.size", len(req.Transactions)),
			attribute.Bool("batch.ingest", req.Ingest),
		)

		var (
			res *domain.BatchResult
			err error
		)
		if req.Ingest {
			res, err = svc.IngestBatch(ctx, req.Transactions)
		} else {
			res, err = svc.AnalyzeBatch(ctx, req.Transactions)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Assessments & alerts
// ============================================================

func getAssessmentHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/assessments/{transactionId}")
		defer span.End()

		ra, err := svc.GetAssessment(ctx, chi.URLParam(r, "transactionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ra)
	}
}

func getAlertHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/alerts/{alertId}")
		defer span.End()

		a, err := svc.GetAlert(ctx, chi.URLParam(r, "alertId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func listAlertsHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/entities/{entityId}/alerts")
		defer span.End()

		status := domain.AlertStatus(r.URL.Query().Get("status"))
		switch status {
		case "", domain.AlertPending, domain.AlertConfirmed, domain.AlertFlagged:
		default:
			writeError(w, http.StatusBadRequest, "status must be PENDING, CONFIRMED or FLAGGED")
			return
		}

		alerts, err := svc.ListAlerts(ctx, chi.URLParam(r, "entityId"), status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.AlertList{Alerts: alerts, Total: len(alerts)})
	}
}

// feedbackHandler records a reviewer verdict. The reviewer comes from the
// token, never from the body.
func feedbackHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/alerts/{alertId}/feedback")
		defer span.End()

		var ev domain.FeedbackEvent
		if err := decodeBody(w, r, &ev); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		alertID := chi.URLParam(r, "alertId")
		if ev.AlertID != "" && ev.AlertID != alertID {
			writeError(w, http.StatusBadRequest, "alert_id does not match the path")
			return
		}
		ev.AlertID = alertID
		ev.ReviewerID = ReviewerIDFromContext(ctx)
		span.SetAttributes(attribute.String("alert.id", alertID))

		res, err := svc.SubmitFeedback(ctx, ev)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Entity profiles
// ============================================================

func getProfileHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/entities/{entityId}/profile")
		defer span.End()

		p, err := svc.GetProfile(ctx, chi.URLParam(r, "entityId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func putProfileHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/entities/{entityId}/profile")
		defer span.End()

		var overlay domain.ProfileOverlay
		if err := decodeBody(w, r, &overlay); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		p, err := svc.UpdateProfileOverlay(ctx, chi.URLParam(r, "entityId"), overlay)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func rebuildProfileHandler(svc *service.RiskService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/entities/{entityId}/profile/rebuild")
		defer span.End()

		p, err := svc.RebuildProfile(ctx, chi.URLParam(r, "entityId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
