package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/audit"
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/handler"
	"github.com/boddenberg/txn-risk-engine/internal/infra/cache"
	"github.com/boddenberg/txn-risk-engine/internal/infra/client"
	"github.com/boddenberg/txn-risk-engine/internal/infra/messaging"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/infra/resilience"
	"github.com/boddenberg/txn-risk-engine/internal/infra/store/memory"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"go.uber.org/zap"
)

type engine struct {
	router http.Handler
	auth   *service.ReviewerAuth
	sink   *audit.MemorySink
}

func newEngine(t *testing.T, ratesURL string) *engine {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	rules := config.DefaultRules()
	store := memory.New()

	sink := audit.NewMemorySink()
	chain, err := audit.NewChain(context.Background(), sink, time.Now, logger)
	if err != nil {
		t.Fatalf("expected no error creating audit chain, got %v", err)
	}

	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	rates := client.NewCachedRates(
		client.NewRatesClient(&http.Client{Timeout: 5 * time.Second}, ratesURL, resilience.NewCircuitBreaker("rates-test"), cfg),
		client.NewStaticProvider("USD", nil, time.Time{}),
		cache.New[*domain.RateTable](5*time.Minute),
		metrics,
		logger,
	)

	svc := service.NewRiskService(
		service.Ports{
			History:     store,
			Assessments: store,
			Alerts:      store,
			Publisher:   messaging.NewLogPublisher(logger),
			Rates:       rates,
			Audit:       chain,
		},
		profile.NewRegistry(store, profile.NewBuilder(rules.Geo.LocationHistorySize), logger),
		rules,
		service.Options{WindowSize: 100, MaxConcurrency: 4},
		metrics,
		logger,
	)
	auth := service.NewReviewerAuth("integration-secret", time.Hour)
	return &engine{
		router: handler.NewRouter(svc, auth, nil, metrics, logger),
		auth:   auth,
		sink:   sink,
	}
}

func (e *engine) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// TestIntegration_FullFlow drives ingest, review and re-analysis through the HTTP surface.
func TestIntegration_FullFlow(t *testing.T) {
	ratesServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"base":  "USD",
			"rates": map[string]string{"EUR/USD": "1.08"},
			"as_of": "2026-03-10T00:00:00Z",
		})
	}))
	defer ratesServer.Close()

	e := newEngine(t, ratesServer.URL)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// --- Seed the profile overlay ---
	rec := e.do(t, http.MethodPut, "/v1/entities/acc-1/profile", map[string]any{"home_country": "US"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	// --- Ingest a threshold-evasion payment ---
	txn := map[string]any{
		"id":           "tx-1",
		"timestamp":    at,
		"amount":       "-9950.00",
		"currency":     "USD",
		"counterparty": "Acme Supplies",
		"account_id":   "acc-1",
		"direction":    "DEBIT",
		"location":     map[string]any{"latitude": 40.71, "longitude": -74.0, "country": "US"},
	}
	rec = e.do(t, http.MethodPost, "/v1/transactions", txn, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	res := decode[domain.AnalysisResult](t, rec)
	if res.Alert == nil {
		t.Fatal("expected alert to be present")
	}
	if res.Assessment.Primary == nil || res.Assessment.Primary.Type != domain.AnomalyThresholdEvasion {
		t.Errorf("expected THRESHOLD_EVASION primary, got %+v", res.Assessment.Primary)
	}

	rec = e.do(t, http.MethodGet, "/v1/alerts/"+res.Alert.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// --- Reviewer flags it ---
	token, err := e.auth.Issue("reviewer-7")
	if err != nil {
		t.Fatalf("expected no error issuing token, got %v", err)
	}
	feedback := map[string]any{"disposition": "FLAGGED", "entity_id": "acc-1", "note": "not ours"}
	rec = e.do(t, http.MethodPost, "/v1/alerts/"+res.Alert.ID+"/feedback", feedback, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	fb := decode[domain.FeedbackResult](t, rec)
	if fb.Alert.ResolvedBy != "reviewer-7" {
		t.Errorf("expected resolver from token, got %q", fb.Alert.ResolvedBy)
	}
	if fb.ReEmitted == nil || fb.ReEmitted.Priority != domain.PriorityP1 {
		t.Errorf("expected P1 re-emission, got %+v", fb.ReEmitted)
	}

	rec = e.do(t, http.MethodPost, "/v1/alerts/"+res.Alert.ID+"/feedback", feedback, token)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second verdict, got %d", rec.Code)
	}

	// --- Alerts listing includes the follow-up ---
	rec = e.do(t, http.MethodGet, "/v1/entities/acc-1/alerts", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	listing := decode[struct {
		Total int `json:"total"`
	}](t, rec)
	if listing.Total != 2 {
		t.Errorf("expected 2 alerts, got %d", listing.Total)
	}

	// --- Off-market FX conversion checked against the rates API ---
	fx := map[string]any{
		"id":           "tx-2",
		"timestamp":    at.Add(time.Hour),
		"amount":       "-1234.56",
		"currency":     "EUR",
		"counterparty": "Currency Exchange Ltd",
		"account_id":   "acc-1",
		"location":     map[string]any{"latitude": 40.71, "longitude": -74.0, "country": "US"},
		"fx":           map[string]any{"base_currency": "EUR", "quote_currency": "USD", "applied_rate": "1.30"},
	}
	rec = e.do(t, http.MethodPost, "/v1/transactions/analyze", fx, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	fxRes := decode[domain.AnalysisResult](t, rec)
	found := false
	for _, an := range fxRes.Assessment.Anomalies {
		if an.Type == domain.AnomalyFXOffMarketRate {
			found = true
		}
	}
	if !found {
		t.Errorf("expected FX_OFF_MARKET_RATE, got %+v", fxRes.Assessment.Anomalies)
	}

	// --- Read side ---
	rec = e.do(t, http.MethodGet, "/v1/assessments/tx-1", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/v1/assessments/unknown", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/v1/metrics/engine", nil, "")
	m := decode[domain.EngineMetrics](t, rec)
	if m.Assessments != 2 {
		t.Errorf("expected 2 assessments, got %d", m.Assessments)
	}

	if err := audit.Verify(e.sink.Entries()); err != nil {
		t.Errorf("expected intact audit chain, got %v", err)
	}
}

func TestIntegration_BatchAndValidation(t *testing.T) {
	ratesServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ratesServer.Close()

	e := newEngine(t, ratesServer.URL)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var txns []map[string]any
	for i := 0; i < 5; i++ {
		txns = append(txns, map[string]any{
			"id":           "b-" + string(rune('1'+i)),
			"timestamp":    at.Add(time.Duration(i) * time.Hour),
			"amount":       "-120",
			"counterparty": "Coffee Bar",
			"account_id":   "acc-9",
		})
	}
	rec := e.do(t, http.MethodPost, "/v1/transactions/batch", map[string]any{"transactions": txns, "ingest": true}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	out := decode[domain.BatchResult](t, rec)
	if out.Total != 5 {
		t.Errorf("expected 5, got %d", out.Total)
	}
	last := out.Assessments[len(out.Assessments)-1]
	if last.TransactionID != "b-5" {
		t.Errorf("expected b-5 last, got %s", last.TransactionID)
	}

	rec = e.do(t, http.MethodPost, "/v1/entities/acc-9/profile/rebuild", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := decode[domain.EntityProfile](t, rec)
	if p.TransactionCount != 5 {
		t.Errorf("expected 5 transactions in profile, got %d", p.TransactionCount)
	}

	rec = e.do(t, http.MethodPost, "/v1/transactions/batch", map[string]any{"transactions": []any{}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/transactions/analyze", map[string]any{"id": "x", "amount": "10"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing account, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/transactions/analyze", map[string]any{"id": "x", "account_id": "a", "bogus": 1}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown field, got %d", rec.Code)
	}
}
