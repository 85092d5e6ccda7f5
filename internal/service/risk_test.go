package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/audit"
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/detector"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/infra/store/memory"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
	"github.com/boddenberg/txn-risk-engine/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockPublisher struct {
	mu   sync.Mutex
	sent []*domain.AlertRecord
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, a *domain.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, a)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockRates struct {
	table *domain.RateTable
	err   error
}

func (m *mockRates) Rates(_ context.Context, _ string) (*domain.RateTable, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.table, nil
}

// --- Helpers ---

var day = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *service.RiskService
	store     *memory.Store
	publisher *mockPublisher
	sink      *audit.MemorySink
}

func newFixture(t *testing.T, rates *mockRates) *fixture {
	t.Helper()
	store := memory.New()
	sink := audit.NewMemorySink()
	now := func() time.Time { return day.Add(48 * time.Hour) }
	chain, err := audit.NewChain(context.Background(), sink, now, zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error creating audit chain, got %v", err)
	}
	pub := &mockPublisher{}
	if rates == nil {
		rates = &mockRates{table: &domain.RateTable{Base: "USD", Rates: map[string]decimal.Decimal{}}}
	}
	rules := config.DefaultRules()
	registry := profile.NewRegistry(store, profile.NewBuilder(rules.Geo.LocationHistorySize), zap.NewNop())

	svc := service.NewRiskService(
		service.Ports{
			History:     store,
			Assessments: store,
			Alerts:      store,
			Publisher:   pub,
			Rates:       rates,
			Audit:       chain,
		},
		registry,
		rules,
		service.Options{WindowSize: 100, MaxConcurrency: 4, Now: now},
		observability.NewMetrics(),
		zap.NewNop(),
	)
	return &fixture{svc: svc, store: store, publisher: pub, sink: sink}
}

func payment(id string, at time.Time, amount string, vendor string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		Timestamp:    at,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Counterparty: vendor,
		AccountID:    "acc-1",
		Direction:    domain.DirectionDebit,
		Location:     &domain.GeoLocation{Latitude: 40.71, Longitude: -74.0, Country: "US", City: "New York"},
	}
}

func hasAnomaly(ra *domain.RiskAssessment, typ domain.AnomalyType) *domain.Anomaly {
	for i := range ra.Anomalies {
		if ra.Anomalies[i].Type == typ {
			return &ra.Anomalies[i]
		}
	}
	return nil
}

// --- Tests ---

func TestAnalyze_ThresholdEvasionRaisesAlert(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Analyze(context.Background(), payment("t1", day, "-9950", "Acme Supplies"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ra := res.Assessment
	if hasAnomaly(ra, domain.AnomalyThresholdEvasion) == nil {
		t.Fatalf("expected THRESHOLD_EVASION, got %+v", ra.Anomalies)
	}
	if ra.Score != 85 {
		t.Errorf("expected score 85, got %d", ra.Score)
	}
	if ra.Level != domain.RiskHigh {
		t.Errorf("expected HIGH, got %s", ra.Level)
	}
	if ra.ID != domain.AssessmentID("t1") {
		t.Errorf("expected deterministic assessment id, got %s", ra.ID)
	}
	if res.Alert == nil {
		t.Fatal("expected alert")
	}
	if res.Alert.Priority != domain.PriorityP2 {
		t.Errorf("expected P2, got %s", res.Alert.Priority)
	}
	if res.Alert.Status != domain.AlertPending {
		t.Errorf("expected PENDING, got %s", res.Alert.Status)
	}
	if f.publisher.count() != 1 {
		t.Errorf("expected 1 published alert, got %d", f.publisher.count())
	}

	stored, err := f.svc.GetAssessment(context.Background(), "t1")
	if err != nil {
		t.Fatalf("expected stored assessment, got %v", err)
	}
	if stored.Score != ra.Score {
		t.Errorf("expected stored score %d, got %d", ra.Score, stored.Score)
	}

	entries := f.sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if err := audit.Verify(entries); err != nil {
		t.Errorf("expected valid audit chain, got %v", err)
	}
}

func TestAnalyze_DoesNotAppendToHistory(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Analyze(context.Background(), payment("t1", day, "-120", "Coffee Bar")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	w, _ := f.store.Window(context.Background(), "acc-1", day.Add(time.Hour), 10)
	if len(w) != 0 {
		t.Errorf("expected empty history, got %d", len(w))
	}
}

func TestAnalyze_ReanalysisDoesNotRenotify(t *testing.T) {
	f := newFixture(t, nil)
	txn := payment("t1", day, "-9950", "Acme Supplies")

	first, err := f.svc.Analyze(context.Background(), txn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := f.svc.Analyze(context.Background(), txn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.Alert == nil || second.Alert.ID != first.Alert.ID {
		t.Errorf("expected the same alert back, got %+v", second.Alert)
	}
	if f.publisher.count() != 1 {
		t.Errorf("expected 1 publish, got %d", f.publisher.count())
	}
}

func TestAnalyze_MissingAccountIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	txn := payment("t1", day, "-10", "Coffee Bar")
	txn.AccountID = ""

	_, err := f.svc.Analyze(context.Background(), txn)
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if verr.Field != "account_id" {
		t.Errorf("expected field account_id, got %s", verr.Field)
	}
}

func TestAnalyze_MissingTimestampDegrades(t *testing.T) {
	f := newFixture(t, nil)
	txn := payment("t1", time.Time{}, "-10", "Coffee Bar")

	res, err := f.svc.Analyze(context.Background(), txn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	found := false
	for _, n := range res.Assessment.Degraded {
		if n.DetectorID == "input" && n.Reason == "missing timestamp" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing timestamp note, got %+v", res.Assessment.Degraded)
	}
}

func TestAnalyze_RatesUnavailableDegradesFX(t *testing.T) {
	f := newFixture(t, &mockRates{err: &domain.ErrExternalService{Service: "rates", Err: errors.New("down")}})
	txn := payment("t1", day, "-1234.56", "Currency Exchange Ltd")
	txn.Currency = "EUR"
	txn.FX = &domain.FXLeg{BaseCurrency: "EUR", QuoteCurrency: "USD", AppliedRate: decimal.RequireFromString("1.30")}

	res, err := f.svc.Analyze(context.Background(), txn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	found := false
	for _, n := range res.Assessment.Degraded {
		if n.DetectorID == detector.IDFX && n.Reason == "no rate table; off-market check skipped" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fx degraded note, got %+v", res.Assessment.Degraded)
	}
	if hasAnomaly(res.Assessment, domain.AnomalyFXOffMarketRate) != nil {
		t.Error("expected no off-market finding without rates")
	}
}

func TestAnalyze_OffMarketRateWithReferenceTable(t *testing.T) {
	f := newFixture(t, &mockRates{table: &domain.RateTable{
		Base:  "USD",
		Rates: map[string]decimal.Decimal{"EUR/USD": decimal.RequireFromString("1.08")},
	}})
	txn := payment("t1", day, "-1234.56", "Currency Exchange Ltd")
	txn.Currency = "EUR"
	txn.FX = &domain.FXLeg{BaseCurrency: "EUR", QuoteCurrency: "USD", AppliedRate: decimal.RequireFromString("1.30")}

	res, err := f.svc.Analyze(context.Background(), txn)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	an := hasAnomaly(res.Assessment, domain.AnomalyFXOffMarketRate)
	if an == nil {
		t.Fatalf("expected FX_OFF_MARKET_RATE, got %+v", res.Assessment.Anomalies)
	}
	if an.Severity != domain.SeverityCritical {
		t.Errorf("expected CRITICAL, got %s", an.Severity)
	}
	if res.Assessment.FX == nil {
		t.Error("expected FX summary")
	}
}

func TestAnalyze_PublishFailureKeepsAlert(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errors.New("broker down")

	res, err := f.svc.Analyze(context.Background(), payment("t1", day, "-9950", "Acme Supplies"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Alert == nil {
		t.Fatal("expected alert")
	}
	if _, err := f.svc.GetAlert(context.Background(), res.Alert.ID); err != nil {
		t.Errorf("expected stored alert, got %v", err)
	}
}

func TestIngest_AppendsToHistory(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Ingest(context.Background(), payment("t1", day, "-120", "Coffee Bar")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	w, _ := f.store.Window(context.Background(), "acc-1", day.Add(time.Hour), 10)
	if len(w) != 1 || w[0].ID != "t1" {
		t.Errorf("expected t1 in history, got %+v", w)
	}
}

func TestSubmitFeedback_FlaggedReemitsAndMarksVendor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, payment("t1", day, "-9950", "Acme Supplies"))
	if err != nil || res.Alert == nil {
		t.Fatalf("expected alert, got %v (err=%v)", res, err)
	}

	fb, err := f.svc.SubmitFeedback(ctx, domain.FeedbackEvent{
		AlertID:     res.Alert.ID,
		Disposition: domain.DispositionFlagged,
		EntityID:    "acc-1",
		ReviewerID:  "rev-1",
		Note:        "not mine",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if fb.Alert.Status != domain.AlertFlagged {
		t.Errorf("expected FLAGGED, got %s", fb.Alert.Status)
	}
	if fb.Alert.ResolvedBy != "rev-1" {
		t.Errorf("expected resolver rev-1, got %q", fb.Alert.ResolvedBy)
	}
	if fb.ReEmitted == nil {
		t.Fatal("expected re-emitted alert")
	}
	if fb.ReEmitted.Priority != domain.PriorityP1 {
		t.Errorf("expected P1, got %s", fb.ReEmitted.Priority)
	}
	if fb.ReEmitted.ParentAlertID != res.Alert.ID {
		t.Errorf("expected parent %s, got %s", res.Alert.ID, fb.ReEmitted.ParentAlertID)
	}
	if f.publisher.count() != 2 {
		t.Errorf("expected 2 published alerts, got %d", f.publisher.count())
	}

	p, _ := f.svc.GetProfile(ctx, "acc-1")
	if !p.IsSuspicious("acme supplies") {
		t.Error("expected vendor marked suspicious")
	}

	next, err := f.svc.Analyze(ctx, payment("t2", day.Add(24*time.Hour), "-120", "Acme Supplies"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hasAnomaly(next.Assessment, domain.AnomalySuspiciousVendor) == nil {
		t.Errorf("expected SUSPICIOUS_VENDOR, got %+v", next.Assessment.Anomalies)
	}
	if next.Alert == nil {
		t.Error("expected alert for suspicious vendor")
	}
}

func TestSubmitFeedback_ConfirmedDampensRepeat(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, payment("t1", day, "-9950", "Acme Supplies"))
	if err != nil || res.Alert == nil {
		t.Fatalf("expected alert, got %v (err=%v)", res, err)
	}
	before := res.Assessment.Score

	if _, err := f.svc.SubmitFeedback(ctx, domain.FeedbackEvent{
		AlertID:     res.Alert.ID,
		Disposition: domain.DispositionConfirmed,
		EntityID:    "acc-1",
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	next, err := f.svc.Analyze(ctx, payment("t2", day.Add(24*time.Hour), "-9950", "Acme Supplies"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	an := hasAnomaly(next.Assessment, domain.AnomalyThresholdEvasion)
	if an == nil {
		t.Fatalf("expected THRESHOLD_EVASION, got %+v", next.Assessment.Anomalies)
	}
	if an.Severity != domain.SeverityLow {
		t.Errorf("expected LOW after confirmation, got %s", an.Severity)
	}
	if next.Assessment.Score >= before {
		t.Errorf("expected score below %d, got %d", before, next.Assessment.Score)
	}
	if next.Alert != nil {
		t.Errorf("expected no alert, got %+v", next.Alert)
	}
}

func TestSubmitFeedback_SecondVerdictConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, _ := f.svc.Analyze(ctx, payment("t1", day, "-9950", "Acme Supplies"))
	ev := domain.FeedbackEvent{AlertID: res.Alert.ID, Disposition: domain.DispositionConfirmed, EntityID: "acc-1"}
	if _, err := f.svc.SubmitFeedback(ctx, ev); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := f.svc.SubmitFeedback(ctx, ev)
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSubmitFeedback_WrongEntityIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, _ := f.svc.Analyze(ctx, payment("t1", day, "-9950", "Acme Supplies"))
	_, err := f.svc.SubmitFeedback(ctx, domain.FeedbackEvent{
		AlertID:     res.Alert.ID,
		Disposition: domain.DispositionFlagged,
		EntityID:    "someone-else",
	})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitFeedback_UnknownAlert(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.SubmitFeedback(context.Background(), domain.FeedbackEvent{
		AlertID:     "missing",
		Disposition: domain.DispositionConfirmed,
		EntityID:    "acc-1",
	})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAnalyzeBatch_ChronologicalWithRollingWindow(t *testing.T) {
	f := newFixture(t, nil)

	var txns []domain.Transaction
	for i := 4; i >= 0; i-- {
		txns = append(txns, payment(string(rune('a'+i)), day.Add(time.Duration(i-3)*time.Hour), "-120", "Coffee Bar"))
	}
	other := payment("z", day.Add(-2*time.Hour), "-120", "Coffee Bar")
	other.AccountID = "acc-2"
	txns = append(txns, other)

	out, err := f.svc.AnalyzeBatch(context.Background(), txns)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Total != 6 {
		t.Fatalf("expected 6 assessments, got %d", out.Total)
	}
	wantOrder := []string{"a", "b", "z", "c", "d", "e"}
	for i, id := range wantOrder {
		if out.Assessments[i].TransactionID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, out.Assessments[i].TransactionID)
		}
	}
	for _, ra := range out.Assessments {
		fired := hasAnomaly(&ra, domain.AnomalyHighFrequency) != nil
		if fired != (ra.TransactionID == "e") {
			t.Errorf("%s: unexpected HIGH_FREQUENCY=%v", ra.TransactionID, fired)
		}
	}

	w, _ := f.store.Window(context.Background(), "acc-1", day.Add(time.Hour), 10)
	if len(w) != 0 {
		t.Errorf("expected analyze batch to leave history untouched, got %d", len(w))
	}
}

func TestAnalyzeBatch_ValidationErrorNamesIndex(t *testing.T) {
	f := newFixture(t, nil)
	bad := payment("t2", day, "-10", "Coffee Bar")
	bad.ID = ""

	_, err := f.svc.AnalyzeBatch(context.Background(), []domain.Transaction{payment("t1", day, "-10", "Coffee Bar"), bad})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if verr.Field != "transactions[1].id" {
		t.Errorf("expected transactions[1].id, got %s", verr.Field)
	}
}

func TestIngestBatch_AppendsEverything(t *testing.T) {
	f := newFixture(t, nil)
	txns := []domain.Transaction{
		payment("t2", day.Add(time.Hour), "-120", "Coffee Bar"),
		payment("t1", day, "-9950", "Acme Supplies"),
	}

	out, err := f.svc.IngestBatch(context.Background(), txns)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Flagged != 1 || len(out.Alerts) != 1 {
		t.Errorf("expected 1 flagged, got %d (%d alerts)", out.Flagged, len(out.Alerts))
	}
	w, _ := f.store.Window(context.Background(), "acc-1", day.Add(2*time.Hour), 10)
	if len(w) != 2 || w[0].ID != "t1" || w[1].ID != "t2" {
		t.Errorf("expected [t1 t2] in history, got %+v", w)
	}
}

func muleRun() []domain.Transaction {
	var txns []domain.Transaction
	for i, acc := range []string{"acc-1", "acc-2", "acc-3"} {
		t := payment("m"+string(rune('1'+i)), day.Add(time.Duration(i)*10*time.Minute), "-4000.50", "Mule Co")
		t.AccountID = acc
		txns = append(txns, t)
	}
	return txns
}

func TestAnalyzeBatch_CrossEntityMatchesSequential(t *testing.T) {
	seq := newFixture(t, nil)
	var last *domain.RiskAssessment
	for _, txn := range muleRun() {
		res, err := seq.svc.Ingest(context.Background(), txn)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		last = res.Assessment
	}
	if hasAnomaly(last, domain.AnomalyCrossEntityStructuring) == nil {
		t.Fatalf("expected CROSS_ENTITY_STRUCTURING when ingested one by one, got %+v", last.Anomalies)
	}

	batch := newFixture(t, nil)
	out, err := batch.svc.AnalyzeBatch(context.Background(), muleRun())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for i, ra := range out.Assessments {
		fired := hasAnomaly(&ra, domain.AnomalyCrossEntityStructuring) != nil
		if fired != (i == 2) {
			t.Errorf("%s: unexpected CROSS_ENTITY_STRUCTURING=%v", ra.TransactionID, fired)
		}
	}
	if out.Assessments[2].Score != last.Score {
		t.Errorf("expected batch score %d to match sequential, got %d", last.Score, out.Assessments[2].Score)
	}
}

func TestAnalyzeBatch_CircularPaymentAcrossEntities(t *testing.T) {
	f := newFixture(t, nil)
	legs := [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}}
	var txns []domain.Transaction
	for i, leg := range legs {
		t := payment("c"+string(rune('1'+i)), day.Add(time.Duration(i)*time.Hour), "-9000", "Transfer")
		t.AccountID, t.CounterpartyAccountID = leg[0], leg[1]
		txns = append(txns, t)
	}

	out, err := f.svc.AnalyzeBatch(context.Background(), txns)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	closing := out.Assessments[2]
	if closing.TransactionID != "c3" {
		t.Fatalf("expected c3 last, got %s", closing.TransactionID)
	}
	if hasAnomaly(&closing, domain.AnomalyCircularPayment) == nil {
		t.Errorf("expected CIRCULAR_PAYMENT on the closing leg, got %+v", closing.Anomalies)
	}
}

func TestRebuildProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i, id := range []string{"t1", "t2", "t3"} {
		if _, err := f.svc.Ingest(ctx, payment(id, day.Add(time.Duration(i)*time.Hour), "-100", "Coffee Bar")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	p, err := f.svc.RebuildProfile(ctx, "acc-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.TransactionCount != 3 {
		t.Errorf("expected 3 transactions, got %d", p.TransactionCount)
	}
	if p.VendorFrequency["coffee bar"] != 3 {
		t.Errorf("expected vendor frequency 3, got %d", p.VendorFrequency["coffee bar"])
	}
}

func TestUpdateProfileOverlay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.svc.UpdateProfileOverlay(ctx, "acc-1", domain.ProfileOverlay{
		HomeCountry:    "us",
		RelatedParties: []string{"Acme Holdings"},
		Financials:     &domain.CompanyFinancials{AnnualRevenue: decimal.NewFromInt(1_000_000)},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.HomeCountry != "US" {
		t.Errorf("expected US, got %s", p.HomeCountry)
	}
	if !p.IsRelatedParty("acme holdings") {
		t.Error("expected related party")
	}

	_, err = f.svc.UpdateProfileOverlay(ctx, "acc-1", domain.ProfileOverlay{
		Financials: &domain.CompanyFinancials{AnnualRevenue: decimal.Zero},
	})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestEngineMetrics_CountsAssessmentsAndFeedback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, _ := f.svc.Analyze(ctx, payment("t1", day, "-9950", "Acme Supplies"))
	_, _ = f.svc.Analyze(ctx, payment("t2", day, "-12", "Coffee Bar"))
	_, _ = f.svc.SubmitFeedback(ctx, domain.FeedbackEvent{AlertID: res.Alert.ID, Disposition: domain.DispositionConfirmed, EntityID: "acc-1"})

	m := f.svc.EngineMetrics()
	if m.Assessments != 2 {
		t.Errorf("expected 2 assessments, got %d", m.Assessments)
	}
	if m.ReviewRate != 0.5 {
		t.Errorf("expected review rate 0.5, got %v", m.ReviewRate)
	}
	if m.FalsePositiveRate != 1 {
		t.Errorf("expected false positive rate 1, got %v", m.FalsePositiveRate)
	}
}
