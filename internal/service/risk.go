package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/alert"
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/detector"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/observability"
	"github.com/boddenberg/txn-risk-engine/internal/port"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
	"github.com/boddenberg/txn-risk-engine/internal/scoring"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/risk")

// Ports groups the external collaborators of the risk service.
type Ports struct {
	History     port.HistoryStore
	Assessments port.AssessmentStore
	Alerts      port.AlertStore
	Publisher   port.AlertPublisher
	Rates       port.RateProvider
	Audit       port.AuditLog
}

// Options tunes the service.
type Options struct {
	WindowSize     int
	MaxConcurrency int
	RatesBase      string
	Now            func() time.Time
}

// RiskService runs the detection pipeline and owns the alert and feedback lifecycle.
type RiskService struct {
	ports      Ports
	profiles   *profile.Registry
	rules      *config.Rules
	detectors  []detector.Detector
	aggregator *scoring.Aggregator
	formatter  *alert.Formatter
	opts       Options
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewRiskService creates the service with all dependencies injected.
func NewRiskService(
	ports Ports,
	profiles *profile.Registry,
	rules *config.Rules,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *RiskService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 100
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.RatesBase == "" {
		opts.RatesBase = rules.FX.BaseCurrency
	}
	return &RiskService{
		ports:      ports,
		profiles:   profiles,
		rules:      rules,
		detectors:  detector.Default(rules),
		aggregator: scoring.NewAggregator(rules),
		formatter:  alert.NewFormatter(opts.Now),
		opts:       opts,
		metrics:    metrics,
		logger:     logger,
	}
}

// Analyze assesses txn against the stored history without recording txn in it.
func (s *RiskService) Analyze(ctx context.Context, txn domain.Transaction) (*domain.AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "RiskService.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txn.ID))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("analyze", time.Since(start))
	}()

	notes, err := checkTransaction(txn)
	if err != nil {
		return nil, err
	}
	window, err := s.ports.History.Window(ctx, txn.Entity(), s.cutoff(txn), s.opts.WindowSize)
	if err != nil {
		s.metrics.IncrExternalError("history")
		return nil, fmt.Errorf("load window: %w", err)
	}
	return s.assess(ctx, txn, window, nil, notes)
}

// Ingest analyzes txn and then appends it to the history.
func (s *RiskService) Ingest(ctx context.Context, txn domain.Transaction) (*domain.AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "RiskService.Ingest")
	defer span.End()

	res, err := s.Analyze(ctx, txn)
	if err != nil {
		return nil, err
	}
	if err := s.ports.History.Append(ctx, txn); err != nil {
		s.metrics.IncrExternalError("history")
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return res, nil
}

// cutoff is the instant the window must be strictly older than. Transactions
// without a timestamp are compared against the whole history.
func (s *RiskService) cutoff(txn domain.Transaction) time.Time {
	if txn.HasTimestamp() {
		return txn.Timestamp
	}
	return s.opts.Now()
}

// assess runs the detectors over a resolved window and persists the outcome.
// earlier holds not-yet-stored batch transactions of any entity that precede
// txn; the cross-entity lookups see them as if they had been ingested.
func (s *RiskService) assess(ctx context.Context, txn domain.Transaction, window domain.HistoricalWindow, earlier []domain.Transaction, notes []domain.DegradedNote) (*domain.AnalysisResult, error) {
	entityID := txn.Entity()
	snapshot, err := s.profiles.Snapshot(ctx, entityID)
	if err != nil {
		s.metrics.IncrExternalError("profiles")
		return nil, fmt.Errorf("profile snapshot: %w", err)
	}
	in := detector.Input{
		Txn:     txn,
		Window:  window,
		Profile: s.profiles.Builder().Build(entityID, window, snapshot),
	}

	// --- reference data: rates and cross-entity history, concurrently ---
	var netNotes []domain.DegradedNote
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		in.Rates = s.resolveRates(gCtx, txn)
		return nil
	})
	g.Go(func() error {
		in.Network, netNotes = s.networkContext(gCtx, txn, earlier)
		return nil
	})
	_ = g.Wait()
	notes = append(notes, netNotes...)

	findings := s.detect(in)
	ra := s.aggregator.Aggregate(txn, findings)
	ra.ID = domain.AssessmentID(txn.ID)
	ra.AnalyzedAt = s.opts.Now().UTC()
	ra.Degraded = append(notes, ra.Degraded...)

	for _, an := range ra.Anomalies {
		observability.LogAnomaly(s.logger, txn.ID, an)
	}
	for _, n := range ra.Degraded {
		observability.LogDegraded(s.logger, txn.ID, n)
	}

	if err := s.ports.Audit.Record(ctx, ra); err != nil {
		s.metrics.IncrExternalError("audit")
		return nil, fmt.Errorf("audit assessment: %w", err)
	}
	if err := s.ports.Assessments.SaveAssessment(ctx, ra); err != nil {
		s.metrics.IncrExternalError("assessments")
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	s.metrics.IncrAssessment(ra.Level)

	a, err := s.raiseAlert(ctx, txn, ra)
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction assessed",
		zap.String("transaction_id", txn.ID),
		zap.String("entity_id", entityID),
		zap.Int("score", ra.Score),
		zap.String("level", string(ra.Level)),
		zap.String("action", string(ra.Action)),
		zap.Int("anomalies", len(ra.Anomalies)),
	)
	return &domain.AnalysisResult{Assessment: ra, Alert: a}, nil
}

// detect fans the detectors out and joins their findings in invocation order.
func (s *RiskService) detect(in detector.Input) []detector.Finding {
	findings := make([]detector.Finding, len(s.detectors))
	var g errgroup.Group
	for i, d := range s.detectors {
		g.Go(func() error {
			start := time.Now()
			f := detector.Safe(d, in)
			s.metrics.RecordDetector(d.ID(), time.Since(start), f.Anomalies, len(f.Degraded))
			findings[i] = f
			return nil
		})
	}
	_ = g.Wait()
	return findings
}

// resolveRates returns nil when no table is available; the FX detector then
// runs its rate-dependent checks in degraded mode.
func (s *RiskService) resolveRates(ctx context.Context, txn domain.Transaction) *domain.RateTable {
	if s.ports.Rates == nil {
		return nil
	}
	t, err := s.ports.Rates.Rates(ctx, s.opts.RatesBase)
	if err != nil {
		s.logger.Warn("rate table unavailable",
			zap.String("transaction_id", txn.ID),
			zap.String("base", s.opts.RatesBase),
			zap.Error(err),
		)
		return nil
	}
	return t
}

// raiseAlert creates and publishes the alert for ra when one is required.
// Re-analysing a transaction whose alert already exists does not notify again.
func (s *RiskService) raiseAlert(ctx context.Context, txn domain.Transaction, ra *domain.RiskAssessment) (*domain.AlertRecord, error) {
	a := s.formatter.FromAssessment(txn, ra)
	if a == nil {
		return nil, nil
	}

	existing, err := s.ports.Alerts.GetAlert(ctx, a.ID)
	if err == nil {
		return existing, nil
	}
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		s.metrics.IncrExternalError("alerts")
		return nil, fmt.Errorf("load alert: %w", err)
	}

	if err := s.ports.Alerts.SaveAlert(ctx, a); err != nil {
		s.metrics.IncrExternalError("alerts")
		return nil, fmt.Errorf("save alert: %w", err)
	}
	s.publish(ctx, a)
	return a, nil
}

// publish hands a to the notification subsystem. The alert is already stored,
// so a delivery failure is logged rather than failing the analysis.
func (s *RiskService) publish(ctx context.Context, a *domain.AlertRecord) {
	if err := s.ports.Publisher.Publish(ctx, a); err != nil {
		s.metrics.IncrExternalError("publisher")
		s.logger.Error("failed to publish alert",
			zap.String("alert_id", a.ID),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncrAlert(a.Priority)
}

// ============================================================
// Read side
// ============================================================

func (s *RiskService) GetAssessment(ctx context.Context, transactionID string) (*domain.RiskAssessment, error) {
	ctx, span := tracer.Start(ctx, "RiskService.GetAssessment")
	defer span.End()
	return s.ports.Assessments.GetAssessment(ctx, transactionID)
}

func (s *RiskService) GetAlert(ctx context.Context, alertID string) (*domain.AlertRecord, error) {
	ctx, span := tracer.Start(ctx, "RiskService.GetAlert")
	defer span.End()
	return s.ports.Alerts.GetAlert(ctx, alertID)
}

// ListAlerts returns the entity's alerts, optionally filtered by status.
func (s *RiskService) ListAlerts(ctx context.Context, entityID string, status domain.AlertStatus) ([]domain.AlertRecord, error) {
	ctx, span := tracer.Start(ctx, "RiskService.ListAlerts")
	defer span.End()
	return s.ports.Alerts.ListAlerts(ctx, entityID, status)
}

// EngineMetrics returns the cumulative engine counters.
func (s *RiskService) EngineMetrics() *domain.EngineMetrics {
	return s.metrics.Snapshot()
}
