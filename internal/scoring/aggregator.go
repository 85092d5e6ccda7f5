// Package scoring merges detector findings into a single RiskAssessment and
// applies the escalation policy.
package scoring

import (
	"math"
	"sort"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/detector"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
)

var families = []string{
	domain.FamilyStatistical,
	domain.FamilyStructuring,
	domain.FamilyFX,
	domain.FamilyGAAP,
	domain.FamilyGeo,
	domain.FamilyBehavioral,
	domain.FamilyNetwork,
}

// Aggregator combines findings. It holds only read-only rules and is safe for concurrent use.
type Aggregator struct {
	policy *Policy
	gaap   config.GAAPRules
}

func NewAggregator(rules *config.Rules) *Aggregator {
	return &Aggregator{policy: NewPolicy(rules.Escalation), gaap: rules.GAAP}
}

// Aggregate builds the assessment for txn from the findings of every detector,
// given in invocation order. ID and AnalyzedAt are left to the caller.
func (a *Aggregator) Aggregate(txn domain.Transaction, findings []detector.Finding) *domain.RiskAssessment {
	ra := &domain.RiskAssessment{
		TransactionID: txn.ID,
		EntityID:      txn.Entity(),
		AccountID:     txn.AccountID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Counterparty:  txn.Counterparty,
		Anomalies:     []domain.Anomaly{},
		SubScores:     make(map[string]float64, len(families)),
	}
	for _, f := range families {
		ra.SubScores[f] = 0
	}
	for _, f := range findings {
		ra.Anomalies = append(ra.Anomalies, f.Anomalies...)
		for _, reason := range f.Degraded {
			ra.Degraded = append(ra.Degraded, domain.DegradedNote{DetectorID: f.DetectorID, Reason: reason})
		}
	}

	scores := make([]float64, len(ra.Anomalies))
	for i, an := range ra.Anomalies {
		scores[i] = an.Score
		fam := an.Type.Family()
		ra.SubScores[fam] = math.Max(ra.SubScores[fam], an.Score)
	}
	ra.Score = Composite(scores)
	ra.Primary = Primary(ra.Anomalies)
	ra.GAAP = a.gaapSummary(ra.Anomalies)
	ra.FX = fxSummary(ra.Anomalies)

	a.policy.Apply(ra)
	return ra
}

// Composite is round(max*0.7 + mean*0.3); an empty list scores 0.
// The result does not depend on the order of scores.
func Composite(scores []float64) int {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	maxScore := sorted[len(sorted)-1]
	mean := sum / float64(len(sorted))
	// weights applied as tenths so exact halves round away from zero
	return int(math.Round((maxScore*7 + mean*3) / 10))
}

// Primary returns the highest-scoring anomaly, preferring the earliest on ties.
func Primary(anomalies []domain.Anomaly) *domain.Anomaly {
	if len(anomalies) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(anomalies); i++ {
		if anomalies[i].Score > anomalies[best].Score {
			best = i
		}
	}
	p := anomalies[best]
	return &p
}

// gaapSummary is nil unless at least one GAAP violation was found.
func (a *Aggregator) gaapSummary(anomalies []domain.Anomaly) *domain.GAAPSummary {
	var (
		sum       float64
		s         = &domain.GAAPSummary{Materiality: domain.MaterialityUnknown}
		standards = map[string]struct{}{}
	)
	for _, an := range anomalies {
		ev, ok := an.Evidence.(domain.GAAPEvidence)
		if !ok {
			continue
		}
		s.Violations = append(s.Violations, an.Type)
		s.Materiality = ev.Materiality
		sum += an.Score
		if _, seen := standards[ev.Standard]; !seen {
			standards[ev.Standard] = struct{}{}
			s.Standards = append(s.Standards, ev.Standard)
		}
	}
	if len(s.Violations) == 0 {
		return nil
	}
	mean := sum / float64(len(s.Violations))
	s.Score = math.Min(100, mean*a.gaap.Multipliers.For(s.Materiality))
	s.RequiresReview = s.Score >= a.gaap.ReviewScore || s.Materiality == domain.MaterialityHigh
	return s
}

func fxSummary(anomalies []domain.Anomaly) *domain.FXSummary {
	var s *domain.FXSummary
	pairs := map[string]struct{}{}
	for _, an := range anomalies {
		ev, ok := an.Evidence.(domain.FXEvidence)
		if !ok {
			continue
		}
		if s == nil {
			s = &domain.FXSummary{}
		}
		s.Checks = append(s.Checks, ev.Check)
		s.MaxScore = math.Max(s.MaxScore, an.Score)
		if _, seen := pairs[ev.Pair]; ev.Pair != "" && !seen {
			pairs[ev.Pair] = struct{}{}
			s.Pairs = append(s.Pairs, ev.Pair)
		}
	}
	return s
}
