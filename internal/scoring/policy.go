package scoring

import (
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
)

// Policy maps composite scores to levels, flags and actions.
type Policy struct {
	rules  config.EscalationRules
	always map[domain.AnomalyType]struct{}
}

func NewPolicy(rules config.EscalationRules) *Policy {
	always := make(map[domain.AnomalyType]struct{}, len(rules.AlwaysEscalate))
	for _, t := range rules.AlwaysEscalate {
		always[domain.AnomalyType(t)] = struct{}{}
	}
	return &Policy{rules: rules, always: always}
}

// Level buckets a composite score.
func (p *Policy) Level(score int) domain.RiskLevel {
	switch {
	case score >= p.rules.CriticalLevel:
		return domain.RiskCritical
	case score >= p.rules.HighLevel:
		return domain.RiskHigh
	case score >= p.rules.MediumLevel:
		return domain.RiskMedium
	case score >= p.rules.LowLevel:
		return domain.RiskLow
	default:
		return domain.RiskNormal
	}
}

// Apply sets level, escalation flags and the required action on ra.
// Score, anomalies and the GAAP summary must already be populated.
func (p *Policy) Apply(ra *domain.RiskAssessment) {
	ra.Level = p.Level(ra.Score)

	var anyCritical, criticalGeo, alwaysEscalate bool
	for _, an := range ra.Anomalies {
		if an.Severity == domain.SeverityCritical {
			anyCritical = true
			if an.Type.Family() == domain.FamilyGeo {
				criticalGeo = true
			}
		}
		if _, ok := p.always[an.Type]; ok {
			alwaysEscalate = true
		}
	}
	materialGAAP := ra.GAAP != nil && ra.GAAP.Materiality == domain.MaterialityHigh && ra.GAAP.RequiresReview

	ra.RequiresReview = ra.Score >= p.rules.ReviewScore || anyCritical
	ra.RequiresEscalation = ra.Score >= p.rules.EscalateScore || alwaysEscalate
	ra.RequiresCriticalEscalation = ra.Score >= p.rules.CriticalScore || materialGAAP || criticalGeo

	switch {
	case ra.RequiresCriticalEscalation:
		ra.Action = domain.ActionCriticalEscalation
	case ra.RequiresEscalation:
		ra.Action = domain.ActionAlert
	case ra.RequiresReview:
		ra.Action = domain.ActionReview
	default:
		ra.Action = domain.ActionSilentLog
	}
}
