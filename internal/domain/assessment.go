package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Risk assessment
// ============================================================

// RiskLevel is the coarse bucket of a composite score.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "NORMAL"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// EscalationAction is what the escalation policy requires for an assessment.
type EscalationAction string

const (
	ActionSilentLog          EscalationAction = "SILENT_LOG"
	ActionReview             EscalationAction = "REVIEW"
	ActionAlert              EscalationAction = "ALERT"
	ActionCriticalEscalation EscalationAction = "CRITICAL_ESCALATION"
)

// DegradedNote records a detector that skipped a check or ran with reduced confidence.
type DegradedNote struct {
	DetectorID string `json:"detector_id"`
	Reason     string `json:"reason"`
}

// GAAPSummary is the GAAP-specific view of an assessment.
type GAAPSummary struct {
	Materiality    MaterialityLevel `json:"materiality"`
	Score          float64          `json:"score"`
	RequiresReview bool             `json:"requires_review"`
	Violations     []AnomalyType    `json:"violations"`
	Standards      []string         `json:"standards"`
}

// FXSummary is the FX-specific view of an assessment.
type FXSummary struct {
	Checks   []string `json:"checks"`
	MaxScore float64  `json:"max_score"`
	Pairs    []string `json:"pairs,omitempty"`
}

// RiskAssessment is the composite verdict for one transaction.
// It is built once and never mutated afterwards.
type RiskAssessment struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transaction_id"`
	EntityID      string             `json:"entity_id"`
	AccountID     string             `json:"account_id"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      string             `json:"currency,omitempty"`
	Counterparty  string             `json:"counterparty,omitempty"`
	Score         int                `json:"score"`
	Level         RiskLevel          `json:"level"`
	Anomalies     []Anomaly          `json:"anomalies"`
	Primary       *Anomaly           `json:"primary_anomaly,omitempty"`
	SubScores     map[string]float64 `json:"sub_scores"`
	GAAP          *GAAPSummary       `json:"gaap,omitempty"`
	FX            *FXSummary         `json:"fx,omitempty"`
	Degraded      []DegradedNote     `json:"degraded,omitempty"`

	RequiresReview             bool             `json:"requires_review"`
	RequiresEscalation         bool             `json:"requires_escalation"`
	RequiresCriticalEscalation bool             `json:"requires_critical_escalation"`
	Action                     EscalationAction `json:"action"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// HasType reports whether any anomaly of type t is present.
func (a *RiskAssessment) HasType(t AnomalyType) bool {
	for _, an := range a.Anomalies {
		if an.Type == t {
			return true
		}
	}
	return false
}

// BatchResult is returned by batch analysis.
type BatchResult struct {
	Assessments []RiskAssessment `json:"assessments"`
	Alerts      []AlertRecord    `json:"alerts"`
	Total       int              `json:"total"`
	Flagged     int              `json:"flagged"`
}

// AnalysisResult is returned by single-transaction analysis.
type AnalysisResult struct {
	Assessment *RiskAssessment `json:"assessment"`
	Alert      *AlertRecord    `json:"alert,omitempty"`
}

// BatchRequest is the body of POST /v1/transactions/batch.
type BatchRequest struct {
	Transactions []Transaction `json:"transactions"`
	Ingest       bool          `json:"ingest,omitempty"`
}
