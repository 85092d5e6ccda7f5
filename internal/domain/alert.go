package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Alerts & feedback
// ============================================================

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "PENDING"
	AlertConfirmed AlertStatus = "CONFIRMED"
	AlertFlagged   AlertStatus = "FLAGGED"
)

// Priority of a notification; P1 is the most urgent.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Raise returns the next more urgent priority. P1 stays P1.
func (p Priority) Raise() Priority {
	switch p {
	case PriorityP3:
		return PriorityP2
	default:
		return PriorityP1
	}
}

// AlertRecord is the notification payload handed to the notification subsystem.
type AlertRecord struct {
	ID            string          `json:"id"`
	AssessmentID  string          `json:"assessment_id"`
	TransactionID string          `json:"transaction_id"`
	EntityID      string          `json:"entity_id"`
	Vendor        string          `json:"vendor"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Priority      Priority        `json:"priority"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	Level         RiskLevel       `json:"level"`
	Score         int             `json:"score"`
	Anomalies     []Anomaly       `json:"anomalies"`
	Status        AlertStatus     `json:"status"`
	ParentAlertID string          `json:"parent_alert_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
}

// Disposition is the human verdict on an alert.
type Disposition string

const (
	// DispositionConfirmed means "confirmed mine": the activity is legitimate.
	DispositionConfirmed Disposition = "CONFIRMED"
	// DispositionFlagged means "not mine": the activity is reported as fraud.
	DispositionFlagged Disposition = "FLAGGED"
)

// FeedbackEvent is produced by the review UI for a prior alert.
type FeedbackEvent struct {
	AlertID     string      `json:"alert_id" validate:"required"`
	Disposition Disposition `json:"disposition" validate:"required,oneof=CONFIRMED FLAGGED"`
	EntityID    string      `json:"entity_id" validate:"required"`
	ReviewerID  string      `json:"reviewer_id,omitempty"`
	Note        string      `json:"note,omitempty" validate:"max=2000"`
}

// FeedbackResult reports what the feedback loop changed.
type FeedbackResult struct {
	Alert          *AlertRecord `json:"alert"`
	ReEmitted      *AlertRecord `json:"re_emitted,omitempty"`
	ProfileVersion int64        `json:"profile_version"`
}
