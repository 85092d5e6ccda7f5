// Package alert turns assessments into notification payloads.
package alert

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/microcosm-cc/bluemonday"
)

// Formatter builds AlertRecords. Free text coming from transactions is
// stripped of markup before it reaches a title or body.
type Formatter struct {
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

func NewFormatter(now func() time.Time) *Formatter {
	if now == nil {
		now = time.Now
	}
	return &Formatter{sanitizer: bluemonday.StrictPolicy(), now: now}
}

// ShouldAlert reports whether ra crosses any notification threshold.
func ShouldAlert(ra *domain.RiskAssessment) bool {
	return ra.RequiresReview || ra.RequiresEscalation || ra.RequiresCriticalEscalation
}

// PriorityFor maps the escalation flags to a notification priority.
func PriorityFor(ra *domain.RiskAssessment) domain.Priority {
	switch {
	case ra.RequiresCriticalEscalation:
		return domain.PriorityP1
	case ra.RequiresEscalation:
		return domain.PriorityP2
	default:
		return domain.PriorityP3
	}
}

// FromAssessment builds the PENDING alert for ra. It returns nil when ra does
// not require notification.
func (f *Formatter) FromAssessment(txn domain.Transaction, ra *domain.RiskAssessment) *domain.AlertRecord {
	if !ShouldAlert(ra) {
		return nil
	}
	counterparty := f.clean(ra.Counterparty)
	if counterparty == "" {
		counterparty = "unknown counterparty"
	}

	title := fmt.Sprintf("%s risk", ra.Level)
	reason := "multiple weak signals"
	if ra.Primary != nil {
		title += ": " + string(ra.Primary.Type)
		reason = f.clean(ra.Primary.Detail)
	}

	verb, prep := "Paid", "to"
	if txn.IsCredit() {
		verb, prep = "Received", "from"
	}
	var body strings.Builder
	fmt.Fprintf(&body, "%s %s %s %s %s. ", verb, ra.Amount.Abs().StringFixed(2), ra.Currency, prep, counterparty)
	fmt.Fprintf(&body, "Top reason: %s. ", reason)
	fmt.Fprintf(&body, "Score %d with %d signal(s); action %s.", ra.Score, len(ra.Anomalies), ra.Action)

	return &domain.AlertRecord{
		ID:            domain.AlertID(ra.ID),
		AssessmentID:  ra.ID,
		TransactionID: ra.TransactionID,
		EntityID:      ra.EntityID,
		Vendor:        txn.Vendor(),
		Amount:        ra.Amount,
		Currency:      ra.Currency,
		Priority:      PriorityFor(ra),
		Title:         title,
		Body:          strings.TrimSpace(body.String()),
		Level:         ra.Level,
		Score:         ra.Score,
		Anomalies:     ra.Anomalies,
		Status:        domain.AlertPending,
		CreatedAt:     f.now().UTC(),
	}
}

// FollowUp builds the higher-priority notification emitted when the owner
// reports parent as fraud.
func (f *Formatter) FollowUp(parent *domain.AlertRecord, note string) *domain.AlertRecord {
	a := *parent
	a.ID = domain.FollowUpAlertID(parent.ID)
	a.ParentAlertID = parent.ID
	a.Priority = parent.Priority.Raise()
	a.Title = "Reported fraud: " + parent.Title
	a.Body = parent.Body
	if note = f.clean(note); note != "" {
		a.Body += " Reviewer note: " + note
	}
	a.Status = domain.AlertPending
	a.CreatedAt = f.now().UTC()
	a.ResolvedAt = nil
	a.ResolvedBy = ""
	return &a
}

// clean strips markup and decodes the entities the sanitizer emits, since
// titles and bodies are plain text.
func (f *Formatter) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(f.sanitizer.Sanitize(s)))
}
