// Package detector implements the independent signal detectors. Every detector
// is a pure function of its Input: no I/O, no shared mutable state, and no
// panics escaping Safe. Detectors that lack data record a degraded note
// instead of failing.
package detector

import (
	"fmt"
	"math"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Detector IDs in invocation order.
const (
	IDStatistical = "statistical"
	IDStructuring = "structuring"
	IDRoundNumber = "round_number"
	IDVelocity    = "velocity"
	IDOffHours    = "off_hours"
	IDFX          = "fx"
	IDGAAP        = "gaap"
	IDGeolocation = "geolocation"
	IDBehavioral  = "behavioral"
	IDNetwork     = "network"
)

// NetworkContext is cross-entity history resolved by the caller before detection.
type NetworkContext struct {
	// Counterparty holds transactions of any account paid to the same counterparty.
	Counterparty []domain.Transaction
	// Edges holds payments reachable from the destination account, for cycle search.
	Edges []domain.Transaction
}

// Input is everything a detector may look at.
type Input struct {
	Txn     domain.Transaction
	Window  domain.HistoricalWindow
	Profile *domain.EntityProfile
	Rates   *domain.RateTable // nil when market data could not be resolved
	Network NetworkContext
}

// Finding is the complete output of one detector for one transaction.
type Finding struct {
	DetectorID string
	Anomalies  []domain.Anomaly
	Degraded   []string
}

func (f *Finding) add(t domain.AnomalyType, sev domain.Severity, score float64, ev domain.Evidence, format string, args ...any) {
	f.Anomalies = append(f.Anomalies, domain.Anomaly{
		Type:       t,
		Severity:   sev,
		Score:      clamp(score, 0, 100),
		Detail:     fmt.Sprintf(format, args...),
		DetectorID: f.DetectorID,
		Evidence:   ev,
	})
}

func (f *Finding) degrade(format string, args ...any) {
	f.Degraded = append(f.Degraded, fmt.Sprintf(format, args...))
}

// Detector inspects one transaction.
type Detector interface {
	ID() string
	Detect(in Input) Finding
}

// Default returns the full detector set in its fixed invocation order.
func Default(rules *config.Rules) []Detector {
	return []Detector{
		NewStatistical(rules.Statistical),
		NewThreshold(rules.Structuring),
		NewRoundNumber(rules.Structuring),
		NewVelocity(rules.Velocity),
		NewOffHours(rules.OffHours),
		NewFX(rules.FX, rules.Structuring),
		NewGAAP(rules.GAAP),
		NewGeolocation(rules.Geo),
		NewBehavioral(rules.Behavioral),
		NewNetwork(rules.Network, rules.Structuring),
	}
}

// Safe runs d and converts a panic into a degraded finding, so the
// aggregator always receives one (possibly empty) finding per detector.
func Safe(d Detector, in Input) (f Finding) {
	defer func() {
		if r := recover(); r != nil {
			f = Finding{
				DetectorID: d.ID(),
				Degraded:   []string{fmt.Sprintf("detector panicked: %v", r)},
			}
		}
	}()
	f = d.Detect(in)
	f.DetectorID = d.ID()
	return f
}

// ============================================================
// helpers
// ============================================================

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// severityFor maps a score to a severity for checks whose severity follows their score.
func severityFor(score float64) domain.Severity {
	switch {
	case score >= 90:
		return domain.SeverityCritical
	case score >= 80:
		return domain.SeverityHigh
	case score >= 60:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// matchKeyword returns the first keyword found in text. Single-word keywords
// must match a whole word; phrases match as substrings.
func matchKeyword(text string, keywords []string) string {
	text = strings.ToLower(text)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '&')
	}) {
		words[w] = struct{}{}
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.ContainsAny(kw, " /-") {
			if strings.Contains(text, kw) {
				return kw
			}
			continue
		}
		if _, ok := words[kw]; ok {
			return kw
		}
	}
	return ""
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func sameDay(a, b domain.Transaction) bool {
	bt := b.Timestamp.In(a.Timestamp.Location())
	y1, m1, d1 := a.Timestamp.Date()
	y2, m2, d2 := bt.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
