package detector

import (
	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	scoreThresholdEvasion = 85
	scoreRoundDollar      = 75
	scoreHighFrequency    = 70
	scoreOffHours         = 40

	// confirmedDamping scales amount-pattern scores for amounts inside a
	// band the reviewer confirmed as legitimate for the vendor.
	confirmedDamping = 0.5
)

// Threshold flags amounts sitting just below a regulatory reporting threshold.
type Threshold struct {
	thresholds []decimal.Decimal
	buffer     decimal.Decimal
}

func NewThreshold(rules config.StructuringRules) *Threshold {
	d := &Threshold{buffer: dec(rules.Buffer)}
	for _, t := range rules.Thresholds {
		d.thresholds = append(d.thresholds, dec(t))
	}
	return d
}

func (d *Threshold) ID() string { return IDStructuring }

func (d *Threshold) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	amount := in.Txn.AbsAmount()

	// thresholds are ascending; only the lowest match is reported
	for _, th := range d.thresholds {
		if amount.GreaterThanOrEqual(th.Sub(d.buffer)) && amount.LessThan(th) {
			sev, score := domain.SeverityHigh, float64(scoreThresholdEvasion)
			if in.Profile.IsNormalized(in.Txn.Vendor(), amount) {
				sev, score = domain.SeverityLow, score*confirmedDamping
			}
			f.add(domain.AnomalyThresholdEvasion, sev, score,
				domain.ThresholdEvidence{Amount: amount, Threshold: th, Buffer: d.buffer},
				"Amount %s is within %s of the %s reporting threshold", money(amount), money(d.buffer), money(th))
			break
		}
	}
	return f
}

// RoundNumber flags exact multiples of the round unit at or above the floor.
type RoundNumber struct {
	floor decimal.Decimal
	unit  decimal.Decimal
}

func NewRoundNumber(rules config.StructuringRules) *RoundNumber {
	return &RoundNumber{floor: dec(rules.RoundFloor), unit: dec(rules.RoundUnit)}
}

func (d *RoundNumber) ID() string { return IDRoundNumber }

func (d *RoundNumber) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	amount := in.Txn.AbsAmount()
	if amount.LessThan(d.floor) || !amount.Mod(d.unit).IsZero() {
		return f
	}
	sev, score := domain.SeverityMedium, float64(scoreRoundDollar)
	if in.Profile.IsNormalized(in.Txn.Vendor(), amount) {
		sev, score = domain.SeverityLow, score*confirmedDamping
	}
	f.add(domain.AnomalyRoundDollar, sev, score,
		domain.ThresholdEvidence{Amount: amount, RoundUnit: d.unit},
		"Round amount %s", money(amount))
	return f
}

// Velocity flags many same-vendor transactions on one calendar day.
type Velocity struct {
	limit int
}

func NewVelocity(rules config.VelocityRules) *Velocity {
	return &Velocity{limit: rules.SameDayLimit}
}

func (d *Velocity) ID() string { return IDVelocity }

func (d *Velocity) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	txn := in.Txn
	if !txn.HasTimestamp() {
		f.degrade("missing timestamp")
		return f
	}
	vendor := txn.Vendor()
	if vendor == "" {
		return f
	}

	count := 1
	for _, t := range in.Window {
		if t.HasTimestamp() && t.Vendor() == vendor && sameDay(txn, t) {
			count++
		}
	}
	if count < d.limit {
		return f
	}
	day := txn.Timestamp.Format("2006-01-02")
	f.add(domain.AnomalyHighFrequency, domain.SeverityMedium, scoreHighFrequency,
		domain.FrequencyEvidence{Vendor: vendor, Day: day, Count: count, Limit: d.limit},
		"%d transactions with %s on %s", count, vendor, day)
	return f
}

// OffHours flags transactions at unusual local hours.
type OffHours struct {
	start, end int
}

func NewOffHours(rules config.OffHoursRules) *OffHours {
	return &OffHours{start: rules.StartHour, end: rules.EndHour}
}

func (d *OffHours) ID() string { return IDOffHours }

func (d *OffHours) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	if !in.Txn.HasTimestamp() {
		f.degrade("missing timestamp")
		return f
	}
	h := in.Txn.Timestamp.Hour()
	if h >= d.start && h <= d.end {
		return f
	}
	f.add(domain.AnomalyOffHours, domain.SeverityLow, scoreOffHours,
		domain.TimingEvidence{Hour: h, Weekday: in.Txn.Timestamp.Weekday().String()},
		"Transaction at %02d:%02d local time", h, in.Txn.Timestamp.Minute())
	return f
}
