package detector_test

import (
	"testing"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/detector"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

// wed is a Wednesday at noon UTC, mid-quarter for a December fiscal year.
var wed = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func rules() *config.Rules {
	return config.DefaultRules()
}

func payment(id string, at time.Time, amount float64, vendor string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		Timestamp:    at,
		Amount:       decimal.NewFromFloat(-amount),
		Currency:     "USD",
		Counterparty: vendor,
		Category:     "supplies",
		AccountID:    "acc-1",
		Direction:    domain.DirectionDebit,
	}
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func types(f detector.Finding) []domain.AnomalyType {
	out := make([]domain.AnomalyType, 0, len(f.Anomalies))
	for _, a := range f.Anomalies {
		out = append(out, a.Type)
	}
	return out
}

func only(t *testing.T, f detector.Finding, want domain.AnomalyType) domain.Anomaly {
	t.Helper()
	require.Len(t, f.Anomalies, 1, "anomalies: %v", types(f))
	require.Equal(t, want, f.Anomalies[0].Type)
	return f.Anomalies[0]
}

func find(t *testing.T, f detector.Finding, want domain.AnomalyType) domain.Anomaly {
	t.Helper()
	for _, a := range f.Anomalies {
		if a.Type == want {
			return a
		}
	}
	require.Failf(t, "anomaly not emitted", "want %s, got %v", want, types(f))
	return domain.Anomaly{}
}

func confirmedBand(vendor string, low, high int64) *domain.EntityProfile {
	p := domain.NewEntityProfile("acc-1")
	p.NormalizedBands[vendor] = []domain.AmountBand{{Low: decimal.NewFromInt(low), High: decimal.NewFromInt(high)}}
	return p
}

type panicky struct{}

func (panicky) ID() string { return "panicky" }
func (panicky) Detect(detector.Input) detector.Finding { panic("boom") }

// --- Tests ---

func TestDefault_FixedOrder(t *testing.T) {
	ids := []string{}
	for _, d := range detector.Default(rules()) {
		ids = append(ids, d.ID())
	}
	assert.Equal(t, []string{
		detector.IDStatistical, detector.IDStructuring, detector.IDRoundNumber, detector.IDVelocity,
		detector.IDOffHours, detector.IDFX, detector.IDGAAP, detector.IDGeolocation,
		detector.IDBehavioral, detector.IDNetwork,
	}, ids)
}

func TestSafe_RecoversPanic(t *testing.T) {
	f := detector.Safe(panicky{}, detector.Input{})

	assert.Equal(t, "panicky", f.DetectorID)
	assert.Empty(t, f.Anomalies)
	require.Len(t, f.Degraded, 1)
	assert.Contains(t, f.Degraded[0], "boom")
}

func TestDetectors_MissingOptionalFieldsDoNotPanic(t *testing.T) {
	in := detector.Input{Txn: domain.Transaction{ID: "bare", Amount: decimal.NewFromInt(-12)}}
	for _, d := range detector.Default(rules()) {
		f := d.Detect(in)
		assert.Equal(t, d.ID(), f.DetectorID)
	}
}

func TestStatistical(t *testing.T) {
	window := domain.HistoricalWindow{
		payment("h1", wed.Add(-96*time.Hour), 8000, "Acme"),
		payment("h2", wed.Add(-72*time.Hour), 12000, "Acme"),
		payment("h3", wed.Add(-48*time.Hour), 8000, "Acme"),
		payment("h4", wed.Add(-24*time.Hour), 12000, "Acme"),
	}
	d := detector.NewStatistical(rules().Statistical)

	tests := []struct {
		name    string
		amount  float64
		profile *domain.EntityProfile
		want    domain.Severity
		score   float64
	}{
		{name: "extreme outlier", amount: 95500, want: domain.SeverityCritical, score: 100},
		{name: "above three sigma", amount: 17000, want: domain.SeverityHigh, score: 75},
		{name: "exactly three sigma", amount: 16000},
		{name: "confirmed band", amount: 95500, profile: confirmedBand("acme", 90000, 100000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := d.Detect(detector.Input{Txn: payment("t", wed, tt.amount, "Acme"), Window: window, Profile: tt.profile})
			if tt.want == "" {
				assert.Empty(t, f.Anomalies)
				return
			}
			a := only(t, f, domain.AnomalyStatisticalOutlier)
			assert.Equal(t, tt.want, a.Severity)
			assert.InDelta(t, tt.score, a.Score, 1e-9)
			ev := a.Evidence.(domain.StatisticalEvidence)
			assert.InDelta(t, 10000, ev.Mean, 1e-9)
			assert.InDelta(t, 2000, ev.StdDev, 1e-9)
		})
	}
}

func TestStatistical_SuspiciousVendorLowersLimit(t *testing.T) {
	window := domain.HistoricalWindow{
		payment("h1", wed.Add(-48*time.Hour), 8000, "Acme"),
		payment("h2", wed.Add(-24*time.Hour), 12000, "Acme"),
		payment("h3", wed.Add(-12*time.Hour), 10000, "Acme"),
	}
	in := detector.Input{Txn: payment("t", wed, 14500, "Acme"), Window: window}
	d := detector.NewStatistical(rules().Statistical)

	assert.Empty(t, d.Detect(in).Anomalies)

	in.Profile = domain.NewEntityProfile("acc-1")
	in.Profile.SuspiciousVendors["acme"] = wed
	a := only(t, d.Detect(in), domain.AnomalyStatisticalOutlier)
	assert.Equal(t, 2.0, a.Evidence.(domain.StatisticalEvidence).SigmaLimit)
}

func TestStatistical_DegradesWithoutCohort(t *testing.T) {
	f := detector.NewStatistical(rules().Statistical).Detect(detector.Input{Txn: payment("t", wed, 500, "Acme")})

	assert.Empty(t, f.Anomalies)
	require.Len(t, f.Degraded, 1)
	assert.Contains(t, f.Degraded[0], "insufficient cohort")
}

func TestThreshold(t *testing.T) {
	d := detector.NewThreshold(rules().Structuring)

	tests := []struct {
		name      string
		amount    float64
		threshold int64
	}{
		{name: "just below 10k", amount: 9950, threshold: 10000},
		{name: "just below 5k", amount: 4900, threshold: 5000},
		{name: "just below 50k", amount: 49999.99, threshold: 50000},
		{name: "outside buffer", amount: 9899.99},
		{name: "at threshold", amount: 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := d.Detect(detector.Input{Txn: payment("t", wed, tt.amount, "Acme")})
			if tt.threshold == 0 {
				assert.Empty(t, f.Anomalies)
				return
			}
			a := only(t, f, domain.AnomalyThresholdEvasion)
			assert.Equal(t, domain.SeverityHigh, a.Severity)
			assert.Equal(t, 85.0, a.Score)
			assert.True(t, a.Evidence.(domain.ThresholdEvidence).Threshold.Equal(decimal.NewFromInt(tt.threshold)))
		})
	}
}

func TestThreshold_ConfirmedBandDampens(t *testing.T) {
	in := detector.Input{Txn: payment("t", wed, 9950, "Acme"), Profile: confirmedBand("acme", 9000, 11000)}

	a := only(t, detector.NewThreshold(rules().Structuring).Detect(in), domain.AnomalyThresholdEvasion)
	assert.Equal(t, domain.SeverityLow, a.Severity)
	assert.Equal(t, 42.5, a.Score)
}

func TestRoundNumber(t *testing.T) {
	d := detector.NewRoundNumber(rules().Structuring)

	a := only(t, d.Detect(detector.Input{Txn: payment("t", wed, 5000, "Acme")}), domain.AnomalyRoundDollar)
	assert.Equal(t, domain.SeverityMedium, a.Severity)
	assert.Equal(t, 75.0, a.Score)

	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed, 999, "Acme")}).Anomalies)
	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed, 5000.5, "Acme")}).Anomalies)
}

func TestVelocity_CountsCurrentTransaction(t *testing.T) {
	var window domain.HistoricalWindow
	for i := 0; i < 4; i++ {
		window = append(window, payment("h", wed.Add(-time.Duration(i+1)*time.Hour), 10, "Acme"))
	}
	window = append(window, payment("other-day", wed.Add(-30*time.Hour), 10, "Acme"))
	d := detector.NewVelocity(rules().Velocity)

	a := only(t, d.Detect(detector.Input{Txn: payment("t", wed, 10, "acme"), Window: window}), domain.AnomalyHighFrequency)
	assert.Equal(t, 5, a.Evidence.(domain.FrequencyEvidence).Count)

	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed, 10, "Acme"), Window: window[1:]}).Anomalies)
}

func TestOffHours(t *testing.T) {
	d := detector.NewOffHours(rules().OffHours)

	a := only(t, d.Detect(detector.Input{Txn: payment("t", wed.Add(-9*time.Hour), 10, "Acme")}), domain.AnomalyOffHours)
	assert.Equal(t, domain.SeverityLow, a.Severity)
	assert.Equal(t, 3, a.Evidence.(domain.TimingEvidence).Hour)

	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed, 10, "Acme")}).Anomalies)
	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed.Add(10*time.Hour), 10, "Acme")}).Anomalies, "22:00 is inside the window")

	f := d.Detect(detector.Input{Txn: payment("t", time.Time{}, 10, "Acme")})
	assert.Empty(t, f.Anomalies)
	assert.NotEmpty(t, f.Degraded)
}
