package detector_test

import (
	"testing"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/detector"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transfer(id string, at time.Time, amount float64, from, to string) domain.Transaction {
	t := payment(id, at, amount, "Transfer")
	t.AccountID = from
	t.CounterpartyAccountID = to
	return t
}

func TestBehavioral_SuspiciousVendor(t *testing.T) {
	p := domain.NewEntityProfile("acc-1")
	p.SuspiciousVendors["globex"] = wed

	f := detector.NewBehavioral(rules().Behavioral).Detect(detector.Input{Txn: payment("t", wed, 10, "Globex"), Profile: p})

	a := find(t, f, domain.AnomalySuspiciousVendor)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
}

func TestBehavioral_NewVendorLargePayment(t *testing.T) {
	var window domain.HistoricalWindow
	for i := 0; i < 30; i++ {
		v := []string{"a", "b", "c", "d", "e"}[i%5]
		window = append(window, payment("h", wed.Add(-time.Duration(i+1)*time.Hour), 100, v))
	}
	p := profile.NewBuilder(50).Build("acc-1", window, nil)

	f := detector.NewBehavioral(rules().Behavioral).Detect(detector.Input{Txn: payment("t", wed, 1000, "Newco"), Window: window, Profile: p})

	a := only(t, f, domain.AnomalyNewVendorLargePayment)
	assert.InDelta(t, 10, a.Evidence.(domain.BehavioralEvidence).Multiple, 1e-9)
}

func TestBehavioral_VendorConcentrationByVolume(t *testing.T) {
	var window domain.HistoricalWindow
	for i, v := range []string{"b", "c", "d", "e", "f", "b", "c", "d", "e", "f"} {
		window = append(window, payment("h", wed.Add(-time.Duration(i+1)*time.Hour), 100, v))
	}
	window = append(domain.HistoricalWindow{payment("h", wed.Add(-20*time.Hour), 100, "acme")}, window...)
	p := profile.NewBuilder(50).Build("acc-1", window, nil)
	d := detector.NewBehavioral(rules().Behavioral)

	f := d.Detect(detector.Input{Txn: payment("t", wed, 9000, "Acme"), Window: window, Profile: p})
	a := find(t, f, domain.AnomalyVendorConcentration)
	ev := a.Evidence.(domain.BehavioralEvidence)
	assert.InDelta(t, 9100.0/10100.0, ev.Share, 1e-9)
	assert.Equal(t, 2, ev.Count)
	assert.Equal(t, 95.0, a.Score)
	assert.Equal(t, domain.SeverityHigh, a.Severity)

	p.NormalizedBands["acme"] = []domain.AmountBand{{Low: dec(8000), High: dec(10000)}}
	f = d.Detect(detector.Input{Txn: payment("t", wed, 9000, "Acme"), Window: window, Profile: p})
	assert.NotContains(t, types(f), domain.AnomalyVendorConcentration)
}

func TestBehavioral_ManySmallPaymentsAreNotConcentration(t *testing.T) {
	var window domain.HistoricalWindow
	for i := 0; i < 8; i++ {
		window = append(window, payment("h", wed.Add(-time.Duration(i+1)*time.Hour), 5, "acme"))
	}
	for i, v := range []string{"b", "c", "d", "e"} {
		window = append(window, payment("h", wed.Add(-time.Duration(i+20)*time.Hour), 500, v))
	}
	p := profile.NewBuilder(50).Build("acc-1", window, nil)

	f := detector.NewBehavioral(rules().Behavioral).Detect(detector.Input{Txn: payment("t", wed, 5, "Acme"), Window: window, Profile: p})

	assert.NotContains(t, types(f), domain.AnomalyVendorConcentration, "9 of 13 payments but under 3% of volume")
}

// monthly history of 1, 2 and 3 payments, then a busy current month
func spikeWindow(vendor string) domain.HistoricalWindow {
	var window domain.HistoricalWindow
	for n, m := range []time.Month{time.December, time.January, time.February} {
		year := 2026
		if m == time.December {
			year = 2025
		}
		for i := 0; i <= n; i++ {
			window = append(window, payment("h", time.Date(year, m, 10+i, 12, 0, 0, 0, time.UTC), 10, vendor))
		}
	}
	for i := 0; i < 9; i++ {
		window = append(window, payment("h", time.Date(2026, 3, 1, 8+i, 0, 0, 0, time.UTC), 10, vendor))
	}
	return window
}

func TestBehavioral_FrequencySpike(t *testing.T) {
	f := detector.NewBehavioral(rules().Behavioral).Detect(detector.Input{Txn: payment("t", wed, 10, "X"), Window: spikeWindow("x")})

	a := find(t, f, domain.AnomalyFrequencySpike)
	ev := a.Evidence.(domain.BehavioralEvidence)
	assert.Equal(t, 10, ev.Count)
	assert.Equal(t, "x", ev.Vendor)
	assert.InDelta(t, 2.0, ev.Mean, 1e-9)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
	assert.Equal(t, 90.0, a.Score)
}

func TestBehavioral_FrequencySpikeIgnoresOtherVendors(t *testing.T) {
	f := detector.NewBehavioral(rules().Behavioral).Detect(detector.Input{Txn: payment("t", wed, 10, "y"), Window: spikeWindow("x")})

	assert.NotContains(t, types(f), domain.AnomalyFrequencySpike)
}

func TestBehavioral_FrequencySpikeNeedsMonthlyVariance(t *testing.T) {
	var window domain.HistoricalWindow
	for _, m := range []time.Month{time.December, time.January, time.February} {
		year := 2026
		if m == time.December {
			year = 2025
		}
		for i := 0; i < 2; i++ {
			window = append(window, payment("h", time.Date(year, m, 10+i, 12, 0, 0, 0, time.UTC), 10, "x"))
		}
	}
	for i := 0; i < 9; i++ {
		window = append(window, payment("h", time.Date(2026, 3, 1, 8+i, 0, 0, 0, time.UTC), 10, "x"))
	}

	f := detector.NewBehavioral(rules().Behavioral).Detect(detector.Input{Txn: payment("t", wed, 10, "x"), Window: window})

	assert.NotContains(t, types(f), domain.AnomalyFrequencySpike)
}

func TestNetwork_CrossEntityStructuring(t *testing.T) {
	d := detector.NewNetwork(rules().Network, rules().Structuring)
	txn := payment("t", wed, 4000, "Shell Co")
	others := []domain.Transaction{
		payment("o1", wed.Add(-2*time.Hour), 4500, "Shell Co"),
		payment("o2", wed.Add(-5*time.Hour), 4200, "Shell Co"),
	}
	others[0].AccountID = "acc-2"
	others[1].AccountID = "acc-3"

	a := only(t, d.Detect(detector.Input{Txn: txn, Network: detector.NetworkContext{Counterparty: others}}), domain.AnomalyCrossEntityStructuring)
	assert.Equal(t, domain.SeverityCritical, a.Severity)
	ev := a.Evidence.(domain.NetworkEvidence)
	assert.Equal(t, []string{"acc-1", "acc-2", "acc-3"}, ev.Accounts)
	assert.True(t, ev.Total.Equal(dec(12700)))

	assert.Empty(t, d.Detect(detector.Input{Txn: txn, Network: detector.NetworkContext{Counterparty: others[:1]}}).Anomalies)
}

func TestNetwork_CircularPayment(t *testing.T) {
	d := detector.NewNetwork(rules().Network, rules().Structuring)
	txn := transfer("t", wed, 10000, "A", "B")
	edges := []domain.Transaction{
		transfer("e1", wed.Add(-48*time.Hour), 9000, "B", "C"),
		transfer("e2", wed.Add(-24*time.Hour), 8000, "C", "A"),
	}

	a := only(t, d.Detect(detector.Input{Txn: txn, Network: detector.NetworkContext{Edges: edges}}), domain.AnomalyCircularPayment)
	ev := a.Evidence.(domain.NetworkEvidence)
	assert.Equal(t, []string{"A", "B", "C", "A"}, ev.Cycle)
	assert.Equal(t, []string{"e1", "e2"}, ev.RelatedTxnIDs)

	edges[1].Amount = dec(-1000)
	assert.Empty(t, d.Detect(detector.Input{Txn: txn, Network: detector.NetworkContext{Edges: edges}}).Anomalies, "small legs are ignored")
}

func TestNetwork_CycleLengthIsBounded(t *testing.T) {
	d := detector.NewNetwork(rules().Network, rules().Structuring)
	txn := transfer("t", wed, 10000, "A", "B")
	edges := []domain.Transaction{
		transfer("e1", wed.Add(-4*time.Hour), 9000, "B", "C"),
		transfer("e2", wed.Add(-3*time.Hour), 9000, "C", "D"),
		transfer("e3", wed.Add(-2*time.Hour), 9000, "D", "E"),
		transfer("e4", wed.Add(-1*time.Hour), 9000, "E", "A"),
	}

	assert.Empty(t, d.Detect(detector.Input{Txn: txn, Network: detector.NetworkContext{Edges: edges}}).Anomalies)
}

func TestNetwork_VendorNameSimilarity(t *testing.T) {
	p := domain.NewEntityProfile("acc-1")
	p.VendorFrequency["amazon web services"] = 5
	p.VendorFrequency["amazon"] = 1
	d := detector.NewNetwork(rules().Network, rules().Structuring)

	a := only(t, d.Detect(detector.Input{Txn: payment("t", wed, 10, "Amazon Web Servces"), Profile: p}), domain.AnomalyVendorNameSimilarity)
	ev := a.Evidence.(domain.NetworkEvidence)
	assert.Equal(t, "amazon web services", ev.SimilarTo)
	assert.InDelta(t, 1-1.0/19.0, ev.Similarity, 1e-9)

	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed, 10, "Amazon Web Services"), Profile: p}).Anomalies, "known vendor")
	assert.Empty(t, d.Detect(detector.Input{Txn: payment("t", wed, 10, "Globex"), Profile: p}).Anomalies)
}

func TestSimilarity(t *testing.T) {
	require.InDelta(t, 1-3.0/7.0, detector.Similarity("kitten", "sitting"), 1e-9)
	assert.Equal(t, 1.0, detector.Similarity("", ""))
	assert.Equal(t, 1.0, detector.Similarity("acme", "acme"))
}
