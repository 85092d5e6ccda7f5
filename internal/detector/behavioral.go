package detector

import (
	"math"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
)

const (
	scoreSuspiciousVendor = 80
	scoreNewVendorLarge   = 65
	scoreUnusualTime      = 45
)

// Behavioral compares the transaction with the entity's habits: vendor mix,
// monthly volume and time of day.
type Behavioral struct {
	rules config.BehavioralRules
}

func NewBehavioral(rules config.BehavioralRules) *Behavioral {
	return &Behavioral{rules: rules}
}

func (d *Behavioral) ID() string { return IDBehavioral }

func (d *Behavioral) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	txn := in.Txn
	p := in.Profile
	vendor := txn.Vendor()

	if p.IsSuspicious(vendor) {
		f.add(domain.AnomalySuspiciousVendor, domain.SeverityHigh, scoreSuspiciousVendor,
			domain.BehavioralEvidence{Vendor: vendor},
			"Vendor %q was previously reported as fraudulent", vendor)
	}
	if txn.HasTimestamp() {
		d.frequencySpike(&f, txn, in.Window)
	}
	if !p.HasBaseline() {
		f.degrade("no behavioral baseline")
		return f
	}
	normalized := p.IsNormalized(vendor, txn.AbsAmount())

	if vendor != "" && !normalized && p.TransactionCount >= d.rules.ConcentrationMinTxns {
		d.concentration(&f, txn, in.Window)
	}

	if vendor != "" && !normalized && p.TransactionCount >= d.rules.NewVendorMinHistory &&
		p.VendorFrequency[vendor] == 0 && p.MeanAmount > 0 {
		if multiple := txn.AbsFloat() / p.MeanAmount; multiple >= d.rules.NewVendorMultiple {
			f.add(domain.AnomalyNewVendorLargePayment, domain.SeverityMedium, scoreNewVendorLarge,
				domain.BehavioralEvidence{Vendor: vendor, Mean: p.MeanAmount, Multiple: multiple},
				"First payment to %q is %.1fx the average transaction", vendor, multiple)
		}
	}

	if txn.HasTimestamp() && p.TransactionCount >= d.rules.TimePatternMinHistory {
		total := 0
		for _, n := range p.HourHistogram {
			total += n
		}
		h := txn.Timestamp.Hour()
		if total > 0 {
			if share := float64(p.HourHistogram[h]) / float64(total); share < d.rules.TimePatternShare {
				f.add(domain.AnomalyUnusualTimePattern, domain.SeverityLow, scoreUnusualTime,
					domain.BehavioralEvidence{Hour: h, Share: share, Count: p.HourHistogram[h]},
					"Only %.1f%% of past activity happened at %02d:00", share*100, h)
			}
		}
	}
	return f
}

// concentration flags a vendor taking too large a share of the absolute
// volume of the window plus the current transaction.
func (d *Behavioral) concentration(f *Finding, txn domain.Transaction, window domain.HistoricalWindow) {
	vendor := txn.Vendor()
	total, toVendor := txn.AbsFloat(), txn.AbsFloat()
	count := 1
	for _, t := range window {
		amt := t.AbsFloat()
		total += amt
		if t.Vendor() == vendor {
			toVendor += amt
			count++
		}
	}
	if total <= 0 {
		return
	}
	share := toVendor / total
	if share <= d.rules.ConcentrationShare {
		return
	}
	score := math.Min(95, 60+share*100)
	sev := domain.SeverityMedium
	if score >= 80 {
		sev = domain.SeverityHigh
	}
	f.add(domain.AnomalyVendorConcentration, sev, score,
		domain.BehavioralEvidence{Vendor: vendor, Count: count, Share: share},
		"%.0f%% of payment volume goes to %q", share*100, vendor)
}

// frequencySpike compares the vendor's count this month with its prior months.
func (d *Behavioral) frequencySpike(f *Finding, txn domain.Transaction, window domain.HistoricalWindow) {
	vendor := txn.Vendor()
	if vendor == "" {
		return
	}
	current := monthKey(txn)
	months := map[int]int{}
	count := 1
	for _, t := range window {
		if !t.HasTimestamp() || t.Vendor() != vendor {
			continue
		}
		if k := monthKey(t); k == current {
			count++
		} else if k < current {
			months[k]++
		}
	}
	if len(months) < d.rules.SpikeMinMonths || count < d.rules.SpikeMinCount {
		return
	}
	counts := make([]float64, 0, len(months))
	for _, n := range months {
		counts = append(counts, float64(n))
	}
	mean, std := profile.MeanStdDev(counts)
	if std == 0 || float64(count) <= mean+d.rules.SpikeSigma*std {
		return
	}
	score := math.Min(90, 50+(float64(count)-mean)*5)
	sev := domain.SeverityMedium
	if score >= 80 {
		sev = domain.SeverityHigh
	}
	f.add(domain.AnomalyFrequencySpike, sev, score,
		domain.BehavioralEvidence{Vendor: vendor, Count: count, Mean: mean, StdDev: std},
		"%d payments to %q this month against a monthly average of %.1f", count, vendor, mean)
}

func monthKey(t domain.Transaction) int {
	return t.Timestamp.Year()*12 + int(t.Timestamp.Month()) - 1
}
