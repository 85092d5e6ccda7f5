package detector

import (
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
)

// Statistical flags amounts far above the vendor (or category) cohort baseline.
type Statistical struct {
	rules config.StatisticalRules
}

func NewStatistical(rules config.StatisticalRules) *Statistical {
	return &Statistical{rules: rules}
}

func (d *Statistical) ID() string { return IDStatistical }

func (d *Statistical) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	txn := in.Txn
	vendor := txn.Vendor()

	cohort, label := d.cohort(in.Window, txn)
	if len(cohort) < d.rules.MinCohort {
		f.degrade("insufficient cohort history: %d of %d points", len(cohort), d.rules.MinCohort)
		return f
	}
	mean, std := profile.MeanStdDev(cohort)
	if std == 0 {
		f.degrade("zero variance cohort %s", label)
		return f
	}
	if in.Profile.IsNormalized(vendor, txn.AbsAmount()) {
		return f
	}

	limit := d.rules.SigmaLimit
	if in.Profile.IsSuspicious(vendor) {
		limit = d.rules.SuspiciousSigma
	}

	distance := (txn.AbsFloat() - mean) / std
	if distance <= limit {
		return f
	}

	sev := domain.SeverityHigh
	if distance > d.rules.CriticalSigma {
		sev = domain.SeverityCritical
	}
	score := clamp(70+(distance-3)*10, 70, 100)
	f.add(domain.AnomalyStatisticalOutlier, sev, score,
		domain.StatisticalEvidence{
			Cohort:        label,
			CohortSize:    len(cohort),
			Mean:          mean,
			StdDev:        std,
			SigmaDistance: distance,
			SigmaLimit:    limit,
		},
		"Amount %s is %.1fσ above the %s mean of %.2f", money(txn.AbsAmount()), distance, label, mean)
	return f
}

// cohort prefers same-vendor history and falls back to same-category history.
func (d *Statistical) cohort(window domain.HistoricalWindow, txn domain.Transaction) ([]float64, string) {
	var byVendor, byCategory []float64
	vendor := txn.Vendor()
	for _, t := range window {
		if vendor != "" && t.Vendor() == vendor {
			byVendor = append(byVendor, t.AbsFloat())
		}
		if txn.Category != "" && strings.EqualFold(t.Category, txn.Category) {
			byCategory = append(byCategory, t.AbsFloat())
		}
	}
	if len(byVendor) >= d.rules.MinCohort || txn.Category == "" {
		return byVendor, "vendor:" + vendor
	}
	return byCategory, "category:" + txn.Category
}
