package detector

import (
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/profile"
)

// Accounting-standard references attached to GAAP violations.
const (
	StandardRevenue          = "ASC 606"
	StandardVariableConsider = "ASC 606-10-32"
	StandardExpenseMatching  = "ASC 720"
	StandardCapitalization   = "ASC 730 / ASC 350-40"
	StandardRelatedParty     = "ASC 850"
	StandardArmsLength       = "ASC 850-10-50"
	StandardSubsequentEvents = "ASC 855"
	StandardLongLivedAssets  = "ASC 360"
)

const (
	scorePrematureRevenue   = 85
	scoreChannelStuffing    = 80
	scoreExpenseTiming      = 70
	scoreCapitalization     = 75
	scoreRelatedParty       = 85
	scoreNonArmsLength      = 80
	scorePeriodEndClustered = 75
	scoreSignificantAsset   = 70
)

// GAAP flags transactions that suggest accounting-standard violations.
type GAAP struct {
	rules config.GAAPRules
}

func NewGAAP(rules config.GAAPRules) *GAAP {
	return &GAAP{rules: rules}
}

func (d *GAAP) ID() string { return IDGAAP }

type gaapCtx struct {
	amount      float64
	vendor      string
	materiality domain.MaterialityLevel
	revRatio    float64
	incRatio    float64
	periodEnd   time.Time
	nearEnd     bool
	daysToEnd   int
}

func (d *GAAP) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	txn := in.Txn
	c := gaapCtx{amount: txn.AbsFloat(), vendor: txn.Vendor()}
	c.materiality, c.revRatio, c.incRatio = d.Materiality(c.amount, in.Profile)

	if txn.HasTimestamp() {
		c.periodEnd = PeriodEnd(txn.Timestamp, d.rules.FiscalYearEndMonth)
		remaining := c.periodEnd.Sub(txn.Timestamp)
		c.daysToEnd = int(remaining.Hours() / 24)
		c.nearEnd = remaining <= time.Duration(d.rules.PeriodEndDays)*24*time.Hour
	} else {
		f.degrade("missing timestamp; period-end checks skipped")
	}

	large := c.amount >= d.rules.LargeAmount
	credit := txn.IsCredit()
	text := txn.Description + " " + txn.Counterparty + " " + txn.Category

	if credit && large && c.nearEnd {
		d.emit(&f, c, domain.AnomalyGAAPPrematureRevenue, scorePrematureRevenue, StandardRevenue, domain.GAAPEvidence{},
			"Large credit %d day(s) before the reporting period end", c.daysToEnd)
	}
	if credit && large {
		if avg, n := d.trailingLargeCredits(in.Window); n >= 2 && c.amount > d.rules.ChannelStuffingMultiple*avg {
			d.emit(&f, c, domain.AnomalyGAAPChannelStuffing, scoreChannelStuffing, StandardVariableConsider,
				domain.GAAPEvidence{Baseline: avg, Count: n},
				"Credit is %.1fx the trailing average of %d large credits", c.amount/avg, n)
		}
	}
	if !credit && large && c.nearEnd && !d.hasVendorDebits(in.Window, c.vendor) {
		d.emit(&f, c, domain.AnomalyGAAPExpenseTiming, scoreExpenseTiming, StandardExpenseMatching, domain.GAAPEvidence{},
			"Large debit to new payee %q near period end", txn.Counterparty)
	}
	if !credit && c.amount > d.rules.CapitalizationAmount {
		if kw := matchKeyword(text, d.rules.CapitalizationKeywords); kw != "" {
			d.emit(&f, c, domain.AnomalyGAAPImproperCapitalization, scoreCapitalization, StandardCapitalization,
				domain.GAAPEvidence{Keyword: kw},
				"R&D/software spend of %.2f may be improperly capitalized", c.amount)
		}
	}
	if c.amount > d.rules.RelatedPartyAmount {
		kw := matchKeyword(text, d.rules.RelatedPartyKeywords)
		if kw == "" && in.Profile.IsRelatedParty(txn.Counterparty) {
			kw = "declared related party"
		}
		if kw != "" {
			d.emit(&f, c, domain.AnomalyGAAPRelatedParty, scoreRelatedParty, StandardRelatedParty,
				domain.GAAPEvidence{Keyword: kw},
				"Possible undisclosed related-party transaction (%s)", kw)
		}
	}
	if avg, n := d.counterpartyAverage(in.Window, c.vendor); n >= d.rules.NonArmsLengthMinHistory && avg > 0 &&
		c.amount > d.rules.NonArmsLengthMultiple*avg && !in.Profile.IsNormalized(c.vendor, txn.AbsAmount()) {
		d.emit(&f, c, domain.AnomalyGAAPNonArmsLength, scoreNonArmsLength, StandardArmsLength,
			domain.GAAPEvidence{Baseline: avg, Count: n},
			"Amount is %.1fx the historical average with this counterparty", c.amount/avg)
	}
	if large && c.nearEnd {
		if n := d.periodEndCluster(in.Window, c.periodEnd) + 1; n >= d.rules.PeriodEndClusterCount {
			d.emit(&f, c, domain.AnomalyGAAPPeriodEndConcentration, scorePeriodEndClustered, StandardSubsequentEvents,
				domain.GAAPEvidence{Count: n},
				"%d large transactions clustered at period end", n)
		}
	}
	if c.amount > d.rules.SignificantAssetAmount {
		if kw := matchKeyword(text, d.rules.AssetKeywords); kw != "" {
			d.emit(&f, c, domain.AnomalyGAAPSignificantAsset, scoreSignificantAsset, StandardLongLivedAssets,
				domain.GAAPEvidence{Keyword: kw},
				"Significant asset transaction (%s) requires disclosure review", kw)
		}
	}

	if len(f.Anomalies) > 0 && c.materiality == domain.MaterialityUnknown {
		f.degrade("no company financials; materiality unknown")
	}
	return f
}

func (d *GAAP) emit(f *Finding, c gaapCtx, t domain.AnomalyType, score float64, standard string, ev domain.GAAPEvidence, format string, args ...any) {
	ev.Standard = standard
	ev.Materiality = c.materiality
	ev.RevenueRatio = c.revRatio
	ev.IncomeRatio = c.incRatio
	ev.PeriodEnd = c.periodEnd
	ev.DaysToPeriodEnd = c.daysToEnd
	f.add(t, severityFor(score), score, ev, "%s: "+format, append([]any{standard}, args...)...)
}

// Materiality classifies amount against the company financials.
func (d *GAAP) Materiality(amount float64, p *domain.EntityProfile) (domain.MaterialityLevel, float64, float64) {
	if p == nil || p.Financials == nil {
		return domain.MaterialityUnknown, 0, 0
	}
	revenue, _ := p.Financials.AnnualRevenue.Abs().Float64()
	income, _ := p.Financials.NetIncome.Abs().Float64()
	if revenue == 0 && income == 0 {
		return domain.MaterialityUnknown, 0, 0
	}
	var revRatio, incRatio float64
	if revenue > 0 {
		revRatio = amount / revenue
	}
	if income > 0 {
		incRatio = amount / income
	}
	m := d.rules.Materiality
	switch {
	case revRatio > m.HighRevenue || incRatio > m.HighIncome:
		return domain.MaterialityHigh, revRatio, incRatio
	case revRatio > m.MediumRevenue || incRatio > m.MediumIncome:
		return domain.MaterialityMedium, revRatio, incRatio
	default:
		return domain.MaterialityLow, revRatio, incRatio
	}
}

func (d *GAAP) trailingLargeCredits(window domain.HistoricalWindow) (float64, int) {
	var amounts []float64
	for i := len(window) - 1; i >= 0 && len(amounts) < d.rules.ChannelStuffingLookback; i-- {
		t := window[i]
		if t.IsCredit() && t.AbsFloat() >= d.rules.LargeAmount {
			amounts = append(amounts, t.AbsFloat())
		}
	}
	mean, _ := profile.MeanStdDev(amounts)
	return mean, len(amounts)
}

func (d *GAAP) hasVendorDebits(window domain.HistoricalWindow, vendor string) bool {
	for _, t := range window {
		if !t.IsCredit() && t.Vendor() == vendor {
			return true
		}
	}
	return false
}

func (d *GAAP) counterpartyAverage(window domain.HistoricalWindow, vendor string) (float64, int) {
	if vendor == "" {
		return 0, 0
	}
	var amounts []float64
	for _, t := range window {
		if t.Vendor() == vendor {
			amounts = append(amounts, t.AbsFloat())
		}
	}
	mean, _ := profile.MeanStdDev(amounts)
	return mean, len(amounts)
}

func (d *GAAP) periodEndCluster(window domain.HistoricalWindow, periodEnd time.Time) int {
	from := periodEnd.Add(-time.Duration(d.rules.PeriodEndDays) * 24 * time.Hour)
	n := 0
	for _, t := range window {
		if t.HasTimestamp() && !t.Timestamp.Before(from) && !t.Timestamp.After(periodEnd) && t.AbsFloat() >= d.rules.LargeAmount {
			n++
		}
	}
	return n
}

// PeriodEnd returns the end (last instant) of the fiscal quarter containing t.
// Quarters end every three months counting back from fiscalYearEndMonth.
func PeriodEnd(t time.Time, fiscalYearEndMonth int) time.Time {
	for offset := 0; offset < 3; offset++ {
		first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, offset, 0)
		if (int(first.Month())-fiscalYearEndMonth+12)%3 == 0 {
			return first.AddDate(0, 1, 0).Add(-time.Nanosecond)
		}
	}
	// unreachable: one of three consecutive months is a quarter end
	return t
}
