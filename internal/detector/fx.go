package detector

import (
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
)

const (
	scoreFXArbitrage        = 80
	scoreFXOffMarket        = 85
	scoreFXOffMarketExtreme = 95
	scoreFXLayering         = 90
	scoreFXStructuring      = 88
	scoreFXRoundTripFast    = 85
	scoreFXRoundTrip        = 75
	scoreFXLowLiquidity     = 70
	scoreFXHighFrequency    = 80
)

// FX runs the foreign-exchange sub-checks. It only applies to transactions
// classified as FX and returns every sub-check that fires.
type FX struct {
	rules      config.FXRules
	thresholds []float64
}

func NewFX(rules config.FXRules, structuring config.StructuringRules) *FX {
	return &FX{rules: rules, thresholds: structuring.Thresholds}
}

func (d *FX) ID() string { return IDFX }

// IsFX classifies a transaction by FX leg, category or keyword.
func (d *FX) IsFX(t domain.Transaction) bool {
	if t.FX != nil {
		return true
	}
	if t.Category != "" && containsFold(d.rules.Categories, t.Category) {
		return true
	}
	return matchKeyword(t.Description+" "+t.Counterparty, d.rules.Keywords) != ""
}

// pair returns BASE/QUOTE for t, or "" when no foreign currency is involved.
func (d *FX) pair(t domain.Transaction) string {
	if t.FX != nil {
		return t.FX.Pair()
	}
	cur := strings.ToUpper(t.Currency)
	if cur == "" || cur == d.rules.BaseCurrency {
		return ""
	}
	return cur + "/" + d.rules.BaseCurrency
}

func (d *FX) currencies(t domain.Transaction) []string {
	if t.FX != nil {
		return []string{strings.ToUpper(t.FX.BaseCurrency), strings.ToUpper(t.FX.QuoteCurrency)}
	}
	if t.Currency != "" {
		return []string{strings.ToUpper(t.Currency), d.rules.BaseCurrency}
	}
	return nil
}

func (d *FX) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	txn := in.Txn
	if !d.IsFX(txn) {
		return f
	}
	if !txn.HasTimestamp() {
		f.degrade("missing timestamp; time-based FX checks skipped")
		d.offMarket(&f, in)
		return f
	}

	var history []domain.Transaction
	for _, t := range in.Window {
		if t.HasTimestamp() && d.IsFX(t) {
			history = append(history, t)
		}
	}

	d.arbitrage(&f, in)
	d.offMarket(&f, in)
	d.layering(&f, txn, history)
	d.structuring(&f, txn, history)
	d.roundTrip(&f, txn, history)
	d.lowLiquidity(&f, txn)
	d.highFrequency(&f, txn, history)
	return f
}

func (d *FX) arbitrage(f *Finding, in Input) {
	h := in.Txn.Timestamp.Hour()
	if h < d.rules.OffHoursStart && h >= d.rules.OffHoursEnd {
		return
	}
	pair := d.pair(in.Txn)
	if pair == "" {
		return
	}
	if in.Rates == nil {
		f.degrade("no rate table; arbitrage check skipped")
		return
	}
	if !in.Rates.Favorable(pair, in.Txn.Timestamp) {
		return
	}
	f.add(domain.AnomalyFXRateArbitrage, domain.SeverityHigh, scoreFXArbitrage,
		domain.FXEvidence{Check: "rate_arbitrage", Pair: pair},
		"Off-hours %s conversion inside a favorable-rate window", pair)
}

func (d *FX) offMarket(f *Finding, in Input) {
	leg := in.Txn.FX
	if leg == nil {
		return
	}
	if !leg.AppliedRate.IsPositive() {
		f.degrade("no applied rate; off-market check skipped")
		return
	}
	if in.Rates == nil {
		f.degrade("no rate table; off-market check skipped")
		return
	}
	ref, ok := in.Rates.Reference(leg.BaseCurrency, leg.QuoteCurrency)
	if !ok {
		f.degrade("no reference rate for %s", leg.Pair())
		return
	}
	deviation, _ := leg.AppliedRate.Sub(ref).Abs().Div(ref).Float64()
	if deviation <= d.rules.OffMarketDeviation {
		return
	}
	sev, score := domain.SeverityHigh, float64(scoreFXOffMarket)
	if deviation > d.rules.OffMarketCritical {
		sev, score = domain.SeverityCritical, scoreFXOffMarketExtreme
	}
	f.add(domain.AnomalyFXOffMarketRate, sev, score,
		domain.FXEvidence{
			Check:         "off_market_rate",
			Pair:          leg.Pair(),
			AppliedRate:   leg.AppliedRate,
			ReferenceRate: ref,
			Deviation:     deviation,
		},
		"Applied %s rate %s deviates %.1f%% from market %s", leg.Pair(), leg.AppliedRate.String(), deviation*100, ref.StringFixed(4))
}

func (d *FX) layering(f *Finding, txn domain.Transaction, history []domain.Transaction) {
	from := txn.Timestamp.Add(-d.rules.LayeringWindow)
	set := map[string]struct{}{}
	ids := []string{}
	conversions := 1
	for _, c := range d.currencies(txn) {
		set[c] = struct{}{}
	}
	for _, t := range history {
		if t.Timestamp.Before(from) {
			continue
		}
		conversions++
		ids = append(ids, t.ID)
		for _, c := range d.currencies(t) {
			set[c] = struct{}{}
		}
	}
	if conversions < d.rules.LayeringMinConversions || len(set) < d.rules.LayeringMinCurrencies {
		return
	}
	currencies := make([]string, 0, len(set))
	for c := range set {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	f.add(domain.AnomalyFXCurrencyLayering, domain.SeverityHigh, scoreFXLayering,
		domain.FXEvidence{Check: "currency_layering", Currencies: currencies, Count: conversions, RelatedTxnIDs: ids},
		"%d conversions across %d currencies within %s", conversions, len(currencies), d.rules.LayeringWindow)
}

func (d *FX) structuring(f *Finding, txn domain.Transaction, history []domain.Transaction) {
	if len(d.thresholds) == 0 {
		return
	}
	lowest := dec(d.thresholds[0])
	amount := txn.AbsAmount()
	if !amount.IsPositive() || !amount.LessThan(lowest) {
		return
	}
	from := txn.Timestamp.Add(-d.rules.StructuringWindow)
	similarity := dec(d.rules.StructuringSimilarity)

	total := amount
	count := 1
	var ids []string
	for _, t := range history {
		a := t.AbsAmount()
		if t.Timestamp.Before(from) || !a.LessThan(lowest) {
			continue
		}
		if a.Sub(amount).Abs().Div(amount).GreaterThan(similarity) {
			continue
		}
		total = total.Add(a)
		count++
		ids = append(ids, t.ID)
	}
	if count < d.rules.StructuringMinCount {
		return
	}
	band := dec(d.rules.StructuringBand)
	for _, th := range d.thresholds {
		limit := dec(th)
		if total.Sub(limit).Abs().Div(limit).GreaterThan(band) {
			continue
		}
		f.add(domain.AnomalyFXStructuring, domain.SeverityHigh, scoreFXStructuring,
			domain.FXEvidence{Check: "fx_structuring", Count: count, Total: total, ReportingLimit: limit, RelatedTxnIDs: ids},
			"%d similar FX transactions totalling %s near the %s reporting threshold", count, money(total), money(limit))
		return
	}
}

func (d *FX) roundTrip(f *Finding, txn domain.Transaction, history []domain.Transaction) {
	pair := d.pair(txn)
	if pair == "" {
		return
	}
	reverse := reversePair(pair)
	from := txn.Timestamp.Add(-d.rules.RoundTripWindow)

	// most recent matching leg wins
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Timestamp.Before(from) {
			break
		}
		p := d.pair(t)
		if p != reverse && !(p == pair && t.IsCredit() != txn.IsCredit()) {
			continue
		}
		elapsed := txn.Timestamp.Sub(t.Timestamp)
		sev, score := domain.SeverityMedium, float64(scoreFXRoundTrip)
		if elapsed <= d.rules.RoundTripHighWindow {
			sev, score = domain.SeverityHigh, scoreFXRoundTripFast
		}
		f.add(domain.AnomalyFXRoundTrip, sev, score,
			domain.FXEvidence{Check: "round_trip", Pair: pair, ElapsedHours: elapsed.Hours(), RelatedTxnIDs: []string{t.ID}},
			"Opposite %s leg %s reversed after %.1fh", pair, t.ID, elapsed.Hours())
		return
	}
}

func (d *FX) lowLiquidity(f *Finding, txn domain.Transaction) {
	wd := txn.Timestamp.Weekday()
	h := txn.Timestamp.Hour()
	weekend := wd == time.Saturday || wd == time.Sunday
	thin := h >= d.rules.LowLiquidityStart || h < d.rules.LowLiquidityEnd
	if !weekend && !thin {
		return
	}
	reason := "weekend"
	if !weekend {
		reason = "low-liquidity hours"
	}
	f.add(domain.AnomalyFXLowLiquidity, domain.SeverityMedium, scoreFXLowLiquidity,
		domain.FXEvidence{Check: "low_liquidity", Pair: d.pair(txn)},
		"FX conversion during %s (%s %02d:00)", reason, wd, h)
}

func (d *FX) highFrequency(f *Finding, txn domain.Transaction, history []domain.Transaction) {
	hourAgo := txn.Timestamp.Add(-time.Hour)
	dayAgo := txn.Timestamp.Add(-24 * time.Hour)
	perHour, perDay := 1, 1
	for _, t := range history {
		if !t.Timestamp.Before(hourAgo) {
			perHour++
		}
		if !t.Timestamp.Before(dayAgo) {
			perDay++
		}
	}
	if perHour < d.rules.HourlyLimit && perDay < d.rules.DailyLimit {
		return
	}
	f.add(domain.AnomalyFXHighFrequency, domain.SeverityHigh, scoreFXHighFrequency,
		domain.FXEvidence{Check: "high_frequency", Count: perDay},
		"%d FX transactions in the last hour, %d in the last 24h", perHour, perDay)
}

func reversePair(pair string) string {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair
	}
	return parts[1] + "/" + parts[0]
}
