package client

import (
	"context"
	"strings"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// StaticProvider serves the reference rates configured in the rules file.
// It backs the engine when no market-data API is configured and is the
// fallback when the API fails.
type StaticProvider struct {
	table *domain.RateTable
}

// NewStaticProvider builds a provider from "BASE/QUOTE" -> rate pairs.
func NewStaticProvider(base string, rates map[string]float64, asOf time.Time) *StaticProvider {
	t := &domain.RateTable{
		Base:  strings.ToUpper(base),
		Rates: make(map[string]decimal.Decimal, len(rates)),
		AsOf:  asOf,
	}
	for pair, r := range rates {
		t.Rates[strings.ToUpper(pair)] = decimal.NewFromFloat(r)
	}
	return &StaticProvider{table: t}
}

// Rates returns a copy of the static table. An empty table yields ErrNotFound
// so the detector records a degraded note instead of checking against nothing.
func (p *StaticProvider) Rates(_ context.Context, base string) (*domain.RateTable, error) {
	if len(p.table.Rates) == 0 {
		return nil, &domain.ErrNotFound{Resource: "rate table", ID: base}
	}
	t := *p.table
	t.Rates = make(map[string]decimal.Decimal, len(p.table.Rates))
	for k, v := range p.table.Rates {
		t.Rates[k] = v
	}
	t.Windows = append([]domain.FavorableWindow(nil), p.table.Windows...)
	return &t, nil
}

func upperKeys(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}
