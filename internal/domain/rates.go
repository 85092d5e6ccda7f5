package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FavorableWindow is a period during which a pair traded at an unusually favorable rate.
type FavorableWindow struct {
	Pair  string    `json:"pair"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RateTable is resolved market reference data handed to the FX detector.
type RateTable struct {
	Base    string                     `json:"base"`
	Rates   map[string]decimal.Decimal `json:"rates"` // "EUR/USD" -> 1.08
	Windows []FavorableWindow          `json:"favorable_windows,omitempty"`
	AsOf    time.Time                  `json:"as_of"`
}

// Reference returns the market rate for base/quote, inverting the reverse pair if needed.
func (rt *RateTable) Reference(base, quote string) (decimal.Decimal, bool) {
	if rt == nil {
		return decimal.Zero, false
	}
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)
	if base == quote {
		return decimal.NewFromInt(1), true
	}
	if r, ok := rt.Rates[base+"/"+quote]; ok && r.IsPositive() {
		return r, true
	}
	if r, ok := rt.Rates[quote+"/"+base]; ok && r.IsPositive() {
		return decimal.NewFromInt(1).DivRound(r, 8), true
	}
	return decimal.Zero, false
}

// Favorable reports whether t falls in a favorable window for pair (either orientation).
func (rt *RateTable) Favorable(pair string, t time.Time) bool {
	if rt == nil {
		return false
	}
	rev := reversePair(pair)
	for _, w := range rt.Windows {
		p := strings.ToUpper(w.Pair)
		if p != pair && p != rev {
			continue
		}
		if !t.Before(w.Start) && t.Before(w.End) {
			return true
		}
	}
	return false
}

func reversePair(pair string) string {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair
	}
	return parts[1] + "/" + parts[0]
}
