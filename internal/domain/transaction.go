// Package domain defines the core entities of the risk engine.
// These models are independent of storage and transport and represent the
// canonical data structures shared by detectors, scoring and the service layer.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transaction
// ============================================================

// Direction is the money flow of a transaction from the account's point of view.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// GeoLocation is where a transaction was captured.
type GeoLocation struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Country        string    `json:"country,omitempty"`
	City           string    `json:"city,omitempty"`
	AccuracyMeters float64   `json:"accuracy_meters,omitempty"`
	Source         string    `json:"source,omitempty"` // gps, ip, merchant
	CapturedAt     time.Time `json:"captured_at,omitempty"`
}

// Valid reports whether the coordinates are inside the WGS84 ranges.
func (g *GeoLocation) Valid() bool {
	if g == nil {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 && g.Longitude >= -180 && g.Longitude <= 180
}

// FXLeg describes the conversion applied to a foreign-exchange transaction.
type FXLeg struct {
	BaseCurrency  string          `json:"base_currency" validate:"required,len=3"`
	QuoteCurrency string          `json:"quote_currency" validate:"required,len=3"`
	AppliedRate   decimal.Decimal `json:"applied_rate"`
}

// Pair returns the currency pair as "BASE/QUOTE".
func (f *FXLeg) Pair() string {
	return strings.ToUpper(f.BaseCurrency) + "/" + strings.ToUpper(f.QuoteCurrency)
}

// Transaction is an immutable, normalized transaction produced by the upstream parser.
type Transaction struct {
	ID                    string          `json:"id" validate:"required,max=128"`
	Timestamp             time.Time       `json:"timestamp"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Description           string          `json:"description,omitempty" validate:"max=1024"`
	Counterparty          string          `json:"counterparty,omitempty" validate:"max=256"`
	CounterpartyAccountID string          `json:"counterparty_account_id,omitempty"`
	Category              string          `json:"category,omitempty"`
	AccountID             string          `json:"account_id" validate:"required,max=128"`
	EntityID              string          `json:"entity_id,omitempty"`
	BankID                string          `json:"bank_id,omitempty"`
	Direction             Direction       `json:"direction,omitempty" validate:"omitempty,oneof=DEBIT CREDIT"`
	Location              *GeoLocation    `json:"location,omitempty"`
	FX                    *FXLeg          `json:"fx,omitempty"`
}

// Entity returns the id that owns the transaction's profile.
func (t Transaction) Entity() string {
	if t.EntityID != "" {
		return t.EntityID
	}
	return t.AccountID
}

// AbsAmount returns the unsigned amount.
func (t Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// AbsFloat returns the unsigned amount as float64 for statistics.
func (t Transaction) AbsFloat() float64 {
	f, _ := t.Amount.Abs().Float64()
	return f
}

// IsCredit reports whether money flows into the account.
// When Direction is absent the sign of Amount decides.
func (t Transaction) IsCredit() bool {
	switch t.Direction {
	case DirectionCredit:
		return true
	case DirectionDebit:
		return false
	}
	return t.Amount.IsPositive()
}

// Vendor returns the normalized counterparty key used for cohorts and profiles.
func (t Transaction) Vendor() string {
	if v := NormalizeVendor(t.Counterparty); v != "" {
		return v
	}
	return NormalizeVendor(t.Description)
}

// HasTimestamp reports whether the timestamp was parsed.
func (t Transaction) HasTimestamp() bool {
	return !t.Timestamp.IsZero()
}

// HasLocation reports whether the transaction carries usable coordinates.
func (t Transaction) HasLocation() bool {
	return t.Location.Valid()
}

// NormalizeVendor lowercases and collapses whitespace in a vendor name.
func NormalizeVendor(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ============================================================
// Historical window
// ============================================================

// HistoricalWindow is an ordered (oldest first) bounded sequence of transactions
// strictly older than the transaction under analysis.
type HistoricalWindow []Transaction

// Since returns the transactions at or after from.
func (w HistoricalWindow) Since(from time.Time) HistoricalWindow {
	out := make(HistoricalWindow, 0, len(w))
	for _, t := range w {
		if !t.Timestamp.Before(from) {
			out = append(out, t)
		}
	}
	return out
}

// Last returns the n most recent transactions, preserving order.
func (w HistoricalWindow) Last(n int) HistoricalWindow {
	if n <= 0 || len(w) <= n {
		return w
	}
	return w[len(w)-n:]
}

// Before returns the transactions strictly older than t.
func (w HistoricalWindow) Before(t time.Time) HistoricalWindow {
	out := make(HistoricalWindow, 0, len(w))
	for _, tx := range w {
		if tx.Timestamp.Before(t) {
			out = append(out, tx)
		}
	}
	return out
}
