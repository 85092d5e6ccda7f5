package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Entity profile
// ============================================================

// FrequentVendorMin is the occurrence count at which a vendor is considered frequent.
const FrequentVendorMin = 3

// AmountBand is an inclusive amount range considered normal for a vendor.
type AmountBand struct {
	Low  decimal.Decimal `json:"low"`
	High decimal.Decimal `json:"high"`
}

// Contains reports whether amount lies inside the band.
func (b AmountBand) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(b.Low) && amount.LessThanOrEqual(b.High)
}

// CompanyFinancials feeds the materiality computation.
type CompanyFinancials struct {
	AnnualRevenue decimal.Decimal `json:"annual_revenue"`
	NetIncome     decimal.Decimal `json:"net_income"`
}

// EntityProfile is the behavioral baseline of an account or entity.
// Statistic fields are derived from the historical window; the remaining
// fields are overlays set by the operator or the feedback loop and survive rebuilds.
type EntityProfile struct {
	EntityID string `json:"entity_id"`

	// Derived statistics
	TransactionCount     int            `json:"transaction_count"`
	MeanAmount           float64        `json:"mean_amount"`
	MedianAmount         float64        `json:"median_amount"`
	StdDevAmount         float64        `json:"stddev_amount"`
	VendorFrequency      map[string]int `json:"vendor_frequency"`
	HourHistogram        [24]int        `json:"hour_histogram"`
	WeekdayHistogram     [7]int         `json:"weekday_histogram"`
	CategoryDistribution map[string]int `json:"category_distribution"`
	LocationHistory      []GeoLocation  `json:"location_history"` // most recent first
	HasInternational     bool           `json:"has_international_history"`

	// Overlays
	HomeCountry       string                  `json:"home_country,omitempty"`
	Financials        *CompanyFinancials      `json:"financials,omitempty"`
	RelatedParties    []string                `json:"related_parties,omitempty"`
	SuspiciousVendors map[string]time.Time    `json:"suspicious_vendors,omitempty"`
	NormalizedBands   map[string][]AmountBand `json:"normalized_bands,omitempty"`

	Version int64 `json:"version"`
}

// NewEntityProfile returns an empty profile with initialized maps.
func NewEntityProfile(entityID string) *EntityProfile {
	return &EntityProfile{
		EntityID:             entityID,
		VendorFrequency:      map[string]int{},
		CategoryDistribution: map[string]int{},
		SuspiciousVendors:    map[string]time.Time{},
		NormalizedBands:      map[string][]AmountBand{},
	}
}

// HasBaseline reports whether the amount statistics are backed by data.
func (p *EntityProfile) HasBaseline() bool {
	return p != nil && p.TransactionCount > 0
}

// IsFrequentVendor reports whether vendor occurred at least FrequentVendorMin times.
func (p *EntityProfile) IsFrequentVendor(vendor string) bool {
	if p == nil {
		return false
	}
	return p.VendorFrequency[vendor] >= FrequentVendorMin
}

// IsSuspicious reports whether vendor was flagged through feedback.
func (p *EntityProfile) IsSuspicious(vendor string) bool {
	if p == nil {
		return false
	}
	_, ok := p.SuspiciousVendors[vendor]
	return ok
}

// IsNormalized reports whether amount falls in a confirmed band for vendor.
func (p *EntityProfile) IsNormalized(vendor string, amount decimal.Decimal) bool {
	if p == nil {
		return false
	}
	for _, b := range p.NormalizedBands[vendor] {
		if b.Contains(amount) {
			return true
		}
	}
	return false
}

// IsRelatedParty reports whether name matches a declared related party.
func (p *EntityProfile) IsRelatedParty(name string) bool {
	if p == nil || name == "" {
		return false
	}
	n := NormalizeVendor(name)
	for _, rp := range p.RelatedParties {
		if NormalizeVendor(rp) == n {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (p *EntityProfile) Clone() *EntityProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.VendorFrequency = make(map[string]int, len(p.VendorFrequency))
	for k, v := range p.VendorFrequency {
		c.VendorFrequency[k] = v
	}
	c.CategoryDistribution = make(map[string]int, len(p.CategoryDistribution))
	for k, v := range p.CategoryDistribution {
		c.CategoryDistribution[k] = v
	}
	c.LocationHistory = append([]GeoLocation(nil), p.LocationHistory...)
	c.RelatedParties = append([]string(nil), p.RelatedParties...)
	c.SuspiciousVendors = make(map[string]time.Time, len(p.SuspiciousVendors))
	for k, v := range p.SuspiciousVendors {
		c.SuspiciousVendors[k] = v
	}
	c.NormalizedBands = make(map[string][]AmountBand, len(p.NormalizedBands))
	for k, v := range p.NormalizedBands {
		c.NormalizedBands[k] = append([]AmountBand(nil), v...)
	}
	if p.Financials != nil {
		f := *p.Financials
		c.Financials = &f
	}
	return &c
}

// ProfileOverlay is the operator-supplied part of a profile (PUT /profile).
type ProfileOverlay struct {
	HomeCountry    string             `json:"home_country,omitempty" validate:"omitempty,len=2"`
	Financials     *CompanyFinancials `json:"financials,omitempty"`
	RelatedParties []string           `json:"related_parties,omitempty" validate:"dive,max=256"`
}
