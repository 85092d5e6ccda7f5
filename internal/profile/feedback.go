package profile

import (
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// ApplyDisposition updates the feedback overlay of p for vendor.
//
// FLAGGED marks the vendor suspicious and drops any band previously confirmed
// for it. CONFIRMED clears the suspicion and records a band of ±bandWidth
// around amount, so repeated amounts of that size are treated as normal.
func ApplyDisposition(p *domain.EntityProfile, d domain.Disposition, vendor string, amount decimal.Decimal, bandWidth float64, at time.Time) {
	if p.SuspiciousVendors == nil {
		p.SuspiciousVendors = map[string]time.Time{}
	}
	if p.NormalizedBands == nil {
		p.NormalizedBands = map[string][]domain.AmountBand{}
	}

	switch d {
	case domain.DispositionFlagged:
		p.SuspiciousVendors[vendor] = at
		delete(p.NormalizedBands, vendor)
	case domain.DispositionConfirmed:
		delete(p.SuspiciousVendors, vendor)
		amount = amount.Abs()
		w := decimal.NewFromFloat(bandWidth)
		one := decimal.NewFromInt(1)
		band := domain.AmountBand{
			Low:  amount.Mul(one.Sub(w)).Round(2),
			High: amount.Mul(one.Add(w)).Round(2),
		}
		for _, b := range p.NormalizedBands[vendor] {
			if b.Contains(band.Low) && b.Contains(band.High) {
				return
			}
		}
		p.NormalizedBands[vendor] = append(p.NormalizedBands[vendor], band)
	}
}
