// Package profile derives behavioral baselines from transaction history and
// owns the per-entity serialization of profile mutations.
package profile

import (
	"math"
	"sort"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
)

// Builder derives an EntityProfile from a historical window.
type Builder struct {
	locationHistorySize int
}

// NewBuilder creates a builder keeping at most locationHistorySize locations.
func NewBuilder(locationHistorySize int) *Builder {
	if locationHistorySize <= 0 {
		locationHistorySize = 50
	}
	return &Builder{locationHistorySize: locationHistorySize}
}

// Build recomputes the derived statistics from window. Overlay fields
// (home country, financials, related parties, feedback state) are copied
// from base when given. An empty window yields zeroed statistics.
func (b *Builder) Build(entityID string, window domain.HistoricalWindow, base *domain.EntityProfile) *domain.EntityProfile {
	var p *domain.EntityProfile
	if base != nil {
		p = base.Clone()
		p.EntityID = entityID
		resetStatistics(p)
	} else {
		p = domain.NewEntityProfile(entityID)
	}

	amounts := make([]float64, 0, len(window))
	for _, t := range window {
		amounts = append(amounts, t.AbsFloat())
		if v := t.Vendor(); v != "" {
			p.VendorFrequency[v]++
		}
		if t.Category != "" {
			p.CategoryDistribution[strings.ToLower(t.Category)]++
		}
		if t.HasTimestamp() {
			p.HourHistogram[t.Timestamp.Hour()]++
			p.WeekdayHistogram[int(t.Timestamp.Weekday())]++
		}
	}

	p.TransactionCount = len(amounts)
	p.MeanAmount, p.StdDevAmount = MeanStdDev(amounts)
	p.MedianAmount = Median(amounts)

	// most recent first
	for i := len(window) - 1; i >= 0 && len(p.LocationHistory) < b.locationHistorySize; i-- {
		if loc := window[i].Location; loc.Valid() {
			p.LocationHistory = append(p.LocationHistory, *loc)
		}
	}
	p.HasInternational = hasInternational(window, p.HomeCountry)

	return p
}

func resetStatistics(p *domain.EntityProfile) {
	p.TransactionCount = 0
	p.MeanAmount, p.MedianAmount, p.StdDevAmount = 0, 0, 0
	p.VendorFrequency = map[string]int{}
	p.CategoryDistribution = map[string]int{}
	p.HourHistogram = [24]int{}
	p.WeekdayHistogram = [7]int{}
	p.LocationHistory = nil
	p.HasInternational = false
}

func hasInternational(window domain.HistoricalWindow, home string) bool {
	if home == "" {
		return false
	}
	for _, t := range window {
		if t.HasLocation() && t.Location.Country != "" && !strings.EqualFold(t.Location.Country, home) {
			return true
		}
	}
	return false
}

// MeanStdDev returns the mean and population standard deviation of xs.
func MeanStdDev(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// Median returns the median of xs without mutating it.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
