package detector

import (
	"math"
	"strings"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

const (
	scoreMissingLocation = 50
	scoreImpossibleTrip  = 95
	scoreSimultaneous    = 88
	scoreFarLocation     = 80
	scoreUnusualLocation = 65
	scoreAbnormalPattern = 60
	scoreHighRiskArea    = 85
	scoreForeignFirst    = 85
	scoreForeignRepeat   = 70
	scoreLocVelocity     = 70
)

// Haversine returns the great-circle distance in km between two points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func distance(a, b domain.GeoLocation) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Geolocation checks the physical plausibility of where a transaction happened.
type Geolocation struct {
	rules config.GeoRules
}

func NewGeolocation(rules config.GeoRules) *Geolocation {
	return &Geolocation{rules: rules}
}

func (d *Geolocation) ID() string { return IDGeolocation }

func (d *Geolocation) Detect(in Input) Finding {
	f := Finding{DetectorID: d.ID()}
	txn := in.Txn
	if !txn.HasLocation() {
		reason := "no location data"
		if txn.Location != nil {
			reason = "coordinates out of range"
		}
		if txn.AbsFloat() >= d.rules.MissingLocationAmount {
			f.add(domain.AnomalyMissingLocation, domain.SeverityMedium, scoreMissingLocation,
				domain.GeoEvidence{Check: "missing_location"},
				"Large transaction of %s without usable location (%s)", money(txn.AbsAmount()), reason)
		} else {
			f.degrade("%s; location checks skipped", reason)
		}
		return f
	}

	here := *txn.Location
	located := d.locatedHistory(in.Window)

	if txn.HasTimestamp() && len(located) > 0 {
		d.travel(&f, txn, located[len(located)-1])
		d.velocity(&f, txn, located)
	} else if !txn.HasTimestamp() {
		f.degrade("missing timestamp; travel checks skipped")
	}
	d.unusual(&f, in, here)
	d.highRisk(&f, txn, here)
	d.foreign(&f, in.Profile, here)
	return f
}

// locatedHistory returns the window transactions that carry both a timestamp and a valid location.
func (d *Geolocation) locatedHistory(window domain.HistoricalWindow) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range window {
		if t.HasTimestamp() && t.HasLocation() {
			out = append(out, t)
		}
	}
	return out
}

func (d *Geolocation) travel(f *Finding, txn, prev domain.Transaction) {
	from, to := *prev.Location, *txn.Location
	km := distance(from, to)
	elapsed := txn.Timestamp.Sub(prev.Timestamp)
	hours := elapsed.Hours()

	if hours > d.rules.MinElapsedHours {
		if speed := km / hours; speed > d.rules.MaxSpeedKmh {
			f.add(domain.AnomalyImpossibleTravel, domain.SeverityCritical, scoreImpossibleTrip,
				domain.GeoEvidence{Check: "impossible_travel", DistanceKm: km, SpeedKmh: speed, ElapsedHours: hours, From: &from, To: &to},
				"%.0f km from the previous transaction in %.1fh implies %.0f km/h", km, hours, speed)
			return
		}
	}
	if elapsed >= 0 && elapsed <= d.rules.SimultaneousWindow && km > d.rules.SimultaneousDistanceKm {
		f.add(domain.AnomalySimultaneousLocations, domain.SeverityHigh, scoreSimultaneous,
			domain.GeoEvidence{Check: "simultaneous_locations", DistanceKm: km, ElapsedHours: hours, From: &from, To: &to},
			"Transactions %.0f km apart within %.0f minutes", km, elapsed.Minutes())
	}
}

func (d *Geolocation) velocity(f *Finding, txn domain.Transaction, located []domain.Transaction) {
	n := d.rules.VelocityPoints - 1
	if n > len(located) {
		n = len(located)
	}
	points := append(append([]domain.Transaction{}, located[len(located)-n:]...), txn)
	if len(points) < 3 {
		return
	}
	var km float64
	for i := 1; i < len(points); i++ {
		km += distance(*points[i-1].Location, *points[i].Location)
	}
	hours := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Hours()
	if hours <= 0 {
		return
	}
	limit := 2 * d.rules.DrivingSpeedKmh
	if speed := km / hours; speed > limit {
		f.add(domain.AnomalyLocationVelocity, domain.SeverityMedium, scoreLocVelocity,
			domain.GeoEvidence{Check: "location_velocity", DistanceKm: km, SpeedKmh: speed, ElapsedHours: hours},
			"Last %d locations imply an average of %.0f km/h (limit %.0f)", len(points), speed, limit)
	}
}

func (d *Geolocation) unusual(f *Finding, in Input, here domain.GeoLocation) {
	var history []domain.GeoLocation
	if in.Profile != nil {
		history = in.Profile.LocationHistory
	}
	if len(history) > d.rules.CentroidSize {
		history = history[:d.rules.CentroidSize]
	}
	if len(history) >= d.rules.CentroidMin {
		c := centroid(history)
		km := distance(c, here)
		switch {
		case km > d.rules.FarDistanceKm:
			f.add(domain.AnomalyUnusualLocation, domain.SeverityHigh, scoreFarLocation,
				domain.GeoEvidence{Check: "unusual_location", DistanceKm: km, From: &c, To: &here},
				"%.0f km from the usual area of activity", km)
			return
		case km > d.rules.UnusualDistanceKm:
			f.add(domain.AnomalyUnusualLocation, domain.SeverityMedium, scoreUnusualLocation,
				domain.GeoEvidence{Check: "unusual_location", DistanceKm: km, From: &c, To: &here},
				"%.0f km from the usual area of activity", km)
			return
		}
	} else {
		f.degrade("%d known locations; centroid needs %d", len(history), d.rules.CentroidMin)
	}

	txn := in.Txn
	if txn.AbsFloat() < d.rules.HighAmount {
		return
	}
	var why string
	switch {
	case txn.Category != "" && containsFold(d.rules.HighRiskCategories, txn.Category):
		why = "high-risk category " + strings.ToLower(txn.Category)
	case txn.HasTimestamp() && txn.Timestamp.Hour() >= d.rules.UnusualHourStart && txn.Timestamp.Hour() <= d.rules.UnusualHourEnd:
		why = "unusual local hour"
	default:
		return
	}
	f.add(domain.AnomalyUnusualLocation, domain.SeverityMedium, scoreAbnormalPattern,
		domain.GeoEvidence{Check: "abnormal_pattern", To: &here, Matched: why},
		"Large amount %s at %s", money(txn.AbsAmount()), why)
}

func (d *Geolocation) highRisk(f *Finding, txn domain.Transaction, here domain.GeoLocation) {
	country := strings.ToUpper(here.Country)
	matched := ""
	if country != "" && containsFold(d.rules.HighRiskCountries, country) {
		matched = country
	} else {
		matched = matchKeyword(here.City+" "+txn.Description+" "+txn.Counterparty, d.rules.HighRiskKeywords)
	}
	if matched == "" {
		return
	}
	f.add(domain.AnomalyHighRiskLocation, domain.SeverityHigh, scoreHighRiskArea,
		domain.GeoEvidence{Check: "high_risk_location", Country: country, Matched: matched},
		"Transaction in a high-risk area (%s)", matched)
}

func (d *Geolocation) foreign(f *Finding, p *domain.EntityProfile, here domain.GeoLocation) {
	country := strings.ToUpper(here.Country)
	if country == "" {
		return
	}
	if p == nil || p.HomeCountry == "" {
		f.degrade("home country unknown; foreign check skipped")
		return
	}
	home := strings.ToUpper(p.HomeCountry)
	if country == home {
		return
	}
	for _, loc := range p.LocationHistory {
		if strings.EqualFold(loc.Country, country) {
			return
		}
	}
	sev, score := domain.SeverityHigh, float64(scoreForeignFirst)
	detail := "First transaction outside home country %s (%s)"
	if p.HasInternational {
		sev, score = domain.SeverityMedium, scoreForeignRepeat
		detail = "First transaction in %[2]s; home country %[1]s"
	}
	f.add(domain.AnomalyUnusualForeign, sev, score,
		domain.GeoEvidence{Check: "unusual_foreign", Country: country, HomeCountry: home},
		detail, home, country)
}

// centroid averages coordinates on the unit sphere so that points either
// side of the antimeridian do not cancel out.
func centroid(points []domain.GeoLocation) domain.GeoLocation {
	rad := math.Pi / 180
	var x, y, z float64
	for _, p := range points {
		lat, lon := p.Latitude*rad, p.Longitude*rad
		x += math.Cos(lat) * math.Cos(lon)
		y += math.Cos(lat) * math.Sin(lon)
		z += math.Sin(lat)
	}
	n := float64(len(points))
	x, y, z = x/n, y/n, z/n
	return domain.GeoLocation{
		Latitude:  math.Atan2(z, math.Hypot(x, y)) / rad,
		Longitude: math.Atan2(y, x) / rad,
	}
}
