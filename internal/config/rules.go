package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/spf13/viper"
)

// Rules is the tunable detection configuration. It is loaded once at startup
// and treated as read-only afterwards.
type Rules struct {
	Structuring    StructuringRules   `mapstructure:"structuring"`
	Velocity       VelocityRules      `mapstructure:"velocity"`
	OffHours       OffHoursRules      `mapstructure:"off_hours"`
	Statistical    StatisticalRules   `mapstructure:"statistical"`
	FX             FXRules            `mapstructure:"fx"`
	GAAP           GAAPRules          `mapstructure:"gaap"`
	Geo            GeoRules           `mapstructure:"geo"`
	Network        NetworkRules       `mapstructure:"network"`
	Behavioral     BehavioralRules    `mapstructure:"behavioral"`
	Feedback       FeedbackRules      `mapstructure:"feedback"`
	Escalation     EscalationRules    `mapstructure:"escalation"`
	ReferenceRates map[string]float64 `mapstructure:"reference_rates"`
}

// StructuringRules configures reporting-threshold evasion and round-number checks.
type StructuringRules struct {
	Thresholds []float64 `mapstructure:"thresholds"`
	Buffer     float64   `mapstructure:"buffer"`
	RoundFloor float64   `mapstructure:"round_floor"`
	RoundUnit  float64   `mapstructure:"round_unit"`
}

// LowestThreshold returns the smallest configured reporting threshold.
func (s StructuringRules) LowestThreshold() float64 {
	if len(s.Thresholds) == 0 {
		return 0
	}
	return s.Thresholds[0]
}

type VelocityRules struct {
	SameDayLimit int `mapstructure:"same_day_limit"`
}

// OffHoursRules flags hour < Start or hour > End.
type OffHoursRules struct {
	StartHour int `mapstructure:"start_hour"`
	EndHour   int `mapstructure:"end_hour"`
}

type StatisticalRules struct {
	MinCohort       int     `mapstructure:"min_cohort"`
	SigmaLimit      float64 `mapstructure:"sigma_limit"`
	CriticalSigma   float64 `mapstructure:"critical_sigma"`
	SuspiciousSigma float64 `mapstructure:"suspicious_sigma"`
}

// FXRules configures FX classification and the FX sub-checks.
type FXRules struct {
	Keywords     []string `mapstructure:"keywords"`
	Categories   []string `mapstructure:"categories"`
	BaseCurrency string   `mapstructure:"base_currency"`

	OffHoursStart int `mapstructure:"off_hours_start"` // hour >= start
	OffHoursEnd   int `mapstructure:"off_hours_end"`   // or hour < end

	OffMarketDeviation float64 `mapstructure:"off_market_deviation"`
	OffMarketCritical  float64 `mapstructure:"off_market_critical"`

	LayeringWindow         time.Duration `mapstructure:"layering_window"`
	LayeringMinConversions int           `mapstructure:"layering_min_conversions"`
	LayeringMinCurrencies  int           `mapstructure:"layering_min_currencies"`

	StructuringWindow     time.Duration `mapstructure:"structuring_window"`
	StructuringMinCount   int           `mapstructure:"structuring_min_count"`
	StructuringSimilarity float64       `mapstructure:"structuring_similarity"`
	StructuringBand       float64       `mapstructure:"structuring_band"`

	RoundTripWindow     time.Duration `mapstructure:"round_trip_window"`
	RoundTripHighWindow time.Duration `mapstructure:"round_trip_high_window"`

	LowLiquidityStart int `mapstructure:"low_liquidity_start"`
	LowLiquidityEnd   int `mapstructure:"low_liquidity_end"`

	HourlyLimit int `mapstructure:"hourly_limit"`
	DailyLimit  int `mapstructure:"daily_limit"`
}

// MaterialityRules are ratio cut-offs against revenue and net income.
type MaterialityRules struct {
	HighRevenue   float64 `mapstructure:"high_revenue"`
	HighIncome    float64 `mapstructure:"high_income"`
	MediumRevenue float64 `mapstructure:"medium_revenue"`
	MediumIncome  float64 `mapstructure:"medium_income"`
}

type MaterialityMultipliers struct {
	Low    float64 `mapstructure:"low"`
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

// For returns the multiplier of a materiality level. Unknown counts as LOW.
func (m MaterialityMultipliers) For(level domain.MaterialityLevel) float64 {
	switch level {
	case domain.MaterialityHigh:
		return m.High
	case domain.MaterialityMedium:
		return m.Medium
	default:
		return m.Low
	}
}

// GAAPRules configures the accounting-standard checks.
type GAAPRules struct {
	LargeAmount             float64                `mapstructure:"large_amount"`
	PeriodEndDays           int                    `mapstructure:"period_end_days"`
	FiscalYearEndMonth      int                    `mapstructure:"fiscal_year_end_month"`
	ChannelStuffingMultiple float64                `mapstructure:"channel_stuffing_multiple"`
	ChannelStuffingLookback int                    `mapstructure:"channel_stuffing_lookback"`
	CapitalizationAmount    float64                `mapstructure:"capitalization_amount"`
	RelatedPartyAmount      float64                `mapstructure:"related_party_amount"`
	NonArmsLengthMultiple   float64                `mapstructure:"non_arms_length_multiple"`
	NonArmsLengthMinHistory int                    `mapstructure:"non_arms_length_min_history"`
	PeriodEndClusterCount   int                    `mapstructure:"period_end_cluster_count"`
	SignificantAssetAmount  float64                `mapstructure:"significant_asset_amount"`
	CapitalizationKeywords  []string               `mapstructure:"capitalization_keywords"`
	RelatedPartyKeywords    []string               `mapstructure:"related_party_keywords"`
	AssetKeywords           []string               `mapstructure:"asset_keywords"`
	Materiality             MaterialityRules       `mapstructure:"materiality"`
	Multipliers             MaterialityMultipliers `mapstructure:"multipliers"`
	ReviewScore             float64                `mapstructure:"review_score"`
}

// GeoRules configures geolocation plausibility.
type GeoRules struct {
	MaxSpeedKmh            float64       `mapstructure:"max_speed_kmh"`
	MinElapsedHours        float64       `mapstructure:"min_elapsed_hours"`
	UnusualDistanceKm      float64       `mapstructure:"unusual_distance_km"`
	FarDistanceKm          float64       `mapstructure:"far_distance_km"`
	CentroidSize           int           `mapstructure:"centroid_size"`
	CentroidMin            int           `mapstructure:"centroid_min"`
	SimultaneousWindow     time.Duration `mapstructure:"simultaneous_window"`
	SimultaneousDistanceKm float64       `mapstructure:"simultaneous_distance_km"`
	DrivingSpeedKmh        float64       `mapstructure:"driving_speed_kmh"`
	VelocityPoints         int           `mapstructure:"velocity_points"`
	MissingLocationAmount  float64       `mapstructure:"missing_location_amount"`
	HighAmount             float64       `mapstructure:"high_amount"`
	UnusualHourStart       int           `mapstructure:"unusual_hour_start"`
	UnusualHourEnd         int           `mapstructure:"unusual_hour_end"`
	HighRiskCountries      []string      `mapstructure:"high_risk_countries"`
	HighRiskKeywords       []string      `mapstructure:"high_risk_keywords"`
	HighRiskCategories     []string      `mapstructure:"high_risk_categories"`
	LocationHistorySize    int           `mapstructure:"location_history_size"`
}

// NetworkRules configures cross-entity and graph checks.
type NetworkRules struct {
	CrossEntityWindow      time.Duration `mapstructure:"cross_entity_window"`
	CrossEntityMinAccounts int           `mapstructure:"cross_entity_min_accounts"`
	CycleWindow            time.Duration `mapstructure:"cycle_window"`
	MaxCycleLength         int           `mapstructure:"max_cycle_length"`
	CycleMinAmountRatio    float64       `mapstructure:"cycle_min_amount_ratio"`
	VendorSimilarity       float64       `mapstructure:"vendor_similarity"`
}

type BehavioralRules struct {
	SpikeMinCount         int     `mapstructure:"spike_min_count"`
	SpikeSigma            float64 `mapstructure:"spike_sigma"`
	SpikeMinMonths        int     `mapstructure:"spike_min_months"`
	ConcentrationShare    float64 `mapstructure:"concentration_share"`
	ConcentrationMinTxns  int     `mapstructure:"concentration_min_txns"`
	NewVendorMinHistory   int     `mapstructure:"new_vendor_min_history"`
	NewVendorMultiple     float64 `mapstructure:"new_vendor_multiple"`
	TimePatternMinHistory int     `mapstructure:"time_pattern_min_history"`
	TimePatternShare      float64 `mapstructure:"time_pattern_share"`
}

type FeedbackRules struct {
	BandWidth float64 `mapstructure:"band_width"`
}

// EscalationRules maps composite scores to levels and actions.
type EscalationRules struct {
	CriticalLevel  int      `mapstructure:"critical_level"`
	HighLevel      int      `mapstructure:"high_level"`
	MediumLevel    int      `mapstructure:"medium_level"`
	LowLevel       int      `mapstructure:"low_level"`
	ReviewScore    int      `mapstructure:"review_score"`
	EscalateScore  int      `mapstructure:"escalate_score"`
	CriticalScore  int      `mapstructure:"critical_score"`
	AlwaysEscalate []string `mapstructure:"always_escalate"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		Structuring: StructuringRules{
			Thresholds: []float64{5000, 10000, 25000, 50000},
			Buffer:     100,
			RoundFloor: 1000,
			RoundUnit:  1000,
		},
		Velocity: VelocityRules{SameDayLimit: 5},
		OffHours: OffHoursRules{StartHour: 6, EndHour: 22},
		Statistical: StatisticalRules{
			MinCohort:       3,
			SigmaLimit:      3,
			CriticalSigma:   5,
			SuspiciousSigma: 2,
		},
		FX: FXRules{
			Keywords: []string{
				"fx", "forex", "foreign exchange", "currency exchange", "currency conversion",
				"wire transfer intl", "international wire", "swift", "remittance", "cambio",
			},
			Categories:             []string{"fx", "foreign_exchange", "currency_exchange", "international_transfer"},
			BaseCurrency:           "USD",
			OffHoursStart:          22,
			OffHoursEnd:            6,
			OffMarketDeviation:     0.05,
			OffMarketCritical:      0.10,
			LayeringWindow:         24 * time.Hour,
			LayeringMinConversions: 4,
			LayeringMinCurrencies:  5,
			StructuringWindow:      7 * 24 * time.Hour,
			StructuringMinCount:    3,
			StructuringSimilarity:  0.15,
			StructuringBand:        0.10,
			RoundTripWindow:        72 * time.Hour,
			RoundTripHighWindow:    48 * time.Hour,
			LowLiquidityStart:      22,
			LowLiquidityEnd:        1,
			HourlyLimit:            5,
			DailyLimit:             20,
		},
		GAAP: GAAPRules{
			LargeAmount:             10000,
			PeriodEndDays:           3,
			FiscalYearEndMonth:      12,
			ChannelStuffingMultiple: 2,
			ChannelStuffingLookback: 10,
			CapitalizationAmount:    25000,
			RelatedPartyAmount:      25000,
			NonArmsLengthMultiple:   3,
			NonArmsLengthMinHistory: 2,
			PeriodEndClusterCount:   5,
			SignificantAssetAmount:  50000,
			CapitalizationKeywords:  []string{"r&d", "research", "development", "software", "license", "saas", "engineering"},
			RelatedPartyKeywords:    []string{"affiliate", "subsidiary", "director", "officer", "shareholder", "family", "related party", "ceo", "cfo"},
			AssetKeywords:           []string{"equipment", "property", "building", "vehicle", "machinery", "real estate", "acquisition", "land"},
			Materiality: MaterialityRules{
				HighRevenue:   0.05,
				HighIncome:    0.10,
				MediumRevenue: 0.01,
				MediumIncome:  0.05,
			},
			Multipliers: MaterialityMultipliers{Low: 1.0, Medium: 1.1, High: 1.3},
			ReviewScore: 70,
		},
		Geo: GeoRules{
			MaxSpeedKmh:            900,
			MinElapsedHours:        0.1,
			UnusualDistanceKm:      402,
			FarDistanceKm:          1609,
			CentroidSize:           50,
			CentroidMin:            3,
			SimultaneousWindow:     30 * time.Minute,
			SimultaneousDistanceKm: 10,
			DrivingSpeedKmh:        80,
			VelocityPoints:         5,
			MissingLocationAmount:  5000,
			HighAmount:             5000,
			UnusualHourStart:       0,
			UnusualHourEnd:         5,
			HighRiskCountries:      []string{"KP", "IR", "SY", "CU", "MM", "AF", "YE", "VE"},
			HighRiskKeywords:       []string{"casino", "offshore", "anonymous", "tor exit", "vpn", "crypto atm"},
			HighRiskCategories:     []string{"gambling", "crypto", "money_transfer", "jewelry", "pawn", "gift_cards"},
			LocationHistorySize:    50,
		},
		Network: NetworkRules{
			CrossEntityWindow:      24 * time.Hour,
			CrossEntityMinAccounts: 3,
			CycleWindow:            7 * 24 * time.Hour,
			MaxCycleLength:         4,
			CycleMinAmountRatio:    0.5,
			VendorSimilarity:       0.85,
		},
		Behavioral: BehavioralRules{
			SpikeMinCount:         10,
			SpikeSigma:            2,
			SpikeMinMonths:        3,
			ConcentrationShare:    0.30,
			ConcentrationMinTxns:  10,
			NewVendorMinHistory:   10,
			NewVendorMultiple:     3,
			TimePatternMinHistory: 20,
			TimePatternShare:      0.02,
		},
		Feedback: FeedbackRules{BandWidth: 0.20},
		Escalation: EscalationRules{
			CriticalLevel: 90,
			HighLevel:     80,
			MediumLevel:   60,
			LowLevel:      30,
			ReviewScore:   60,
			EscalateScore: 80,
			CriticalScore: 90,
			AlwaysEscalate: []string{
				string(domain.AnomalyCrossEntityStructuring),
				string(domain.AnomalyCircularPayment),
				string(domain.AnomalyImpossibleTravel),
				string(domain.AnomalyGAAPPrematureRevenue),
			},
		},
		ReferenceRates: map[string]float64{},
	}
}

// LoadRules reads a rules file (YAML, JSON or TOML) over the defaults and validates it.
// An empty path returns the validated defaults.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &domain.ErrConfig{Key: path, Message: err.Error()}
		}
		if err := v.Unmarshal(rules); err != nil {
			return nil, &domain.ErrConfig{Key: path, Message: fmt.Sprintf("decode: %v", err)}
		}
	}
	rules.normalize()
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// normalize sorts thresholds and upper-cases currency and country codes.
func (r *Rules) normalize() {
	sort.Float64s(r.Structuring.Thresholds)
	r.FX.BaseCurrency = strings.ToUpper(r.FX.BaseCurrency)
	for i, c := range r.Geo.HighRiskCountries {
		r.Geo.HighRiskCountries[i] = strings.ToUpper(c)
	}
	// viper lower-cases map keys
	rates := make(map[string]float64, len(r.ReferenceRates))
	for pair, rate := range r.ReferenceRates {
		rates[strings.ToUpper(pair)] = rate
	}
	r.ReferenceRates = rates
}

// Validate fails on any rule set the engine cannot run safely with.
func (r *Rules) Validate() error {
	s := r.Structuring
	if len(s.Thresholds) == 0 {
		return &domain.ErrConfig{Key: "structuring.thresholds", Message: "at least one reporting threshold is required"}
	}
	for i, t := range s.Thresholds {
		if t <= 0 {
			return &domain.ErrConfig{Key: "structuring.thresholds", Message: fmt.Sprintf("threshold %v must be positive", t)}
		}
		if i > 0 && t <= s.Thresholds[i-1] {
			return &domain.ErrConfig{Key: "structuring.thresholds", Message: "thresholds must be strictly ascending"}
		}
	}
	if s.Buffer <= 0 || s.Buffer >= s.Thresholds[0] {
		return &domain.ErrConfig{Key: "structuring.buffer", Message: "buffer must be positive and below the lowest threshold"}
	}
	if s.RoundUnit <= 0 || s.RoundFloor < 0 {
		return &domain.ErrConfig{Key: "structuring.round_unit", Message: "round unit must be positive and floor non-negative"}
	}
	if r.Velocity.SameDayLimit < 1 {
		return &domain.ErrConfig{Key: "velocity.same_day_limit", Message: "must be at least 1"}
	}
	if !validHour(r.OffHours.StartHour) || !validHour(r.OffHours.EndHour) {
		return &domain.ErrConfig{Key: "off_hours", Message: "hours must be within 0-23"}
	}
	if r.Statistical.MinCohort < 2 || r.Statistical.SigmaLimit <= 0 || r.Statistical.SuspiciousSigma <= 0 {
		return &domain.ErrConfig{Key: "statistical", Message: "min_cohort >= 2 and positive sigma limits required"}
	}
	if len(r.FX.Keywords) == 0 && len(r.FX.Categories) == 0 {
		return &domain.ErrConfig{Key: "fx.keywords", Message: "an FX keyword or category table is required"}
	}
	if len(r.FX.BaseCurrency) != 3 {
		return &domain.ErrConfig{Key: "fx.base_currency", Message: "must be an ISO 4217 code"}
	}
	if r.FX.OffMarketDeviation <= 0 || r.FX.OffMarketCritical < r.FX.OffMarketDeviation {
		return &domain.ErrConfig{Key: "fx.off_market_deviation", Message: "deviation must be positive and not above the critical deviation"}
	}
	if r.FX.RoundTripHighWindow <= 0 || r.FX.RoundTripWindow < r.FX.RoundTripHighWindow {
		return &domain.ErrConfig{Key: "fx.round_trip_window", Message: "round-trip windows must be positive and ordered"}
	}
	m := r.GAAP.Materiality
	if m.MediumRevenue <= 0 || m.HighRevenue < m.MediumRevenue || m.MediumIncome <= 0 || m.HighIncome < m.MediumIncome {
		return &domain.ErrConfig{Key: "gaap.materiality", Message: "materiality ratios must be positive and ordered"}
	}
	mul := r.GAAP.Multipliers
	if mul.Low < 1 || mul.Medium < mul.Low || mul.High < mul.Medium {
		return &domain.ErrConfig{Key: "gaap.multipliers", Message: "multipliers must be >= 1 and ordered"}
	}
	if r.GAAP.FiscalYearEndMonth < 1 || r.GAAP.FiscalYearEndMonth > 12 {
		return &domain.ErrConfig{Key: "gaap.fiscal_year_end_month", Message: "must be within 1-12"}
	}
	g := r.Geo
	if g.MaxSpeedKmh <= 0 || g.DrivingSpeedKmh <= 0 || g.UnusualDistanceKm <= 0 || g.FarDistanceKm < g.UnusualDistanceKm {
		return &domain.ErrConfig{Key: "geo", Message: "speeds and distances must be positive and ordered"}
	}
	if g.CentroidSize < 1 || g.CentroidMin < 1 || g.LocationHistorySize < g.CentroidSize {
		return &domain.ErrConfig{Key: "geo.centroid_size", Message: "centroid sizes must be positive and fit in the location history"}
	}
	if r.Network.VendorSimilarity <= 0 || r.Network.VendorSimilarity > 1 {
		return &domain.ErrConfig{Key: "network.vendor_similarity", Message: "must be within (0, 1]"}
	}
	if r.Network.MaxCycleLength < 2 {
		return &domain.ErrConfig{Key: "network.max_cycle_length", Message: "must be at least 2"}
	}
	if r.Feedback.BandWidth <= 0 || r.Feedback.BandWidth >= 1 {
		return &domain.ErrConfig{Key: "feedback.band_width", Message: "must be within (0, 1)"}
	}
	e := r.Escalation
	if !(e.LowLevel < e.MediumLevel && e.MediumLevel < e.HighLevel && e.HighLevel < e.CriticalLevel && e.CriticalLevel <= 100) {
		return &domain.ErrConfig{Key: "escalation", Message: "level cut-offs must be strictly ascending and at most 100"}
	}
	if !(e.ReviewScore <= e.EscalateScore && e.EscalateScore <= e.CriticalScore) {
		return &domain.ErrConfig{Key: "escalation", Message: "review <= escalate <= critical score required"}
	}
	for _, t := range e.AlwaysEscalate {
		if !domain.AnomalyType(t).Known() {
			return &domain.ErrConfig{Key: "escalation.always_escalate", Message: fmt.Sprintf("unknown anomaly type %q", t)}
		}
	}
	for pair, rate := range r.ReferenceRates {
		if rate <= 0 || !strings.Contains(pair, "/") {
			return &domain.ErrConfig{Key: "reference_rates", Message: fmt.Sprintf("invalid rate %q=%v", pair, rate)}
		}
	}
	return nil
}

func validHour(h int) bool { return h >= 0 && h <= 23 }
