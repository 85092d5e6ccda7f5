package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Anomaly taxonomy
// ============================================================

// Severity of a single anomaly.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyType is the closed taxonomy of signals the detectors can emit.
type AnomalyType string

const (
	AnomalyStatisticalOutlier AnomalyType = "STATISTICAL_OUTLIER"

	AnomalyThresholdEvasion AnomalyType = "THRESHOLD_EVASION"
	AnomalyRoundDollar      AnomalyType = "ROUND_DOLLAR"
	AnomalyHighFrequency    AnomalyType = "HIGH_FREQUENCY"
	AnomalyOffHours         AnomalyType = "OFF_HOURS"

	AnomalyFXRateArbitrage    AnomalyType = "FX_RATE_ARBITRAGE"
	AnomalyFXOffMarketRate    AnomalyType = "FX_OFF_MARKET_RATE"
	AnomalyFXCurrencyLayering AnomalyType = "FX_CURRENCY_LAYERING"
	AnomalyFXStructuring      AnomalyType = "FX_STRUCTURING"
	AnomalyFXRoundTrip        AnomalyType = "FX_ROUND_TRIP"
	AnomalyFXLowLiquidity     AnomalyType = "FX_LOW_LIQUIDITY"
	AnomalyFXHighFrequency    AnomalyType = "FX_HIGH_FREQUENCY"

	AnomalyGAAPPrematureRevenue       AnomalyType = "GAAP_PREMATURE_REVENUE"
	AnomalyGAAPChannelStuffing        AnomalyType = "GAAP_CHANNEL_STUFFING"
	AnomalyGAAPExpenseTiming          AnomalyType = "GAAP_EXPENSE_TIMING"
	AnomalyGAAPImproperCapitalization AnomalyType = "GAAP_IMPROPER_CAPITALIZATION"
	AnomalyGAAPRelatedParty           AnomalyType = "GAAP_RELATED_PARTY"
	AnomalyGAAPNonArmsLength          AnomalyType = "GAAP_NON_ARMS_LENGTH"
	AnomalyGAAPPeriodEndConcentration AnomalyType = "GAAP_PERIOD_END_CONCENTRATION"
	AnomalyGAAPSignificantAsset       AnomalyType = "GAAP_SIGNIFICANT_ASSET"

	AnomalyMissingLocation       AnomalyType = "MISSING_LOCATION_DATA"
	AnomalyImpossibleTravel      AnomalyType = "IMPOSSIBLE_TRAVEL"
	AnomalyUnusualLocation       AnomalyType = "UNUSUAL_LOCATION"
	AnomalyHighRiskLocation      AnomalyType = "HIGH_RISK_LOCATION"
	AnomalySimultaneousLocations AnomalyType = "SIMULTANEOUS_LOCATIONS"
	AnomalyUnusualForeign        AnomalyType = "UNUSUAL_FOREIGN_TRANSACTION"
	AnomalyLocationVelocity      AnomalyType = "LOCATION_VELOCITY"

	AnomalyFrequencySpike        AnomalyType = "FREQUENCY_SPIKE"
	AnomalyVendorConcentration   AnomalyType = "VENDOR_CONCENTRATION"
	AnomalyNewVendorLargePayment AnomalyType = "NEW_VENDOR_LARGE_PAYMENT"
	AnomalyUnusualTimePattern    AnomalyType = "UNUSUAL_TIME_PATTERN"
	AnomalySuspiciousVendor      AnomalyType = "SUSPICIOUS_VENDOR"

	AnomalyCrossEntityStructuring AnomalyType = "CROSS_ENTITY_STRUCTURING"
	AnomalyCircularPayment        AnomalyType = "CIRCULAR_PAYMENT"
	AnomalyVendorNameSimilarity   AnomalyType = "VENDOR_NAME_SIMILARITY"
)

// Families used for sub-scores.
const (
	FamilyStatistical = "statistical"
	FamilyStructuring = "structuring"
	FamilyFX          = "fx"
	FamilyGAAP        = "gaap"
	FamilyGeo         = "geo"
	FamilyBehavioral  = "behavioral"
	FamilyNetwork     = "network"
)

var anomalyFamilies = map[AnomalyType]string{
	AnomalyStatisticalOutlier: FamilyStatistical,

	AnomalyThresholdEvasion: FamilyStructuring,
	AnomalyRoundDollar:      FamilyStructuring,
	AnomalyHighFrequency:    FamilyStructuring,
	AnomalyOffHours:         FamilyStructuring,

	AnomalyFXRateArbitrage:    FamilyFX,
	AnomalyFXOffMarketRate:    FamilyFX,
	AnomalyFXCurrencyLayering: FamilyFX,
	AnomalyFXStructuring:      FamilyFX,
	AnomalyFXRoundTrip:        FamilyFX,
	AnomalyFXLowLiquidity:     FamilyFX,
	AnomalyFXHighFrequency:    FamilyFX,

	AnomalyGAAPPrematureRevenue:       FamilyGAAP,
	AnomalyGAAPChannelStuffing:        FamilyGAAP,
	AnomalyGAAPExpenseTiming:          FamilyGAAP,
	AnomalyGAAPImproperCapitalization: FamilyGAAP,
	AnomalyGAAPRelatedParty:           FamilyGAAP,
	AnomalyGAAPNonArmsLength:          FamilyGAAP,
	AnomalyGAAPPeriodEndConcentration: FamilyGAAP,
	AnomalyGAAPSignificantAsset:       FamilyGAAP,

	AnomalyMissingLocation:       FamilyGeo,
	AnomalyImpossibleTravel:      FamilyGeo,
	AnomalyUnusualLocation:       FamilyGeo,
	AnomalyHighRiskLocation:      FamilyGeo,
	AnomalySimultaneousLocations: FamilyGeo,
	AnomalyUnusualForeign:        FamilyGeo,
	AnomalyLocationVelocity:      FamilyGeo,

	AnomalyFrequencySpike:        FamilyBehavioral,
	AnomalyVendorConcentration:   FamilyBehavioral,
	AnomalyNewVendorLargePayment: FamilyBehavioral,
	AnomalyUnusualTimePattern:    FamilyBehavioral,
	AnomalySuspiciousVendor:      FamilyBehavioral,

	AnomalyCrossEntityStructuring: FamilyNetwork,
	AnomalyCircularPayment:        FamilyNetwork,
	AnomalyVendorNameSimilarity:   FamilyNetwork,
}

// Family returns the detector family the type belongs to.
func (t AnomalyType) Family() string {
	if f, ok := anomalyFamilies[t]; ok {
		return f
	}
	return "other"
}

// Known reports whether t is part of the taxonomy.
func (t AnomalyType) Known() bool {
	_, ok := anomalyFamilies[t]
	return ok
}

// ============================================================
// Evidence (tagged union per detector family)
// ============================================================

// EvidenceKind discriminates Evidence payloads.
type EvidenceKind string

const (
	EvidenceStatistical EvidenceKind = "statistical"
	EvidenceThreshold   EvidenceKind = "threshold"
	EvidenceFrequency   EvidenceKind = "frequency"
	EvidenceTiming      EvidenceKind = "timing"
	EvidenceFX          EvidenceKind = "fx"
	EvidenceGAAP        EvidenceKind = "gaap"
	EvidenceGeo         EvidenceKind = "geo"
	EvidenceBehavioral  EvidenceKind = "behavioral"
	EvidenceNetwork     EvidenceKind = "network"
)

// Evidence is the detector-specific payload attached to an Anomaly.
// The aggregator treats it as opaque; reports type-switch on the concrete value.
type Evidence interface {
	Kind() EvidenceKind
}

// StatisticalEvidence backs STATISTICAL_OUTLIER.
type StatisticalEvidence struct {
	Cohort        string  `json:"cohort"` // vendor:<name> or category:<name>
	CohortSize    int     `json:"cohort_size"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"stddev"`
	SigmaDistance float64 `json:"sigma_distance"`
	SigmaLimit    float64 `json:"sigma_limit"`
}

func (StatisticalEvidence) Kind() EvidenceKind { return EvidenceStatistical }

// ThresholdEvidence backs THRESHOLD_EVASION and ROUND_DOLLAR.
type ThresholdEvidence struct {
	Amount    decimal.Decimal `json:"amount"`
	Threshold decimal.Decimal `json:"threshold,omitempty"`
	Buffer    decimal.Decimal `json:"buffer,omitempty"`
	RoundUnit decimal.Decimal `json:"round_unit,omitempty"`
}

func (ThresholdEvidence) Kind() EvidenceKind { return EvidenceThreshold }

// FrequencyEvidence backs HIGH_FREQUENCY.
type FrequencyEvidence struct {
	Vendor string `json:"vendor"`
	Day    string `json:"day"`
	Count  int    `json:"count"`
	Limit  int    `json:"limit"`
}

func (FrequencyEvidence) Kind() EvidenceKind { return EvidenceFrequency }

// TimingEvidence backs OFF_HOURS.
type TimingEvidence struct {
	Hour    int    `json:"hour"`
	Weekday string `json:"weekday"`
}

func (TimingEvidence) Kind() EvidenceKind { return EvidenceTiming }

// FXEvidence backs every FX_* anomaly.
type FXEvidence struct {
	Check          string          `json:"check"`
	Pair           string          `json:"pair,omitempty"`
	AppliedRate    decimal.Decimal `json:"applied_rate,omitempty"`
	ReferenceRate  decimal.Decimal `json:"reference_rate,omitempty"`
	Deviation      float64         `json:"deviation,omitempty"`
	Currencies     []string        `json:"currencies,omitempty"`
	Count          int             `json:"count,omitempty"`
	Total          decimal.Decimal `json:"total,omitempty"`
	ElapsedHours   float64         `json:"elapsed_hours,omitempty"`
	RelatedTxnIDs  []string        `json:"related_transaction_ids,omitempty"`
	ReportingLimit decimal.Decimal `json:"reporting_limit,omitempty"`
}

func (FXEvidence) Kind() EvidenceKind { return EvidenceFX }

// MaterialityLevel of an amount relative to the company financials.
type MaterialityLevel string

const (
	MaterialityLow     MaterialityLevel = "LOW"
	MaterialityMedium  MaterialityLevel = "MEDIUM"
	MaterialityHigh    MaterialityLevel = "HIGH"
	MaterialityUnknown MaterialityLevel = "UNKNOWN"
)

// GAAPEvidence backs every GAAP_* anomaly.
type GAAPEvidence struct {
	Standard        string           `json:"standard"`
	Materiality     MaterialityLevel `json:"materiality"`
	RevenueRatio    float64          `json:"revenue_ratio,omitempty"`
	IncomeRatio     float64          `json:"income_ratio,omitempty"`
	PeriodEnd       time.Time        `json:"period_end,omitempty"`
	DaysToPeriodEnd int              `json:"days_to_period_end,omitempty"`
	Baseline        float64          `json:"baseline,omitempty"`
	Count           int              `json:"count,omitempty"`
	Keyword         string           `json:"keyword,omitempty"`
}

func (GAAPEvidence) Kind() EvidenceKind { return EvidenceGAAP }

// GeoEvidence backs every location anomaly.
type GeoEvidence struct {
	Check        string       `json:"check"`
	DistanceKm   float64      `json:"distance_km,omitempty"`
	SpeedKmh     float64      `json:"speed_kmh,omitempty"`
	ElapsedHours float64      `json:"elapsed_hours,omitempty"`
	From         *GeoLocation `json:"from,omitempty"`
	To           *GeoLocation `json:"to,omitempty"`
	Country      string       `json:"country,omitempty"`
	HomeCountry  string       `json:"home_country,omitempty"`
	Matched      string       `json:"matched,omitempty"`
}

func (GeoEvidence) Kind() EvidenceKind { return EvidenceGeo }

// BehavioralEvidence backs vendor/timing behavior anomalies.
type BehavioralEvidence struct {
	Vendor   string  `json:"vendor,omitempty"`
	Count    int     `json:"count,omitempty"`
	Mean     float64 `json:"mean,omitempty"`
	StdDev   float64 `json:"stddev,omitempty"`
	Share    float64 `json:"share,omitempty"`
	Hour     int     `json:"hour,omitempty"`
	Multiple float64 `json:"multiple,omitempty"`
}

func (BehavioralEvidence) Kind() EvidenceKind { return EvidenceBehavioral }

// NetworkEvidence backs cross-entity and graph anomalies.
type NetworkEvidence struct {
	Counterparty  string          `json:"counterparty,omitempty"`
	Accounts      []string        `json:"accounts,omitempty"`
	Cycle         []string        `json:"cycle,omitempty"`
	Total         decimal.Decimal `json:"total,omitempty"`
	SimilarTo     string          `json:"similar_to,omitempty"`
	Similarity    float64         `json:"similarity,omitempty"`
	RelatedTxnIDs []string        `json:"related_transaction_ids,omitempty"`
}

func (NetworkEvidence) Kind() EvidenceKind { return EvidenceNetwork }

// ============================================================
// Anomaly
// ============================================================

// Anomaly is one signal emitted by one detector for one transaction.
type Anomaly struct {
	Type       AnomalyType `json:"type"`
	Severity   Severity    `json:"severity"`
	Score      float64     `json:"score"`
	Detail     string      `json:"detail"`
	DetectorID string      `json:"detector_id"`
	Evidence   Evidence    `json:"-"`
}

type anomalyJSON struct {
	Type         AnomalyType     `json:"type"`
	Severity     Severity        `json:"severity"`
	Score        float64         `json:"score"`
	Detail       string          `json:"detail"`
	DetectorID   string          `json:"detector_id"`
	EvidenceKind EvidenceKind    `json:"evidence_kind,omitempty"`
	Evidence     json.RawMessage `json:"evidence,omitempty"`
}

// MarshalJSON writes the evidence alongside its discriminator.
func (a Anomaly) MarshalJSON() ([]byte, error) {
	out := anomalyJSON{
		Type:       a.Type,
		Severity:   a.Severity,
		Score:      a.Score,
		Detail:     a.Detail,
		DetectorID: a.DetectorID,
	}
	if a.Evidence != nil {
		raw, err := json.Marshal(a.Evidence)
		if err != nil {
			return nil, err
		}
		out.EvidenceKind = a.Evidence.Kind()
		out.Evidence = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the concrete evidence type from its discriminator.
func (a *Anomaly) UnmarshalJSON(data []byte) error {
	var in anomalyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*a = Anomaly{
		Type:       in.Type,
		Severity:   in.Severity,
		Score:      in.Score,
		Detail:     in.Detail,
		DetectorID: in.DetectorID,
	}
	if in.EvidenceKind == "" || len(in.Evidence) == 0 {
		return nil
	}
	ev, err := decodeEvidence(in.EvidenceKind, in.Evidence)
	if err != nil {
		return err
	}
	a.Evidence = ev
	return nil
}

func decodeEvidence(kind EvidenceKind, raw json.RawMessage) (Evidence, error) {
	switch kind {
	case EvidenceStatistical:
		return decodeAs[StatisticalEvidence](kind, raw)
	case EvidenceThreshold:
		return decodeAs[ThresholdEvidence](kind, raw)
	case EvidenceFrequency:
		return decodeAs[FrequencyEvidence](kind, raw)
	case EvidenceTiming:
		return decodeAs[TimingEvidence](kind, raw)
	case EvidenceFX:
		return decodeAs[FXEvidence](kind, raw)
	case EvidenceGAAP:
		return decodeAs[GAAPEvidence](kind, raw)
	case EvidenceGeo:
		return decodeAs[GeoEvidence](kind, raw)
	case EvidenceBehavioral:
		return decodeAs[BehavioralEvidence](kind, raw)
	case EvidenceNetwork:
		return decodeAs[NetworkEvidence](kind, raw)
	}
	return nil, fmt.Errorf("unknown evidence kind %q", kind)
}

func decodeAs[T Evidence](kind EvidenceKind, raw json.RawMessage) (Evidence, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s evidence: %w", kind, err)
	}
	return v, nil
}
