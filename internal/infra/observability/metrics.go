package observability

import (
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	detectorDuration *prometheus.HistogramVec
	assessments      *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	degraded         *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	feedback         *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// engine metrics in it. A private registry lets tests call NewMetrics
// repeatedly without "duplicate collector" panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "risk_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		detectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "risk_detector_duration_seconds",
				Help:    "Duration of a single detector run.",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"detector"},
		),
		assessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_assessments_total",
				Help: "Assessments produced, by risk level.",
			},
			[]string{"level"},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_anomalies_total",
				Help: "Anomalies emitted, by type.",
			},
			[]string{"type"},
		),
		degraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_detector_degraded_total",
				Help: "Checks skipped or run with reduced confidence, by detector.",
			},
			[]string{"detector"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_alerts_total",
				Help: "Alerts published, by priority.",
			},
			[]string{"priority"},
		),
		feedback: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_feedback_total",
				Help: "Reviewer feedback events, by disposition.",
			},
			[]string{"disposition"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of a service operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordDetector records one detector run and what it produced.
func (m *Metrics) RecordDetector(detector string, d time.Duration, anomalies []domain.Anomaly, degraded int) {
	m.detectorDuration.WithLabelValues(detector).Observe(d.Seconds())
	for _, an := range anomalies {
		m.anomalies.WithLabelValues(string(an.Type)).Inc()
	}
	if degraded > 0 {
		m.degraded.WithLabelValues(detector).Add(float64(degraded))
	}
}

func (m *Metrics) IncrAssessment(level domain.RiskLevel) {
	m.assessments.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) IncrAlert(priority domain.Priority) {
	m.alerts.WithLabelValues(string(priority)).Inc()
}

func (m *Metrics) IncrFeedback(d domain.Disposition) {
	m.feedback.WithLabelValues(string(d)).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot reads the cumulative counters back for GET /v1/metrics/engine.
func (m *Metrics) Snapshot() *domain.EngineMetrics {
	byLevel := counterValues(m.assessments)
	alerts := counterValues(m.alerts)
	feedback := counterValues(m.feedback)
	degraded := counterValues(m.degraded)

	out := &domain.EngineMetrics{
		ByLevel:            toInt64(byLevel),
		DegradedByDetector: toInt64(degraded),
		Feedback:           toInt64(feedback),
		Period:             "all_time",
	}
	for _, v := range byLevel {
		out.Assessments += int64(v)
	}
	for _, v := range alerts {
		out.Alerts += int64(v)
	}
	if out.Assessments > 0 {
		out.ReviewRate = float64(out.Alerts) / float64(out.Assessments)
	}

	confirmed := feedback[string(domain.DispositionConfirmed)]
	if total := confirmed + feedback[string(domain.DispositionFlagged)]; total > 0 {
		out.FalsePositiveRate = confirmed / total
	}

	hits := getCounterValue(m.cacheHits, "rates")
	misses := getCounterValue(m.cacheMisses, "rates")
	if hits+misses > 0 {
		out.RatesCacheHitRate = hits / (hits + misses)
	}
	return out
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// counterValues returns every child of a single-label CounterVec keyed by label value.
func counterValues(cv *prometheus.CounterVec) map[string]float64 {
	ch := make(chan prometheus.Metric, 32)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	out := make(map[string]float64)
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil || len(m.Label) == 0 {
			continue
		}
		out[m.Label[0].GetValue()] += m.Counter.GetValue()
	}
	return out
}

func toInt64(in map[string]float64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = int64(v)
	}
	return out
}
