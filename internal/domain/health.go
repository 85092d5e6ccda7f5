package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// EngineMetrics is returned by GET /v1/metrics/engine.
type EngineMetrics struct {
	Assessments        int64            `json:"assessments"`
	ByLevel            map[string]int64 `json:"byLevel"`
	Alerts             int64            `json:"alerts"`
	ReviewRate         float64          `json:"reviewRate"`
	DegradedByDetector map[string]int64 `json:"degradedByDetector"`
	Feedback           map[string]int64 `json:"feedback"`
	FalsePositiveRate  float64          `json:"falsePositiveRate"`
	RatesCacheHitRate  float64          `json:"ratesCacheHitRate"`
	Period             string           `json:"period"`
}

// AlertList is returned by GET /v1/entities/{entityId}/alerts.
type AlertList struct {
	Alerts []AlertRecord `json:"alerts"`
	Total  int           `json:"total"`
}
