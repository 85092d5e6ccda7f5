package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/config"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadRules_DefaultsWhenNoFile(t *testing.T) {
	rules, err := config.LoadRules("")
	require.NoError(t, err)

	assert.Equal(t, []float64{5000, 10000, 25000, 50000}, rules.Structuring.Thresholds)
	assert.Equal(t, 100.0, rules.Structuring.Buffer)
	assert.Equal(t, 900.0, rules.Geo.MaxSpeedKmh)
	assert.Equal(t, 5000.0, rules.Structuring.LowestThreshold())
}

func TestLoadRules_YAMLOverridesDefaults(t *testing.T) {
	path := writeRules(t, "rules.yaml", `
structuring:
  thresholds: [15000, 3000]
  buffer: 50
fx:
  layering_window: 12h
reference_rates:
  eur/usd: 1.08
escalation:
  always_escalate: [CIRCULAR_PAYMENT]
`)

	rules, err := config.LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, []float64{3000, 15000}, rules.Structuring.Thresholds, "thresholds are sorted")
	assert.Equal(t, 50.0, rules.Structuring.Buffer)
	assert.Equal(t, 1000.0, rules.Structuring.RoundUnit, "untouched keys keep defaults")
	assert.Equal(t, 12*time.Hour, rules.FX.LayeringWindow)
	assert.Equal(t, 1.08, rules.ReferenceRates["EUR/USD"])
	assert.Equal(t, []string{"CIRCULAR_PAYMENT"}, rules.Escalation.AlwaysEscalate)
}

func TestLoadRules_MissingFileFailsLoudly(t *testing.T) {
	_, err := config.LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))

	var cfgErr *domain.ErrConfig
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRules_EmptyThresholdTable(t *testing.T) {
	path := writeRules(t, "rules.json", `{"structuring": {"thresholds": []}}`)

	_, err := config.LoadRules(path)

	var cfgErr *domain.ErrConfig
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "structuring.thresholds", cfgErr.Key)
}

func TestValidate_RejectsBrokenRules(t *testing.T) {
	cases := map[string]func(r *config.Rules){
		"negative threshold":    func(r *config.Rules) { r.Structuring.Thresholds = []float64{-1, 10} },
		"buffer above lowest":   func(r *config.Rules) { r.Structuring.Buffer = 6000 },
		"zero round unit":       func(r *config.Rules) { r.Structuring.RoundUnit = 0 },
		"multiplier below one":  func(r *config.Rules) { r.GAAP.Multipliers.Low = 0.9 },
		"zero max speed":        func(r *config.Rules) { r.Geo.MaxSpeedKmh = 0 },
		"unknown escalate type": func(r *config.Rules) { r.Escalation.AlwaysEscalate = []string{"NOPE"} },
		"levels out of order":   func(r *config.Rules) { r.Escalation.HighLevel = 95 },
		"no fx tables": func(r *config.Rules) {
			r.FX.Keywords = nil
			r.FX.Categories = nil
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rules := config.DefaultRules()
			mutate(rules)
			assert.Error(t, rules.Validate())
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HISTORY_WINDOW_SIZE", "25")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RATES_CACHE_TTL", "30s")

	cfg := config.Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 25, cfg.HistoryWindowSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.RatesCacheTTL)
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	assert.NoError(t, config.LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv_DoesNotOverrideEnv(t *testing.T) {
	path := writeRules(t, ".env", "RISK_TEST_KEY=from-file\nRISK_TEST_OTHER=other\n")
	t.Setenv("RISK_TEST_KEY", "from-env")

	require.NoError(t, config.LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("RISK_TEST_OTHER") })

	assert.Equal(t, "from-env", os.Getenv("RISK_TEST_KEY"))
	assert.Equal(t, "other", os.Getenv("RISK_TEST_OTHER"))
}
