package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultFactorsShipBaselineTable(t *testing.T) {
	f := DefaultFactors()

	expected := map[string]string{
		"laptop": "0.30", "desktop": "0.25", "monitor": "0.20", "tablet": "0.40",
		"smartphone": "0.50", "printer": "0.15", "server": "0.20", "other": "0.20",
	}
	require.Len(t, f.Ewaste, len(expected))
	for device, value := range expected {
		assert.True(t, decimal.RequireFromString(value).Equal(f.Ewaste[device]), device)
	}
	assert.True(t, f.Industry["technology"].Equal(decimal.RequireFromString("0.8")))
	assert.False(t, f.PerEmployee.Scope3.IsZero())
}

func TestFactorsFileOverridesBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("factors:\n  ewaste:\n    laptop: 0.35\n"), 0o600))

	holder, err := NewFactorsHolder(Config{FactorsFile: path}, zap.NewNop())
	require.NoError(t, err)

	f := holder.Get()
	assert.True(t, f.Ewaste["laptop"].Equal(decimal.RequireFromString("0.35")))
	assert.True(t, f.Ewaste["desktop"].Equal(decimal.RequireFromString("0.25")))
}

func TestFactorsFileRejectsNegative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("factors:\n  ewaste:\n    laptop: \"-1\"\n"), 0o600))

	_, err := NewFactorsHolder(Config{FactorsFile: path}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFactorsFileRejectsExcessPrecision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("factors:\n  ewaste:\n    laptop: \"0.12345\"\n"), 0o600))

	_, err := NewFactorsHolder(Config{FactorsFile: path}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseKeys(t *testing.T) {
	keys := parseKeys("v1:MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=,v2:ZmVkY2JhOTg3NjU0MzIxMGZlZGNiYTk4NzY1NDMyMTA=")
	require.Len(t, keys, 2)
	assert.Len(t, keys["v1"], 32)

	assert.Nil(t, parseKeys("broken"))
	assert.Empty(t, parseKeys(""))
}

func TestValidate(t *testing.T) {
	cfg := Config{
		DBType:    "sqlite",
		Vault:     VaultConfig{Keys: map[string][]byte{}},
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Import:    ImportConfig{BatchSize: 10},
		Telemetry: TelemetryConfig{LogFormat: "json", SampleRatio: 0.1},
	}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.DBType = "oracle"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Vault = VaultConfig{Keys: map[string][]byte{"v1": make([]byte, 32)}, ActiveKeyID: "v2"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Scheduler.Timezone = "Mars/Olympus"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Telemetry.LogFormat = "xml"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Telemetry.SampleRatio = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Telemetry.Protocol = "thrift"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestLoadTelemetry(t *testing.T) {
	t.Setenv("OTLP_ENDPOINT", "collector:4317")
	t.Setenv("LOG_FORMAT", "Console")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg := Load()
	assert.Equal(t, "console", cfg.Telemetry.LogFormat)
	assert.True(t, cfg.Telemetry.TraceEnabled)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.True(t, cfg.Telemetry.MetricsEnabled)

	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_PROTOCOL", "HTTP")
	cfg = Load()
	assert.False(t, cfg.Telemetry.TraceEnabled)
	assert.False(t, cfg.Telemetry.MetricsEnabled)
	assert.Equal(t, "http", cfg.Telemetry.Protocol)
}
