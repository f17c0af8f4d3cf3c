package observability

import (
	"testing"

	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestComponentFromBinaryName(t *testing.T) {
	assert.Equal(t, "greenctl", component([]string{"/usr/local/bin/greenctl", "migrate"}))
	assert.Equal(t, "api", component([]string{"./api"}))
	assert.Equal(t, "", component([]string{"/tmp/go-build/observability.test"}))
	assert.Equal(t, "", component(nil))
}

func TestLoadConfigUsesTelemetrySection(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "greenledger",
		Environment: "production",
		LogLevel:    "INFO",
		Telemetry: config.TelemetryConfig{
			LogFormat:    "console",
			OTLPEndpoint: "otel:4317",
			TraceEnabled: true,
			SampleRatio:  0.5,
		},
	})
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "otel:4317", cfg.OtelExporterEndpoint)
	assert.False(t, cfg.Debug())

	cfg.Component = "scheduler"
	assert.Equal(t, "greenledger-scheduler", cfg.QualifiedName())
	cfg.Component = ""
	assert.Equal(t, "greenledger", cfg.QualifiedName())
}

func TestDebugInDevelopment(t *testing.T) {
	assert.True(t, Config{Environment: "development"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "debug"}.Debug())
}
