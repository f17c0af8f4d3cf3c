package observability

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/smallbiznis/greenledger/internal/config"
)

// Config is the telemetry view of the application config. Component names
// the running binary so api, scheduler and greenctl traces stay apart.
type Config struct {
	ServiceName string
	Component   string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelMetricsEnabled   bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "greenledger"
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := cfg.Telemetry.LogFormat
	if logFormat == "" {
		logFormat = "json"
	}

	return Config{
		ServiceName:          serviceName,
		Component:            component(os.Args),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             logLevel,
		LogFormat:            logFormat,
		OtelEnabled:          cfg.Telemetry.TraceEnabled,
		OtelMetricsEnabled:   cfg.Telemetry.MetricsEnabled,
		OtelExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
		OtelExporterProtocol: cfg.Telemetry.Protocol,
		OtelSamplingRatio:    cfg.Telemetry.SampleRatio,
	}
}

// QualifiedName is the service name reported to the trace backend.
func (c Config) QualifiedName() string {
	if c.Component == "" || c.Component == c.ServiceName {
		return c.ServiceName
	}
	return c.ServiceName + "-" + c.Component
}

func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func component(args []string) string {
	if len(args) == 0 {
		return ""
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	if strings.HasSuffix(name, ".test") || name == "main" {
		return ""
	}
	return name
}
