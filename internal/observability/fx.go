package observability

import (
	"github.com/smallbiznis/greenledger/internal/observability/logger"
	"github.com/smallbiznis/greenledger/internal/observability/metrics"
	"github.com/smallbiznis/greenledger/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewHTTPMetrics,
		provideOTLPMetricsConfig,
		metrics.NewMeterProvider,
		metrics.NewBusiness,
	),
	fx.Invoke(ensureTracingProvider),
	fx.Invoke(ensureMetrics),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLoggerConfig(cfg Config) logger.Config {
	output := ""
	if cfg.Component == "greenctl" {
		output = "stderr"
	}
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Component:           cfg.Component,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
		Output:              output,
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.QualifiedName(),
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}
}

func provideOTLPMetricsConfig(cfg Config) metrics.OTLPConfig {
	return metrics.OTLPConfig{
		Enabled:          cfg.OtelMetricsEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.QualifiedName(),
	}
}

func ensureMetrics(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
	metrics.DomainWithConfig(cfg)
}
