package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// OTLPConfig configures the meter provider that exports business counters.
type OTLPConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Interval         time.Duration
}

// NewMeterProvider registers an OTLP meter provider, or a no-op provider
// when export is disabled.
func NewMeterProvider(lc fx.Lifecycle, cfg OTLPConfig, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.ExporterEndpoint) == "" {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics export initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(), otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	case "grpc", "grpc/protobuf", "":
		return otlpmetricgrpc.New(context.Background(), otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Business counts ledger outcomes in tonnes of CO2e. A nil *Business is a
// valid no-op.
type Business struct {
	verifiedEmissions metric.Float64Counter
	offsetsRetired    metric.Float64Counter
	ewasteCredits     metric.Float64Counter
	transitions       metric.Int64Counter
}

func NewBusiness(cfg OTLPConfig, provider metric.MeterProvider) (*Business, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "greenledger"
	}
	meter := provider.Meter(name)

	verified, err := meter.Float64Counter("greenledger_verified_emissions_tco2e",
		metric.WithDescription("Emissions on footprints at the moment they are verified."),
		metric.WithUnit("t"))
	if err != nil {
		return nil, err
	}
	retired, err := meter.Float64Counter("greenledger_offsets_retired_tco2e",
		metric.WithDescription("Offset volume on completed purchases."),
		metric.WithUnit("t"))
	if err != nil {
		return nil, err
	}
	credits, err := meter.Float64Counter("greenledger_ewaste_credits_total",
		metric.WithDescription("Credits generated by recorded e-waste entries."))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("greenledger_footprint_transitions_total",
		metric.WithDescription("Footprint status changes by target status."))
	if err != nil {
		return nil, err
	}

	return &Business{
		verifiedEmissions: verified,
		offsetsRetired:    retired,
		ewasteCredits:     credits,
		transitions:       transitions,
	}, nil
}

func (b *Business) RecordFootprintTransition(ctx context.Context, status string, total decimal.Decimal) {
	if b == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	b.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if status == "verified" {
		b.verifiedEmissions.Add(ctx, total.InexactFloat64())
	}
}

func (b *Business) RecordOffsetsRetired(ctx context.Context, offsetType string, amount decimal.Decimal) {
	if b == nil || !amount.IsPositive() {
		return
	}
	attrs := FilterAttributes(attribute.String("offset_type", strings.TrimSpace(offsetType)))
	b.offsetsRetired.Add(ctx, amount.InexactFloat64(), metric.WithAttributes(attrs...))
}

func (b *Business) RecordEwasteCredits(ctx context.Context, deviceType string, credits decimal.Decimal) {
	if b == nil || !credits.IsPositive() {
		return
	}
	attrs := FilterAttributes(attribute.String("device_type", strings.TrimSpace(deviceType)))
	b.ewasteCredits.Add(ctx, credits.InexactFloat64(), metric.WithAttributes(attrs...))
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":      {},
	"offset_type": {},
	"device_type": {},
}

// FilterAttributes strips labels that would raise cardinality, company ids
// included.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
