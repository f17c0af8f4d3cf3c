package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/greenledger/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Component   string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
	// Output overrides stdout; greenctl logs to stderr so stdout stays
	// parseable.
	Output string
}

// New builds a structured zap.Logger, installs it as the global logger and
// flushes it on shutdown.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zapCfg.Encoding = "console"
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{firstNonEmpty(cfg.Output, "stdout")}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	level := firstNonEmpty(cfg.Level, "info")
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	options := []zap.Option{}
	if cfg.IncludeCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	// Debug runs log every entry; otherwise repeated lines are sampled.
	if !cfg.Debug {
		initial := positiveOr(cfg.SamplingInitial, 100)
		thereafter := positiveOr(cfg.SamplingThereafter, 100)
		window := cfg.SamplingWindow
		if window <= 0 {
			window = time.Second
		}
		options = append(options, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewSamplerWithOptions(core, window, initial, thereafter)
		}))
	}

	logger, err := zapCfg.Build(options...)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("service", firstNonEmpty(cfg.ServiceName, "greenledger")),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	}
	if c := strings.TrimSpace(cfg.Component); c != "" {
		fields = append(fields, zap.String("component", c))
	}
	logger = logger.With(fields...)
	zap.ReplaceGlobals(logger)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = logger.Sync()
				return nil
			},
		})
	}

	return logger, nil
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds the request id, tenant, actor and trace ids carried by
// ctx. Fields that are not set are left out.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	if v := obscontext.RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := obscontext.CompanyIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("company_id", v))
	}
	if kind, id := obscontext.ActorFromContext(ctx); kind != "" {
		fields = append(fields, zap.String("actor_type", kind), zap.String("actor_id", id))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

func firstNonEmpty(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
