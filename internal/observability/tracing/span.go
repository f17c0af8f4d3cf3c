package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"password":      {},
	"authorization": {},
	"email":         {},
}

// ExtractContext pulls an upstream span context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that may carry credentials or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attribute.Key(strings.ToLower(string(attr.Key)))]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its message chain without wrapped payloads.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(err.Error())
}

// StartClientSpan opens a span for an outbound call.
func StartClientSpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName+"/"+component).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(SafeAttributes(attrs...)...),
	)
}

// End finishes span, recording err when set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, "call failed")
	}
	span.End()
}
