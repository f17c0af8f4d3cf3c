// Package context carries request-scoped correlation fields.
package context

import (
	"context"
	"strings"
)

type (
	requestIDKey struct{}
	companyIDKey struct{}
	actorKey     struct{}
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey{}, strings.TrimSpace(companyID))
}

func CompanyIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(companyIDKey{}).(string)
	return v
}

// WithActor records who is acting: "user", "scheduler" or "cli".
func WithActor(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{kind: kind, id: id})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	a, _ := ctx.Value(actorKey{}).(actor)
	return a.kind, a.id
}
