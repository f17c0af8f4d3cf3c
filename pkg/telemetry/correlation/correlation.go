// Package correlation ties log lines, spans and error reports from one
// request or job run together.
package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

type correlationKey struct{}

// NewID returns a fresh ULID. IDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}

// ExtractCorrelationID returns the id stored on ctx, or "".
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(correlationKey{}).(string)
	return v
}

// ContextWithCorrelationID stores id on ctx. An empty id leaves ctx as is.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// IssuedAt reports when a ULID correlation id was minted. Ids that are not
// ULIDs, such as a caller-supplied X-Request-Id, report false.
func IssuedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
