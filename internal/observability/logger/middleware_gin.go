package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/greenledger/internal/observability/context"
	"github.com/smallbiznis/greenledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps a handler error to its kind and code.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware assigns the request id and writes one access line per
// request. Tenant and actor fields come from the context the auth layer
// leaves behind.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = correlation.ContextWithCorrelationID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}

		var errorKind string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorKind, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorKind),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug && status >= http.StatusInternalServerError {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		logRequest(FromContext(c.Request.Context()), route, status, errorKind, fields)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" || len(requestID) > 128 {
		requestID = correlation.NewID()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

func logRequest(log *zap.Logger, route string, status int, errorKind string, fields []zap.Field) {
	if log == nil {
		return
	}
	if ce := log.Check(requestLevel(route, status, errorKind), "http_request"); ce != nil {
		ce.Write(fields...)
	}
}

// requestLevel keeps probes and expected import validation failures out of
// the info stream and raises auth failures to warn.
func requestLevel(route string, status int, errorKind string) zapcore.Level {
	switch {
	case route == "/metrics" || strings.HasPrefix(route, "/api/v1/health"):
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return zap.WarnLevel
	case errorKind == "validation_error" && strings.HasPrefix(route, "/api/v1/imports/"):
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}
