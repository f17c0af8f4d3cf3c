package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/v1/carbon/footprints/:id", func(c *gin.Context) {
		c.Set("company_id", "company-1")
		_ = c.Error(apperr.Transient(assert.AnError))
		c.Status(http.StatusServiceUnavailable)
	})
	r.GET("/api/v1/ewaste/summary", func(c *gin.Context) {
		_ = c.Error(apperr.New(apperr.KindValidation, "bad_period"))
		c.Status(http.StatusBadRequest)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/carbon/footprints/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/ewaste/summary", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	first := spans[0]
	assert.Equal(t, "HTTP GET /api/v1/carbon/footprints/:id", first.Name())
	assert.Equal(t, codes.Error, first.Status().Code)
	attrs := map[string]string{}
	for _, kv := range first.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "company-1", attrs["greenledger.company_id"])
	assert.Equal(t, "transient_storage", attrs["greenledger.error_kind"])

	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}
