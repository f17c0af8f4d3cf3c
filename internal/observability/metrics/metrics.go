package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() prometheus.Labels {
	serviceName := strings.TrimSpace(c.ServiceName)
	if serviceName == "" {
		serviceName = "greenledger"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// HTTPMetrics records inbound request counts and latency.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers HTTP instruments on the default registry.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	labels := cfg.constLabels()
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: labels,
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "greenledger_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "route"}),
	}
	m.requests = registerCounterVec(registerer, m.requests)
	m.duration = registerHistogramVec(registerer, m.duration)
	return m
}

// GinMiddleware records request metrics using the matched route template.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func registerCounterVec(registerer prometheus.Registerer, vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return vec
}

func registerHistogramVec(registerer prometheus.Registerer, vec *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(vec); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return vec
}
