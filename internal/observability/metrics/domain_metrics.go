package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics counts outcomes of the engine's external calls and pipelines.
type DomainMetrics struct {
	advisorCalls   *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	importRows     *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

var (
	domainMetricsOnce sync.Once
	domainMetrics     *DomainMetrics
)

// Domain returns the singleton domain metrics registry.
func Domain() *DomainMetrics {
	return DomainWithConfig(Config{})
}

func DomainWithConfig(cfg Config) *DomainMetrics {
	domainMetricsOnce.Do(func() {
		domainMetrics = newDomainMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return domainMetrics
}

func newDomainMetrics(registerer prometheus.Registerer, cfg Config) *DomainMetrics {
	labels := cfg.constLabels()
	return &DomainMetrics{
		advisorCalls: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_advisor_calls_total",
			Help:        "Advisor calls by operation and outcome (ok or fallback).",
			ConstLabels: labels,
		}, []string{"operation", "outcome", "reason"})),
		tokenRefreshes: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_integration_token_refreshes_total",
			Help:        "Outbound OAuth token refreshes by provider and outcome.",
			ConstLabels: labels,
		}, []string{"provider", "outcome"})),
		importRows: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_import_rows_total",
			Help:        "Bulk import rows by data type and outcome.",
			ConstLabels: labels,
		}, []string{"data_type", "outcome"})),
		notifications: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_notifications_emitted_total",
			Help:        "Notifications handed to the delivery collaborator.",
			ConstLabels: labels,
		}, []string{"kind"})),
		rateLimited: registerCounterVec(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "greenledger_rate_limited_total",
			Help:        "Requests denied by a rate limiter.",
			ConstLabels: labels,
		}, []string{"endpoint", "reason"})),
	}
}

func (m *DomainMetrics) RecordAdvisorCall(operation, outcome, reason string) {
	if m == nil {
		return
	}
	m.advisorCalls.WithLabelValues(operation, outcome, reason).Inc()
}

func (m *DomainMetrics) RecordTokenRefresh(provider, outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

func (m *DomainMetrics) AddImportRows(dataType, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.importRows.WithLabelValues(dataType, outcome).Add(float64(count))
}

func (m *DomainMetrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *DomainMetrics) RecordRateLimited(endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint, reason).Inc()
}
