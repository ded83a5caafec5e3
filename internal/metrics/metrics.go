package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe on a nil receiver so components can run without
// a registry.
type Metrics struct {
	registry     *prometheus.Registry
	tokensIssued *prometheus.CounterVec
	grantErrors  *prometheus.CounterVec
	validations  *prometheus.CounterVec
	lockouts     prometheus.Counter
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued, by grant type and token type.",
		}, []string{"grant_type", "token_type"}),
		grantErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_errors_total",
			Help:      "Rejected token requests, by grant type and OAuth error code.",
		}, []string{"grant_type", "error"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_validations_total",
			Help:      "Access token validations, by result.",
		}, []string{"result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_lockouts_total",
			Help:      "Accounts locked out after repeated failed sign-ins.",
		}),
	}
	reg.MustRegister(
		m.tokensIssued,
		m.grantErrors,
		m.validations,
		m.lockouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) TokenIssued(grantType, tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType, tokenType).Inc()
}

func (m *Metrics) GrantFailed(grantType, code string) {
	if m == nil {
		return
	}
	m.grantErrors.WithLabelValues(grantType, code).Inc()
}

func (m *Metrics) Validated(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Metrics) LockedOut() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
