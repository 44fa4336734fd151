// Package telemetry exposes Prometheus metrics for the verification and
// webhook paths. One Metrics value is shared by the identity-provider client,
// the reconciliation engine, and webhook ingestion.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	reconciliations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carelink",
			Name:      "reconciliations_total",
			Help:      "Reconciliation attempts by flow and outcome.",
		}, []string{"flow", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carelink",
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by object type, action, and outcome.",
		}, []string{"object_type", "action", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carelink",
			Name:      "provider_request_seconds",
			Help:      "Identity-provider request latency by endpoint and status.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "status"}),
	}
	reg.MustRegister(m.reconciliations, m.webhookEvents, m.providerLatency)
	return m
}

// ObserveReconciliation implements the reconciliation engine's observer.
func (m *Metrics) ObserveReconciliation(flow, outcome string) {
	m.reconciliations.WithLabelValues(flow, outcome).Inc()
}

// ObserveWebhook implements the webhook ingestion observer.
func (m *Metrics) ObserveWebhook(objectType, action, outcome string) {
	m.webhookEvents.WithLabelValues(objectType, action, outcome).Inc()
}

// ObserveProviderRequest implements the identity-provider client's observer.
// Status 0 marks transport-level failures with no HTTP response.
func (m *Metrics) ObserveProviderRequest(endpoint string, status int, d time.Duration) {
	m.providerLatency.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
