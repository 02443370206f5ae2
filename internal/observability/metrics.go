// Package observability provides Prometheus and OpenTelemetry backends for
// the service's metrics and tracing hooks.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records one counter and one latency histogram per service
// operation.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	linksGauge        *prometheus.GaugeVec
}

// NewMetrics creates the collectors under namespace and registers them.
func NewMetrics(registry prometheus.Registerer, namespace string) (*Metrics, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "coexcore"
	}
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of service operations",
			},
			[]string{"operation", "status"}, // status: success, error
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time taken by service operations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15),
			},
			[]string{"operation"},
		),
		linksGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "links",
				Help:      "Live coexpression links per taxon partition",
			},
			[]string{"taxon"},
		),
	}
	for _, c := range []prometheus.Collector{m.operationsTotal, m.operationDuration, m.linksGauge} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe implements the service metrics hook.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetLinkCounts publishes per-taxon link totals, replacing earlier series.
func (m *Metrics) SetLinkCounts(counts map[string]int) {
	m.linksGauge.Reset()
	for taxon, n := range counts {
		m.linksGauge.WithLabelValues(taxon).Set(float64(n))
	}
}
