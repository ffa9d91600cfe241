package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexusfleet/nexuscore/pkg/metrics"
)

func init() {
	metrics.RegisterRegistryMetricsConstructor(newRegistryMetrics)
}

type registryMetrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	nodeHealth      *prometheus.GaugeVec
}

func newRegistryMetrics() metrics.RegistryMetrics {
	reg := metrics.GetRegistry()
	return &registryMetrics{
		refreshTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_registry_refresh_total",
				Help: "Total fleet-cache refresh attempts by node and outcome.",
			},
			[]string{"node", "status"},
		),
		refreshDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_registry_refresh_duration_seconds",
				Help:    "Duration of a per-node topology fetch.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		nodeHealth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexuscore_registry_node_health",
				Help: "Current node health (1 for the active health value; series for earlier values are removed).",
			},
			[]string{"node", "health"},
		),
	}
}

func (m *registryMetrics) ObserveRefresh(node string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.refreshTotal.WithLabelValues(node, status).Inc()
	m.refreshDuration.WithLabelValues(node).Observe(duration.Seconds())
}

func (m *registryMetrics) RecordNodeHealth(node string, health string) {
	m.nodeHealth.DeletePartialMatch(prometheus.Labels{"node": node})
	m.nodeHealth.WithLabelValues(node, health).Set(1)
}
