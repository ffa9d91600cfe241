package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexusfleet/nexuscore/pkg/metrics"
)

func init() {
	metrics.RegisterNexusMetricsConstructor(newNexusMetrics)
}

type nexusMetrics struct {
	ioTotal      *prometheus.CounterVec
	ioDuration   *prometheus.HistogramVec
	ioBytes      *prometheus.HistogramVec
	state        *prometheus.GaugeVec
	childFaults  *prometheus.CounterVec
}

func newNexusMetrics() metrics.NexusMetrics {
	reg := metrics.GetRegistry()
	return &nexusMetrics{
		ioTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_nexus_io_total",
				Help: "Total nexus I/O operations by type and outcome.",
			},
			[]string{"op", "status"},
		),
		ioDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_nexus_io_duration_seconds",
				Help:    "Nexus I/O dispatch latency by operation type.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ioBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_nexus_io_bytes",
				Help:    "Nexus I/O payload size by operation type.",
				Buckets: []float64{4096, 16384, 65536, 262144, 1048576, 4194304},
			},
			[]string{"op"},
		),
		state: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexuscore_nexus_state",
				Help: "Current nexus lifecycle state (1 for the active state; series for earlier states are removed).",
			},
			[]string{"nexus", "state"},
		),
		childFaults: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_nexus_child_faults_total",
				Help: "Total child fault transitions by reason.",
			},
			[]string{"nexus", "child", "reason"},
		),
	}
}

func (m *nexusMetrics) ObserveIO(op string, bytes int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ioTotal.WithLabelValues(op, status).Inc()
	m.ioDuration.WithLabelValues(op).Observe(duration.Seconds())
	if bytes > 0 {
		m.ioBytes.WithLabelValues(op).Observe(float64(bytes))
	}
}

func (m *nexusMetrics) RecordState(nexusUUID string, state string) {
	m.state.DeletePartialMatch(prometheus.Labels{"nexus": nexusUUID})
	m.state.WithLabelValues(nexusUUID, state).Set(1)
}

func (m *nexusMetrics) RecordChildFault(nexusUUID, childURI, reason string) {
	m.childFaults.WithLabelValues(nexusUUID, childURI, reason).Inc()
}
