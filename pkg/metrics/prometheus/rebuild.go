package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexusfleet/nexuscore/pkg/metrics"
)

func init() {
	metrics.RegisterRebuildMetricsConstructor(newRebuildMetrics)
}

type rebuildMetrics struct {
	jobsStarted  prometheus.Counter
	jobsTerminal *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	segmentSize  prometheus.Histogram
	segmentDur   prometheus.Histogram
	verifyFails  prometheus.Counter
}

func newRebuildMetrics() metrics.RebuildMetrics {
	reg := metrics.GetRegistry()
	return &rebuildMetrics{
		jobsStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexuscore_rebuild_jobs_started_total",
			Help: "Total rebuild jobs started.",
		}),
		jobsTerminal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexuscore_rebuild_jobs_terminal_total",
				Help: "Total rebuild jobs reaching a terminal state, by state.",
			},
			[]string{"state"},
		),
		jobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexuscore_rebuild_job_duration_seconds",
				Help:    "Wall-clock duration of rebuild jobs by terminal state.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"state"},
		),
		segmentSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "nexuscore_rebuild_segment_bytes",
			Help:    "Size of copied rebuild segments.",
			Buckets: []float64{4096, 16384, 65536, 262144, 1048576},
		}),
		segmentDur: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "nexuscore_rebuild_segment_duration_seconds",
			Help:    "Duration of a single segment copy.",
			Buckets: prometheus.DefBuckets,
		}),
		verifyFails: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexuscore_rebuild_verify_mismatches_total",
			Help: "Total verify-mode post-write mismatches detected.",
		}),
	}
}

func (m *rebuildMetrics) RecordJobStarted(sourceURI, destURI string) {
	m.jobsStarted.Inc()
}

func (m *rebuildMetrics) RecordJobTerminal(sourceURI, destURI, state string, duration time.Duration) {
	m.jobsTerminal.WithLabelValues(state).Inc()
	m.jobDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func (m *rebuildMetrics) ObserveSegment(bytes int, duration time.Duration, verifyMismatch bool) {
	m.segmentSize.Observe(float64(bytes))
	m.segmentDur.Observe(duration.Seconds())
	if verifyMismatch {
		m.verifyFails.Inc()
	}
}
