// Package metrics is the Prometheus indirection layer for the control-plane
// core: a base package of nil-safe interfaces and constructor functions, and
// a pkg/metrics/prometheus subpackage providing the concrete implementation.
// The split avoids an import cycle (pkg/nexus, pkg/rebuild and pkg/registry
// depend on metrics; metrics/prometheus depends on prometheus/client_golang
// and registers its constructors into this package via init()).
//
// Callers that never call InitRegistry get nil interfaces back from every
// NewXMetrics function; every Observe/Record method in this package is a
// nil-receiver no-op, so metrics collection costs nothing when disabled.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide Prometheus registry. Must be called
// before any NewXMetrics constructor for metrics collection to take effect.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		enabled = true
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the process-wide registry, or nil if metrics are
// disabled. Implementations in pkg/metrics/prometheus register their
// collectors against this registry via promauto.With(reg).
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// NexusMetrics observes the mirror device's I/O dispatch path:
// per-operation read/write/unmap outcomes at the nexus, nexus state
// transitions and per-child fault transitions.
type NexusMetrics interface {
	ObserveIO(op string, bytes int, duration time.Duration, err error)
	RecordState(nexusUUID string, state string)
	RecordChildFault(nexusUUID, childURI, reason string)
}

var newPrometheusNexusMetrics func() NexusMetrics

// RegisterNexusMetricsConstructor is called by pkg/metrics/prometheus's
// init() to install the concrete constructor, breaking the import cycle.
func RegisterNexusMetricsConstructor(constructor func() NexusMetrics) {
	newPrometheusNexusMetrics = constructor
}

// NewNexusMetrics returns nil when metrics are disabled.
func NewNexusMetrics() NexusMetrics {
	if !IsEnabled() || newPrometheusNexusMetrics == nil {
		return nil
	}
	return newPrometheusNexusMetrics()
}

// ObserveIO is a nil-safe wrapper for NexusMetrics.ObserveIO.
func ObserveIO(m NexusMetrics, op string, bytes int, duration time.Duration, err error) {
	if m != nil {
		m.ObserveIO(op, bytes, duration, err)
	}
}

// RecordNexusState is a nil-safe wrapper for NexusMetrics.RecordState.
func RecordNexusState(m NexusMetrics, nexusUUID, state string) {
	if m != nil {
		m.RecordState(nexusUUID, state)
	}
}

// RecordChildFault is a nil-safe wrapper for NexusMetrics.RecordChildFault.
func RecordChildFault(m NexusMetrics, nexusUUID, childURI, reason string) {
	if m != nil {
		m.RecordChildFault(nexusUUID, childURI, reason)
	}
}

// RebuildMetrics observes the per-child rebuild engine: job starts,
// terminal outcomes, per-segment copy size and duration, and verify
// mismatches.
type RebuildMetrics interface {
	RecordJobStarted(sourceURI, destURI string)
	RecordJobTerminal(sourceURI, destURI, state string, duration time.Duration)
	ObserveSegment(bytes int, duration time.Duration, verifyMismatch bool)
}

var newPrometheusRebuildMetrics func() RebuildMetrics

// RegisterRebuildMetricsConstructor is called by pkg/metrics/prometheus's
// init().
func RegisterRebuildMetricsConstructor(constructor func() RebuildMetrics) {
	newPrometheusRebuildMetrics = constructor
}

// NewRebuildMetrics returns nil when metrics are disabled.
func NewRebuildMetrics() RebuildMetrics {
	if !IsEnabled() || newPrometheusRebuildMetrics == nil {
		return nil
	}
	return newPrometheusRebuildMetrics()
}

// RecordJobStarted is a nil-safe wrapper for RebuildMetrics.RecordJobStarted.
func RecordJobStarted(m RebuildMetrics, sourceURI, destURI string) {
	if m != nil {
		m.RecordJobStarted(sourceURI, destURI)
	}
}

// RecordJobTerminal is a nil-safe wrapper for RebuildMetrics.RecordJobTerminal.
func RecordJobTerminal(m RebuildMetrics, sourceURI, destURI, state string, duration time.Duration) {
	if m != nil {
		m.RecordJobTerminal(sourceURI, destURI, state, duration)
	}
}

// ObserveSegment is a nil-safe wrapper for RebuildMetrics.ObserveSegment.
func ObserveSegment(m RebuildMetrics, bytes int, duration time.Duration, verifyMismatch bool) {
	if m != nil {
		m.ObserveSegment(bytes, duration, verifyMismatch)
	}
}

// RegistryMetrics observes the fleet cache's refresh loop.
type RegistryMetrics interface {
	ObserveRefresh(node string, duration time.Duration, err error)
	RecordNodeHealth(node string, health string)
}

var newPrometheusRegistryMetrics func() RegistryMetrics

// RegisterRegistryMetricsConstructor is called by pkg/metrics/prometheus's
// init().
func RegisterRegistryMetricsConstructor(constructor func() RegistryMetrics) {
	newPrometheusRegistryMetrics = constructor
}

// NewRegistryMetrics returns nil when metrics are disabled.
func NewRegistryMetrics() RegistryMetrics {
	if !IsEnabled() || newPrometheusRegistryMetrics == nil {
		return nil
	}
	return newPrometheusRegistryMetrics()
}

// ObserveRefresh is a nil-safe wrapper for RegistryMetrics.ObserveRefresh.
func ObserveRefresh(m RegistryMetrics, node string, duration time.Duration, err error) {
	if m != nil {
		m.ObserveRefresh(node, duration, err)
	}
}

// RecordNodeHealth is a nil-safe wrapper for RegistryMetrics.RecordNodeHealth.
func RecordNodeHealth(m RegistryMetrics, node, health string) {
	if m != nil {
		m.RecordNodeHealth(node, health)
	}
}
