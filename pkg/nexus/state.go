package nexus

import "github.com/nexusfleet/nexuscore/pkg/metrics"

// State is the nexus lifecycle.
type State int

const (
	Init State = iota
	Open
	Degraded
	Faulted
	Unconfigured
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Open:
		return "Open"
	case Degraded:
		return "Degraded"
	case Faulted:
		return "Faulted"
	case Unconfigured:
		return "Unconfigured"
	default:
		return "Unknown"
	}
}

// recomputeState derives the nexus state from its children's health,
// following Open iff ≥1 child Open+InSync and none faulted;
// Degraded iff ≥1 child Open+InSync and ≥1 child not; Faulted iff none
// Open+InSync. Callers must hold n.mu.
func (n *Nexus) recomputeState() {
	if n.state == Unconfigured {
		return
	}
	healthy, total := 0, len(n.children)
	for _, c := range n.children {
		if c.IsHealthy() {
			healthy++
		}
	}
	switch {
	case healthy == 0:
		n.state = Faulted
	case healthy == total:
		n.state = Open
	default:
		n.state = Degraded
	}
	metrics.RecordNexusState(n.metrics, n.id.String(), n.state.String())
}
