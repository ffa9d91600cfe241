// Package lock implements the hierarchical resource lock manager: a
// global mutex, one mutex per named subsystem, and a fixed-size array
// of per-resource mutexes within each subsystem, indexed
// by a hash of the resource id. Callers are expected to acquire in
// the declared order — global, then subsystem, then resource — though the
// manager does not enforce this; it is a documentation-only convention.
package lock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Guard releases its held mutex exactly once. Calling Release more than
// once is a no-op.
type Guard struct {
	mu       *sync.Mutex
	released bool
	relMu    sync.Mutex
}

// Release unlocks the guarded mutex. Safe to call multiple times.
func (g *Guard) Release() {
	g.relMu.Lock()
	defer g.relMu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.mu.Unlock()
}

// tryLockWithTimeout acquires mu, returning false if timeout elapses first.
// A zero timeout is a pure try-acquire.
func tryLockWithTimeout(ctx context.Context, mu *sync.Mutex, timeout time.Duration) (*Guard, bool) {
	if timeout <= 0 {
		if mu.TryLock() {
			return &Guard{mu: mu}, true
		}
		return nil, false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if mu.TryLock() {
			return &Guard{mu: mu}, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
		}
	}
}

// Manager is the top-level handle: one global mutex plus a registry of
// named Subsystems.
type Manager struct {
	global sync.Mutex

	mu         sync.Mutex
	subsystems map[string]*Subsystem
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{subsystems: make(map[string]*Subsystem)}
}

// Global attempts to acquire the manager's single global mutex. A zero
// timeout performs a try-acquire; a negative-or-zero duration returns
// immediately on contention.
func (m *Manager) Global(ctx context.Context, timeout time.Duration) (*Guard, bool) {
	return tryLockWithTimeout(ctx, &m.global, timeout)
}

// Subsystem returns the named subsystem, creating it with the given
// resource-array size on first use.
func (m *Manager) Subsystem(name string, resourceSlots int) *Subsystem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subsystems[name]; ok {
		return s
	}
	if resourceSlots <= 0 {
		resourceSlots = 64
	}
	s := &Subsystem{
		name:      name,
		resources: make([]sync.Mutex, resourceSlots),
	}
	m.subsystems[name] = s
	return s
}

// Subsystem is the per-name mutex plus its fixed-size resource-mutex array.
type Subsystem struct {
	name string
	mu   sync.Mutex

	resources []sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// Stats is the small statistics record kept per tier, protected by statsMu.
type Stats struct {
	Acquisitions uint64
	Timeouts     uint64
}

// Lock attempts to acquire the subsystem-wide mutex.
func (s *Subsystem) Lock(ctx context.Context, timeout time.Duration) (*Guard, bool) {
	g, ok := tryLockWithTimeout(ctx, &s.mu, timeout)
	s.record(ok)
	return g, ok
}

// LockResource attempts to acquire the mutex assigned to id by
// hash(id) mod len(resources).
func (s *Subsystem) LockResource(ctx context.Context, id string, timeout time.Duration) (*Guard, bool) {
	idx := resourceIndex(id, len(s.resources))
	g, ok := tryLockWithTimeout(ctx, &s.resources[idx], timeout)
	s.record(ok)
	return g, ok
}

func (s *Subsystem) record(acquired bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if acquired {
		s.stats.Acquisitions++
	} else {
		s.stats.Timeouts++
	}
}

// Stats returns a snapshot of this subsystem's acquisition counters.
func (s *Subsystem) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func resourceIndex(id string, slots int) int {
	if slots <= 1 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum64() % uint64(slots))
}
