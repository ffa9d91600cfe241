// Package registry implements the control-plane fleet cache: per-node
// snapshots of pools, replicas and nexuses, refreshed on a timer and
// swapped atomically so readers never observe a partial update.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
)

// Pool, Replica and Nexus are the cached shapes the registry holds; the
// registry owns only copies, never live devices.
type Pool struct {
	Name  string
	Node  ids.NodeId
	UUID  string
	Disks []string
}

type Replica struct {
	UUID     ids.ReplicaId
	Pool     string
	Node     ids.NodeId
	SizeB    uint64
	ShareURI string
}

type Nexus struct {
	UUID ids.NexusId
	Node ids.NodeId
	Size uint64
	State string
}

// NodeHealth tracks refresh staleness for a node entry: a node whose
// snapshot hasn't refreshed within HeartbeatTimeout is reported Stale, and
// one not refreshed within twice HeartbeatTimeout is reported Unreachable.
type NodeHealth int

const (
	HealthOnline NodeHealth = iota
	HealthStale
	HealthUnreachable
)

func (h NodeHealth) String() string {
	switch h {
	case HealthOnline:
		return "Online"
	case HealthStale:
		return "Stale"
	case HealthUnreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// nodeSnapshot is the atomically-swapped per-node record.
type nodeSnapshot struct {
	Endpoint string
	LastSeen time.Time
	Pools    []Pool
	Replicas []Replica
	Nexuses  []Nexus
}

// Filter is the closed set of query filters across get_pools/get_replicas/
// get_nexuses. Zero value is FilterNone.
type Filter struct {
	Kind FilterKind
	Node ids.NodeId
	Pool string
	ID   string // replica/nexus id, when applicable
}

type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterNode
	FilterNodePool
	FilterPool
	FilterNodeReplica
	FilterPoolReplica
	FilterNodePoolReplica
	FilterReplica
	FilterNodeNexus
	FilterNexus
)

// ErrInvalidFilter is returned for an unrecognized filter kind.
var ErrInvalidFilter error = coreerr.InvalidArgument("Filter", "registry", "", nil)

// Registry caches per-node snapshots and refreshes them on a configurable
// cadence (the --cache-period flag).
type Registry struct {
	mu            sync.RWMutex
	nodes         map[ids.NodeId]*atomic.Pointer[nodeSnapshot]
	refreshPeriod time.Duration
	heartbeatTO   time.Duration
}

// New constructs a Registry with the given refresh cadence and heartbeat
// timeout.
func New(refreshPeriod, heartbeatTimeout time.Duration) *Registry {
	return &Registry{
		nodes:         make(map[ids.NodeId]*atomic.Pointer[nodeSnapshot]),
		refreshPeriod: refreshPeriod,
		heartbeatTO:   heartbeatTimeout,
	}
}

// RefreshNode atomically replaces node's snapshot. Readers concurrently
// iterating the prior snapshot are unaffected.
func (r *Registry) RefreshNode(node ids.NodeId, endpoint string, pools []Pool, replicas []Replica, nexuses []Nexus) {
	r.mu.Lock()
	ptr, ok := r.nodes[node]
	if !ok {
		ptr = new(atomic.Pointer[nodeSnapshot])
		r.nodes[node] = ptr
	}
	r.mu.Unlock()

	ptr.Store(&nodeSnapshot{
		Endpoint: endpoint,
		LastSeen: time.Now(),
		Pools:    pools,
		Replicas: replicas,
		Nexuses:  nexuses,
	})
}

// MarkStale forces a node's LastSeen into the past without discarding its
// cached topology, so it is still servable but reported Stale/Unreachable
// by Health. The refresher calls it when a topology fetch fails; no write
// path calls it.
func (r *Registry) MarkStale(node ids.NodeId) {
	r.mu.RLock()
	ptr, ok := r.nodes[node]
	r.mu.RUnlock()
	if !ok {
		return
	}
	snap := ptr.Load()
	if snap == nil {
		return
	}
	stale := *snap
	stale.LastSeen = time.Now().Add(-2 * r.heartbeatTO)
	ptr.Store(&stale)
}

// Health reports a node's staleness relative to the configured heartbeat
// timeout.
func (r *Registry) Health(node ids.NodeId) (NodeHealth, bool) {
	r.mu.RLock()
	ptr, ok := r.nodes[node]
	r.mu.RUnlock()
	if !ok {
		return HealthUnreachable, false
	}
	snap := ptr.Load()
	if snap == nil {
		return HealthUnreachable, false
	}
	age := time.Since(snap.LastSeen)
	switch {
	case age > 2*r.heartbeatTO:
		return HealthUnreachable, true
	case age > r.heartbeatTO:
		return HealthStale, true
	default:
		return HealthOnline, true
	}
}

// mutateSnapshot applies fn to a copy of node's current snapshot and stores
// the result, for the optimistic updates write paths perform after a
// node-agent RPC succeeds. A node with no tracked snapshot yet is seeded
// with an empty one so the first optimistic update after a create isn't
// dropped.
func (r *Registry) mutateSnapshot(node ids.NodeId, fn func(*nodeSnapshot)) {
	r.mu.Lock()
	ptr, ok := r.nodes[node]
	if !ok {
		ptr = new(atomic.Pointer[nodeSnapshot])
		r.nodes[node] = ptr
	}
	r.mu.Unlock()

	for {
		cur := ptr.Load()
		var next nodeSnapshot
		if cur != nil {
			next = *cur
			next.Pools = append([]Pool(nil), cur.Pools...)
			next.Replicas = append([]Replica(nil), cur.Replicas...)
			next.Nexuses = append([]Nexus(nil), cur.Nexuses...)
		}
		next.LastSeen = time.Now()
		fn(&next)
		if ptr.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// UpsertPool adds or replaces p in node's cached snapshot by name.
func (r *Registry) UpsertPool(node ids.NodeId, p Pool) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		for i := range s.Pools {
			if s.Pools[i].Name == p.Name {
				s.Pools[i] = p
				return
			}
		}
		s.Pools = append(s.Pools, p)
	})
}

// RemovePool removes the named pool from node's cached snapshot, if present.
func (r *Registry) RemovePool(node ids.NodeId, name string) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		s.Pools = removeWhere(s.Pools, func(p Pool) bool { return p.Name == name })
	})
}

// UpsertReplica adds or replaces r in node's cached snapshot by UUID.
func (r *Registry) UpsertReplica(node ids.NodeId, rep Replica) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		for i := range s.Replicas {
			if s.Replicas[i].UUID == rep.UUID {
				s.Replicas[i] = rep
				return
			}
		}
		s.Replicas = append(s.Replicas, rep)
	})
}

// RemoveReplica removes the replica with the given UUID from node's cached
// snapshot, if present.
func (r *Registry) RemoveReplica(node ids.NodeId, uuid ids.ReplicaId) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		s.Replicas = removeWhere(s.Replicas, func(rep Replica) bool { return rep.UUID == uuid })
	})
}

// UpsertNexus adds or replaces n in node's cached snapshot by UUID.
func (r *Registry) UpsertNexus(node ids.NodeId, n Nexus) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		for i := range s.Nexuses {
			if s.Nexuses[i].UUID == n.UUID {
				s.Nexuses[i] = n
				return
			}
		}
		s.Nexuses = append(s.Nexuses, n)
	})
}

// RemoveNexus removes the nexus with the given UUID from node's cached
// snapshot, if present.
func (r *Registry) RemoveNexus(node ids.NodeId, uuid ids.NexusId) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		s.Nexuses = removeWhere(s.Nexuses, func(n Nexus) bool { return n.UUID == uuid })
	})
}

func removeWhere[T any](items []T, match func(T) bool) []T {
	out := items[:0]
	for _, item := range items {
		if !match(item) {
			out = append(out, item)
		}
	}
	return out
}

// SetEndpoint records node's gRPC endpoint without touching its cached
// topology, so a freshly registered node can be dialed before its first
// refresh populates pools/replicas/nexuses.
func (r *Registry) SetEndpoint(node ids.NodeId, endpoint string) {
	r.mutateSnapshot(node, func(s *nodeSnapshot) {
		s.Endpoint = endpoint
	})
}

// Endpoint returns node's tracked gRPC endpoint, if any snapshot exists.
func (r *Registry) Endpoint(node ids.NodeId) (string, bool) {
	s := r.snapshot(node)
	if s == nil {
		return "", false
	}
	return s.Endpoint, true
}

func (r *Registry) snapshot(node ids.NodeId) *nodeSnapshot {
	r.mu.RLock()
	ptr, ok := r.nodes[node]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ptr.Load()
}

func (r *Registry) allSnapshots() map[ids.NodeId]*nodeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ids.NodeId]*nodeSnapshot, len(r.nodes))
	for node, ptr := range r.nodes {
		if s := ptr.Load(); s != nil {
			out[node] = s
		}
	}
	return out
}

// GetPools resolves Filter ∈ {None, Node, NodePool, Pool}.
func (r *Registry) GetPools(f Filter) ([]Pool, error) {
	switch f.Kind {
	case FilterNone:
		var out []Pool
		for _, s := range r.allSnapshots() {
			out = append(out, s.Pools...)
		}
		return out, nil
	case FilterNode:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return append([]Pool(nil), s.Pools...), nil
	case FilterNodePool:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		for _, p := range s.Pools {
			if p.Name == f.Pool {
				return []Pool{p}, nil
			}
		}
		return nil, nil
	case FilterPool:
		// Scan every node; return first match (ambiguity undefined,
		// names assumed unique by admin contract).
		for _, s := range r.allSnapshots() {
			for _, p := range s.Pools {
				if p.Name == f.Pool {
					return []Pool{p}, nil
				}
			}
		}
		return nil, nil
	default:
		return nil, ErrInvalidFilter
	}
}

// GetReplicas resolves Filter ∈ {None, Node, NodePool, Pool, NodeReplica,
// PoolReplica, NodePoolReplica, Replica}.
func (r *Registry) GetReplicas(f Filter) ([]Replica, error) {
	switch f.Kind {
	case FilterNone:
		var out []Replica
		for _, s := range r.allSnapshots() {
			out = append(out, s.Replicas...)
		}
		return out, nil
	case FilterNode:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return append([]Replica(nil), s.Replicas...), nil
	case FilterNodePool:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return filterReplicasByPool(s.Replicas, f.Pool), nil
	case FilterPool:
		var out []Replica
		for _, s := range r.allSnapshots() {
			out = append(out, filterReplicasByPool(s.Replicas, f.Pool)...)
		}
		return out, nil
	case FilterNodeReplica:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return filterReplicasByID(s.Replicas, f.ID), nil
	case FilterPoolReplica:
		var out []Replica
		for _, s := range r.allSnapshots() {
			out = append(out, filterReplicasByPool(filterReplicasByID(s.Replicas, f.ID), f.Pool)...)
		}
		return out, nil
	case FilterNodePoolReplica:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return filterReplicasByPool(filterReplicasByID(s.Replicas, f.ID), f.Pool), nil
	case FilterReplica:
		// Scan every pool on every node; no node hint to narrow the search.
		var out []Replica
		for _, s := range r.allSnapshots() {
			out = append(out, filterReplicasByID(s.Replicas, f.ID)...)
		}
		return out, nil
	default:
		return nil, ErrInvalidFilter
	}
}

func filterReplicasByPool(rs []Replica, pool string) []Replica {
	var out []Replica
	for _, r := range rs {
		if r.Pool == pool {
			out = append(out, r)
		}
	}
	return out
}

func filterReplicasByID(rs []Replica, id string) []Replica {
	var out []Replica
	for _, r := range rs {
		if string(r.UUID) == id {
			out = append(out, r)
		}
	}
	return out
}

// GetNexuses resolves Filter ∈ {None, Node, NodeNexus, Nexus}, analogous to
// GetReplicas' node/id filtering (nexuses have no pool scoping).
func (r *Registry) GetNexuses(f Filter) ([]Nexus, error) {
	switch f.Kind {
	case FilterNone:
		var out []Nexus
		for _, s := range r.allSnapshots() {
			out = append(out, s.Nexuses...)
		}
		return out, nil
	case FilterNode:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return append([]Nexus(nil), s.Nexuses...), nil
	case FilterNodeNexus:
		s := r.snapshot(f.Node)
		if s == nil {
			return nil, nil
		}
		return filterNexusesByID(s.Nexuses, f.ID), nil
	case FilterNexus:
		// Scan every node; no node hint to narrow the search.
		var out []Nexus
		for _, s := range r.allSnapshots() {
			out = append(out, filterNexusesByID(s.Nexuses, f.ID)...)
		}
		return out, nil
	default:
		return nil, ErrInvalidFilter
	}
}

func filterNexusesByID(ns []Nexus, id string) []Nexus {
	var out []Nexus
	for _, n := range ns {
		if string(n.UUID) == id {
			out = append(out, n)
		}
	}
	return out
}
