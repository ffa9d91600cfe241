package registry

import (
	"context"
	"sync"
	"time"

	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/metrics"
)

// NodeFetcher retrieves the current topology for node via its node-agent
// RPC client; implemented by pkg/transport/nodegrpc's Client.
type NodeFetcher interface {
	FetchTopology(ctx context.Context, node ids.NodeId, endpoint string) ([]Pool, []Replica, []Nexus, error)
}

// Refresher drives periodic RefreshNode calls for every registered node on
// the registry's configured cache-period cadence.
type Refresher struct {
	registry *Registry
	fetcher  NodeFetcher

	mu        sync.Mutex
	endpoints map[ids.NodeId]string

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool

	metrics metrics.RegistryMetrics
}

// NewRefresher constructs a Refresher bound to registry.
func NewRefresher(registry *Registry, fetcher NodeFetcher) *Refresher {
	return &Refresher{
		registry:  registry,
		fetcher:   fetcher,
		endpoints: make(map[ids.NodeId]string),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		metrics:   metrics.NewRegistryMetrics(),
	}
}

// Track registers node/endpoint for periodic refresh.
func (r *Refresher) Track(node ids.NodeId, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[node] = endpoint
}

// Untrack removes a node from the refresh set.
func (r *Refresher) Untrack(node ids.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, node)
}

// Start launches the background refresh loop. Safe to call once.
func (r *Refresher) Start(ctx context.Context) {
	if r.started {
		return
	}
	r.started = true
	go r.run(ctx)
}

// Stop halts the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	if !r.started {
		return
	}
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.stoppedCh)
	ticker := time.NewTicker(r.registry.refreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[ids.NodeId]string, len(r.endpoints))
	for n, e := range r.endpoints {
		snapshot[n] = e
	}
	r.mu.Unlock()

	for node, endpoint := range snapshot {
		fetchStart := time.Now()
		pools, replicas, nexuses, err := r.fetcher.FetchTopology(ctx, node, endpoint)
		metrics.ObserveRefresh(r.metrics, node.String(), time.Since(fetchStart), err)
		if err != nil {
			logger.Warn("registry refresh failed, marking node stale", "node", node.String(), "err", err)
			r.registry.MarkStale(node)
			if h, ok := r.registry.Health(node); ok {
				metrics.RecordNodeHealth(r.metrics, node.String(), h.String())
			}
			continue
		}
		r.registry.RefreshNode(node, endpoint, pools, replicas, nexuses)
		if h, ok := r.registry.Health(node); ok {
			metrics.RecordNodeHealth(r.metrics, node.String(), h.String())
		}
	}
}
