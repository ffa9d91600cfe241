// Package nodeagent implements the node-side handler for the RPC table:
// the process that owns a node's pools, replicas, nexuses and rebuild jobs,
// invoked by the control plane's service dispatch layer
// (pkg/controlplane.Service) over pkg/transport/nodegrpc. Pool and replica
// bookkeeping here is an in-memory ledger, not real disk-pool management,
// since the exact physical layout of pool metadata is left unprescribed;
// only the nexus/mirror device itself is delegated to pkg/nexus.
package nodeagent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/pkg/blockdevice"
	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/nexus"
	"github.com/nexusfleet/nexuscore/pkg/nexusinfo"
	"github.com/nexusfleet/nexuscore/pkg/rebuild"
	"github.com/nexusfleet/nexuscore/pkg/registry"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

type pool struct {
	uuid  string
	name  string
	disks []string
}

type replica struct {
	uuid     string
	pool     string
	size     uint64
	thin     bool
	shareURI string
}

// Agent is the node-side implementation of the NodeAgent RPC surface
// (pkg/controlplane.NodeAgent, mirrored server-side). One Agent runs per
// data-plane node.
type Agent struct {
	node ids.NodeId
	info *nexusinfo.Store
	opts rebuild.Options

	mu       sync.Mutex
	pools    map[string]*pool
	replicas map[string]*replica
	nexuses  map[string]*nexus.Nexus
}

// New constructs an Agent for node, persisting nexus-info records through
// info and starting every created nexus with rebuildOpts as its default
// rebuild configuration.
func New(node ids.NodeId, info *nexusinfo.Store, rebuildOpts rebuild.Options) *Agent {
	return &Agent{
		node:     node,
		info:     info,
		opts:     rebuildOpts,
		pools:    make(map[string]*pool),
		replicas: make(map[string]*replica),
		nexuses:  make(map[string]*nexus.Nexus),
	}
}

// GetTopology reports every pool, replica and nexus this agent currently
// tracks, backing registry.NodeFetcher.FetchTopology over the wire.
func (a *Agent) GetTopology(context.Context) ([]registry.Pool, []registry.Replica, []registry.Nexus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pools := make([]registry.Pool, 0, len(a.pools))
	for _, p := range a.pools {
		pools = append(pools, registry.Pool{Name: p.name, Node: a.node, UUID: p.uuid, Disks: append([]string(nil), p.disks...)})
	}
	replicas := make([]registry.Replica, 0, len(a.replicas))
	for _, r := range a.replicas {
		replicas = append(replicas, registry.Replica{UUID: ids.ReplicaId(r.uuid), Pool: r.pool, Node: a.node, SizeB: r.size, ShareURI: r.shareURI})
	}
	nexuses := make([]registry.Nexus, 0, len(a.nexuses))
	for id, n := range a.nexuses {
		nexuses = append(nexuses, registry.Nexus{UUID: ids.NexusId(id), Node: a.node, Size: n.Size(), State: n.State().String()})
	}
	return pools, replicas, nexuses, nil
}

func (a *Agent) CreatePool(_ context.Context, req *transport.CreatePoolRequest) (*transport.PoolResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := req.UUID
	if id == "" {
		id = uuid.NewString()
	}
	a.pools[req.Name] = &pool{uuid: id, name: req.Name, disks: req.Disks}
	return &transport.PoolResponse{UUID: id, Name: req.Name, Node: req.Node, Disks: req.Disks}, nil
}

func (a *Agent) DestroyPool(_ context.Context, req *transport.DestroyPoolRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[req.Name]; !ok {
		return coreerr.NotFound("DestroyPool", "pool", req.Name, nil)
	}
	delete(a.pools, req.Name)
	return nil
}

func (a *Agent) CreateReplica(_ context.Context, req *transport.CreateReplicaRequest) (*transport.ReplicaResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[req.Pool]; !ok {
		return nil, coreerr.NotFound("CreateReplica", "pool", req.Pool, nil)
	}
	r := &replica{uuid: req.UUID, pool: req.Pool, size: req.Size, thin: req.Thin}
	a.replicas[req.UUID] = r
	return &transport.ReplicaResponse{UUID: r.uuid, Pool: r.pool, Node: req.Node, SizeB: r.size}, nil
}

func (a *Agent) ShareReplica(_ context.Context, req *transport.ShareReplicaRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.replicas[req.UUID]
	if !ok {
		return "", coreerr.NotFound("ShareReplica", "replica", req.UUID, nil)
	}
	r.shareURI = blockdevice.BuildShareURI(blockdevice.ProtocolNvmf, "127.0.0.1", 4420, "nqn.nexuscore", req.UUID)
	return r.shareURI, nil
}

func (a *Agent) UnshareReplica(_ context.Context, req *transport.UnshareReplicaRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.replicas[req.UUID]
	if !ok {
		return coreerr.NotFound("UnshareReplica", "replica", req.UUID, nil)
	}
	r.shareURI = ""
	return nil
}

func (a *Agent) DestroyReplica(_ context.Context, req *transport.DestroyReplicaRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.replicas[req.UUID]; !ok {
		return coreerr.NotFound("DestroyReplica", "replica", req.UUID, nil)
	}
	delete(a.replicas, req.UUID)
	return nil
}

func (a *Agent) CreateNexus(ctx context.Context, req *transport.CreateNexusRequest) (*transport.NexusResponse, error) {
	a.mu.Lock()
	if _, exists := a.nexuses[req.UUID]; exists {
		a.mu.Unlock()
		return nil, coreerr.AlreadyExists("CreateNexus", "nexus", req.UUID, nil)
	}
	a.mu.Unlock()

	nexusID, err := ids.ParseNexusId(req.UUID)
	if err != nil {
		return nil, coreerr.InvalidArgument("CreateNexus", "nexus", req.UUID, err)
	}
	n, err := nexus.Create(ctx, nexus.Config{
		UUID:        nexusID,
		Size:        req.Size,
		ChildURIs:   req.Children,
		Info:        a.info,
		RebuildOpts: a.opts,
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.nexuses[req.UUID] = n
	a.mu.Unlock()

	return &transport.NexusResponse{UUID: req.UUID, Size: n.Size(), State: n.State().String(), Children: childResponses(n)}, nil
}

func (a *Agent) DestroyNexus(ctx context.Context, req *transport.DestroyNexusRequest) error {
	a.mu.Lock()
	n, ok := a.nexuses[req.UUID]
	if !ok {
		a.mu.Unlock()
		return coreerr.NotFound("DestroyNexus", "nexus", req.UUID, nil)
	}
	delete(a.nexuses, req.UUID)
	a.mu.Unlock()

	return n.Destroy(ctx, true)
}

func (a *Agent) AddChildNexus(ctx context.Context, req *transport.AddChildNexusRequest) (*transport.ChildResponse, error) {
	n, err := a.getNexus(req.UUID)
	if err != nil {
		return nil, err
	}
	child, err := n.AddChild(ctx, req.URI, req.NoRebuild)
	if err != nil {
		return nil, err
	}
	return &transport.ChildResponse{URI: child.URI(), State: child.State().String(), Fault: faultString(child)}, nil
}

func (a *Agent) RemoveChildNexus(ctx context.Context, req *transport.RemoveChildNexusRequest) error {
	n, err := a.getNexus(req.UUID)
	if err != nil {
		return err
	}
	return n.RemoveChild(ctx, req.URI)
}

func (a *Agent) PublishNexus(ctx context.Context, req *transport.PublishNexusRequest) (string, error) {
	n, err := a.getNexus(req.UUID)
	if err != nil {
		return "", err
	}
	return n.Share(ctx, blockdevice.ProtocolNvmf, req.Key)
}

func (a *Agent) UnpublishNexus(ctx context.Context, req *transport.UnpublishNexusRequest) error {
	n, err := a.getNexus(req.UUID)
	if err != nil {
		return err
	}
	return n.Unshare(ctx)
}

// CreateSnapshotRebuild starts a rebuild sourced from a snapshot-backed
// device rather than a peer child, for replica resync after a prolonged
// offline window. ReplicaURI identifies the nexus child being resynced;
// it must already be a child of the nexus.
func (a *Agent) CreateSnapshotRebuild(ctx context.Context, req *transport.CreateSnapshotRebuildRequest) (*transport.RebuildHandleResponse, error) {
	n, err := a.getNexus(req.UUID)
	if err != nil {
		return nil, err
	}
	if _, err := blockdevice.ParseURI(req.SnapshotURI); err != nil {
		return nil, coreerr.InvalidArgument("CreateSnapshotRebuild", "snapshot-uri", req.SnapshotURI, err)
	}
	if _, err := blockdevice.ParseURI(req.ReplicaURI); err != nil {
		return nil, coreerr.InvalidArgument("CreateSnapshotRebuild", "replica-uri", req.ReplicaURI, err)
	}

	job, err := n.StartSnapshotRebuild(ctx, req.SnapshotURI, req.ReplicaURI)
	if err != nil {
		return nil, err
	}
	logger.Info("snapshot rebuild started", "nexus", req.UUID, "snapshot", req.SnapshotURI, "replica", req.ReplicaURI, "resume", req.Resume)
	return &transport.RebuildHandleResponse{UUID: req.UUID, State: job.State().String()}, nil
}

func (a *Agent) DestroySnapshotRebuild(_ context.Context, req *transport.DestroySnapshotRebuildRequest) error {
	n, err := a.getNexus(req.UUID)
	if err != nil {
		return err
	}
	job, active := n.ActiveSnapshotRebuild()
	if !active {
		return coreerr.NotFound("DestroySnapshotRebuild", "rebuild", req.UUID, nil)
	}
	return job.Terminate()
}

func (a *Agent) ListSnapshotRebuild(_ context.Context, req *transport.ListSnapshotRebuildRequest) ([]transport.RebuildStatusResponse, error) {
	a.mu.Lock()
	nexuses := make(map[string]*nexus.Nexus, len(a.nexuses))
	for id, n := range a.nexuses {
		if req.UUID != "" && req.UUID != id {
			continue
		}
		nexuses[id] = n
	}
	a.mu.Unlock()

	var out []transport.RebuildStatusResponse
	for id, n := range nexuses {
		job, active := n.ActiveSnapshotRebuild()
		if !active {
			continue
		}
		stats := job.Stats()
		out = append(out, transport.RebuildStatusResponse{
			UUID:              id,
			State:             job.State().String(),
			BlocksTotal:       stats.BlocksTotal,
			BlocksTransferred: stats.BlocksTransferred,
		})
	}
	return out, nil
}

func (a *Agent) getNexus(uuid string) (*nexus.Nexus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nexuses[uuid]
	if !ok {
		return nil, coreerr.NotFound("getNexus", "nexus", uuid, nil)
	}
	return n, nil
}

func childResponses(n *nexus.Nexus) []transport.ChildResponse {
	children := n.Children()
	out := make([]transport.ChildResponse, len(children))
	for i, c := range children {
		out[i] = transport.ChildResponse{URI: c.URI(), State: c.State().String(), Fault: faultString(c)}
	}
	return out
}

func faultString(c *nexus.Child) string {
	if c.FaultReason() == nexus.FaultNone {
		return ""
	}
	return c.FaultReason().String()
}
