// Package controlplane implements the thin request-dispatch layer:
// validate a filter or request, resolve the target node through the
// registry, invoke that node's agent over gRPC, and update the
// registry (optimistically) and the durable store on success.
package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusfleet/nexuscore/internal/telemetry"
	"github.com/nexusfleet/nexuscore/pkg/controlplane/models"
	"github.com/nexusfleet/nexuscore/pkg/controlplane/store"
	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/lock"
	"github.com/nexusfleet/nexuscore/pkg/registry"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

// lockTimeout bounds every resource-lock acquisition a dispatch call makes;
// exceeding it surfaces Timeout rather than blocking a caller forever.
const lockTimeout = 5 * time.Second

// NodeAgent is the node-agent RPC surface a service call invokes after
// resolving a target node (request table). pkg/transport/nodegrpc.Client
// implements it.
type NodeAgent interface {
	CreatePool(ctx context.Context, req *transport.CreatePoolRequest) (*transport.PoolResponse, error)
	DestroyPool(ctx context.Context, req *transport.DestroyPoolRequest) error
	CreateReplica(ctx context.Context, req *transport.CreateReplicaRequest) (*transport.ReplicaResponse, error)
	ShareReplica(ctx context.Context, req *transport.ShareReplicaRequest) (string, error)
	UnshareReplica(ctx context.Context, req *transport.UnshareReplicaRequest) error
	DestroyReplica(ctx context.Context, req *transport.DestroyReplicaRequest) error
	CreateNexus(ctx context.Context, req *transport.CreateNexusRequest) (*transport.NexusResponse, error)
	DestroyNexus(ctx context.Context, req *transport.DestroyNexusRequest) error
	AddChildNexus(ctx context.Context, req *transport.AddChildNexusRequest) (*transport.ChildResponse, error)
	RemoveChildNexus(ctx context.Context, req *transport.RemoveChildNexusRequest) error
	PublishNexus(ctx context.Context, req *transport.PublishNexusRequest) (string, error)
	UnpublishNexus(ctx context.Context, req *transport.UnpublishNexusRequest) error
	CreateSnapshotRebuild(ctx context.Context, req *transport.CreateSnapshotRebuildRequest) (*transport.RebuildHandleResponse, error)
	DestroySnapshotRebuild(ctx context.Context, req *transport.DestroySnapshotRebuildRequest) error
	ListSnapshotRebuild(ctx context.Context, req *transport.ListSnapshotRebuildRequest) ([]transport.RebuildStatusResponse, error)
}

// NodeDialer opens a NodeAgent connection to a node's gRPC endpoint.
// pkg/controlplane/api.GRPCDialer is the production implementation.
type NodeDialer interface {
	Dial(endpoint string) (NodeAgent, error)
}

// Service dispatches the request table: resolve node via the registry,
// invoke the agent, reconcile registry and store on success.
type Service struct {
	registry *registry.Registry
	store    *store.GORMStore
	locks    *lock.Manager
	dialer   NodeDialer

	mu      sync.Mutex
	clients map[ids.NodeId]NodeAgent
}

// New constructs a Service over the given registry, durable store, lock
// manager and node dialer.
func New(reg *registry.Registry, st *store.GORMStore, locks *lock.Manager, dialer NodeDialer) *Service {
	return &Service{
		registry: reg,
		store:    st,
		locks:    locks,
		dialer:   dialer,
		clients:  make(map[ids.NodeId]NodeAgent),
	}
}

// agentFor resolves node's endpoint via the registry and returns a cached or
// freshly dialed NodeAgent. Returns NotFound if the node has never
// registered an endpoint.
func (s *Service) agentFor(op string, node ids.NodeId) (NodeAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[node]; ok {
		return c, nil
	}
	endpoint, ok := s.registry.Endpoint(node)
	if !ok {
		return nil, coreerr.NotFound(op, "node", node.String(), nil)
	}
	c, err := s.dialer.Dial(endpoint)
	if err != nil {
		return nil, coreerr.New(op, "node", node.String(), coreerr.ErrIoError, err)
	}
	s.clients[node] = c
	return c, nil
}

// lockResource acquires the named subsystem's per-id lock, translating a
// timeout into a Timeout error the caller may retry.
func (s *Service) lockResource(ctx context.Context, subsystem, id string) (*lock.Guard, error) {
	sub := s.locks.Subsystem(subsystem, 0)
	g, ok := sub.LockResource(ctx, id, lockTimeout)
	if !ok {
		return nil, coreerr.Timeout("lock."+subsystem, subsystem, id, nil)
	}
	return g, nil
}

// CreatePool dispatches CreatePool: validate, lock the (node,name) pair,
// invoke the node agent, and persist + cache on success.
func (s *Service) CreatePool(ctx context.Context, req *transport.CreatePoolRequest) (*transport.PoolResponse, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "CreatePool", telemetry.Node(req.Node.String()), telemetry.Pool(req.Name))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	guard, err := s.lockResource(ctx, "pool", req.Node.String()+"/"+req.Name)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer guard.Release()

	agent, err := s.agentFor("CreatePool", req.Node)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	resp, err := agent.CreatePool(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	id := resp.UUID
	if id == "" {
		id = uuid.NewString()
	}
	saved, err := s.store.CreatePool(ctx, &models.Pool{
		ID:          id,
		Node:        req.Node.String(),
		Name:        req.Name,
		Disks:       store.JoinDisks(req.Disks),
		ClusterSize: req.ClusterSize,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, translateStoreError("CreatePool", "pool", req.Name, err)
	}

	s.registry.UpsertPool(req.Node, registry.Pool{
		Name:  saved.Name,
		Node:  req.Node,
		UUID:  saved.ID,
		Disks: store.SplitDisks(saved.Disks),
	})
	return &transport.PoolResponse{UUID: saved.ID, Name: saved.Name, Node: req.Node, Disks: store.SplitDisks(saved.Disks)}, nil
}

// DestroyPool dispatches DestroyPool.
func (s *Service) DestroyPool(ctx context.Context, req *transport.DestroyPoolRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "DestroyPool", telemetry.Node(req.Node.String()), telemetry.Pool(req.Name))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	guard, err := s.lockResource(ctx, "pool", req.Node.String()+"/"+req.Name)
	if err != nil {
		return err
	}
	defer guard.Release()

	agent, err := s.agentFor("DestroyPool", req.Node)
	if err != nil {
		return err
	}
	if err := agent.DestroyPool(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := s.store.DestroyPool(ctx, req.Node.String(), req.Name); err != nil {
		return translateStoreError("DestroyPool", "pool", req.Name, err)
	}
	s.registry.RemovePool(req.Node, req.Name)
	return nil
}

// CreateReplica dispatches CreateReplica.
func (s *Service) CreateReplica(ctx context.Context, req *transport.CreateReplicaRequest) (*transport.ReplicaResponse, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "CreateReplica", telemetry.Node(req.Node.String()), telemetry.Pool(req.Pool), telemetry.Replica(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return nil, err
	}
	guard, err := s.lockResource(ctx, "replica", req.UUID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	agent, err := s.agentFor("CreateReplica", req.Node)
	if err != nil {
		return nil, err
	}
	resp, err := agent.CreateReplica(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if err := s.store.CreateReplica(ctx, &models.Replica{
		UUID:      req.UUID,
		Node:      req.Node.String(),
		Pool:      req.Pool,
		SizeBytes: req.Size,
		Thin:      req.Thin,
		Shared:    resp.ShareURI != "",
		ShareURI:  resp.ShareURI,
	}); err != nil {
		return nil, translateStoreError("CreateReplica", "replica", req.UUID, err)
	}

	s.registry.UpsertReplica(req.Node, registry.Replica{
		UUID:     ids.ReplicaId(req.UUID),
		Pool:     req.Pool,
		Node:     req.Node,
		SizeB:    req.Size,
		ShareURI: resp.ShareURI,
	})
	return resp, nil
}

// ShareReplica dispatches ShareReplica.
func (s *Service) ShareReplica(ctx context.Context, req *transport.ShareReplicaRequest) (string, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "ShareReplica", telemetry.Node(req.Node.String()), telemetry.Replica(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return "", err
	}
	guard, err := s.lockResource(ctx, "replica", req.UUID)
	if err != nil {
		return "", err
	}
	defer guard.Release()

	agent, err := s.agentFor("ShareReplica", req.Node)
	if err != nil {
		return "", err
	}
	uri, err := agent.ShareReplica(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	if err := s.store.UpdateReplicaShare(ctx, req.UUID, true, uri, req.Protocol); err != nil {
		return "", translateStoreError("ShareReplica", "replica", req.UUID, err)
	}
	if rep, err := s.store.GetReplica(ctx, req.Pool, req.UUID); err == nil {
		s.registry.UpsertReplica(req.Node, registry.Replica{
			UUID: ids.ReplicaId(rep.UUID), Pool: rep.Pool, Node: req.Node, SizeB: rep.SizeBytes, ShareURI: rep.ShareURI,
		})
	}
	return uri, nil
}

// UnshareReplica dispatches UnshareReplica.
func (s *Service) UnshareReplica(ctx context.Context, req *transport.UnshareReplicaRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "UnshareReplica", telemetry.Node(req.Node.String()), telemetry.Replica(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	guard, err := s.lockResource(ctx, "replica", req.UUID)
	if err != nil {
		return err
	}
	defer guard.Release()

	agent, err := s.agentFor("UnshareReplica", req.Node)
	if err != nil {
		return err
	}
	if err := agent.UnshareReplica(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := s.store.UpdateReplicaShare(ctx, req.UUID, false, "", ""); err != nil {
		return translateStoreError("UnshareReplica", "replica", req.UUID, err)
	}
	if rep, err := s.store.GetReplica(ctx, req.Pool, req.UUID); err == nil {
		s.registry.UpsertReplica(req.Node, registry.Replica{
			UUID: ids.ReplicaId(rep.UUID), Pool: rep.Pool, Node: req.Node, SizeB: rep.SizeBytes, ShareURI: "",
		})
	}
	return nil
}

// DestroyReplica dispatches DestroyReplica.
func (s *Service) DestroyReplica(ctx context.Context, req *transport.DestroyReplicaRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "DestroyReplica", telemetry.Node(req.Node.String()), telemetry.Replica(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	guard, err := s.lockResource(ctx, "replica", req.UUID)
	if err != nil {
		return err
	}
	defer guard.Release()

	agent, err := s.agentFor("DestroyReplica", req.Node)
	if err != nil {
		return err
	}
	if err := agent.DestroyReplica(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := s.store.DestroyReplica(ctx, req.Pool, req.UUID); err != nil {
		return translateStoreError("DestroyReplica", "replica", req.UUID, err)
	}
	s.registry.RemoveReplica(req.Node, ids.ReplicaId(req.UUID))
	return nil
}

// CreateNexus dispatches CreateNexus against node. The request body
// carries no node field — placement is decided upstream of this
// package — so the target node is supplied by the caller alongside
// the request.
func (s *Service) CreateNexus(ctx context.Context, node ids.NodeId, req *transport.CreateNexusRequest) (*transport.NexusResponse, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "CreateNexus", telemetry.Node(node.String()), telemetry.Nexus(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return nil, err
	}
	guard, err := s.lockResource(ctx, "nexus", req.UUID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	agent, err := s.agentFor("CreateNexus", node)
	if err != nil {
		return nil, err
	}
	resp, err := agent.CreateNexus(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	children := make([]models.NexusChild, len(resp.Children))
	for i, c := range resp.Children {
		children[i] = models.NexusChild{NexusUUID: resp.UUID, URI: c.URI, Healthy: c.Fault == ""}
	}
	saved, err := s.store.CreateNexus(ctx, &models.Nexus{
		UUID:      resp.UUID,
		Node:      node.String(),
		SizeBytes: resp.Size,
		State:     resp.State,
		Children:  children,
	})
	if err != nil {
		return nil, translateStoreError("CreateNexus", "nexus", req.UUID, err)
	}

	s.registry.UpsertNexus(node, registry.Nexus{UUID: ids.NexusId(saved.UUID), Node: node, Size: saved.SizeBytes, State: saved.State})
	return resp, nil
}

// DestroyNexus dispatches DestroyNexus.
func (s *Service) DestroyNexus(ctx context.Context, node ids.NodeId, req *transport.DestroyNexusRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "DestroyNexus", telemetry.Node(node.String()), telemetry.Nexus(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	guard, err := s.lockResource(ctx, "nexus", req.UUID)
	if err != nil {
		return err
	}
	defer guard.Release()

	agent, err := s.agentFor("DestroyNexus", node)
	if err != nil {
		return err
	}
	if err := agent.DestroyNexus(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := s.store.DestroyNexus(ctx, req.UUID); err != nil {
		return translateStoreError("DestroyNexus", "nexus", req.UUID, err)
	}
	s.registry.RemoveNexus(node, ids.NexusId(req.UUID))
	return nil
}

// AddChildNexus dispatches AddChildNexus.
func (s *Service) AddChildNexus(ctx context.Context, node ids.NodeId, req *transport.AddChildNexusRequest) (*transport.ChildResponse, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "AddChildNexus", telemetry.Node(node.String()), telemetry.Nexus(req.UUID), telemetry.Child(req.URI))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return nil, err
	}
	guard, err := s.lockResource(ctx, "nexus", req.UUID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	agent, err := s.agentFor("AddChildNexus", node)
	if err != nil {
		return nil, err
	}
	resp, err := agent.AddChildNexus(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if err := s.store.AddNexusChild(ctx, req.UUID, resp.URI); err != nil {
		return nil, translateStoreError("AddChildNexus", "nexus", req.UUID, err)
	}
	return resp, nil
}

// RemoveChildNexus dispatches RemoveChildNexus.
func (s *Service) RemoveChildNexus(ctx context.Context, node ids.NodeId, req *transport.RemoveChildNexusRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "RemoveChildNexus", telemetry.Node(node.String()), telemetry.Nexus(req.UUID), telemetry.Child(req.URI))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	guard, err := s.lockResource(ctx, "nexus", req.UUID)
	if err != nil {
		return err
	}
	defer guard.Release()

	agent, err := s.agentFor("RemoveChildNexus", node)
	if err != nil {
		return err
	}
	if err := agent.RemoveChildNexus(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := s.store.RemoveNexusChild(ctx, req.UUID, req.URI); err != nil {
		return translateStoreError("RemoveChildNexus", "nexus", req.UUID, err)
	}
	return nil
}

// PublishNexus dispatches PublishNexus.
func (s *Service) PublishNexus(ctx context.Context, node ids.NodeId, req *transport.PublishNexusRequest) (string, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "PublishNexus", telemetry.Node(node.String()), telemetry.Nexus(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return "", err
	}
	guard, err := s.lockResource(ctx, "nexus", req.UUID)
	if err != nil {
		return "", err
	}
	defer guard.Release()

	agent, err := s.agentFor("PublishNexus", node)
	if err != nil {
		return "", err
	}
	uri, err := agent.PublishNexus(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	if err := s.store.UpdateNexusShare(ctx, req.UUID, uri, req.Protocol); err != nil {
		return "", translateStoreError("PublishNexus", "nexus", req.UUID, err)
	}
	return uri, nil
}

// UnpublishNexus dispatches UnpublishNexus.
func (s *Service) UnpublishNexus(ctx context.Context, node ids.NodeId, req *transport.UnpublishNexusRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "UnpublishNexus", telemetry.Node(node.String()), telemetry.Nexus(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	guard, err := s.lockResource(ctx, "nexus", req.UUID)
	if err != nil {
		return err
	}
	defer guard.Release()

	agent, err := s.agentFor("UnpublishNexus", node)
	if err != nil {
		return err
	}
	if err := agent.UnpublishNexus(ctx, req); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return translateStoreError("UnpublishNexus", "nexus", req.UUID, s.store.UpdateNexusShare(ctx, req.UUID, "", ""))
}

// CreateSnapshotRebuild dispatches CreateSnapshotRebuild, a pass-through
// to the node agent: snapshot-backed rebuilds are tracked by the data-plane
// job itself, not mirrored into the control-plane store.
func (s *Service) CreateSnapshotRebuild(ctx context.Context, node ids.NodeId, req *transport.CreateSnapshotRebuildRequest) (*transport.RebuildHandleResponse, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "CreateSnapshotRebuild", telemetry.Node(node.String()), telemetry.Nexus(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return nil, err
	}
	agent, err := s.agentFor("CreateSnapshotRebuild", node)
	if err != nil {
		return nil, err
	}
	resp, err := agent.CreateSnapshotRebuild(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return resp, err
}

// DestroySnapshotRebuild dispatches DestroySnapshotRebuild.
func (s *Service) DestroySnapshotRebuild(ctx context.Context, node ids.NodeId, req *transport.DestroySnapshotRebuildRequest) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, "DestroySnapshotRebuild", telemetry.Node(node.String()), telemetry.Nexus(req.UUID))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return err
	}
	agent, err := s.agentFor("DestroySnapshotRebuild", node)
	if err != nil {
		return err
	}
	err = agent.DestroySnapshotRebuild(ctx, req)
	telemetry.RecordError(ctx, err)
	return err
}

// ListSnapshotRebuild dispatches ListSnapshotRebuild.
func (s *Service) ListSnapshotRebuild(ctx context.Context, node ids.NodeId, req *transport.ListSnapshotRebuildRequest) ([]transport.RebuildStatusResponse, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, "ListSnapshotRebuild", telemetry.Node(node.String()))
	defer span.End()

	if err := transport.Validate(req); err != nil {
		return nil, err
	}
	agent, err := s.agentFor("ListSnapshotRebuild", node)
	if err != nil {
		return nil, err
	}
	resp, err := agent.ListSnapshotRebuild(ctx, req)
	telemetry.RecordError(ctx, err)
	return resp, err
}

// GetPools, GetReplicas and GetNexuses are thin reads served from the
// registry cache.
func (s *Service) GetPools(f registry.Filter) ([]registry.Pool, error)       { return s.registry.GetPools(f) }
func (s *Service) GetReplicas(f registry.Filter) ([]registry.Replica, error) { return s.registry.GetReplicas(f) }
func (s *Service) GetNexuses(f registry.Filter) ([]registry.Nexus, error)    { return s.registry.GetNexuses(f) }

// translateStoreError maps the store's model sentinels onto the coreerr
// taxonomy. Returns nil if err is nil.
func translateStoreError(op, resourceKind, resourceID string, err error) error {
	switch err {
	case nil:
		return nil
	case models.ErrPoolNotFound, models.ErrReplicaNotFound, models.ErrNexusNotFound:
		return coreerr.NotFound(op, resourceKind, resourceID, err)
	case models.ErrDuplicatePool, models.ErrDuplicateNexus:
		return coreerr.AlreadyExists(op, resourceKind, resourceID, err)
	default:
		return coreerr.Persistence(op, resourceKind, resourceID, fmt.Errorf("%w", err))
	}
}
