package nodegrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/registry"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

// Handler is the node-side contract Serve dispatches onto. pkg/nodeagent.Agent
// implements it.
type Handler interface {
	GetTopology(ctx context.Context) ([]registry.Pool, []registry.Replica, []registry.Nexus, error)
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

// RegisterServer installs Handler's sixteen unary methods onto a *grpc.Server
// via a hand-written grpc.ServiceDesc: there are no generated .pb.go stubs to
// register against (the codec is the JSON one in codec.go), so each method is
// wired as its own grpc.MethodDesc, decoding into the same transport structs
// the JSON codec marshals on the client side.
func RegisterServer(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetTopology", func(ctx context.Context, h Handler, _ any) (any, error) {
			pools, replicas, nexuses, err := h.GetTopology(ctx)
			return topologyResponse{Pools: pools, Replicas: replicas, Nexuses: nexuses}, err
		}, func() any { return new(struct{ Node ids.NodeId }) }),

		unary("CreatePool", func(ctx context.Context, h Handler, req any) (any, error) {
			return h.CreatePool(ctx, req.(*transport.CreatePoolRequest))
		}, func() any { return new(transport.CreatePoolRequest) }),

		unary("DestroyPool", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.DestroyPool(ctx, req.(*transport.DestroyPoolRequest))
		}, func() any { return new(transport.DestroyPoolRequest) }),

		unary("CreateReplica", func(ctx context.Context, h Handler, req any) (any, error) {
			return h.CreateReplica(ctx, req.(*transport.CreateReplicaRequest))
		}, func() any { return new(transport.CreateReplicaRequest) }),

		unary("ShareReplica", func(ctx context.Context, h Handler, req any) (any, error) {
			uri, err := h.ShareReplica(ctx, req.(*transport.ShareReplicaRequest))
			return struct{ URI string }{URI: uri}, err
		}, func() any { return new(transport.ShareReplicaRequest) }),

		unary("UnshareReplica", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.UnshareReplica(ctx, req.(*transport.UnshareReplicaRequest))
		}, func() any { return new(transport.UnshareReplicaRequest) }),

		unary("DestroyReplica", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.DestroyReplica(ctx, req.(*transport.DestroyReplicaRequest))
		}, func() any { return new(transport.DestroyReplicaRequest) }),

		unary("CreateNexus", func(ctx context.Context, h Handler, req any) (any, error) {
			return h.CreateNexus(ctx, req.(*transport.CreateNexusRequest))
		}, func() any { return new(transport.CreateNexusRequest) }),

		unary("DestroyNexus", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.DestroyNexus(ctx, req.(*transport.DestroyNexusRequest))
		}, func() any { return new(transport.DestroyNexusRequest) }),

		unary("AddChildNexus", func(ctx context.Context, h Handler, req any) (any, error) {
			return h.AddChildNexus(ctx, req.(*transport.AddChildNexusRequest))
		}, func() any { return new(transport.AddChildNexusRequest) }),

		unary("RemoveChildNexus", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.RemoveChildNexus(ctx, req.(*transport.RemoveChildNexusRequest))
		}, func() any { return new(transport.RemoveChildNexusRequest) }),

		unary("PublishNexus", func(ctx context.Context, h Handler, req any) (any, error) {
			uri, err := h.PublishNexus(ctx, req.(*transport.PublishNexusRequest))
			return struct{ URI string }{URI: uri}, err
		}, func() any { return new(transport.PublishNexusRequest) }),

		unary("UnpublishNexus", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.UnpublishNexus(ctx, req.(*transport.UnpublishNexusRequest))
		}, func() any { return new(transport.UnpublishNexusRequest) }),

		unary("CreateSnapshotRebuild", func(ctx context.Context, h Handler, req any) (any, error) {
			return h.CreateSnapshotRebuild(ctx, req.(*transport.CreateSnapshotRebuildRequest))
		}, func() any { return new(transport.CreateSnapshotRebuildRequest) }),

		unary("DestroySnapshotRebuild", func(ctx context.Context, h Handler, req any) (any, error) {
			return struct{}{}, h.DestroySnapshotRebuild(ctx, req.(*transport.DestroySnapshotRebuildRequest))
		}, func() any { return new(transport.DestroySnapshotRebuildRequest) }),

		unary("ListSnapshotRebuild", func(ctx context.Context, h Handler, req any) (any, error) {
			rebuilds, err := h.ListSnapshotRebuild(ctx, req.(*transport.ListSnapshotRebuildRequest))
			return struct{ Rebuilds []transport.RebuildStatusResponse }{Rebuilds: rebuilds}, err
		}, func() any { return new(transport.ListSnapshotRebuildRequest) }),
	},
}

// unary adapts a typed (Handler, request) -> (response, error) call into a
// grpc.MethodDesc, decoding the wire request with newReq and re-dispatching
// through any configured unary interceptor.
func unary(name string, call func(ctx context.Context, h Handler, req any) (any, error), newReq func() any) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			h := srv.(Handler)
			if interceptor == nil {
				return call(ctx, h, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(ctx, h, req)
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}
