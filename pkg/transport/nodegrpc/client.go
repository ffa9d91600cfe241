package nodegrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/registry"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

const serviceName = "nexuscore.NodeAgent"

// Client is a node-agent RPC client, implementing registry.NodeFetcher and
// the write-path calls pkg/controlplane's service dispatch issues after
// resolving a target node through the registry.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a connection to a node agent's gRPC endpoint. Dialing is lazy
// in grpc-go; the first RPC surfaces connection errors.
func Dial(endpoint string) (*Client, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial node agent %s: %w", endpoint, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func method(name string) string {
	return "/" + serviceName + "/" + name
}

// topologyResponse is the wire shape of the node agent's GetTopology RPC,
// backing registry.NodeFetcher.FetchTopology.
type topologyResponse struct {
	Pools    []registry.Pool
	Replicas []registry.Replica
	Nexuses  []registry.Nexus
}

// FetchTopology implements registry.NodeFetcher.
func (c *Client) FetchTopology(ctx context.Context, node ids.NodeId, endpoint string) ([]registry.Pool, []registry.Replica, []registry.Nexus, error) {
	var resp topologyResponse
	req := struct{ Node ids.NodeId }{Node: node}
	if err := c.conn.Invoke(ctx, method("GetTopology"), &req, &resp); err != nil {
		return nil, nil, nil, translateRPCError("GetTopology", "node", node.String(), err)
	}
	return resp.Pools, resp.Replicas, resp.Nexuses, nil
}

func (c *Client) CreatePool(ctx context.Context, req *transport.CreatePoolRequest) (*transport.PoolResponse, error) {
	var resp transport.PoolResponse
	if err := c.conn.Invoke(ctx, method("CreatePool"), req, &resp); err != nil {
		return nil, translateRPCError("CreatePool", "pool", req.Name, err)
	}
	return &resp, nil
}

func (c *Client) DestroyPool(ctx context.Context, req *transport.DestroyPoolRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("DestroyPool"), req, &resp); err != nil {
		return translateRPCError("DestroyPool", "pool", req.Name, err)
	}
	return nil
}

func (c *Client) CreateReplica(ctx context.Context, req *transport.CreateReplicaRequest) (*transport.ReplicaResponse, error) {
	var resp transport.ReplicaResponse
	if err := c.conn.Invoke(ctx, method("CreateReplica"), req, &resp); err != nil {
		return nil, translateRPCError("CreateReplica", "replica", req.UUID, err)
	}
	return &resp, nil
}

func (c *Client) ShareReplica(ctx context.Context, req *transport.ShareReplicaRequest) (string, error) {
	var resp struct{ URI string }
	if err := c.conn.Invoke(ctx, method("ShareReplica"), req, &resp); err != nil {
		return "", translateRPCError("ShareReplica", "replica", req.UUID, err)
	}
	return resp.URI, nil
}

func (c *Client) UnshareReplica(ctx context.Context, req *transport.UnshareReplicaRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("UnshareReplica"), req, &resp); err != nil {
		return translateRPCError("UnshareReplica", "replica", req.UUID, err)
	}
	return nil
}

func (c *Client) DestroyReplica(ctx context.Context, req *transport.DestroyReplicaRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("DestroyReplica"), req, &resp); err != nil {
		return translateRPCError("DestroyReplica", "replica", req.UUID, err)
	}
	return nil
}

func (c *Client) CreateNexus(ctx context.Context, req *transport.CreateNexusRequest) (*transport.NexusResponse, error) {
	var resp transport.NexusResponse
	if err := c.conn.Invoke(ctx, method("CreateNexus"), req, &resp); err != nil {
		return nil, translateRPCError("CreateNexus", "nexus", req.UUID, err)
	}
	return &resp, nil
}

func (c *Client) DestroyNexus(ctx context.Context, req *transport.DestroyNexusRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("DestroyNexus"), req, &resp); err != nil {
		return translateRPCError("DestroyNexus", "nexus", req.UUID, err)
	}
	return nil
}

func (c *Client) AddChildNexus(ctx context.Context, req *transport.AddChildNexusRequest) (*transport.ChildResponse, error) {
	var resp transport.ChildResponse
	if err := c.conn.Invoke(ctx, method("AddChildNexus"), req, &resp); err != nil {
		return nil, translateRPCError("AddChildNexus", "nexus", req.UUID, err)
	}
	return &resp, nil
}

func (c *Client) RemoveChildNexus(ctx context.Context, req *transport.RemoveChildNexusRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("RemoveChildNexus"), req, &resp); err != nil {
		return translateRPCError("RemoveChildNexus", "nexus", req.UUID, err)
	}
	return nil
}

func (c *Client) PublishNexus(ctx context.Context, req *transport.PublishNexusRequest) (string, error) {
	var resp struct{ URI string }
	if err := c.conn.Invoke(ctx, method("PublishNexus"), req, &resp); err != nil {
		return "", translateRPCError("PublishNexus", "nexus", req.UUID, err)
	}
	return resp.URI, nil
}

func (c *Client) UnpublishNexus(ctx context.Context, req *transport.UnpublishNexusRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("UnpublishNexus"), req, &resp); err != nil {
		return translateRPCError("UnpublishNexus", "nexus", req.UUID, err)
	}
	return nil
}

func (c *Client) CreateSnapshotRebuild(ctx context.Context, req *transport.CreateSnapshotRebuildRequest) (*transport.RebuildHandleResponse, error) {
	var resp transport.RebuildHandleResponse
	if err := c.conn.Invoke(ctx, method("CreateSnapshotRebuild"), req, &resp); err != nil {
		return nil, translateRPCError("CreateSnapshotRebuild", "rebuild", req.UUID, err)
	}
	return &resp, nil
}

func (c *Client) DestroySnapshotRebuild(ctx context.Context, req *transport.DestroySnapshotRebuildRequest) error {
	var resp struct{}
	if err := c.conn.Invoke(ctx, method("DestroySnapshotRebuild"), req, &resp); err != nil {
		return translateRPCError("DestroySnapshotRebuild", "rebuild", req.UUID, err)
	}
	return nil
}

func (c *Client) ListSnapshotRebuild(ctx context.Context, req *transport.ListSnapshotRebuildRequest) ([]transport.RebuildStatusResponse, error) {
	var resp struct {
		Rebuilds []transport.RebuildStatusResponse
	}
	if err := c.conn.Invoke(ctx, method("ListSnapshotRebuild"), req, &resp); err != nil {
		return nil, translateRPCError("ListSnapshotRebuild", "rebuild", req.UUID, err)
	}
	return resp.Rebuilds, nil
}

// translateRPCError converts a grpc status into the coreerr taxonomy:
// transport-level cancellations become Cancelled, and every node-agent
// error is translated to the same taxonomy before returning to the
// client.
func translateRPCError(op, resourceKind, resourceID string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return coreerr.New(op, resourceKind, resourceID, coreerr.ErrIoError, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return coreerr.Timeout(op, resourceKind, resourceID, err)
	case codes.Canceled:
		return coreerr.Cancelled(op, resourceKind, resourceID, err)
	case codes.NotFound:
		return coreerr.NotFound(op, resourceKind, resourceID, err)
	case codes.AlreadyExists:
		return coreerr.AlreadyExists(op, resourceKind, resourceID, err)
	case codes.InvalidArgument:
		return coreerr.InvalidArgument(op, resourceKind, resourceID, err)
	case codes.ResourceExhausted:
		return coreerr.NoSpace(op, resourceKind, resourceID, err)
	case codes.FailedPrecondition:
		return coreerr.StateConflict(op, resourceKind, resourceID, err)
	default:
		return coreerr.New(op, resourceKind, resourceID, coreerr.ErrIoError, err)
	}
}
