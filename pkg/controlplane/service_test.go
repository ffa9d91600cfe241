package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfleet/nexuscore/pkg/controlplane/store"
	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/lock"
	"github.com/nexusfleet/nexuscore/pkg/registry"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

// fakeAgent is an in-memory NodeAgent standing in for a dialed node-agent
// gRPC client in service-layer tests.
type fakeAgent struct {
	pools map[string]*transport.PoolResponse
}

func newFakeAgent() *fakeAgent { return &fakeAgent{pools: make(map[string]*transport.PoolResponse)} }

func (f *fakeAgent) CreatePool(_ context.Context, req *transport.CreatePoolRequest) (*transport.PoolResponse, error) {
	resp := &transport.PoolResponse{UUID: "pool-uuid", Name: req.Name, Node: req.Node, Disks: req.Disks}
	f.pools[req.Name] = resp
	return resp, nil
}
func (f *fakeAgent) DestroyPool(_ context.Context, req *transport.DestroyPoolRequest) error {
	if _, ok := f.pools[req.Name]; !ok {
		return coreerr.NotFound("DestroyPool", "pool", req.Name, nil)
	}
	delete(f.pools, req.Name)
	return nil
}
func (f *fakeAgent) CreateReplica(_ context.Context, req *transport.CreateReplicaRequest) (*transport.ReplicaResponse, error) {
	return &transport.ReplicaResponse{UUID: req.UUID, Pool: req.Pool, Node: req.Node, SizeB: req.Size}, nil
}
func (f *fakeAgent) ShareReplica(_ context.Context, req *transport.ShareReplicaRequest) (string, error) {
	return "nvmf://127.0.0.1:4420/" + req.UUID, nil
}
func (f *fakeAgent) UnshareReplica(context.Context, *transport.UnshareReplicaRequest) error { return nil }
func (f *fakeAgent) DestroyReplica(context.Context, *transport.DestroyReplicaRequest) error { return nil }
func (f *fakeAgent) CreateNexus(_ context.Context, req *transport.CreateNexusRequest) (*transport.NexusResponse, error) {
	return &transport.NexusResponse{UUID: req.UUID, Size: req.Size, State: "Open"}, nil
}
func (f *fakeAgent) DestroyNexus(context.Context, *transport.DestroyNexusRequest) error { return nil }
func (f *fakeAgent) AddChildNexus(_ context.Context, req *transport.AddChildNexusRequest) (*transport.ChildResponse, error) {
	return &transport.ChildResponse{URI: req.URI, State: "Open"}, nil
}
func (f *fakeAgent) RemoveChildNexus(context.Context, *transport.RemoveChildNexusRequest) error { return nil }
func (f *fakeAgent) PublishNexus(_ context.Context, req *transport.PublishNexusRequest) (string, error) {
	return "nvmf://127.0.0.1:4420/" + req.UUID, nil
}
func (f *fakeAgent) UnpublishNexus(context.Context, *transport.UnpublishNexusRequest) error { return nil }
func (f *fakeAgent) CreateSnapshotRebuild(context.Context, *transport.CreateSnapshotRebuildRequest) (*transport.RebuildHandleResponse, error) {
	return &transport.RebuildHandleResponse{State: "Running"}, nil
}
func (f *fakeAgent) DestroySnapshotRebuild(context.Context, *transport.DestroySnapshotRebuildRequest) error {
	return nil
}
func (f *fakeAgent) ListSnapshotRebuild(context.Context, *transport.ListSnapshotRebuildRequest) ([]transport.RebuildStatusResponse, error) {
	return nil, nil
}

type fakeDialer struct{ agent *fakeAgent }

func (d fakeDialer) Dial(string) (NodeAgent, error) { return d.agent, nil }

func newTestService(t *testing.T) (*Service, *fakeAgent) {
	t.Helper()
	st, err := store.New(store.Config{Type: store.DatabaseTypeSQLite, DSN: ":memory:"})
	require.NoError(t, err)

	reg := registry.New(time.Minute, time.Minute)
	reg.SetEndpoint("node-1", "127.0.0.1:9443")

	agent := newFakeAgent()
	svc := New(reg, st, lock.NewManager(), fakeDialer{agent: agent})
	return svc, agent
}

func TestCreatePool_PersistsAndCachesInRegistry(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.CreatePool(context.Background(), &transport.CreatePoolRequest{
		Node: "node-1", Name: "pool-a", Disks: []string{"/dev/sda"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pool-a", resp.Name)

	pools, err := svc.GetPools(registry.Filter{Kind: registry.FilterNode, Node: "node-1"})
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "pool-a", pools[0].Name)
}

func TestCreatePool_UnregisteredNodeIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreatePool(context.Background(), &transport.CreatePoolRequest{
		Node: "node-unknown", Name: "pool-a", Disks: []string{"/dev/sda"},
	})
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestCreatePool_InvalidRequestFailsValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreatePool(context.Background(), &transport.CreatePoolRequest{Node: "node-1"})
	assert.Error(t, err)
}

func TestDestroyPool_RemovesFromRegistryAndStore(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreatePool(context.Background(), &transport.CreatePoolRequest{Node: "node-1", Name: "pool-a", Disks: []string{"/dev/sda"}})
	require.NoError(t, err)

	require.NoError(t, svc.DestroyPool(context.Background(), &transport.DestroyPoolRequest{Node: "node-1", Name: "pool-a"}))

	pools, err := svc.GetPools(registry.Filter{Kind: registry.FilterNode, Node: "node-1"})
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestCreateNexus_TargetsExplicitNode(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.CreateNexus(context.Background(), ids.NodeId("node-1"), &transport.CreateNexusRequest{
		UUID: "11111111-1111-1111-1111-111111111111", Size: 4096, Children: []string{"malloc:///m0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Open", resp.State)

	nexuses, err := svc.GetNexuses(registry.Filter{Kind: registry.FilterNode, Node: "node-1"})
	require.NoError(t, err)
	require.Len(t, nexuses, 1)
}

func TestShareReplica_UpdatesRegistryShareURI(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateReplica(context.Background(), &transport.CreateReplicaRequest{
		Node: "node-1", Pool: "pool-a", UUID: "22222222-2222-2222-2222-222222222222", Size: 1024,
	})
	require.NoError(t, err)

	uri, err := svc.ShareReplica(context.Background(), &transport.ShareReplicaRequest{
		Node: "node-1", Pool: "pool-a", UUID: "22222222-2222-2222-2222-222222222222", Protocol: "nvmf",
	})
	require.NoError(t, err)
	assert.Contains(t, uri, "nvmf://")
}
