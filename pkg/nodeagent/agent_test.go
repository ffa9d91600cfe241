package nodeagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/nexusinfo"
	"github.com/nexusfleet/nexuscore/pkg/rebuild"
	"github.com/nexusfleet/nexuscore/pkg/transport"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "nexus-info")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	info, err := nexusinfo.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { info.Close() })
	return New(ids.NodeId("node-1"), info, rebuild.Options{})
}

func TestCreatePool_AssignsUUIDWhenOmitted(t *testing.T) {
	a := newTestAgent(t)
	resp, err := a.CreatePool(context.Background(), &transport.CreatePoolRequest{Node: "node-1", Name: "pool-a", Disks: []string{"/dev/sda"}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.UUID)
	assert.Equal(t, "pool-a", resp.Name)
}

func TestDestroyPool_NotFound(t *testing.T) {
	a := newTestAgent(t)
	err := a.DestroyPool(context.Background(), &transport.DestroyPoolRequest{Node: "node-1", Name: "missing"})
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestCreateReplica_RequiresExistingPool(t *testing.T) {
	a := newTestAgent(t)
	_, err := a.CreateReplica(context.Background(), &transport.CreateReplicaRequest{Node: "node-1", Pool: "missing", UUID: uuid.NewString(), Size: 1024})
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestShareReplica_ProducesNvmfURI(t *testing.T) {
	a := newTestAgent(t)
	_, err := a.CreatePool(context.Background(), &transport.CreatePoolRequest{Node: "node-1", Name: "pool-a", Disks: []string{"/dev/sda"}})
	require.NoError(t, err)

	replicaID := uuid.NewString()
	_, err = a.CreateReplica(context.Background(), &transport.CreateReplicaRequest{Node: "node-1", Pool: "pool-a", UUID: replicaID, Size: 1024})
	require.NoError(t, err)

	uri, err := a.ShareReplica(context.Background(), &transport.ShareReplicaRequest{Node: "node-1", Pool: "pool-a", UUID: replicaID, Protocol: "nvmf"})
	require.NoError(t, err)
	assert.Contains(t, uri, "nvmf://")
	assert.Contains(t, uri, replicaID)
}

func TestCreateNexus_RejectsDuplicateUUID(t *testing.T) {
	a := newTestAgent(t)
	nexusID := uuid.NewString()
	req := &transport.CreateNexusRequest{UUID: nexusID, Size: 4096, Children: []string{"malloc:///m0?size_mb=4&blk_size=512"}}

	_, err := a.CreateNexus(context.Background(), req)
	require.NoError(t, err)

	_, err = a.CreateNexus(context.Background(), req)
	assert.ErrorIs(t, err, coreerr.ErrAlreadyExists)
}

func TestGetTopology_ReportsCreatedResources(t *testing.T) {
	a := newTestAgent(t)
	_, err := a.CreatePool(context.Background(), &transport.CreatePoolRequest{Node: "node-1", Name: "pool-a", Disks: []string{"/dev/sda"}})
	require.NoError(t, err)

	pools, replicas, nexuses, err := a.GetTopology(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 1)
	assert.Empty(t, replicas)
	assert.Empty(t, nexuses)
}

func TestDestroySnapshotRebuild_NoActiveRebuildReturnsNotFound(t *testing.T) {
	a := newTestAgent(t)
	nexusID := uuid.NewString()
	_, err := a.CreateNexus(context.Background(), &transport.CreateNexusRequest{UUID: nexusID, Size: 4096, Children: []string{"malloc:///m0?size_mb=4&blk_size=512"}})
	require.NoError(t, err)

	err = a.DestroySnapshotRebuild(context.Background(), &transport.DestroySnapshotRebuildRequest{UUID: nexusID})
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}
