package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfleet/nexuscore/pkg/controlplane/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	st, err := New(Config{Type: DatabaseTypeSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	return st
}

func TestCreatePool_IsIdempotentOnSameParameters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pool := &models.Pool{ID: "p1", Node: "node-1", Name: "pool-a", Disks: JoinDisks([]string{"/dev/sda"})}
	first, err := st.CreatePool(ctx, pool)
	require.NoError(t, err)

	second, err := st.CreatePool(ctx, &models.Pool{ID: "p2", Node: "node-1", Name: "pool-a", Disks: JoinDisks([]string{"/dev/sda"})})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "idempotent create must return the existing record")
}

func TestCreatePool_DivergentParametersReturnDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreatePool(ctx, &models.Pool{ID: "p1", Node: "node-1", Name: "pool-a", Disks: JoinDisks([]string{"/dev/sda"})})
	require.NoError(t, err)

	_, err = st.CreatePool(ctx, &models.Pool{ID: "p2", Node: "node-1", Name: "pool-a", Disks: JoinDisks([]string{"/dev/sdb"})})
	assert.ErrorIs(t, err, models.ErrDuplicatePool)
}

func TestDestroyPool_NotFoundWhenAbsent(t *testing.T) {
	st := newTestStore(t)
	err := st.DestroyPool(context.Background(), "node-1", "missing")
	assert.ErrorIs(t, err, models.ErrPoolNotFound)
}

func TestDestroyPool_RemovesRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreatePool(ctx, &models.Pool{ID: "p1", Node: "node-1", Name: "pool-a", Disks: "/dev/sda"})
	require.NoError(t, err)

	require.NoError(t, st.DestroyPool(ctx, "node-1", "pool-a"))

	_, err = st.GetPool(ctx, "node-1", "pool-a")
	assert.ErrorIs(t, err, models.ErrPoolNotFound)
}

func TestSplitDisks_RoundTripsJoinDisks(t *testing.T) {
	disks := []string{"/dev/sda", "/dev/sdb"}
	assert.Equal(t, disks, SplitDisks(JoinDisks(disks)))
	assert.Nil(t, SplitDisks(""))
}

func TestCreateReplica_AndDestroy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateReplica(ctx, &models.Replica{UUID: "r1", Node: "node-1", Pool: "pool-a", SizeBytes: 1024}))

	r, err := st.GetReplica(ctx, "pool-a", "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), r.SizeBytes)

	require.NoError(t, st.DestroyReplica(ctx, "pool-a", "r1"))
	_, err = st.GetReplica(ctx, "pool-a", "r1")
	assert.ErrorIs(t, err, models.ErrReplicaNotFound)
}

func TestUpdateReplicaShare_SetsShareFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateReplica(ctx, &models.Replica{UUID: "r1", Node: "node-1", Pool: "pool-a", SizeBytes: 1024}))
	require.NoError(t, st.UpdateReplicaShare(ctx, "r1", true, "nvmf://host/r1", "nvmf"))

	r, err := st.GetReplica(ctx, "pool-a", "r1")
	require.NoError(t, err)
	assert.True(t, r.Shared)
	assert.Equal(t, "nvmf://host/r1", r.ShareURI)
}

func TestCreateNexus_IdempotentOnSameChildren(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n := &models.Nexus{
		UUID: "n1", Node: "node-1", SizeBytes: 4096,
		Children: []models.NexusChild{{NexusUUID: "n1", URI: "malloc:///m0?size_mb=4&blk_size=512"}},
	}
	first, err := st.CreateNexus(ctx, n)
	require.NoError(t, err)

	second, err := st.CreateNexus(ctx, &models.Nexus{
		UUID: "n1", Node: "node-1", SizeBytes: 4096,
		Children: []models.NexusChild{{NexusUUID: "n1", URI: "malloc:///m0?size_mb=4&blk_size=512"}},
	})
	require.NoError(t, err)
	assert.Equal(t, first.UUID, second.UUID)
}

func TestCreateNexus_DivergentSizeReturnsDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateNexus(ctx, &models.Nexus{UUID: "n1", Node: "node-1", SizeBytes: 4096})
	require.NoError(t, err)

	_, err = st.CreateNexus(ctx, &models.Nexus{UUID: "n1", Node: "node-1", SizeBytes: 8192})
	assert.ErrorIs(t, err, models.ErrDuplicateNexus)
}

func TestDestroyNexus_CascadesChildren(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateNexus(ctx, &models.Nexus{UUID: "n1", Node: "node-1", SizeBytes: 4096})
	require.NoError(t, err)
	require.NoError(t, st.AddNexusChild(ctx, "n1", "malloc:///m0?size_mb=4&blk_size=512"))

	require.NoError(t, st.DestroyNexus(ctx, "n1"))

	_, err = st.GetNexus(ctx, "n1")
	assert.ErrorIs(t, err, models.ErrNexusNotFound)
}

func TestAddNexusChild_NotFoundForMissingNexus(t *testing.T) {
	st := newTestStore(t)
	err := st.AddNexusChild(context.Background(), "missing", "malloc:///m0?size_mb=4&blk_size=512")
	assert.ErrorIs(t, err, models.ErrNexusNotFound)
}

func TestRemoveNexusChild_AndHealthUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateNexus(ctx, &models.Nexus{UUID: "n1", Node: "node-1", SizeBytes: 4096})
	require.NoError(t, err)
	require.NoError(t, st.AddNexusChild(ctx, "n1", "malloc:///m0?size_mb=4&blk_size=512"))

	require.NoError(t, st.UpdateNexusChildHealth(ctx, "n1", "malloc:///m0?size_mb=4&blk_size=512", true))

	n, err := st.GetNexus(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, n.Children, 1)
	assert.True(t, n.Children[0].Healthy)

	require.NoError(t, st.RemoveNexusChild(ctx, "n1", "malloc:///m0?size_mb=4&blk_size=512"))

	n, err = st.GetNexus(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, n.Children)
}

func TestUpdateNexusState_PersistsNewState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateNexus(ctx, &models.Nexus{UUID: "n1", Node: "node-1", SizeBytes: 4096, State: "Init"})
	require.NoError(t, err)

	require.NoError(t, st.UpdateNexusState(ctx, "n1", "Degraded"))

	n, err := st.GetNexus(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Degraded", n.State)
}
