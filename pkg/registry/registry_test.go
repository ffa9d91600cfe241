package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPools_NodePoolFilter(t *testing.T) {
	r := New(time.Minute, time.Minute)
	r.RefreshNode("node-1", "10.0.0.1:10124",
		[]Pool{{Name: "pool-a", Node: "node-1"}, {Name: "pool-b", Node: "node-1"}},
		nil, nil)

	pools, err := r.GetPools(Filter{Kind: FilterNodePool, Node: "node-1", Pool: "pool-b"})
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "pool-b", pools[0].Name)
}

func TestGetPools_UnknownFilterRejected(t *testing.T) {
	r := New(time.Minute, time.Minute)
	_, err := r.GetPools(Filter{Kind: FilterKind(99)})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestGetReplicas_PoolScanAcrossNodes(t *testing.T) {
	r := New(time.Minute, time.Minute)
	r.RefreshNode("node-1", "ep1", nil, []Replica{{UUID: "r1", Pool: "shared-pool"}}, nil)
	r.RefreshNode("node-2", "ep2", nil, []Replica{{UUID: "r2", Pool: "shared-pool"}}, nil)

	reps, err := r.GetReplicas(Filter{Kind: FilterPool, Pool: "shared-pool"})
	require.NoError(t, err)
	assert.Len(t, reps, 2)
}

func TestHealth_TransitionsStaleThenUnreachable(t *testing.T) {
	r := New(time.Minute, 50*time.Millisecond)
	r.RefreshNode("node-1", "ep1", nil, nil, nil)

	h, ok := r.Health("node-1")
	require.True(t, ok)
	assert.Equal(t, HealthOnline, h)

	time.Sleep(60 * time.Millisecond)
	h, ok = r.Health("node-1")
	require.True(t, ok)
	assert.Equal(t, HealthStale, h)
}

func TestMarkStale_PreservesTopology(t *testing.T) {
	r := New(time.Minute, time.Minute)
	r.RefreshNode("node-1", "ep1", []Pool{{Name: "p1"}}, nil, nil)
	r.MarkStale("node-1")

	pools, err := r.GetPools(Filter{Kind: FilterNode, Node: "node-1"})
	require.NoError(t, err)
	assert.Len(t, pools, 1)

	h, _ := r.Health("node-1")
	assert.Equal(t, HealthUnreachable, h)
}
