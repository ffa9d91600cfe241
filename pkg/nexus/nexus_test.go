package nexus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfleet/nexuscore/pkg/ids"
)

func testUUID(t *testing.T) ids.NexusId {
	t.Helper()
	return ids.NewNexusId()
}

func uniqueMallocURI(t *testing.T, name string, sizeMB int) string {
	t.Helper()
	return "malloc:///" + name + "?size_mb=" + itoaTest(sizeMB) + "&blk_size=512"
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestCreate_AllChildrenOpen_StateOpen(t *testing.T) {
	cfg := Config{
		UUID:      testUUID(t),
		ChildURIs: []string{uniqueMallocURI(t, "a1", 4), uniqueMallocURI(t, "a2", 4)},
	}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, Open, n.State())
	assert.Len(t, n.Children(), 2)
}

func TestCreate_NoChildOpens_Fails(t *testing.T) {
	cfg := Config{
		UUID:      testUUID(t),
		ChildURIs: []string{"aio:///nonexistent/dir/should/not/exist/file0"},
	}
	_, err := Create(context.Background(), cfg)
	// aio opens via os.OpenFile with O_CREATE; a bad directory path fails.
	if err == nil {
		t.Skip("aio open unexpectedly succeeded in this environment")
	}
	var createErr *NexusCreateError
	assert.ErrorAs(t, err, &createErr)
}

func TestReadWrite_RoundTrip(t *testing.T) {
	cfg := Config{
		UUID:      testUUID(t),
		ChildURIs: []string{uniqueMallocURI(t, "b1", 4), uniqueMallocURI(t, "b2", 4)},
	}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0x42
	}
	require.NoError(t, n.WriteAt(context.Background(), 0, buf))

	out := make([]byte, 512)
	require.NoError(t, n.ReadAt(context.Background(), 0, out))
	assert.Equal(t, buf, out)
}

func TestRemoveChild_LastChildRejected(t *testing.T) {
	cfg := Config{UUID: testUUID(t), ChildURIs: []string{uniqueMallocURI(t, "c1", 4)}}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)

	err = n.RemoveChild(context.Background(), n.Children()[0].URI())
	assert.ErrorIs(t, err, ErrDestroyLastChild)
}

func TestRemoveChild_LastHealthyRejected(t *testing.T) {
	cfg := Config{UUID: testUUID(t), ChildURIs: []string{uniqueMallocURI(t, "d1", 4), uniqueMallocURI(t, "d2", 4)}}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)

	children := n.Children()
	children[0].Fault(FaultIoError)

	err = n.RemoveChild(context.Background(), children[1].URI())
	assert.ErrorIs(t, err, ErrLastHealthyChild)
}

func TestAddChild_StartsRebuildAndRecovers(t *testing.T) {
	cfg := Config{UUID: testUUID(t), ChildURIs: []string{uniqueMallocURI(t, "e1", 1)}}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)

	newChildURI := uniqueMallocURI(t, "e2", 1)
	_, err = n.AddChild(context.Background(), newChildURI, false)
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n.State() == Open {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, Open, n.State())
}

func TestFaultedChild_DegradesNexus(t *testing.T) {
	cfg := Config{UUID: testUUID(t), ChildURIs: []string{uniqueMallocURI(t, "f1", 4), uniqueMallocURI(t, "f2", 4)}}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)

	n.Children()[0].Fault(FaultIoError)
	n.mu.Lock()
	n.recomputeState()
	n.mu.Unlock()
	assert.Equal(t, Degraded, n.State())
}

func TestDestroy_ClosesAllChildren(t *testing.T) {
	cfg := Config{UUID: testUUID(t), ChildURIs: []string{uniqueMallocURI(t, "g1", 4)}}
	n, err := Create(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, n.Destroy(context.Background(), true))
	assert.Equal(t, Unconfigured, n.State())
	assert.Empty(t, n.Children())
}
