package blockdevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI_Malloc(t *testing.T) {
	p, err := ParseURI("malloc:///disk0?size_mb=64&blk_size=512")
	require.NoError(t, err)
	assert.Equal(t, SchemeMalloc, p.Scheme)
	assert.Equal(t, "disk0", p.Subsys)
	assert.Equal(t, 64, p.SizeMB)
	assert.Equal(t, 512, p.BlockSize)
}

func TestParseURI_RejectsUnknownQueryParam(t *testing.T) {
	_, err := ParseURI("malloc:///disk0?bogus=1")
	assert.ErrorIs(t, err, ErrInvalidUri)
}

func TestParseURI_RejectsMutuallyExclusiveSize(t *testing.T) {
	_, err := ParseURI("malloc:///disk0?size_mb=1&num_blocks=1")
	assert.ErrorIs(t, err, ErrInvalidUri)
}

func TestParseURI_RejectsBadBlockSize(t *testing.T) {
	_, err := ParseURI("malloc:///disk0?size_mb=1&blk_size=1000")
	assert.ErrorIs(t, err, ErrInvalidUri)
}

func TestParseURI_Nvmf(t *testing.T) {
	p, err := ParseURI("nvmf://192.168.1.5:4420/nqn.2019-05.io.nexuscore:uuid:abc/1")
	require.NoError(t, err)
	assert.Equal(t, SchemeNvmf, p.Scheme)
	assert.Equal(t, "192.168.1.5", p.Host)
	assert.Equal(t, 4420, p.Port)
	assert.Equal(t, "nqn.2019-05.io.nexuscore:uuid:abc", p.Subsys)
	assert.Equal(t, "1", p.Nsid)
}

func TestMallocDevice_ReadWriteRoundTrip(t *testing.T) {
	desc, err := Open("malloc:///disk0?size_mb=1&blk_size=512", true)
	require.NoError(t, err)
	h, err := desc.IntoHandle(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, h.WriteAt(context.Background(), 0, buf))

	out := make([]byte, 512)
	require.NoError(t, h.ReadAt(context.Background(), 0, out))
	assert.Equal(t, buf, out)

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.NumReadOps)
	assert.Equal(t, uint64(1), stats.NumWriteOps)
}

func TestMallocDevice_UnalignedWriteRejected(t *testing.T) {
	desc, err := Open("malloc:///disk0?size_mb=1&blk_size=512", true)
	require.NoError(t, err)
	h, err := desc.IntoHandle(context.Background())
	require.NoError(t, err)

	err = h.WriteAt(context.Background(), 1, make([]byte, 512))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
}

func TestMallocDevice_ShareIdempotentSameProtocol(t *testing.T) {
	desc, err := Open("malloc:///disk0?size_mb=1&blk_size=512", true)
	require.NoError(t, err)
	h, err := desc.IntoHandle(context.Background())
	require.NoError(t, err)

	uri1, err := h.Share(context.Background(), ProtocolNvmf, ShareProps{})
	require.NoError(t, err)
	uri2, err := h.Share(context.Background(), ProtocolNvmf, ShareProps{})
	require.NoError(t, err)
	assert.Equal(t, uri1, uri2)
}

func TestMallocDevice_ShareRejectsBadKeyLength(t *testing.T) {
	desc, err := Open("malloc:///disk0?size_mb=1&blk_size=512", true)
	require.NoError(t, err)
	h, err := desc.IntoHandle(context.Background())
	require.NoError(t, err)

	_, err = h.Share(context.Background(), ProtocolNvmf, ShareProps{Key: []byte("short")})
	assert.ErrorIs(t, err, ErrInvalidUri)
}

type recordingSink struct{ events []Event }

func (s *recordingSink) OnDeviceEvent(ev Event) { s.events = append(s.events, ev) }

func TestMallocDevice_SubscribeReceivesEvents(t *testing.T) {
	dev := newMallocDevice("disk0", 512, 128)
	sink := &recordingSink{}
	unsub := dev.Subscribe(sink)
	dev.subs.emit(Event{Kind: EventRemove, Device: "disk0"})
	assert.Len(t, sink.events, 1)
	unsub()
	dev.subs.emit(Event{Kind: EventRemove, Device: "disk0"})
	assert.Len(t, sink.events, 1)
}

func TestRemoteDevice_ForwardsToLoopbackTarget(t *testing.T) {
	dev := newMallocDevice("backing", 512, 128)
	Register("nvmf://127.0.0.1:4420/nqn.test:uuid:xyz", dev)
	defer Unregister("nvmf://127.0.0.1:4420/nqn.test:uuid:xyz")

	desc, err := Open("nvmf://127.0.0.1:4420/nqn.test:uuid:xyz", true)
	require.NoError(t, err)
	h, err := desc.IntoHandle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backing", h.Name())

	buf := make([]byte, 512)
	require.NoError(t, h.WriteAt(context.Background(), 0, buf))
}
