package blockdevice

import (
	"context"
	"sync"
)

// mallocDevice is an in-memory block device backed by a plain byte slice:
// used in tests and for ephemeral pools. It documents the contract every
// other variant in this package implements.
type mallocDevice struct {
	mu        sync.RWMutex
	name      string
	blockLen  uint32
	numBlocks uint64
	alignment uint32
	data      []byte

	share shareState
	stats statsState
	subs  subState
}

func newMallocDevice(name string, blockLen uint32, numBlocks uint64) *mallocDevice {
	return &mallocDevice{
		name:      name,
		blockLen:  blockLen,
		numBlocks: numBlocks,
		alignment: blockLen,
		data:      make([]byte, uint64(blockLen)*numBlocks),
		subs:      newSubState(),
	}
}

type mallocDescriptor struct{ dev *mallocDevice }

func (d *mallocDescriptor) IntoHandle(_ context.Context) (Handle, error) { return d.dev, nil }
func (d *mallocDescriptor) Close() error                                 { return nil }

func (d *mallocDevice) Name() string      { return d.name }
func (d *mallocDevice) BlockLen() uint32  { return d.blockLen }
func (d *mallocDevice) NumBlocks() uint64 { return d.numBlocks }
func (d *mallocDevice) SizeBytes() uint64 { return uint64(d.blockLen) * d.numBlocks }
func (d *mallocDevice) Alignment() uint32 { return d.alignment }

func (d *mallocDevice) ReadAt(_ context.Context, offset uint64, buf []byte) error {
	if err := validateAligned(offset, len(buf), d.blockLen, d.SizeBytes()); err != nil {
		d.stats.recordReadErr()
		return &IOError{Op: "read", Offset: offset, Len: uint64(len(buf))}
	}
	d.mu.RLock()
	copy(buf, d.data[offset:offset+uint64(len(buf))])
	d.mu.RUnlock()
	d.stats.recordRead(len(buf))
	return nil
}

func (d *mallocDevice) WriteAt(_ context.Context, offset uint64, buf []byte) error {
	if err := validateAligned(offset, len(buf), d.blockLen, d.SizeBytes()); err != nil {
		d.stats.recordWriteErr()
		return &IOError{Op: "write", Offset: offset, Len: uint64(len(buf))}
	}
	d.mu.Lock()
	copy(d.data[offset:offset+uint64(len(buf))], buf)
	d.mu.Unlock()
	d.stats.recordWrite(len(buf))
	return nil
}

func (d *mallocDevice) UnmapBlocks(_ context.Context, startBlock, numBlocks uint64) error {
	off := startBlock * uint64(d.blockLen)
	length := numBlocks * uint64(d.blockLen)
	if off+length > d.SizeBytes() {
		return &IOError{Op: "unmap", Offset: off, Len: length}
	}
	d.mu.Lock()
	clear(d.data[off : off+length])
	d.mu.Unlock()
	return nil
}

func (d *mallocDevice) WriteZeroes(ctx context.Context, startBlock, numBlocks uint64) error {
	return d.UnmapBlocks(ctx, startBlock, numBlocks)
}

func (d *mallocDevice) Reset(_ context.Context) error { return nil }

func (d *mallocDevice) Share(_ context.Context, protocol Protocol, props ShareProps) (string, error) {
	return d.share.share(func() string {
		return BuildShareURI(protocol, "127.0.0.1", 4420, "nqn.2019-05.io.nexuscore", d.name)
	}, protocol, props)
}

func (d *mallocDevice) Unshare(_ context.Context) error {
	d.share.unshare()
	return nil
}

func (d *mallocDevice) ShareURI() string            { return d.share.shareURI() }
func (d *mallocDevice) ActiveProtocol() Protocol    { return d.share.activeProtocol() }
func (d *mallocDevice) Stats() Stats                { return d.stats.snapshot() }
func (d *mallocDevice) Subscribe(sink EventSink) func() { return d.subs.subscribe(sink) }
