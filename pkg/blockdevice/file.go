package blockdevice

import (
	"context"
	"fmt"
	"os"
)

// fileDevice backs the aio:// and uring:// schemes with a regular file. Both
// are local file-backed devices distinguished only by their submission
// mechanism (AIO vs io_uring), which is below this abstraction's boundary —
// both map to the same Go implementation using *os.File's ReadAt/WriteAt.
type fileDevice struct {
	name      string
	path      string
	f         *os.File
	blockLen  uint32
	numBlocks uint64

	share shareState
	stats statsState
	subs  subState
}

func openFileDevice(name, path string, blockLen uint32) (*fileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBdevNotFound, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &CreateBdevError{Uri: path}
	}
	numBlocks := uint64(fi.Size()) / uint64(blockLen)
	return &fileDevice{
		name:      name,
		path:      path,
		f:         f,
		blockLen:  blockLen,
		numBlocks: numBlocks,
		subs:      newSubState(),
	}, nil
}

type fileDescriptor struct{ dev *fileDevice }

func (d *fileDescriptor) IntoHandle(_ context.Context) (Handle, error) { return d.dev, nil }
func (d *fileDescriptor) Close() error                                 { return d.dev.f.Close() }

func (d *fileDevice) Name() string      { return d.name }
func (d *fileDevice) BlockLen() uint32  { return d.blockLen }
func (d *fileDevice) NumBlocks() uint64 { return d.numBlocks }
func (d *fileDevice) SizeBytes() uint64 { return uint64(d.blockLen) * d.numBlocks }
func (d *fileDevice) Alignment() uint32 { return d.blockLen }

func (d *fileDevice) ReadAt(_ context.Context, offset uint64, buf []byte) error {
	if err := validateAligned(offset, len(buf), d.blockLen, d.SizeBytes()); err != nil {
		d.stats.recordReadErr()
		return &IOError{Op: "read", Offset: offset, Len: uint64(len(buf))}
	}
	if _, err := d.f.ReadAt(buf, int64(offset)); err != nil {
		d.stats.recordReadErr()
		return &IOError{Op: "read", Offset: offset, Len: uint64(len(buf)), Completed: true}
	}
	d.stats.recordRead(len(buf))
	return nil
}

func (d *fileDevice) WriteAt(_ context.Context, offset uint64, buf []byte) error {
	if err := validateAligned(offset, len(buf), d.blockLen, d.SizeBytes()); err != nil {
		d.stats.recordWriteErr()
		return &IOError{Op: "write", Offset: offset, Len: uint64(len(buf))}
	}
	if _, err := d.f.WriteAt(buf, int64(offset)); err != nil {
		d.stats.recordWriteErr()
		return &IOError{Op: "write", Offset: offset, Len: uint64(len(buf)), Completed: true}
	}
	d.stats.recordWrite(len(buf))
	return nil
}

func (d *fileDevice) UnmapBlocks(_ context.Context, startBlock, numBlocks uint64) error {
	off := int64(startBlock * uint64(d.blockLen))
	length := int64(numBlocks * uint64(d.blockLen))
	zeroes := make([]byte, length)
	if _, err := d.f.WriteAt(zeroes, off); err != nil {
		return &IOError{Op: "unmap", Offset: uint64(off), Len: uint64(length), Completed: true}
	}
	return nil
}

func (d *fileDevice) WriteZeroes(ctx context.Context, startBlock, numBlocks uint64) error {
	return d.UnmapBlocks(ctx, startBlock, numBlocks)
}

func (d *fileDevice) Reset(_ context.Context) error { return d.f.Sync() }

func (d *fileDevice) Share(_ context.Context, protocol Protocol, props ShareProps) (string, error) {
	return d.share.share(func() string {
		return BuildShareURI(protocol, "127.0.0.1", 4420, "nqn.2019-05.io.nexuscore", d.name)
	}, protocol, props)
}

func (d *fileDevice) Unshare(_ context.Context) error {
	d.share.unshare()
	return nil
}

func (d *fileDevice) ShareURI() string            { return d.share.shareURI() }
func (d *fileDevice) ActiveProtocol() Protocol    { return d.share.activeProtocol() }
func (d *fileDevice) Stats() Stats                { return d.stats.snapshot() }
func (d *fileDevice) Subscribe(sink EventSink) func() { return d.subs.subscribe(sink) }
