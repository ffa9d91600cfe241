package blockdevice

import (
	"context"
	"fmt"
	"sync"
)

// remoteRegistry is the process-local stand-in for the nvmf/iscsi initiator
// stack: remote transport itself is out of scope, so loopback registration
// against an already-opened local Handle lets the rest of the system
// (Nexus, rebuild) exercise the remote code paths without a real target.
type remoteRegistry struct {
	mu      sync.RWMutex
	targets map[string]Handle // share URI -> backing handle
}

var loopback = &remoteRegistry{targets: make(map[string]Handle)}

// Register exposes h under uri for subsequent remoteDevice Open calls.
func Register(uri string, h Handle) {
	loopback.mu.Lock()
	defer loopback.mu.Unlock()
	loopback.targets[uri] = h
}

// Unregister removes a previously registered share URI.
func Unregister(uri string) {
	loopback.mu.Lock()
	defer loopback.mu.Unlock()
	delete(loopback.targets, uri)
}

// remoteDevice is a thin forwarding Handle over a loopback-registered
// target, standing in for an nvmf/iscsi-attached device.
type remoteDevice struct {
	uri    string
	target Handle

	stats statsState
	subs  subState
}

func openRemoteDevice(uri string) (*remoteDevice, error) {
	loopback.mu.RLock()
	target, ok := loopback.targets[uri]
	loopback.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no target registered for %q", ErrBdevNotFound, uri)
	}
	return &remoteDevice{uri: uri, target: target, subs: newSubState()}, nil
}

type remoteDescriptor struct{ dev *remoteDevice }

func (d *remoteDescriptor) IntoHandle(_ context.Context) (Handle, error) { return d.dev, nil }
func (d *remoteDescriptor) Close() error                                 { return nil }

func (d *remoteDevice) Name() string      { return d.target.Name() }
func (d *remoteDevice) BlockLen() uint32  { return d.target.BlockLen() }
func (d *remoteDevice) NumBlocks() uint64 { return d.target.NumBlocks() }
func (d *remoteDevice) SizeBytes() uint64 { return d.target.SizeBytes() }
func (d *remoteDevice) Alignment() uint32 { return d.target.Alignment() }

func (d *remoteDevice) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	if err := d.target.ReadAt(ctx, offset, buf); err != nil {
		d.stats.recordReadErr()
		return err
	}
	d.stats.recordRead(len(buf))
	return nil
}

func (d *remoteDevice) WriteAt(ctx context.Context, offset uint64, buf []byte) error {
	if err := d.target.WriteAt(ctx, offset, buf); err != nil {
		d.stats.recordWriteErr()
		return err
	}
	d.stats.recordWrite(len(buf))
	return nil
}

func (d *remoteDevice) UnmapBlocks(ctx context.Context, startBlock, numBlocks uint64) error {
	return d.target.UnmapBlocks(ctx, startBlock, numBlocks)
}

func (d *remoteDevice) WriteZeroes(ctx context.Context, startBlock, numBlocks uint64) error {
	return d.target.WriteZeroes(ctx, startBlock, numBlocks)
}

func (d *remoteDevice) Reset(ctx context.Context) error { return d.target.Reset(ctx) }

func (d *remoteDevice) Share(_ context.Context, _ Protocol, _ ShareProps) (string, error) {
	return "", fmt.Errorf("%w: remote devices cannot be re-shared", ErrNotSupported)
}

func (d *remoteDevice) Unshare(_ context.Context) error {
	return fmt.Errorf("%w: remote devices cannot be unshared locally", ErrNotSupported)
}

func (d *remoteDevice) ShareURI() string         { return d.uri }
func (d *remoteDevice) ActiveProtocol() Protocol { return ProtocolNvmf }
func (d *remoteDevice) Stats() Stats             { return d.stats.snapshot() }
func (d *remoteDevice) Subscribe(sink EventSink) func() { return d.subs.subscribe(sink) }
