// Package blockdevice implements the BlockDevice abstraction: a
// unified handle over local and remote disks, with read/write, unmap,
// reset, share and stats operations, plus an event
// subscription sink. It is the boundary to the physical world — everything
// above it (NexusChild, Nexus) only ever talks to this interface.
package blockdevice

import (
	"context"
	"errors"
	"fmt"
)

// Protocol is the closed set of share protocols a device can be exported
// over.
type Protocol int

const (
	ProtocolOff Protocol = iota
	ProtocolNvmf
)

func (p Protocol) String() string {
	if p == ProtocolNvmf {
		return "nvmf"
	}
	return "off"
}

// Open-time errors.
var (
	ErrBdevNotFound  = errors.New("bdev not found")
	ErrInvalidUri    = errors.New("invalid uri")
	ErrBdevExists    = errors.New("bdev already exists")
	ErrNotSupported  = errors.New("operation not supported")
	ErrAlreadyShared = errors.New("already shared on a different protocol")
)

// CreateBdevError wraps a driver-level errno surfaced while creating the
// backing bdev.
type CreateBdevError struct {
	Errno int
	Uri   string
}

func (e *CreateBdevError) Error() string {
	return fmt.Sprintf("create bdev failed for %q: errno %d", e.Uri, e.Errno)
}

// IOError is returned for read/write submission or completion failures:
// ReadDispatch/WriteDispatch on submission, ReadFailed/WriteFailed on
// completion.
type IOError struct {
	Op        string // "read", "write" or "unmap"
	Offset    uint64
	Len       uint64
	Errno     int
	Completed bool // false => dispatch-time error, true => completion-time error
}

func (e *IOError) Error() string {
	stage := "dispatch"
	if e.Completed {
		stage = "completion"
	}
	return fmt.Sprintf("%s %s error at offset=%d len=%d errno=%d", e.Op, stage, e.Offset, e.Len, e.Errno)
}

// EventKind enumerates the device events a Handle can publish to subscribers.
type EventKind int

const (
	EventRemove EventKind = iota
	EventReservationConflict
	EventAdminCommandCompletion
)

// Event is delivered to a subscribed EventSink.
type Event struct {
	Kind   EventKind
	Device string // device name that raised the event
}

// EventSink receives device events. NexusChild implements this to learn
// about faults on its underlying device; the sink holds a non-owning handle
// back to the owner to avoid a reference cycle.
type EventSink interface {
	OnDeviceEvent(ev Event)
}

// ShareProps carries the properties needed to share a device, including the
// 16-byte NVMe reservation key when present.
type ShareProps struct {
	Key           []byte // must be exactly 16 bytes if non-nil (ErrInvalidUri otherwise)
	AllowedHosts  []string
	ReconnectWait int // ms; embeds --tgt-crdt in the advertised share
}

// Descriptor is the open handle obtained from Open. It must be turned into
// an I/O Handle via IntoHandle before read/write can be issued.
type Descriptor interface {
	// IntoHandle acquires an I/O channel bound to the caller's execution
	// context.
	IntoHandle(ctx context.Context) (Handle, error)

	// Close releases the descriptor without requiring a Handle.
	Close() error
}

// Handle is the live I/O interface to a BlockDevice.
type Handle interface {
	// Device identifying info.
	Name() string
	BlockLen() uint32
	NumBlocks() uint64
	SizeBytes() uint64
	Alignment() uint32

	// ReadAt/WriteAt: offset and len must be block-aligned/block-length
	// multiples. Returns *IOError on failure.
	ReadAt(ctx context.Context, offset uint64, buf []byte) error
	WriteAt(ctx context.Context, offset uint64, buf []byte) error

	// UnmapBlocks/WriteZeroes/Reset: callback-style completion is modeled
	// as a synchronous call returning error; NotSupported surfaces
	// EOPNOTSUPP-equivalent devices.
	UnmapBlocks(ctx context.Context, startBlock, numBlocks uint64) error
	WriteZeroes(ctx context.Context, startBlock, numBlocks uint64) error
	Reset(ctx context.Context) error

	// Share/Unshare: idempotent w.r.t. the currently active protocol.
	Share(ctx context.Context, protocol Protocol, props ShareProps) (uri string, err error)
	Unshare(ctx context.Context) error
	ShareURI() string
	ActiveProtocol() Protocol

	// Stats returns cumulative I/O counters.
	Stats() Stats

	// Subscribe registers sink for device events. Returns an unsubscribe
	// function.
	Subscribe(sink EventSink) (unsubscribe func())
}

// Stats mirrors the counters a BlockDevice handle exposes.
type Stats struct {
	BytesRead    uint64
	BytesWritten uint64
	NumReadOps   uint64
	NumWriteOps  uint64
	ReadErrors   uint64
	WriteErrors  uint64
}
