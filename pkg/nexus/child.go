// Package nexus implements the mirror device and its children for a
// distributed block-storage control plane: a nexus is N children
// serving reads/writes while tolerating per-child
// failure, with explicit online/degraded/faulted transitions.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/pkg/blockdevice"
	"github.com/nexusfleet/nexuscore/pkg/coreerr"
)

// ChildState is the NexusChild lifecycle.
type ChildState int

const (
	ChildInit ChildState = iota
	ChildOpen
	ChildFaulted
	ChildClosed
)

func (s ChildState) String() string {
	switch s {
	case ChildInit:
		return "Init"
	case ChildOpen:
		return "Open"
	case ChildFaulted:
		return "Faulted"
	case ChildClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// FaultReason is the tagged union of why a child was faulted.
type FaultReason int

const (
	FaultNone FaultReason = iota
	FaultOutOfSync
	FaultIoError
	FaultRemoteAccess
	FaultCantOpen
	FaultAdminFailed
	FaultReservationConflict
	FaultRebuildFailed
	FaultOffline
	FaultStopped
)

func (r FaultReason) String() string {
	switch r {
	case FaultOutOfSync:
		return "OutOfSync"
	case FaultIoError:
		return "IoError"
	case FaultRemoteAccess:
		return "RemoteAccess"
	case FaultCantOpen:
		return "CantOpen"
	case FaultAdminFailed:
		return "AdminFailed"
	case FaultReservationConflict:
		return "ReservationConflict"
	case FaultRebuildFailed:
		return "RebuildFailed"
	case FaultOffline:
		return "Offline"
	case FaultStopped:
		return "Stopped"
	default:
		return "None"
	}
}

// terminal reports whether a child faulted with r can only transition to Closed; re-entry to Open requires an
// explicit admin replace that creates a new child.
func (r FaultReason) terminal() bool {
	switch r {
	case FaultIoError, FaultRemoteAccess, FaultCantOpen, FaultAdminFailed:
		return true
	default:
		return false
	}
}

// SyncState tags whether a child's contents are known to match the nexus's
// authoritative data.
type SyncState int

const (
	InSync SyncState = iota
	OutOfSync
)

// ChildGeometryError is returned by Open when the child's block length does
// not match the peer children already open on the nexus.
type ChildGeometryError struct {
	URI           string
	ChildBlockLen uint32
	WantBlockLen  uint32
}

func (e *ChildGeometryError) Error() string {
	return fmt.Sprintf("child %q has block length %d, nexus requires %d", e.URI, e.ChildBlockLen, e.WantBlockLen)
}

// Child is one leg of a mirror. It owns exactly one
// BlockDevice: destroying the child closes the device. A child in state
// Open has a non-nil handle; a child in Faulted does not serve I/O but may
// be re-opened by a rebuild job when the fault reason is OutOfSync.
type Child struct {
	mu sync.RWMutex

	uri   string
	state ChildState
	fault FaultReason
	sync  SyncState

	desc blockdevice.Descriptor
	h    blockdevice.Handle

	rebuildLog RebuildLog // nil unless a partial-rebuild log is attached
}

// RebuildLog is the subset of the rebuild-log contract the child needs to
// record writes while it carries a log (full definition lives in
// package rebuild; this local interface avoids an import cycle).
type RebuildLog interface {
	MarkDirty(startBlock, numBlocks uint64)
}

// NewChild constructs a child in state Init for uri. It is not usable for
// I/O until Open succeeds.
func NewChild(uri string) *Child {
	return &Child{uri: uri, state: ChildInit}
}

// URI returns the child's immutable identity.
func (c *Child) URI() string { return c.uri }

// State returns the current lifecycle state.
func (c *Child) State() ChildState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// FaultReason returns the last fault reason, or FaultNone if not faulted.
func (c *Child) FaultReason() FaultReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fault
}

// SyncState returns whether the child is believed to match the nexus's
// authoritative data.
func (c *Child) SyncState() SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sync
}

// IsOpen reports whether the child is serving I/O.
func (c *Child) IsOpen() bool { return c.State() == ChildOpen }

// IsHealthy reports whether the child is Open and InSync — the predicate
// used throughout the nexus I/O path.
func (c *Child) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == ChildOpen && c.sync == InSync
}

// Open opens the backing device and validates its block length against
// wantBlockLen (the nexus's established geometry, or 0 if this is the
// first child to open). On success the child enters ChildOpen with
// SyncState InSync unless markOutOfSync is set, in which case it opens
// straight into Faulted(OutOfSync) per the add_child contract.
func (c *Child) Open(ctx context.Context, wantBlockLen uint32, markOutOfSync bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ChildOpen {
		return nil
	}
	if c.state == ChildFaulted && c.fault.terminal() {
		return coreerr.StateConflict("Open", "nexus-child", c.uri, fmt.Errorf("fault reason %s is terminal", c.fault))
	}

	desc, err := blockdevice.Open(c.uri, true)
	if err != nil {
		c.state = ChildFaulted
		c.fault = FaultCantOpen
		return coreerr.New("Open", "nexus-child", c.uri, FaultCantOpen.asError(), err)
	}
	h, err := desc.IntoHandle(ctx)
	if err != nil {
		desc.Close()
		c.state = ChildFaulted
		c.fault = FaultCantOpen
		return coreerr.New("Open", "nexus-child", c.uri, FaultCantOpen.asError(), err)
	}

	if wantBlockLen != 0 && h.BlockLen() != wantBlockLen {
		desc.Close()
		c.state = ChildFaulted
		c.fault = FaultAdminFailed
		return &ChildGeometryError{URI: c.uri, ChildBlockLen: h.BlockLen(), WantBlockLen: wantBlockLen}
	}

	c.desc = desc
	c.h = h
	if markOutOfSync {
		c.state = ChildFaulted
		c.fault = FaultOutOfSync
		c.sync = OutOfSync
	} else {
		c.state = ChildOpen
		c.fault = FaultNone
		c.sync = InSync
	}
	return nil
}

// Close is idempotent: closing an already-closed child is a no-op.
func (c *Child) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChildClosed {
		return nil
	}
	var err error
	if c.desc != nil {
		err = c.desc.Close()
		c.desc = nil
		c.h = nil
	}
	c.state = ChildClosed
	return err
}

// Fault is edge-triggered: duplicate faults with the same reason while
// already Faulted are coalesced. A terminal fault reason forbids
// any further Open without an admin replace.
func (c *Child) Fault(reason FaultReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChildFaulted && c.fault == reason {
		return
	}
	if c.state == ChildOpen && c.h != nil {
		c.h = nil
	}
	c.state = ChildFaulted
	c.fault = reason
	if reason != FaultOutOfSync {
		c.sync = OutOfSync
	}
	logger.Warn("nexus child faulted", "uri", c.uri, "reason", reason.String())
}

// CanReopen reports whether the child's current fault reason permits
// transition back to Open (only OutOfSync may; terminal reasons require a
// new child via admin replace).
func (c *Child) CanReopen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == ChildFaulted && !c.fault.terminal()
}

// MarkInSync transitions a Faulted(OutOfSync) child back to Open, called by
// the rebuild engine on job completion.
func (c *Child) MarkInSync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChildFaulted {
		return coreerr.StateConflict("MarkInSync", "nexus-child", c.uri, errors.New("child is not faulted"))
	}
	c.state = ChildOpen
	c.fault = FaultNone
	c.sync = InSync
	return nil
}

// DeviceName returns the backing device's driver-assigned name, valid only
// while the child is Open.
func (c *Child) DeviceName() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != ChildOpen || c.h == nil {
		return "", false
	}
	return c.h.Name(), true
}

// Handle returns the live I/O handle, or nil if the child is not Open.
func (c *Child) Handle() blockdevice.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != ChildOpen {
		return nil
	}
	return c.h
}

// rawHandle returns the backing I/O handle regardless of lifecycle state.
// A rebuild destination is opened straight into Faulted(OutOfSync), so the
// owning Nexus's rebuild path needs the handle Handle() withholds in that
// state; callers outside this package must go through Handle().
func (c *Child) rawHandle() blockdevice.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.h
}

// AttachRebuildLog installs a rebuild log that the child's writes will mark
// dirty while it remains in Faulted(OutOfSync), enabling partial rebuild.
func (c *Child) AttachRebuildLog(log RebuildLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildLog = log
}

// RebuildLogHandle returns the attached rebuild log, if any.
func (c *Child) RebuildLogHandle() RebuildLog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rebuildLog
}

// asError renders a FaultReason as a sentinel-compatible error for
// coreerr wrapping.
func (r FaultReason) asError() error {
	return fmt.Errorf("fault: %s", r.String())
}
