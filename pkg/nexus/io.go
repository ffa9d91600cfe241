package nexus

import (
	"context"
	"errors"
	"time"

	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/metrics"
)

// errPaused is returned when I/O is attempted while the nexus's pause
// counter is non-zero.
var errPaused = errors.New("nexus is paused")

// ReadAt dispatches a read round-robin across Open+InSync children. A
// failure faults the selected child (reason IoError) and retries on
// another; if every child fails the read returns ErrReadFailed.
func (n *Nexus) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	start := time.Now()
	err := n.readAt(ctx, offset, buf)
	metrics.ObserveIO(n.metrics, "read", len(buf), time.Since(start), err)
	return err
}

func (n *Nexus) readAt(ctx context.Context, offset uint64, buf []byte) error {
	if n.Paused() {
		return coreerr.StateConflict("ReadAt", "nexus", n.id.String(), errPaused)
	}

	healthy := n.healthyChildren()
	if len(healthy) == 0 {
		return coreerr.New("ReadAt", "nexus", n.id.String(), coreerr.ErrIoError, ErrReadFailed)
	}

	start := int(n.readCursor.Add(1) % uint64(len(healthy)))
	for i := 0; i < len(healthy); i++ {
		c := healthy[(start+i)%len(healthy)]
		h := c.Handle()
		if h == nil {
			continue
		}
		if err := h.ReadAt(ctx, offset, buf); err != nil {
			c.Fault(FaultIoError)
			metrics.RecordChildFault(n.metrics, n.id.String(), c.URI(), "IoError")
			n.persistChildHealth(c.URI(), false)
			n.mu.Lock()
			n.recomputeState()
			n.mu.Unlock()
			continue
		}
		return nil
	}
	return coreerr.New("ReadAt", "nexus", n.id.String(), coreerr.ErrIoError, ErrReadFailed)
}

// WriteAt writes to every Open, InSync child. A child that is not Open and
// InSync but carries a rebuild log is not written; the range is marked
// dirty in its log instead. A per-child failure faults that child but the
// write succeeds to the host as long as ≥1 child acknowledged.
func (n *Nexus) WriteAt(ctx context.Context, offset uint64, buf []byte) error {
	start := time.Now()
	err := n.writeAt(ctx, offset, buf)
	metrics.ObserveIO(n.metrics, "write", len(buf), time.Since(start), err)
	return err
}

func (n *Nexus) writeAt(ctx context.Context, offset uint64, buf []byte) error {
	if n.Paused() {
		return coreerr.StateConflict("WriteAt", "nexus", n.id.String(), errPaused)
	}

	targets := n.writeTargets()
	if len(targets) == 0 {
		return coreerr.New("WriteAt", "nexus", n.id.String(), coreerr.ErrIoError, errors.New("no writable child"))
	}

	acked := 0
	for _, c := range targets {
		if c.IsHealthy() {
			h := c.Handle()
			if h == nil {
				continue
			}
			if err := h.WriteAt(ctx, offset, buf); err != nil {
				c.Fault(FaultIoError)
				metrics.RecordChildFault(n.metrics, n.id.String(), c.URI(), "IoError")
				n.persistChildHealth(c.URI(), false)
				continue
			}
			acked++
			continue
		}
		if log := c.RebuildLogHandle(); log != nil {
			log.MarkDirty(offset, uint64(len(buf)))
		}
	}

	n.mu.Lock()
	n.recomputeState()
	n.mu.Unlock()

	if acked == 0 {
		return coreerr.New("WriteAt", "nexus", n.id.String(), coreerr.ErrIoError, errors.New("write failed on every child"))
	}
	return nil
}

// UnmapBlocks broadcasts an unmap the same way WriteAt broadcasts a write.
func (n *Nexus) UnmapBlocks(ctx context.Context, startBlock, numBlocks uint64) error {
	start := time.Now()
	err := n.unmapBlocks(ctx, startBlock, numBlocks)
	metrics.ObserveIO(n.metrics, "unmap", 0, time.Since(start), err)
	return err
}

func (n *Nexus) unmapBlocks(ctx context.Context, startBlock, numBlocks uint64) error {
	if n.Paused() {
		return coreerr.StateConflict("UnmapBlocks", "nexus", n.id.String(), errPaused)
	}
	n.mu.RLock()
	blockLen := uint64(n.blockLen)
	n.mu.RUnlock()
	targets := n.writeTargets()
	acked := 0
	for _, c := range targets {
		if !c.IsHealthy() {
			if log := c.RebuildLogHandle(); log != nil {
				log.MarkDirty(startBlock*blockLen, numBlocks*blockLen)
			}
			continue
		}
		h := c.Handle()
		if h == nil {
			continue
		}
		if err := h.UnmapBlocks(ctx, startBlock, numBlocks); err != nil {
			c.Fault(FaultIoError)
			metrics.RecordChildFault(n.metrics, n.id.String(), c.URI(), "IoError")
			n.persistChildHealth(c.URI(), false)
			continue
		}
		acked++
	}
	n.mu.Lock()
	n.recomputeState()
	n.mu.Unlock()
	if acked == 0 {
		return coreerr.New("UnmapBlocks", "nexus", n.id.String(), coreerr.ErrIoError, errors.New("unmap failed on every child"))
	}
	return nil
}

func (n *Nexus) healthyChildren() []*Child {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Child, 0, len(n.children))
	for _, c := range n.children {
		if c.IsHealthy() {
			out = append(out, c)
		}
	}
	return out
}

func (n *Nexus) writeTargets() []*Child {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Child, 0, len(n.children))
	for _, c := range n.children {
		if c.IsHealthy() || c.RebuildLogHandle() != nil {
			out = append(out, c)
		}
	}
	return out
}
