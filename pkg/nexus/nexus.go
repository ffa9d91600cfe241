package nexus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/pkg/blockdevice"
	"github.com/nexusfleet/nexuscore/pkg/coreerr"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/metrics"
	"github.com/nexusfleet/nexuscore/pkg/nexusinfo"
	"github.com/nexusfleet/nexuscore/pkg/rebuild"
)

// Sentinel errors surfaced by the nexus public contract.
var (
	ErrChildAlreadyExists = errors.New("child already exists")
	ErrDestroyLastChild   = errors.New("cannot remove the only child of a nexus")
	ErrLastHealthyChild   = errors.New("cannot remove the last healthy child")
	ErrNexusFaulted       = errors.New("nexus is faulted")
	ErrReadFailed         = errors.New("read failed on every child")
)

// NexusCreateError wraps the reason a Create call failed to produce even a
// degraded nexus (every child failed to open).
type NexusCreateError struct {
	UUID ids.NexusId
	Err  error
}

func (e *NexusCreateError) Error() string {
	return fmt.Sprintf("nexus %s: create failed: %v", e.UUID, e.Err)
}
func (e *NexusCreateError) Unwrap() error { return e.Err }

// NvmeParams holds the NVMe reservation settings a nexus is created with.
// Share does not read them and issues no reservation-register or -acquire
// exchange.
type NvmeParams struct {
	MinControllerID uint16
	MaxControllerID uint16
	ReservationKey  []byte // 8 bytes
}

// Nexus is the mirror device itself. It exclusively owns
// its ordered Child list; every mutating operation is wrapped in a recovery
// scope that closes half-opened children before returning.
type Nexus struct {
	mu sync.RWMutex

	id       ids.NexusId
	size     uint64
	blockLen uint32
	children []*Child
	state    State

	nvme        NvmeParams
	reservedKey []byte

	shareMu  sync.Mutex
	protocol blockdevice.Protocol
	shareURI string

	pauseCount int

	info    *nexusinfo.Store
	infoKey string

	rebuildJobsMu sync.Mutex
	rebuildJobs   map[string]*rebuild.Job // keyed by destination URI
	history       *rebuild.History

	snapshotRebuildMu  sync.Mutex
	snapshotRebuildURI string // destination URI of the active snapshot-sourced rebuild, "" if none

	rebuildOpts rebuild.Options

	readCursor atomic.Uint64

	metrics metrics.NexusMetrics
}

// Config bundles Create's parameters.
type Config struct {
	UUID        ids.NexusId
	Size        uint64
	ChildURIs   []string
	Nvme        NvmeParams
	Info        *nexusinfo.Store
	InfoKey     string // defaults to UUID.String() when empty
	RebuildOpts rebuild.Options
}

// Create opens all children, derives geometry from the minimum usable size,
// writes the initial NexusInfo record, and starts the nexus Open if every
// child opened, Degraded if some but not all did, or fails entirely if
// none did.
//
// When a prior NexusInfo record exists for this key with clean_shutdown
// false, the process is recovering from a crash: a child the record last
// saw unhealthy is opened straight into Faulted(OutOfSync) rather than
// healed silently, so a previously-degraded mirror never comes back up
// looking fully healthy.
func Create(ctx context.Context, cfg Config) (*Nexus, error) {
	if len(cfg.ChildURIs) == 0 {
		return nil, coreerr.InvalidArgument("Create", "nexus", cfg.UUID.String(), errors.New("at least one child uri is required"))
	}
	infoKey := cfg.InfoKey
	if infoKey == "" {
		infoKey = cfg.UUID.String()
	}

	n := &Nexus{
		id:          cfg.UUID,
		size:        cfg.Size,
		state:       Init,
		nvme:        cfg.Nvme,
		info:        cfg.Info,
		infoKey:     infoKey,
		rebuildJobs: make(map[string]*rebuild.Job),
		history:     rebuild.NewHistory(32),
		rebuildOpts: cfg.RebuildOpts,
		metrics:     metrics.NewNexusMetrics(),
	}

	cleanShutdown := true
	priorHealth := map[string]bool{}
	if cfg.Info != nil {
		if rec, found, err := cfg.Info.Get(infoKey); err == nil && found {
			cleanShutdown = rec.CleanShutdown
			for _, cr := range rec.Children {
				priorHealth[cr.UUID] = cr.Healthy
			}
		}
	}

	opened := make([]*Child, 0, len(cfg.ChildURIs))
	records := make([]nexusinfo.ChildRecord, 0, len(cfg.ChildURIs))
	var outOfSync []*Child
	var minUsable uint64 = ^uint64(0)

	for _, uri := range cfg.ChildURIs {
		child := NewChild(uri)
		wasHealthy, known := priorHealth[uri]
		markOutOfSync := !cleanShutdown && known && !wasHealthy

		err := child.Open(ctx, n.blockLen, markOutOfSync)
		if err != nil {
			logger.Warn("nexus create: child open failed", "nexus", n.id.String(), "uri", uri, "err", err)
			records = append(records, nexusinfo.ChildRecord{UUID: uri, Healthy: false})
			n.children = append(n.children, child)
			continue
		}
		h := child.rawHandle()
		if n.blockLen == 0 {
			n.blockLen = h.BlockLen()
		}
		if usable := h.SizeBytes(); usable < minUsable {
			minUsable = usable
		}
		if markOutOfSync {
			outOfSync = append(outOfSync, child)
		}
		opened = append(opened, child)
		n.children = append(n.children, child)
		records = append(records, nexusinfo.ChildRecord{UUID: uri, Healthy: !markOutOfSync})
	}

	if len(opened) == 0 {
		for _, c := range n.children {
			_ = c.Close()
		}
		return nil, &NexusCreateError{UUID: cfg.UUID, Err: errors.New("no child could be opened")}
	}

	if cfg.Size == 0 || cfg.Size > minUsable {
		n.size = minUsable
	}

	if n.rebuildOpts.Partial {
		for _, c := range outOfSync {
			c.AttachRebuildLog(rebuild.NewLog(n.size, n.rebuildOpts.SegmentSize))
		}
	}

	if n.info != nil {
		n.info.Submit(nexusinfo.Op{
			Kind:    nexusinfo.OpCreate,
			Key:     n.infoKey,
			Initial: nexusinfo.Record{CleanShutdown: false, Children: records},
		})
	}

	n.mu.Lock()
	n.recomputeState()
	n.mu.Unlock()

	return n, nil
}

// ID returns the nexus UUID.
func (n *Nexus) ID() ids.NexusId { return n.id }

// State returns the current lifecycle state.
func (n *Nexus) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Size returns the logical size in bytes, always ≤ min(child usable size).
func (n *Nexus) Size() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.size
}

// Children returns a snapshot of the current child list.
func (n *Nexus) Children() []*Child {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Child, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Nexus) findChild(uri string) (*Child, int) {
	for i, c := range n.children {
		if c.URI() == uri {
			return c, i
		}
	}
	return nil, -1
}

// persistChildHealth enqueues a durable health update for uri, best-effort
// (the persister retries indefinitely in the background).
func (n *Nexus) persistChildHealth(uri string, healthy bool) {
	if n.info == nil {
		return
	}
	n.info.Submit(nexusinfo.Op{Kind: nexusinfo.OpUpdate, Key: n.infoKey, ChildUUID: uri, Healthy: healthy})
}

// AddChild opens uri, validates its geometry against the nexus's
// established block length, transitions it to Faulted(OutOfSync), persists
// the new entry, and — unless norebuild — starts a rebuild job with it as
// destination.
func (n *Nexus) AddChild(ctx context.Context, uri string, norebuild bool) (*Child, error) {
	n.mu.Lock()
	if n.state == Unconfigured {
		n.mu.Unlock()
		return nil, coreerr.StateConflict("AddChild", "nexus", n.id.String(), errors.New("nexus is destroyed"))
	}
	if _, idx := n.findChild(uri); idx >= 0 {
		n.mu.Unlock()
		return nil, ErrChildAlreadyExists
	}
	wantBlockLen := n.blockLen
	n.mu.Unlock()

	child := NewChild(uri)
	if err := child.Open(ctx, wantBlockLen, true); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.children = append(n.children, child)
	n.recomputeState()
	n.mu.Unlock()

	n.persistChildHealth(uri, false)

	if !norebuild {
		if err := n.startRebuild(ctx, uri); err != nil {
			logger.Error("add_child: failed to start rebuild", "nexus", n.id.String(), "uri", uri, "err", err)
		}
	}

	return child, nil
}

// RemoveChild fails with ErrDestroyLastChild if uri is the only child, or
// ErrLastHealthyChild if it is the only Open+InSync child. It cancels any
// rebuild sourced or destined to uri, closes the device, removes the
// entry, and persists.
func (n *Nexus) RemoveChild(ctx context.Context, uri string) error {
	n.mu.Lock()
	if len(n.children) == 1 {
		n.mu.Unlock()
		return ErrDestroyLastChild
	}
	child, idx := n.findChild(uri)
	if idx < 0 {
		n.mu.Unlock()
		return coreerr.NotFound("RemoveChild", "nexus-child", uri, errors.New("no such child"))
	}
	if child.IsHealthy() {
		healthyCount := 0
		for _, c := range n.children {
			if c.IsHealthy() {
				healthyCount++
			}
		}
		if healthyCount <= 1 {
			n.mu.Unlock()
			return ErrLastHealthyChild
		}
	}
	n.children = append(n.children[:idx], n.children[idx+1:]...)
	n.recomputeState()
	n.mu.Unlock()

	n.cancelRebuildsFor(uri)
	_ = child.Close()
	n.persistChildHealth(uri, false)
	return nil
}

// OfflineChild explicitly faults uri with reason Offline and, when partial
// rebuild is enabled, attaches a rebuild log so writes made while the child
// is down are tracked for a targeted resync instead of a full recopy.
func (n *Nexus) OfflineChild(uri string) error {
	n.mu.Lock()
	child, idx := n.findChild(uri)
	if idx < 0 {
		n.mu.Unlock()
		return coreerr.NotFound("OfflineChild", "nexus-child", uri, errors.New("no such child"))
	}
	child.Fault(FaultOffline)
	if n.rebuildOpts.Partial {
		child.AttachRebuildLog(rebuild.NewLog(n.size, n.rebuildOpts.SegmentSize))
	}
	n.recomputeState()
	n.mu.Unlock()
	n.persistChildHealth(uri, false)
	return nil
}

// OnlineChild re-opens uri and queues a rebuild.
func (n *Nexus) OnlineChild(ctx context.Context, uri string) error {
	n.mu.RLock()
	child, idx := n.findChild(uri)
	wantBlockLen := n.blockLen
	n.mu.RUnlock()
	if idx < 0 {
		return coreerr.NotFound("OnlineChild", "nexus-child", uri, errors.New("no such child"))
	}
	if err := child.Open(ctx, wantBlockLen, true); err != nil {
		return err
	}
	n.mu.Lock()
	n.recomputeState()
	n.mu.Unlock()
	return n.startRebuild(ctx, uri)
}

// Destroy pauses the nexus, unshares, closes every child, and — when
// saveState is true — flips NexusInfo clean_shutdown=true and flushes it
// durably before deleting in-memory state. With saveState false the record
// is left clean_shutdown=false so recovery treats the nexus as crashed
//.
func (n *Nexus) Destroy(ctx context.Context, saveState bool) error {
	n.Pause()
	_ = n.Unshare(ctx)

	n.rebuildJobsMu.Lock()
	for _, job := range n.rebuildJobs {
		_ = job.Terminate()
	}
	n.rebuildJobsMu.Unlock()

	n.mu.Lock()
	children := n.children
	n.children = nil
	n.state = Unconfigured
	n.mu.Unlock()

	for _, c := range children {
		_ = c.Close()
	}

	if n.info != nil {
		if saveState {
			n.info.Submit(nexusinfo.Op{Kind: nexusinfo.OpShutdown, Key: n.infoKey})
			_ = n.info.Flush(ctx, n.infoKey)
		}
	}
	return nil
}

// Pause increments the pause counter; I/O dispatch checks it and rejects new
// submissions with a StateConflict error while > 0 (callers coordinate drains externally).
func (n *Nexus) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauseCount++
}

// Resume decrements the pause counter.
func (n *Nexus) Resume() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pauseCount > 0 {
		n.pauseCount--
	}
}

// Paused reports whether the nexus currently rejects new I/O.
func (n *Nexus) Paused() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pauseCount > 0
}

// startRebuild launches a rebuild job for destURI sourced from the first
// Open+InSync child, registering completion handling.
func (n *Nexus) startRebuild(ctx context.Context, destURI string) error {
	n.mu.RLock()
	destChild, _ := n.findChild(destURI)
	var srcChild *Child
	for _, c := range n.children {
		if c.URI() != destURI && c.IsHealthy() {
			srcChild = c
			break
		}
	}
	size := n.size
	blockLen := n.blockLen
	n.mu.RUnlock()

	if srcChild == nil || destChild == nil {
		return coreerr.StateConflict("startRebuild", "nexus", n.id.String(), errors.New("no healthy source child available"))
	}

	n.rebuildJobsMu.Lock()
	if _, exists := n.rebuildJobs[destURI]; exists {
		n.rebuildJobsMu.Unlock()
		return coreerr.StateConflict("startRebuild", "nexus", n.id.String(), errors.New("a rebuild is already active for this destination"))
	}
	n.rebuildJobsMu.Unlock()

	var log *rebuild.Log
	if dl := destChild.RebuildLogHandle(); dl != nil {
		if rl, ok := dl.(*rebuild.Log); ok {
			log = rl
		}
	}

	opts := n.rebuildOpts
	job := rebuild.New(srcChild.URI(), destURI, srcChild.Handle(), destChild.rawHandle(), 0, sizeOrBlockLenFallback(size, blockLen), log, opts)

	n.rebuildJobsMu.Lock()
	n.rebuildJobs[destURI] = job
	n.rebuildJobsMu.Unlock()

	done, err := job.Start(ctx)
	if err != nil {
		n.rebuildJobsMu.Lock()
		delete(n.rebuildJobs, destURI)
		n.rebuildJobsMu.Unlock()
		return err
	}

	go n.watchRebuild(destURI, destChild, job, done)
	return nil
}

func sizeOrBlockLenFallback(size uint64, blockLen uint32) uint64 {
	if size > 0 {
		return size
	}
	return uint64(blockLen)
}

// watchRebuild waits for a job's terminal state and reconciles the
// destination child and NexusInfo.
func (n *Nexus) watchRebuild(destURI string, destChild *Child, job *rebuild.Job, done <-chan rebuild.State) {
	final := <-done

	n.rebuildJobsMu.Lock()
	delete(n.rebuildJobs, destURI)
	n.history.Record(job.ToHistoryEntry())
	n.rebuildJobsMu.Unlock()

	switch final {
	case rebuild.Completed:
		_ = destChild.MarkInSync()
		destChild.AttachRebuildLog(nil)
		n.persistChildHealth(destURI, true)
	case rebuild.Failed:
		destChild.Fault(FaultRebuildFailed)
		n.persistChildHealth(destURI, false)
	case rebuild.Stopped:
		destChild.Fault(FaultStopped)
		n.persistChildHealth(destURI, false)
	}

	n.mu.Lock()
	n.recomputeState()
	n.mu.Unlock()
}

// cancelRebuildsFor terminates any rebuild job with uri as source or
// destination (remove_child contract).
func (n *Nexus) cancelRebuildsFor(uri string) {
	n.rebuildJobsMu.Lock()
	defer n.rebuildJobsMu.Unlock()
	for dest, job := range n.rebuildJobs {
		if dest == uri || job.SourceURI == uri {
			_ = job.Terminate()
		}
	}
}

// RebuildHistory returns the nexus's bounded rebuild-history ring buffer
// contents.
func (n *Nexus) RebuildHistory() []rebuild.HistoryEntry {
	n.rebuildJobsMu.Lock()
	defer n.rebuildJobsMu.Unlock()
	return n.history.Recent()
}

// ActiveRebuild returns the in-flight rebuild job for destURI, if any.
func (n *Nexus) ActiveRebuild(destURI string) (*rebuild.Job, bool) {
	n.rebuildJobsMu.Lock()
	defer n.rebuildJobsMu.Unlock()
	j, ok := n.rebuildJobs[destURI]
	return j, ok
}

// StartSnapshotRebuild launches a rebuild job for destURI — an existing
// child of this nexus — sourced from snapshotURI, a standalone device
// opened read-only for the duration of the copy, rather than from another
// mirror child. Used to resync a replica after a prolonged offline window
// without needing a peer still holding the full image. Only one
// snapshot-sourced rebuild may be active per nexus at a time.
func (n *Nexus) StartSnapshotRebuild(ctx context.Context, snapshotURI, destURI string) (*rebuild.Job, error) {
	n.mu.RLock()
	destChild, _ := n.findChild(destURI)
	size := n.size
	blockLen := n.blockLen
	n.mu.RUnlock()

	if destChild == nil {
		return nil, coreerr.NotFound("StartSnapshotRebuild", "nexus-child", destURI, errors.New("no such child"))
	}

	n.snapshotRebuildMu.Lock()
	active := n.snapshotRebuildURI
	n.snapshotRebuildMu.Unlock()
	if active != "" {
		return nil, coreerr.AlreadyExists("StartSnapshotRebuild", "nexus", n.id.String(), fmt.Errorf("a snapshot rebuild is already active for %s", active))
	}

	n.rebuildJobsMu.Lock()
	if _, exists := n.rebuildJobs[destURI]; exists {
		n.rebuildJobsMu.Unlock()
		return nil, coreerr.AlreadyExists("StartSnapshotRebuild", "nexus", n.id.String(), fmt.Errorf("a rebuild is already active for %s", destURI))
	}
	n.rebuildJobsMu.Unlock()

	srcDesc, err := blockdevice.Open(snapshotURI, false)
	if err != nil {
		return nil, coreerr.InvalidArgument("StartSnapshotRebuild", "snapshot", snapshotURI, err)
	}
	srcHandle, err := srcDesc.IntoHandle(ctx)
	if err != nil {
		srcDesc.Close()
		return nil, coreerr.InvalidArgument("StartSnapshotRebuild", "snapshot", snapshotURI, err)
	}

	var log *rebuild.Log
	if dl := destChild.RebuildLogHandle(); dl != nil {
		if rl, ok := dl.(*rebuild.Log); ok {
			log = rl
		}
	}

	opts := n.rebuildOpts
	job := rebuild.New(snapshotURI, destURI, srcHandle, destChild.rawHandle(), 0, sizeOrBlockLenFallback(size, blockLen), log, opts)

	n.rebuildJobsMu.Lock()
	if _, exists := n.rebuildJobs[destURI]; exists {
		n.rebuildJobsMu.Unlock()
		srcDesc.Close()
		return nil, coreerr.AlreadyExists("StartSnapshotRebuild", "nexus", n.id.String(), fmt.Errorf("a rebuild is already active for %s", destURI))
	}
	n.rebuildJobs[destURI] = job
	n.rebuildJobsMu.Unlock()

	done, err := job.Start(ctx)
	if err != nil {
		n.rebuildJobsMu.Lock()
		delete(n.rebuildJobs, destURI)
		n.rebuildJobsMu.Unlock()
		srcDesc.Close()
		return nil, err
	}

	n.snapshotRebuildMu.Lock()
	n.snapshotRebuildURI = destURI
	n.snapshotRebuildMu.Unlock()

	go func() {
		n.watchRebuild(destURI, destChild, job, done)
		srcDesc.Close()
		n.snapshotRebuildMu.Lock()
		if n.snapshotRebuildURI == destURI {
			n.snapshotRebuildURI = ""
		}
		n.snapshotRebuildMu.Unlock()
	}()

	return job, nil
}

// ActiveSnapshotRebuild returns the nexus's currently tracked
// snapshot-sourced rebuild job, if any.
func (n *Nexus) ActiveSnapshotRebuild() (*rebuild.Job, bool) {
	n.snapshotRebuildMu.Lock()
	destURI := n.snapshotRebuildURI
	n.snapshotRebuildMu.Unlock()
	if destURI == "" {
		return nil, false
	}
	return n.ActiveRebuild(destURI)
}
