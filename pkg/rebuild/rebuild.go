// Package rebuild implements the per-child background copy engine:
// segment-level copy jobs with pause/resume/stop/fail/complete semantics,
// an optional partial-rebuild bitmap log, and a bounded concurrent worker
// pool over disjoint segment ranges.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/internal/telemetry"
	"github.com/nexusfleet/nexuscore/pkg/blockdevice"
	"github.com/nexusfleet/nexuscore/pkg/metrics"
)

// DefaultSegmentSize is the default unit of copy work, 64 KiB.
const DefaultSegmentSize = 64 * 1024

// DefaultWorkerDepth bounds the concurrent segment-copy task pool.
const DefaultWorkerDepth = 16

// VerifyMode controls post-write verification of copied segments.
type VerifyMode int

const (
	VerifyOff VerifyMode = iota
	VerifyCompareAfterWrite
)

// State is the rebuild job lifecycle.
type State int

const (
	Init State = iota
	Running
	Paused
	Stopped
	Failed
	Completed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

func (s State) terminal() bool {
	return s == Stopped || s == Failed || s == Completed
}

// OpError is returned when an operation is attempted against a terminal
// job state.
type OpError struct {
	Operation string
	State     State
}

func (e *OpError) Error() string {
	return fmt.Sprintf("rebuild: operation %q invalid in state %s", e.Operation, e.State)
}

// SegmentReadError, SegmentWriteError and VerifyMismatch record the
// specific failure that moved a job to Failed.
type SegmentReadError struct{ Offset uint64 }

func (e *SegmentReadError) Error() string { return fmt.Sprintf("segment read error at offset %d", e.Offset) }

type SegmentWriteError struct{ Offset uint64 }

func (e *SegmentWriteError) Error() string {
	return fmt.Sprintf("segment write error at offset %d", e.Offset)
}

type VerifyMismatch struct{ Offset uint64 }

func (e *VerifyMismatch) Error() string { return fmt.Sprintf("verify mismatch at offset %d", e.Offset) }

// Options configures a rebuild job.
type Options struct {
	SegmentSize uint64 // bytes, power of two, multiple of block length
	Verify      VerifyMode
	Partial     bool
	ReadBypass  bool
	WorkerDepth int
}

func (o Options) withDefaults() Options {
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.WorkerDepth == 0 {
		o.WorkerDepth = DefaultWorkerDepth
	}
	return o
}

// Stats reports job progress; callable in any state, monotonic within a run.
type Stats struct {
	BlocksTotal       uint64
	BlocksTransferred uint64
	BlocksRemaining   uint64
	StartTS           time.Time
	EndTS             time.Time
}

// HistoryEntry is a completed job's record, retained in a nexus's bounded
// rebuild history ring buffer.
type HistoryEntry struct {
	SourceURI      string
	DestinationURI string
	FinalState     State
	Stats          Stats
	Err            error
}

// Log is the partial-rebuild bitmap: one bit per segment, set when the
// corresponding region may differ from the authoritative source. It
// satisfies nexus.RebuildLog via MarkDirty without importing the nexus
// package.
type Log struct {
	mu      sync.Mutex
	segSize uint64
	numSegs uint64
	bits    []uint64
}

// NewLog builds a log sized for a device of the given byte size and segment
// size, with every bit initially set (the conservative "must recopy"
// state used when a child comes back online with unknown drift).
func NewLog(sizeBytes, segSize uint64) *Log {
	if segSize == 0 {
		segSize = DefaultSegmentSize
	}
	numSegs := (sizeBytes + segSize - 1) / segSize
	words := (numSegs + 63) / 64
	bits := make([]uint64, words)
	for i := range bits {
		bits[i] = ^uint64(0)
	}
	return &Log{segSize: segSize, numSegs: numSegs, bits: bits}
}

// MarkDirty sets the bits for every segment overlapping
// [startBlock*blockLen, (startBlock+numBlocks)*blockLen). blockLen must be
// supplied by the caller via MarkDirtyBytes when available; MarkDirty here
// assumes block length 1 is pre-applied by the caller (kept simple for the
// nexus write path which already computes byte offsets).
func (l *Log) MarkDirty(startBlock, numBlocks uint64) {
	l.MarkDirtyBytes(startBlock, numBlocks)
}

// MarkDirtyBytes sets the bits for every segment overlapping the byte range
// [start, start+length).
func (l *Log) MarkDirtyBytes(start, length uint64) {
	if length == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	first := start / l.segSize
	last := (start + length - 1) / l.segSize
	for seg := first; seg <= last && seg < l.numSegs; seg++ {
		l.bits[seg/64] |= 1 << (seg % 64)
	}
}

// IsDirty reports whether segment seg must be recopied.
func (l *Log) IsDirty(seg uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seg >= l.numSegs {
		return false
	}
	return l.bits[seg/64]&(1<<(seg%64)) != 0
}

// Clear clears the bit for segment seg, called after a successful copy.
func (l *Log) Clear(seg uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seg >= l.numSegs {
		return
	}
	l.bits[seg/64] &^= 1 << (seg % 64)
}

// NumSegments returns the segment count the log was sized for.
func (l *Log) NumSegments() uint64 { return l.numSegs }

// pendingTransition defers pause/stop/terminate requests made mid-segment:
// they are recorded here and reconciled once the in-flight segment copy
// returns, so no I/O is orphaned mid-flight.
type pendingTransition int

const (
	pendingNone pendingTransition = iota
	pendingPause
	pendingStop
)

// Job is a single source→destination rebuild. It is owned by the
// nexus that created it; callers outside the owning nexus only ever hold a
// non-owning reference via JobHandle-equivalent lookups by destination URI.
type Job struct {
	SourceURI      string
	DestinationURI string

	source blockdevice.Handle
	dest   blockdevice.Handle
	log    *Log

	opts      Options
	blockLen  uint32
	startByte uint64
	endByte   uint64

	mu       sync.Mutex
	state    State
	pending  pendingTransition
	lastErr  error
	cursor   atomic.Uint64 // next segment index to assign
	stats    Stats

	pauseCh chan struct{}
	done    chan State
	cancel  context.CancelFunc

	metrics metrics.RebuildMetrics
}

// New constructs a job to copy [startByte, endByte) from source to dest.
func New(sourceURI, destURI string, source, dest blockdevice.Handle, startByte, endByte uint64, log *Log, opts Options) *Job {
	return &Job{
		SourceURI:      sourceURI,
		DestinationURI: destURI,
		source:         source,
		dest:           dest,
		log:            log,
		opts:           opts.withDefaults(),
		blockLen:       source.BlockLen(),
		startByte:      startByte,
		endByte:        endByte,
		state:          Init,
		pauseCh:        make(chan struct{}),
		done:           make(chan State, 1),
		metrics:        metrics.NewRebuildMetrics(),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// LastError returns the error that moved the job to Failed, if any.
func (j *Job) LastError() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Stats reports progress; safe to call from any state.
func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := (j.endByte - j.startByte) / uint64(j.blockLen)
	transferred := j.stats.BlocksTransferred
	remaining := uint64(0)
	if total > transferred {
		remaining = total - transferred
	}
	return Stats{
		BlocksTotal:       total,
		BlocksTransferred: transferred,
		BlocksRemaining:   remaining,
		StartTS:           j.stats.StartTS,
		EndTS:             j.stats.EndTS,
	}
}

// Start transitions Init → Running and launches the worker pool. It
// returns a one-shot channel delivering the job's terminal State.
func (j *Job) Start(ctx context.Context) (<-chan State, error) {
	j.mu.Lock()
	if j.state != Init {
		j.mu.Unlock()
		return nil, &OpError{Operation: "start", State: j.state}
	}
	j.state = Running
	j.stats.StartTS = time.Now()
	j.mu.Unlock()

	metrics.RecordJobStarted(j.metrics, j.SourceURI, j.DestinationURI)

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	spanCtx, span := telemetry.StartRebuildSpan(runCtx, j.SourceURI, j.DestinationURI)
	go j.run(spanCtx, span)
	return j.done, nil
}

// Pause requests a transition to Paused once the in-flight segment
// completes.
func (j *Job) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Running {
		return &OpError{Operation: "pause", State: j.state}
	}
	if j.pending == pendingNone {
		j.pending = pendingPause
	}
	return nil
}

// Resume transitions Paused → Running.
func (j *Job) Resume() error {
	j.mu.Lock()
	if j.state != Paused {
		j.mu.Unlock()
		return &OpError{Operation: "resume", State: j.state}
	}
	j.state = Running
	j.pending = pendingNone
	ch := j.pauseCh
	j.pauseCh = make(chan struct{})
	j.mu.Unlock()
	close(ch)
	return nil
}

// Stop requests a transition to Stopped once the in-flight segment
// completes; valid from Running or Paused.
func (j *Job) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Running && j.state != Paused {
		return &OpError{Operation: "stop", State: j.state}
	}
	j.pending = pendingStop
	if j.state == Paused {
		j.state = Running // wake the loop so it can observe the pending stop
		ch := j.pauseCh
		j.pauseCh = make(chan struct{})
		defer close(ch)
	}
	return nil
}

// Terminate overrides any pending transition with a stop, even over an
// existing pending pause (override semantics).
func (j *Job) Terminate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.terminal() {
		return &OpError{Operation: "terminate", State: j.state}
	}
	j.pending = pendingStop
	if j.state == Paused {
		j.state = Running
		ch := j.pauseCh
		j.pauseCh = make(chan struct{})
		defer close(ch)
	}
	if j.cancel != nil {
		j.cancel()
	}
	return nil
}

// run drives the bounded worker pool over the job's byte range.
func (j *Job) run(ctx context.Context, span trace.Span) {
	defer span.End()
	numSegments := (j.endByte - j.startByte + j.opts.SegmentSize - 1) / j.opts.SegmentSize
	j.cursor.Store(0)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(j.opts.WorkerDepth))

	for i := 0; i < j.opts.WorkerDepth; i++ {
		g.Go(func() error {
			for {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				seg := j.cursor.Add(1) - 1
				sem.Release(1)
				if seg >= numSegments {
					return nil
				}
				if stop, failState := j.copySegment(gctx, seg); stop {
					if failState {
						return errors.New("segment copy failed")
					}
					return nil
				}
			}
		})
	}

	failed := g.Wait() != nil

	j.mu.Lock()
	j.stats.EndTS = time.Now()
	var final State
	switch {
	case failed:
		final = Failed
	case j.pending == pendingStop:
		final = Stopped
	default:
		final = Completed
	}
	j.state = final
	duration := j.stats.EndTS.Sub(j.stats.StartTS)
	j.mu.Unlock()

	metrics.RecordJobTerminal(j.metrics, j.SourceURI, j.DestinationURI, final.String(), duration)
	logger.Info("rebuild job finished", "source", j.SourceURI, "destination", j.DestinationURI, "state", final.String())
	telemetry.SetAttributes(ctx, telemetry.State(final.String()))
	if final == Failed {
		telemetry.RecordError(ctx, j.LastError())
	}
	j.done <- final
	close(j.done)
}

// copySegment copies one segment, honoring pending pause/stop after it
// completes (never mid-flight). It returns (stop, failed).
func (j *Job) copySegment(ctx context.Context, seg uint64) (bool, bool) {
	offset := j.startByte + seg*j.opts.SegmentSize
	length := j.opts.SegmentSize
	if offset+length > j.endByte {
		length = j.endByte - offset
	}

	if j.opts.Partial && j.log != nil && !j.log.IsDirty(seg) {
		j.advance(length)
		return j.checkPending(), false
	}

	segStart := time.Now()
	buf := make([]byte, length)
	if err := j.source.ReadAt(ctx, offset, buf); err != nil {
		j.fail(&SegmentReadError{Offset: offset})
		return true, true
	}
	if err := j.dest.WriteAt(ctx, offset, buf); err != nil {
		j.fail(&SegmentWriteError{Offset: offset})
		return true, true
	}
	mismatch := false
	if j.opts.Verify == VerifyCompareAfterWrite {
		check := make([]byte, length)
		if err := j.dest.ReadAt(ctx, offset, check); err != nil {
			j.fail(&SegmentReadError{Offset: offset})
			return true, true
		}
		if !bytesEqual(buf, check) {
			mismatch = true
			j.fail(&VerifyMismatch{Offset: offset})
			metrics.ObserveSegment(j.metrics, int(length), time.Since(segStart), mismatch)
			return true, true
		}
	}
	metrics.ObserveSegment(j.metrics, int(length), time.Since(segStart), mismatch)
	if j.opts.Partial && j.log != nil {
		j.log.Clear(seg)
	}
	j.advance(length)
	return j.checkPending(), false
}

func (j *Job) advance(length uint64) {
	j.mu.Lock()
	j.stats.BlocksTransferred += length / uint64(j.blockLen)
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.lastErr = err
	j.mu.Unlock()
}

// checkPending blocks the calling worker on a pending pause, and reports
// true if a pending stop/terminate should end the run.
func (j *Job) checkPending() bool {
	j.mu.Lock()
	if j.pending == pendingPause {
		j.state = Paused
		ch := j.pauseCh
		j.mu.Unlock()
		<-ch
		return false
	}
	stop := j.pending == pendingStop
	j.mu.Unlock()
	return stop
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ToHistoryEntry snapshots a terminated job for the rebuild-history ring
// buffer.
func (j *Job) ToHistoryEntry() HistoryEntry {
	stats := j.Stats()
	j.mu.Lock()
	defer j.mu.Unlock()
	return HistoryEntry{
		SourceURI:      j.SourceURI,
		DestinationURI: j.DestinationURI,
		FinalState:     j.state,
		Stats:          stats,
		Err:            j.lastErr,
	}
}

// History is a bounded ring buffer of the last K job outcomes for a nexus.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	cap     int
	next    int
	full    bool
}

// NewHistory builds a ring buffer retaining at most capacity entries.
func NewHistory(capacity int) *History {
	return &History{entries: make([]HistoryEntry, capacity), cap: capacity}
}

// Record appends entry, evicting the oldest entry if the buffer is full.
func (h *History) Record(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cap == 0 {
		return
	}
	h.entries[h.next] = entry
	h.next = (h.next + 1) % h.cap
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns entries oldest-to-newest.
func (h *History) Recent() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]HistoryEntry, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]HistoryEntry, h.cap)
	copy(out, h.entries[h.next:])
	copy(out[h.cap-h.next:], h.entries[:h.next])
	return out
}
