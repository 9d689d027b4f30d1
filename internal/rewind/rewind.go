// Package rewind implements the live rewind engine (component F): a
// fixed-memory ring of LZ4-compressed, delta-chained snapshots captured
// asynchronously by a worker goroutine, with cadence-gated back-step
// playback distinct from capture cadence.
package rewind

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/minarch-dev/minarch/internal/logging"
)

// StepResult is the outcome of a StepBack call.
type StepResult int

const (
	StepEmpty StepResult = iota
	StepOK
	StepCadenceWait
)

func (r StepResult) String() string {
	switch r {
	case StepOK:
		return "OK"
	case StepCadenceWait:
		return "CADENCE_WAIT"
	default:
		return "EMPTY"
	}
}

// entrySizeHint is the assumed average compressed entry size used to
// size the entry table relative to the ring's byte capacity.
const entrySizeHint = 4096

const minEntries = 8

// largeStateThreshold separates the small/large capture pool sizing.
const largeStateThreshold = 2 * 1024 * 1024

const poolSizeSmall = 3
const poolSizeLarge = 4

// Config mirrors the user-tunable rewind settings.
type Config struct {
	Enabled            bool
	BufferMB           int // [1, 256]
	IntervalMS         int // capture cadence
	PlaybackIntervalMS int // back-step cadence
	AudioEnabled       bool
	Compress           bool
	LZ4Acceleration    int // [1, 64]
}

// Core is the minimal collaborator the rewind engine needs from the host
// loop: the ability to serialize/deserialize opaque emulator state.
type Core interface {
	SerializeInto(buf []byte) (int, error)
	Deserialize(buf []byte) error
}

type entry struct {
	offset     int
	size       int
	isKeyframe bool
	generation uint32
}

type captureJob struct {
	buf        []byte
	n          int
	generation uint32
	poolIdx    int
}

// Engine is the bounded, asynchronously captured rewind ring. The zero
// value is not usable; use New.
type Engine struct {
	cfg       Config
	stateSize int
	core      Core
	log       *logging.Logger
	now       func() time.Time

	ringMu sync.Mutex // protects ring, entries, prevStateEnc/Dec, delta/scratch buffers
	ring   []byte
	head   int
	tail   int
	used   int

	entries    []entry // circular deque, indices modulo len(entries)
	entryHead  int     // next write slot
	entryTail  int     // oldest live entry
	entryCount int

	prevStateEnc []byte
	prevStateDec []byte
	deltaBuf     []byte
	scratch      []byte

	queueMu   sync.Mutex
	pool      [][]byte
	freeStack []int
	pending   []captureJob // FIFO

	// generation is bumped by Reset and compared against each job's
	// generation by the worker (running under ringMu) and read by Push
	// (running under queueMu); atomic rather than tied to either lock.
	generation atomic.Uint32
	rewinding  bool

	lastPushMs int64
	lastStepMs int64

	stopCh     chan struct{}
	workCh     chan struct{}
	workerDone chan struct{}

	loggedEmptyOnce bool
}

// New allocates the ring, entry table, and capture pool for a core whose
// serialized state is stateSize bytes, and starts the compression worker.
func New(stateSize int, cfg Config, core Core, log *logging.Logger) (*Engine, error) {
	if stateSize <= 0 {
		return nil, fmt.Errorf("rewind: state size must be positive, got %d", stateSize)
	}
	if cfg.BufferMB < 1 {
		cfg.BufferMB = 1
	}
	if cfg.BufferMB > 256 {
		cfg.BufferMB = 256
	}
	if cfg.LZ4Acceleration < 1 {
		cfg.LZ4Acceleration = 1
	}
	if cfg.LZ4Acceleration > 64 {
		cfg.LZ4Acceleration = 64
	}
	if log == nil {
		log = logging.Default("rewind")
	}

	capacity := cfg.BufferMB * 1024 * 1024
	if !cfg.Compress {
		// With compression disabled every entry is a full keyframe; the
		// ring must hold at least a couple of them or compression is
		// forced back on with a warning.
		if capacity < stateSize*2 {
			log.Warnf("buffer_mb=%d too small for uncompressed state_size=%d, re-enabling compression", cfg.BufferMB, stateSize)
			cfg.Compress = true
		}
	}

	entryCapacity := capacity / entrySizeHint
	if entryCapacity < minEntries {
		entryCapacity = minEntries
	}

	poolSize := poolSizeSmall
	if stateSize >= largeStateThreshold {
		poolSize = poolSizeLarge
	}

	scratchSize := lz4.CompressBlockBound(stateSize)

	e := &Engine{
		cfg:          cfg,
		stateSize:    stateSize,
		core:         core,
		log:          log,
		now:          time.Now,
		ring:         make([]byte, capacity),
		entries:      make([]entry, entryCapacity),
		prevStateEnc: make([]byte, stateSize),
		prevStateDec: make([]byte, stateSize),
		deltaBuf:     make([]byte, stateSize),
		scratch:      make([]byte, scratchSize),
		stopCh:       make(chan struct{}),
		workCh:       make(chan struct{}, 1),
		workerDone:   make(chan struct{}),
	}

	e.pool = make([][]byte, poolSize)
	e.freeStack = make([]int, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		e.pool[i] = make([]byte, stateSize)
		e.freeStack = append(e.freeStack, i)
	}

	go e.workerLoop()

	return e, nil
}

// Free releases the worker goroutine. Idempotent; safe to call multiple
// times. It does not drain in-flight captures — they are discarded.
func (e *Engine) Free() {
	select {
	case <-e.stopCh:
		return // already closed
	default:
		close(e.stopCh)
	}
	<-e.workerDone
}

func (e *Engine) workerLoop() {
	defer close(e.workerDone)
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.workCh:
		}
		for {
			job, ok := e.dequeueJob()
			if !ok {
				break
			}
			e.processJob(job)
			select {
			case <-e.stopCh:
				return
			default:
			}
		}
	}
}

func (e *Engine) dequeueJob() (captureJob, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.pending) == 0 {
		return captureJob{}, false
	}
	job := e.pending[0]
	e.pending = e.pending[1:]
	return job, true
}

func (e *Engine) returnSlot(idx int) {
	e.queueMu.Lock()
	e.freeStack = append(e.freeStack, idx)
	e.queueMu.Unlock()
}

// processJob compresses a captured slot and writes it to the ring. It is
// called by the worker for queued jobs, and inline by acquireSlot when
// no slot is free (synchronous drain of the oldest queued job).
func (e *Engine) processJob(job captureJob) {
	defer e.returnSlot(job.poolIdx)

	e.ringMu.Lock()
	defer e.ringMu.Unlock()

	if job.generation != e.generation.Load() {
		// Stale: a reset happened after this capture was queued.
		return
	}

	dest, isKeyframe, err := e.compressLocked(job.buf[:job.n])
	if err != nil {
		e.log.Warnf("compress failed, dropping snapshot: %v", err)
		return
	}
	e.writeEntryLocked(dest, isKeyframe, job.generation)
}

// compressLocked must be called with ringMu held.
func (e *Engine) compressLocked(state []byte) (dest []byte, isKeyframe bool, err error) {
	if !e.cfg.Compress {
		out := make([]byte, len(state))
		copy(out, state)
		copy(e.prevStateEnc, state)
		return out, true, nil
	}

	haveChain := e.entryCount > 0
	if !haveChain {
		n, err := lz4.CompressBlock(state, e.scratch, nil)
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			// Incompressible; lz4 returns 0 when the compressed form
			// would not be smaller. Store raw in that case.
			n = copy(e.scratch, state)
		}
		out := make([]byte, n)
		copy(out, e.scratch[:n])
		copy(e.prevStateEnc, state)
		return out, true, nil
	}

	for i := range e.deltaBuf {
		e.deltaBuf[i] = state[i] ^ e.prevStateEnc[i]
	}
	n, err := lz4.CompressBlock(e.deltaBuf, e.scratch, nil)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		n = copy(e.scratch, e.deltaBuf)
	}
	out := make([]byte, n)
	copy(out, e.scratch[:n])
	copy(e.prevStateEnc, state)
	return out, false, nil
}

// writeEntryLocked implements the overlap-drop-then-write ring placement
// algorithm. Must be called with ringMu held.
func (e *Engine) writeEntryLocked(dest []byte, isKeyframe bool, generation uint32) {
	destLen := len(dest)

	// 1. Entry table full: drop the oldest entry.
	if e.entryCount == len(e.entries) {
		e.dropOldestEntryLocked()
	}

	// 2. Wrap head if it would not fit contiguously.
	if e.head+destLen > len(e.ring) {
		e.head = 0
		if e.used == 0 {
			e.tail = 0
		}
	}

	// 3. Drop every entry that overlaps [head, head+destLen), oldest first.
	for e.entryCount > 0 && e.entryOverlapsLocked(e.head, destLen) {
		e.dropOldestEntryLocked()
	}

	// 4. Keep dropping the oldest entry until there is room.
	for e.entryCount > 0 && e.freeSpaceLocked() <= destLen {
		e.dropOldestEntryLocked()
	}
	if e.freeSpaceLocked() < destLen && e.entryCount == 0 {
		// Design invariant violation: a single entry larger than the
		// whole ring. Log and discard rather than corrupt the ring.
		e.log.Errorf("entry of %d bytes cannot fit in %d-byte ring, discarding", destLen, len(e.ring))
		return
	}

	copy(e.ring[e.head:e.head+destLen], dest)

	e.entries[e.entryHead] = entry{offset: e.head, size: destLen, isKeyframe: isKeyframe, generation: generation}
	e.entryHead = (e.entryHead + 1) % len(e.entries)
	e.entryCount++

	e.head += destLen
	e.used += destLen
}

func (e *Engine) freeSpaceLocked() int {
	return len(e.ring) - e.used
}

func (e *Engine) entryAtLocked(i int) *entry {
	idx := (e.entryTail + i) % len(e.entries)
	return &e.entries[idx]
}

func (e *Engine) entryOverlapsLocked(start, length int) bool {
	oldest := e.entryAtLocked(0)
	end := start + length
	oEnd := oldest.offset + oldest.size
	return start < oEnd && oldest.offset < end
}

func (e *Engine) dropOldestEntryLocked() {
	if e.entryCount == 0 {
		return
	}
	oldest := e.entryAtLocked(0)
	e.used -= oldest.size
	if e.entryCount == 1 {
		e.tail = 0
		e.head = 0
		e.used = 0
	} else {
		e.tail = oldest.offset + oldest.size
	}
	e.entryTail = (e.entryTail + 1) % len(e.entries)
	e.entryCount--
}

func (e *Engine) newestEntryLocked() *entry {
	return e.entryAtLocked(e.entryCount - 1)
}

func (e *Engine) dropNewestEntryLocked() {
	if e.entryCount == 0 {
		return
	}
	e.entryHead = (e.entryHead - 1 + len(e.entries)) % len(e.entries)
	newest := &e.entries[e.entryHead]
	e.used -= newest.size
	e.entryCount--
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}

// Push captures a new snapshot, rate-limited by the capture cadence
// unless force is true.
func (e *Engine) Push(force bool) error {
	if !e.cfg.Enabled {
		return nil
	}
	nowMs := e.nowMs()
	if !force && e.cfg.IntervalMS > 0 && nowMs-e.lastPushMs < int64(e.cfg.IntervalMS) {
		return nil
	}
	e.lastPushMs = nowMs

	idx, buf, ok := e.acquireSlot()
	if !ok {
		return e.pushSynchronous()
	}

	n, err := e.core.SerializeInto(buf)
	if err != nil {
		e.returnSlot(idx)
		return fmt.Errorf("rewind: serialize: %w", err)
	}

	e.queueMu.Lock()
	e.pending = append(e.pending, captureJob{buf: buf, n: n, generation: e.generation.Load(), poolIdx: idx})
	e.queueMu.Unlock()

	select {
	case e.workCh <- struct{}{}:
	default:
	}
	return nil
}

// acquireSlot returns a free pool slot, synchronously draining the
// oldest queued job if none is free to preserve FIFO ordering.
func (e *Engine) acquireSlot() (int, []byte, bool) {
	for attempts := 0; attempts < 2; attempts++ {
		e.queueMu.Lock()
		if n := len(e.freeStack); n > 0 {
			idx := e.freeStack[n-1]
			e.freeStack = e.freeStack[:n-1]
			e.queueMu.Unlock()
			return idx, e.pool[idx], true
		}
		var job captureJob
		drained := false
		if len(e.pending) > 0 {
			job = e.pending[0]
			e.pending = e.pending[1:]
			drained = true
		}
		e.queueMu.Unlock()
		if !drained {
			return 0, nil, false
		}
		e.processJob(job)
	}
	return 0, nil, false
}

// pushSynchronous performs capture+compress+write inline when the pool
// is exhausted and draining did not free a slot (worker stuck).
func (e *Engine) pushSynchronous() error {
	buf := make([]byte, e.stateSize)
	n, err := e.core.SerializeInto(buf)
	if err != nil {
		return fmt.Errorf("rewind: synchronous serialize: %w", err)
	}
	e.ringMu.Lock()
	dest, isKeyframe, err := e.compressLocked(buf[:n])
	if err != nil {
		e.ringMu.Unlock()
		e.log.Warnf("synchronous compress failed, dropping snapshot: %v", err)
		return nil
	}
	e.writeEntryLocked(dest, isKeyframe, e.generation.Load())
	e.ringMu.Unlock()
	return nil
}

// waitForWorkerIdle busy-polls until the pending queue is empty and
// every pool slot is free, stabilizing entry indices before a rewind
// transition copies the encode-side previous-state buffer.
func (e *Engine) waitForWorkerIdle() {
	for {
		e.queueMu.Lock()
		idle := len(e.pending) == 0 && len(e.freeStack) == len(e.pool)
		e.queueMu.Unlock()
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// StepBack decodes and applies the newest rewind entry, stepping the
// emulator state one snapshot into the past.
func (e *Engine) StepBack() (StepResult, error) {
	if !e.cfg.Enabled {
		return StepEmpty, nil
	}

	e.ringMu.Lock()
	empty := e.entryCount == 0
	e.ringMu.Unlock()
	if empty {
		if !e.loggedEmptyOnce {
			e.log.Infof("rewind: buffer empty")
			e.loggedEmptyOnce = true
		}
		return StepEmpty, nil
	}
	e.loggedEmptyOnce = false

	nowMs := e.nowMs()
	if e.cfg.PlaybackIntervalMS > 0 && nowMs-e.lastStepMs < int64(e.cfg.PlaybackIntervalMS) {
		return StepCadenceWait, nil
	}

	if !e.rewinding {
		if e.cfg.Compress {
			e.waitForWorkerIdle()
		}
		e.ringMu.Lock()
		copy(e.prevStateDec, e.prevStateEnc)
		e.ringMu.Unlock()
	}

	e.ringMu.Lock()
	if e.entryCount == 0 {
		e.ringMu.Unlock()
		return StepEmpty, nil
	}
	newest := *e.newestEntryLocked()
	data := e.ring[newest.offset : newest.offset+newest.size]

	n, err := lz4DecompressInto(data, e.deltaBuf, e.stateSize)
	if err != nil || n != e.stateSize {
		// Corrupted: drop this same (newest) entry, per the documented
		// "drop newest, not oldest" behavior on decode failure.
		e.dropNewestEntryLocked()
		e.ringMu.Unlock()
		e.log.Warnf("rewind: decode size mismatch, dropping newest entry")
		return StepEmpty, nil
	}

	// prevStateDec holds the newest entry's own state. A delta entry is
	// that state XOR the state of the entry before it, so applying the
	// delta moves prevStateDec one entry further back.
	stateBuf := make([]byte, e.stateSize)
	if newest.isKeyframe {
		copy(stateBuf, e.deltaBuf)
		copy(e.prevStateDec, stateBuf)
	} else {
		copy(stateBuf, e.prevStateDec)
		for i := range e.prevStateDec {
			e.prevStateDec[i] ^= e.deltaBuf[i]
		}
	}
	e.ringMu.Unlock()

	if err := e.core.Deserialize(stateBuf); err != nil {
		// Conservative purge: drop the oldest entry, not the one just
		// decoded, per the documented step-7 behavior.
		e.ringMu.Lock()
		e.dropOldestEntryLocked()
		e.ringMu.Unlock()
		e.log.Warnf("rewind: core rejected state: %v", err)
		return StepEmpty, nil
	}

	e.ringMu.Lock()
	e.dropNewestEntryLocked()
	e.ringMu.Unlock()

	e.rewinding = true
	e.lastStepMs = nowMs
	return StepOK, nil
}

// SyncEncodeState is called when the user releases rewind. It copies the
// decode-side previous-state buffer (the state of the newest remaining
// entry) back into the encode-side buffer so the next capture is a
// valid delta against that entry.
func (e *Engine) SyncEncodeState() {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	copy(e.prevStateEnc, e.prevStateDec)
	e.rewinding = false
}

// Reset discards all entries and bumps the generation counter so
// in-flight worker jobs from before the reset are silently discarded.
func (e *Engine) Reset() {
	e.generation.Add(1)

	e.queueMu.Lock()
	for _, job := range e.pending {
		e.freeStack = append(e.freeStack, job.poolIdx)
	}
	e.pending = e.pending[:0]
	e.queueMu.Unlock()

	e.ringMu.Lock()
	e.head, e.tail, e.used = 0, 0, 0
	e.entryHead, e.entryTail, e.entryCount = 0, 0, 0
	for i := range e.prevStateEnc {
		e.prevStateEnc[i] = 0
	}
	for i := range e.prevStateDec {
		e.prevStateDec[i] = 0
	}
	e.rewinding = false
	e.ringMu.Unlock()
}

// OnStateChange composes Reset with a forced Push, establishing a fresh
// seed snapshot for the new generation (e.g. after a manual load or a
// game reset).
func (e *Engine) OnStateChange() error {
	e.Reset()
	return e.Push(true)
}

// IsRewinding reports whether the engine most recently returned StepOK
// without a following SyncEncodeState.
func (e *Engine) IsRewinding() bool {
	return e.rewinding
}

// EntryCount returns the number of live entries, for tests and metrics.
func (e *Engine) EntryCount() int {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	return e.entryCount
}

// lz4DecompressInto decompresses src into dst, which must be exactly
// expectedLen bytes, matching LZ4_decompress_safe's fixed-capacity
// contract.
func lz4DecompressInto(src, dst []byte, expectedLen int) (int, error) {
	if len(dst) != expectedLen {
		return 0, fmt.Errorf("rewind: destination buffer size %d != expected %d", len(dst), expectedLen)
	}
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		// Not every payload went through LZ4 (an incompressible raw
		// fallback is stored verbatim by compressLocked); a decode
		// error there just means the bytes are the raw state.
		if len(src) == expectedLen {
			copy(dst, src)
			return expectedLen, nil
		}
		return 0, err
	}
	return n, nil
}
