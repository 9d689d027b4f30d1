package rewind

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

const fakeStateSize = 64

type fakeCore struct {
	mu    sync.Mutex
	state []byte
}

func newFakeCore() *fakeCore {
	return &fakeCore{state: make([]byte, fakeStateSize)}
}

func (f *fakeCore) SerializeInto(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copy(buf, f.state), nil
}

func (f *fakeCore) Deserialize(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = append(f.state[:0], buf...)
	return nil
}

func (f *fakeCore) setState(b byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.state {
		f.state[i] = b
	}
}

func (f *fakeCore) snapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.state...)
}

func waitForCount(t *testing.T, e *Engine, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.EntryCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("EntryCount() did not reach %d, stuck at %d", want, e.EntryCount())
}

func newTestEngine(t *testing.T, core Core) *Engine {
	t.Helper()
	e, err := New(fakeStateSize, Config{
		Enabled:         true,
		BufferMB:        1,
		Compress:        true,
		LZ4Acceleration: 1,
	}, core, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Free)
	return e
}

func TestPushAndStepBackRoundTrip(t *testing.T) {
	core := newFakeCore()
	e := newTestEngine(t, core)

	var snapshots [][]byte
	for i := 0; i < 5; i++ {
		core.setState(byte(i + 1))
		snapshots = append(snapshots, core.snapshot())
		if err := e.Push(true); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	waitForCount(t, e, 5)

	for i := len(snapshots) - 1; i >= 0; i-- {
		res, err := e.StepBack()
		if err != nil {
			t.Fatalf("StepBack: %v", err)
		}
		if res != StepOK {
			t.Fatalf("StepBack()[%d] = %v, want OK", i, res)
		}
		if !bytes.Equal(core.snapshot(), snapshots[i]) {
			t.Fatalf("StepBack()[%d] restored wrong state", i)
		}
	}

	res, err := e.StepBack()
	if err != nil {
		t.Fatalf("StepBack: %v", err)
	}
	if res != StepEmpty {
		t.Fatalf("final StepBack() = %v, want EMPTY", res)
	}
}

func TestEntryCountBoundedByTableCapacity(t *testing.T) {
	core := newFakeCore()
	e, err := New(fakeStateSize, Config{
		Enabled:  true,
		BufferMB: 1, // 1 MiB ring -> 256-entry table; tiny states never wrap the bytes
		Compress: true,
	}, core, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Free()

	// More pushes than the entry table holds, so table-full eviction runs.
	for i := 0; i < 300; i++ {
		core.setState(byte(i))
		if err := e.Push(true); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.EntryCount() < 1 {
		time.Sleep(time.Millisecond)
	}

	if e.EntryCount() > len(e.entries) {
		t.Fatalf("EntryCount() = %d exceeds entry table capacity %d", e.EntryCount(), len(e.entries))
	}
}

func TestOnStateChangeInvalidatesHistory(t *testing.T) {
	core := newFakeCore()
	e := newTestEngine(t, core)

	for i := 0; i < 10; i++ {
		core.setState(byte(i))
		e.Push(true)
	}
	waitForCount(t, e, 10)

	core.setState(99)
	if err := e.OnStateChange(); err != nil {
		t.Fatalf("OnStateChange: %v", err)
	}
	waitForCount(t, e, 1)

	res, _ := e.StepBack()
	if res != StepOK {
		t.Fatalf("first StepBack after OnStateChange = %v, want OK (fresh seed)", res)
	}
	res, _ = e.StepBack()
	if res != StepEmpty {
		t.Fatalf("second StepBack after OnStateChange = %v, want EMPTY", res)
	}
}

func TestPushCadenceSuppressesUnforcedCapture(t *testing.T) {
	core := newFakeCore()
	e, err := New(fakeStateSize, Config{
		Enabled:    true,
		BufferMB:   1,
		Compress:   true,
		IntervalMS: 60_000,
	}, core, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Free()

	if err := e.Push(false); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitForCount(t, e, 1)

	if err := e.Push(false); err != nil {
		t.Fatalf("Push: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if e.EntryCount() != 1 {
		t.Fatalf("EntryCount() = %d, want 1 (cadence should suppress second push)", e.EntryCount())
	}
}

func TestStepBackOnEmptyRingReturnsEmpty(t *testing.T) {
	core := newFakeCore()
	e := newTestEngine(t, core)

	res, err := e.StepBack()
	if err != nil {
		t.Fatalf("StepBack: %v", err)
	}
	if res != StepEmpty {
		t.Fatalf("StepBack() on empty ring = %v, want EMPTY", res)
	}
}

func TestSyncEncodeStateClearsRewinding(t *testing.T) {
	core := newFakeCore()
	e := newTestEngine(t, core)

	core.setState(1)
	e.Push(true)
	waitForCount(t, e, 1)

	res, _ := e.StepBack()
	if res != StepOK {
		t.Fatalf("StepBack() = %v, want OK", res)
	}
	if !e.IsRewinding() {
		t.Fatal("expected IsRewinding() true after a successful StepBack")
	}

	e.SyncEncodeState()
	if e.IsRewinding() {
		t.Fatal("expected IsRewinding() false after SyncEncodeState")
	}
}
