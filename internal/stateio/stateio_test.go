package stateio

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

type fakeCore struct {
	state []byte
	size  int
	fail  bool
}

func (f *fakeCore) SerializeSize() int { return f.size }

func (f *fakeCore) Serialize(buf []byte) (int, error) {
	return copy(buf, f.state), nil
}

func (f *fakeCore) Unserialize(buf []byte) error {
	if f.fail {
		return errors.New("core refused state")
	}
	f.state = append(f.state[:0], buf...)
	return nil
}

type fakeGate struct{ allow bool }

func (g *fakeGate) AllowStateIO() bool { return g.allow }

type fakeRewind struct{ invalidated int }

func (r *fakeRewind) OnStateChange() error {
	r.invalidated++
	return nil
}

func TestSaveLoadRoundTripPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.st0")

	core := &fakeCore{state: []byte("hello state"), size: 32}
	m := New(core, nil)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	core.state = nil
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.HasPrefix(core.state, []byte("hello state")) {
		t.Fatalf("loaded state = %q, want prefix %q", core.state, "hello state")
	}
}

func TestSaveLoadRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.state0")

	core := &fakeCore{state: bytes.Repeat([]byte("AB"), 100), size: 200}
	m := New(core, nil)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	core.state = nil
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(core.state) != 200 {
		t.Fatalf("loaded state len = %d, want 200", len(core.state))
	}
}

func TestHardcoreGateBlocksSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.st0")

	core := &fakeCore{state: []byte("x"), size: 8}
	m := New(core, nil)
	m.Gate = &fakeGate{allow: false}

	if err := m.Save(path); !errors.Is(err, ErrHardcoreBlocked) {
		t.Fatalf("Save() error = %v, want ErrHardcoreBlocked", err)
	}
	if err := m.Load(path); !errors.Is(err, ErrHardcoreBlocked) {
		t.Fatalf("Load() error = %v, want ErrHardcoreBlocked", err)
	}
}

func TestLoadInvalidatesRewindOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.st0")

	core := &fakeCore{state: []byte("seed"), size: 16}
	m := New(core, nil)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rw := &fakeRewind{}
	m.Rewind = rw
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rw.invalidated != 1 {
		t.Fatalf("rewind invalidated %d times, want 1", rw.invalidated)
	}
}

func TestLoadRejectsWhenCoreRefuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.st0")

	core := &fakeCore{state: []byte("seed"), size: 16}
	m := New(core, nil)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	core.fail = true
	if err := m.Load(path); err == nil {
		t.Fatal("expected error when core refuses to deserialize")
	}
}

func TestLoadToleratesLargerFileThanReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.st0")

	core := &fakeCore{state: []byte("hello state"), size: 32}
	m := New(core, nil)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	core.size = 8 // core now reports a smaller size than the saved file
	core.state = nil
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(core.state) != 8 {
		t.Fatalf("loaded state len = %d, want 8 (clamped to reported size)", len(core.state))
	}
}

func TestLoadRejectsSmallerThanReportedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.st0")

	core := &fakeCore{state: []byte("seed"), size: 8}
	m := New(core, nil)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	core.size = 64 // core now reports a larger size than the saved file
	core.state = nil
	if err := m.Load(path); err == nil {
		t.Fatal("expected error loading a file smaller than the core's reported size")
	}
	if core.state != nil {
		t.Fatal("Unserialize must not be called on a short read")
	}
}

func TestCompressedSuffixDetection(t *testing.T) {
	cases := map[string]bool{
		"game.st0":     false,
		"game.st":      false,
		"game.srm":     true,
		"game.state3":  true,
		"game.state":   true,
		"game.sav":     false,
	}
	for name, want := range cases {
		if got := compressedSuffix(name); got != want {
			t.Errorf("compressedSuffix(%q) = %v, want %v", name, got, want)
		}
	}
}
