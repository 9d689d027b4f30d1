// Package stateio implements state I/o (component E): serializing and
// deserializing the emulator's opaque state to/from files, with an
// optional compressed wrapper selected by filename suffix and a
// 16-byte RASTATE header detected on read, never written.
package stateio

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minarch-dev/minarch/internal/logging"
)

// rastateTag is the 7-byte ASCII tag identifying a file with the
// optional 16-byte leading header.
const rastateTag = "RASTATE"
const rastateHeaderSize = 16

// Core is the minimal collaborator the state I/O layer needs.
type Core interface {
	SerializeSize() int
	Serialize(buf []byte) (int, error)
	Unserialize(buf []byte) error
}

// HardcoreGate lets an external achievement-tracking collaborator block
// state I/O without this package owning any achievement logic.
type HardcoreGate interface {
	AllowStateIO() bool
}

// RewindInvalidator is asked to invalidate its history and seed a fresh
// snapshot after any successful load or reset.
type RewindInvalidator interface {
	OnStateChange() error
}

// FastForwardSuspender disables fast-forward for the duration of a read
// or write and restores it on return.
type FastForwardSuspender interface {
	SuspendFastForward() (resume func())
}

// Notifier surfaces a user-visible message, e.g. a hardcore-mode block.
type Notifier interface {
	Notify(message string)
}

// ErrHardcoreBlocked is returned when a HardcoreGate refuses the
// operation.
var ErrHardcoreBlocked = errors.New("stateio: blocked by hardcore mode")

// Manager coordinates state I/O for one loaded core.
type Manager struct {
	Core     Core
	Gate     HardcoreGate
	Rewind   RewindInvalidator
	FF       FastForwardSuspender
	Notifier Notifier
	log      *logging.Logger
}

// New creates a Manager. Gate, Rewind, FF, and Notifier may be nil to
// opt out of their respective behaviors.
func New(core Core, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default("stateio")
	}
	return &Manager{Core: core, log: log}
}

func (m *Manager) allowed(op string) bool {
	if m.Gate != nil && !m.Gate.AllowStateIO() {
		if m.Notifier != nil {
			m.Notifier.Notify(fmt.Sprintf("%s blocked: hardcore mode is active", op))
		}
		m.log.Warnf("%s blocked by hardcore gate", op)
		return false
	}
	return true
}

func (m *Manager) suspendFF() func() {
	if m.FF == nil {
		return func() {}
	}
	return m.FF.SuspendFastForward()
}

// Save serializes the core's current state into a pre-zeroed buffer and
// writes it atomically (write full, sync, rename) to path.
func (m *Manager) Save(path string) error {
	if !m.allowed("save") {
		return ErrHardcoreBlocked
	}
	resume := m.suspendFF()
	defer resume()

	size := m.Core.SerializeSize()
	buf := make([]byte, size)
	if _, err := m.Core.Serialize(buf); err != nil {
		return fmt.Errorf("stateio: serialize: %w", err)
	}
	payload := buf

	if compressedSuffix(path) {
		var compressed bytes.Buffer
		w, err := flate.NewWriter(&compressed, flate.DefaultCompression)
		if err != nil {
			return fmt.Errorf("stateio: compress init: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("stateio: compress write: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("stateio: compress close: %w", err)
		}
		payload = compressed.Bytes()
	}

	if err := atomicWrite(path, payload); err != nil {
		return fmt.Errorf("stateio: write: %w", err)
	}
	return nil
}

// Load reads path, skipping the RASTATE header if present and
// decompressing if the filename suffix calls for it, then hands the
// core's reported-size prefix of the payload to Unserialize.
func (m *Manager) Load(path string) error {
	if !m.allowed("load") {
		return ErrHardcoreBlocked
	}
	resume := m.suspendFF()
	defer resume()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("stateio: read: %w", err)
	}

	if len(raw) >= rastateHeaderSize && bytes.HasPrefix(raw, []byte(rastateTag)) {
		raw = raw[rastateHeaderSize:]
	}

	if compressedSuffix(path) {
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		decoded, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("stateio: decompress: %w", err)
		}
		raw = decoded
	}

	size := m.Core.SerializeSize()
	if len(raw) < size {
		return fmt.Errorf("stateio: state file has %d bytes, core reports %d", len(raw), size)
	}
	buf := make([]byte, size)
	copy(buf, raw[:size])

	if err := m.Core.Unserialize(buf); err != nil {
		return fmt.Errorf("stateio: core rejected state: %w", err)
	}

	if m.Rewind != nil {
		if err := m.Rewind.OnStateChange(); err != nil {
			m.log.Warnf("rewind invalidation after load failed: %v", err)
		}
	}
	return nil
}

// atomicWrite writes data to a temp file in the same directory, syncs
// it, then renames it over path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".stateio-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// compressedSuffix selects the streaming-compressed wrapper by filename
// suffix, never by magic: ".st*" is plain, ".srm" or ".state*" is
// compressed.
func compressedSuffix(path string) bool {
	lower := strings.ToLower(filepath.Base(path))
	if strings.Contains(lower, ".srm") {
		return true
	}
	if hasNumericSuffixAfter(lower, ".state") {
		return true
	}
	return false
}

func hasNumericSuffixAfter(name, prefix string) bool {
	idx := strings.LastIndex(name, prefix)
	if idx < 0 {
		return false
	}
	rest := name[idx+len(prefix):]
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
