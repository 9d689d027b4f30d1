// Package config implements layered configuration read/write (component
// H): three flat key=value text files merged system defaults → pak
// (core) defaults → user, with a leading '-' locking a key from menus.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/minarch-dev/minarch/internal/logging"
)

// entry is one parsed key=value line. Its line index is kept in
// Layer.lineOf, so the line can be rewritten in place while unrecognized
// lines are retained verbatim on write.
type entry struct {
	key    string
	value  string
	locked bool
}

// Layer is one text config file: system defaults, pak defaults, or a
// user console/game-scoped override.
type Layer struct {
	lines   []string // original lines, including comments/unknowns, in order
	entries map[string]entry
	lineOf  map[string]int // key -> index into lines, for in-place rewrite
}

// NewLayer creates an empty layer.
func NewLayer() *Layer {
	return &Layer{entries: make(map[string]entry), lineOf: make(map[string]int)}
}

// ParseLayer parses a flat key=value text file. A leading '-' before the
// key marks it locked. Lines that are not recognized key=value pairs
// (comments, blank lines, unknown syntax) are retained verbatim.
func ParseLayer(data []byte) *Layer {
	l := NewLayer()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		l.lines = append(l.lines, line)

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			idx++
			continue
		}

		eq := strings.Index(trimmed, "=")
		if eq < 0 {
			idx++
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimSpace(trimmed[eq+1:])

		locked := false
		if strings.HasPrefix(key, "-") {
			locked = true
			key = strings.TrimSpace(key[1:])
		}
		if key == "" {
			idx++
			continue
		}

		l.entries[key] = entry{key: key, value: value, locked: locked}
		l.lineOf[key] = idx
		idx++
	}
	return l
}

// Get returns the value and lock state for key.
func (l *Layer) Get(key string) (value string, locked bool, ok bool) {
	e, ok := l.entries[key]
	if !ok {
		return "", false, false
	}
	return e.value, e.locked, true
}

// Set updates key's value in place if it already exists (preserving its
// lock prefix and line position), or appends a new line otherwise.
func (l *Layer) Set(key, value string) {
	if e, ok := l.entries[key]; ok {
		e.value = value
		l.entries[key] = e
		l.lines[l.lineOf[key]] = renderLine(e)
		return
	}
	e := entry{key: key, value: value}
	l.entries[key] = e
	l.lineOf[key] = len(l.lines)
	l.lines = append(l.lines, renderLine(e))
}

// SetLocked changes the lock flag for an existing key.
func (l *Layer) SetLocked(key string, locked bool) {
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.locked = locked
	l.entries[key] = e
	l.lines[l.lineOf[key]] = renderLine(e)
}

func renderLine(e entry) string {
	if e.locked {
		return fmt.Sprintf("-%s = %s", e.key, e.value)
	}
	return fmt.Sprintf("%s = %s", e.key, e.value)
}

// Serialize renders the layer back to text, preserving every original
// line including unrecognized ones.
func (l *Layer) Serialize() []byte {
	var buf bytes.Buffer
	for _, line := range l.lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Keys returns every recognized key in this layer.
func (l *Layer) Keys() []string {
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	return keys
}

// Merged is the read-only view across system → pak → user layers.
type Merged struct {
	layers []*Layer // priority order, lowest first; later layers shadow earlier ones
}

// Merge combines layers in priority order: system defaults, then pak
// defaults, then user. Later layers shadow earlier ones for the value;
// a lock set in any layer sticks (see Merged.Get).
func Merge(layers ...*Layer) *Merged {
	return &Merged{layers: layers}
}

// Get returns the highest-priority value for key and whether any layer
// locked it (a lock anywhere in the chain sticks, since a higher-priority
// file locking a key is meant to hide it regardless of lower layers).
func (m *Merged) Get(key string) (value string, locked bool, ok bool) {
	for i := len(m.layers) - 1; i >= 0; i-- {
		if v, l, found := m.layers[i].Get(key); found {
			if !ok {
				value, ok = v, true
			}
			if l {
				locked = true
			}
		}
	}
	return value, locked, ok
}

// OptionSetter is the subset of options.Registry that configuration
// application needs, kept narrow to avoid an import-cycle-prone
// dependency on the concrete registry type.
type OptionSetter interface {
	Set(key, value string) bool
	SetLocked(key string, locked bool)
}

// Apply walks every option in reg's universe (reported via keys) and,
// for each key present anywhere in the merged layers, sets its value and
// propagates the locked flag into the option registry — closing the
// loop between config layering and the option registry's
// hidden-from-menus behavior.
func (m *Merged) Apply(reg OptionSetter, keys []string) {
	for _, key := range keys {
		value, locked, ok := m.Get(key)
		if !ok {
			continue
		}
		reg.Set(key, value)
		reg.SetLocked(key, locked)
	}
}

// Store resolves and loads the three-tier user config file pair
// (console-scoped and game-scoped) alongside system/pak default layers.
type Store struct {
	ConfigDir string
	log       *logging.Logger
}

// NewStore creates a Store rooted at configDir.
func NewStore(configDir string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default("config")
	}
	return &Store{ConfigDir: configDir, log: log}
}

func (s *Store) consolePath() string {
	return s.ConfigDir + "/minarch.cfg"
}

func (s *Store) gamePath(romBasename string) string {
	return s.ConfigDir + "/" + romBasename + ".cfg"
}

// LoadUser loads the user-scoped layer for romBasename: the game-scoped
// file if it exists, otherwise the console-scoped file. An absent file
// is not an error; it yields an empty layer.
func (s *Store) LoadUser(romBasename string) (*Layer, error) {
	gamePath := s.gamePath(romBasename)
	if data, err := os.ReadFile(gamePath); err == nil {
		return ParseLayer(data), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", gamePath, err)
	}

	data, err := os.ReadFile(s.consolePath())
	if err != nil {
		if os.IsNotExist(err) {
			return NewLayer(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", s.consolePath(), err)
	}
	return ParseLayer(data), nil
}

// SaveUser writes layer at the requested scope. Writing at console scope
// deletes any existing game-scoped file, since the game-scoped file
// would otherwise continue to shadow the console-scoped write.
func (s *Store) SaveUser(romBasename string, layer *Layer, gameScope bool) error {
	if gameScope {
		return os.WriteFile(s.gamePath(romBasename), layer.Serialize(), 0o644)
	}
	if err := os.WriteFile(s.consolePath(), layer.Serialize(), 0o644); err != nil {
		return err
	}
	if err := os.Remove(s.gamePath(romBasename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: remove shadowed game-scoped file: %w", err)
	}
	return nil
}

// LoadLayer reads and parses a defaults file (system or pak-scoped). A
// missing file yields an empty layer, matching the "missing fields
// silently defaulted" posture this is adapted from.
func LoadLayer(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLayer(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseLayer(data), nil
}
