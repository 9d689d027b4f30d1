// Package options implements the core+frontend option registry (component A):
// a typed catalog of options the core reports through the environment
// callback, with visibility, categories, and current/default values.
package options

import (
	"sync"

	"github.com/minarch-dev/minarch/internal/logging"
)

// Value is one selectable entry of an option.
type Value struct {
	Value string
	Label string
}

// Option is a single core or frontend option. Option shapes coming from
// the three libretro option ABI versions are all flattened into this one
// representation; see InitFromV1/InitFromV2/InitFromVars.
type Option struct {
	Key         string
	Name        string
	Description string
	Category    string // empty means uncategorized
	Values      []Value
	Current     int
	Default     int
	Locked      bool
	Hidden      bool
	changed     bool
}

// V1Def mirrors the retro_variable shape: key, description, and a
// "|"-joined values string whose first entry is the default.
type V1Def struct {
	Key         string
	Description string
	Values      []string // already split; Values[0] is the default
}

// V2Def mirrors the retro_core_option_v2_definition shape.
type V2Def struct {
	Key          string
	Name         string
	Description  string
	Category     string
	Values       []Value
	DefaultValue string
}

// LegacyVarDef mirrors the oldest retro_variable-only ABI with no
// structured values, just a description string the frontend must parse.
type LegacyVarDef struct {
	Key         string
	Description string
	Values      []string
}

// Registry holds the flattened option set for the currently loaded core.
// The zero value is not usable; use New.
type Registry struct {
	mu      sync.Mutex
	log     *logging.Logger
	order   []string
	options map[string]*Option

	initialized  bool // first shape wins; later Init* calls are no-ops
	enabledCache []*Option
	enabledDirty bool
}

// New creates an empty registry.
func New(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default("options")
	}
	return &Registry{
		log:          log,
		options:      make(map[string]*Option),
		enabledDirty: true,
	}
}

// InitFromV1 populates the registry from RETRO_ENVIRONMENT_SET_VARIABLES
// definitions. Returns false if the registry was already populated by an
// earlier init call (first shape wins; later shapes do not append).
func (r *Registry) InitFromV1(defs []V1Def) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return false
	}
	for _, d := range defs {
		if len(d.Values) == 0 {
			continue
		}
		vals := make([]Value, len(d.Values))
		for i, v := range d.Values {
			vals[i] = Value{Value: v, Label: v}
		}
		r.addLocked(&Option{
			Key:         d.Key,
			Name:        d.Key,
			Description: d.Description,
			Values:      vals,
			Current:     0,
			Default:     0,
		})
	}
	r.initialized = true
	return true
}

// InitFromV2 populates the registry from RETRO_ENVIRONMENT_SET_CORE_OPTIONS_V2
// definitions, which carry categories and explicit value/label pairs.
func (r *Registry) InitFromV2(defs []V2Def) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return false
	}
	for _, d := range defs {
		if len(d.Values) == 0 {
			continue
		}
		def := 0
		for i, v := range d.Values {
			if v.Value == d.DefaultValue {
				def = i
				break
			}
		}
		r.addLocked(&Option{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			Category:    d.Category,
			Values:      append([]Value(nil), d.Values...),
			Current:     def,
			Default:     def,
		})
	}
	r.initialized = true
	return true
}

// InitFromVars populates the registry from the oldest legacy
// RETRO_ENVIRONMENT_GET_VARIABLE-only shape, where description and values
// are embedded in one free-form string already split by the caller.
func (r *Registry) InitFromVars(defs []LegacyVarDef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return false
	}
	for _, d := range defs {
		if len(d.Values) == 0 {
			continue
		}
		vals := make([]Value, len(d.Values))
		for i, v := range d.Values {
			vals[i] = Value{Value: v, Label: v}
		}
		r.addLocked(&Option{
			Key:         d.Key,
			Name:        d.Key,
			Description: d.Description,
			Values:      vals,
			Current:     0,
			Default:     0,
		})
	}
	r.initialized = true
	return true
}

func (r *Registry) addLocked(o *Option) {
	if _, exists := r.options[o.Key]; exists {
		return
	}
	r.order = append(r.order, o.Key)
	r.options[o.Key] = o
	r.enabledDirty = true
}

// Reset clears every option and the initialized latch, so the next
// Init* call from a newly loaded core is accepted. Mirrors unload_game
// freeing every allocated option string.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.options = make(map[string]*Option)
	r.initialized = false
	r.enabledDirty = true
	r.enabledCache = nil
}

// Get returns the current value string for key, and whether key exists.
func (r *Registry) Get(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.options[key]
	if !ok {
		return "", false
	}
	return o.Values[o.Current].Value, true
}

// Set looks up value among the option's values by literal string match.
// If value is unknown, the option's current index is left unchanged and
// a warning is logged — it never silently falls back to the default.
// Returns false if key does not exist.
func (r *Registry) Set(key, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.options[key]
	if !ok {
		return false
	}
	for i, v := range o.Values {
		if v.Value == value {
			o.Current = i
			o.changed = true
			return true
		}
	}
	r.log.Warnf("option %q: unknown value %q, keeping current", key, value)
	return true
}

// SetByIndex sets an option's current value by index directly.
func (r *Registry) SetByIndex(key string, i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.options[key]
	if !ok || i < 0 || i >= len(o.Values) {
		return false
	}
	o.Current = i
	o.changed = true
	return true
}

// SetVisibility shows or hides an option from the enabled-options
// projection without altering its value or lock state.
func (r *Registry) SetVisibility(key string, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.options[key]
	if !ok {
		return
	}
	o.Hidden = !visible
	r.enabledDirty = true
}

// SetLocked marks an option locked (e.g. from a config "-key" prefix),
// removing it from the enabled-options projection regardless of Hidden.
func (r *Registry) SetLocked(key string, locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.options[key]
	if !ok {
		return
	}
	o.Locked = locked
	r.enabledDirty = true
}

// Changed reports and clears the "value changed since last poll" flag
// the core checks via RETRO_ENVIRONMENT_GET_VARIABLE_UPDATE.
func (r *Registry) Changed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.options[key]
	if !ok {
		return false
	}
	c := o.changed
	o.changed = false
	return c
}

// AnyChanged reports whether any option changed since it was last checked,
// without clearing individual flags — used by the GET_VARIABLE_UPDATE
// opcode which answers for the whole registry, not per key.
func (r *Registry) AnyChanged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.order {
		if r.options[k].changed {
			return true
		}
	}
	return false
}

// Enabled returns the menu-visible projection: options that are neither
// locked nor hidden. The slice is rebuilt lazily on first access after a
// change and is not safe to mutate by callers.
func (r *Registry) Enabled() []*Option {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabledDirty {
		return r.enabledCache
	}
	r.enabledCache = r.enabledCache[:0]
	for _, k := range r.order {
		o := r.options[k]
		if !o.Locked && !o.Hidden {
			r.enabledCache = append(r.enabledCache, o)
		}
	}
	r.enabledDirty = false
	return r.enabledCache
}

// All returns every option in registration order, locked/hidden or not.
func (r *Registry) All() []*Option {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Option, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.options[k])
	}
	return out
}
