// Package input implements the input mapper (component C): translation
// of a physical button bitmask into the emulator's abstract button
// query, with MENU+X modifier handling and a shortcuts table distinct
// from the gameplay button mapping.
package input

// Modifier marks a binding as requiring (or not requiring) the menu
// button to be held for it to contribute.
type Modifier int

const (
	ModNone Modifier = iota
	ModMenu
)

// Binding maps one physical button to an emulator-side button id.
type Binding struct {
	Physical  string
	EmulatorID int
	Modifier  Modifier
}

// Mapper holds the per-player physical-to-emulator button table and
// produces the abstract bitmask the core's input_state callback reads.
type Mapper struct {
	bindings   []Binding
	ignoreMenu bool
}

// NewMapper creates an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Bind adds or replaces the binding for a physical button.
func (m *Mapper) Bind(b Binding) {
	for i, existing := range m.bindings {
		if existing.Physical == b.Physical {
			m.bindings[i] = b
			return
		}
	}
	m.bindings = append(m.bindings, b)
}

// Poll walks the binding table and ORs in 1<<EmulatorID for every
// physically pressed button whose modifier state matches. menuHeld
// reports whether the device's menu button is currently held.
func (m *Mapper) Poll(pressed map[string]bool, menuHeld bool) uint32 {
	var mask uint32
	for _, b := range m.bindings {
		if !pressed[b.Physical] {
			continue
		}
		switch b.Modifier {
		case ModMenu:
			if !menuHeld {
				continue
			}
		default:
			if menuHeld {
				continue
			}
		}
		mask |= 1 << uint(b.EmulatorID)
	}
	return mask
}

// NoteMenuHeld records a frame in which the menu button contributed to
// at least one MENU+X binding; the menu button's own release is then
// suppressed from opening the menu (the "ignore_menu" latch in §4.C).
func (m *Mapper) NoteMenuHeld(consumed bool) {
	if consumed {
		m.ignoreMenu = true
	}
}

// ConsumeIgnoreMenu reports and clears the ignore_menu latch.
func (m *Mapper) ConsumeIgnoreMenu() bool {
	v := m.ignoreMenu
	m.ignoreMenu = false
	return v
}

// ShortcutKind enumerates the fixed shortcut table from §4.C.
type ShortcutKind int

const (
	ShortcutSaveState ShortcutKind = iota
	ShortcutLoadState
	ShortcutReset
	ShortcutToggleFastForward
	ShortcutHoldFastForward
	ShortcutToggleRewind
	ShortcutHoldRewind
	ShortcutScreenshot
	ShortcutGameSwitcher
	ShortcutSaveAndQuit
	ShortcutCycleScaler
	ShortcutCycleEffect
	ShortcutTurbo
)

// Edge selects which transition of the physical button fires the event.
type Edge int

const (
	EdgePress Edge = iota
	EdgeRelease
)

// Shortcut binds one physical-button+modifier pair to a shortcut kind,
// firing on the configured edge.
type Shortcut struct {
	Kind     ShortcutKind
	Physical string
	Modifier Modifier
	Edge     Edge
}

// Event is a shortcut firing observed on the current frame's poll.
type Event struct {
	Kind ShortcutKind
}

// Controller tracks toggle state and edge history for the shortcuts
// table, enforcing the fast-forward/rewind/turbo interaction invariants.
type Controller struct {
	shortcuts []Shortcut
	prevDown  map[string]bool

	fastForwardToggled bool
	rewindToggled      bool
	rewindHeld         bool
	ffPausedByRewind   bool

	turboCapable bool
}

// NewController creates a Controller. turboCapable gates whether turbo
// toggle shortcuts are honored, per §4.C ("available only on devices
// reporting turbo capability").
func NewController(turboCapable bool) *Controller {
	return &Controller{
		prevDown:     make(map[string]bool),
		turboCapable: turboCapable,
	}
}

// Bind registers a shortcut binding.
func (c *Controller) Bind(s Shortcut) {
	c.shortcuts = append(c.shortcuts, s)
}

// bindingKey disambiguates identical physical buttons under different
// modifiers so edge tracking does not conflate a MENU+X shortcut with
// its unmodified counterpart.
func bindingKey(physical string, mod Modifier) string {
	if mod == ModMenu {
		return "menu+" + physical
	}
	return physical
}

// Poll evaluates every shortcut binding against this frame's physical
// button state and returns the events that fired. It also updates the
// toggle/hold state machines described in §4.C's interaction invariants.
func (c *Controller) Poll(pressed map[string]bool, menuHeld bool) []Event {
	var events []Event

	for _, s := range c.shortcuts {
		if s.Kind == ShortcutTurbo && !c.turboCapable {
			continue
		}
		key := bindingKey(s.Physical, s.Modifier)
		down := pressed[s.Physical]
		if s.Modifier == ModMenu && !menuHeld {
			down = false
		}
		wasDown := c.prevDown[key]
		c.prevDown[key] = down

		fired := false
		switch s.Edge {
		case EdgePress:
			fired = down && !wasDown
		case EdgeRelease:
			fired = !down && wasDown
		}
		if !fired {
			continue
		}

		switch s.Kind {
		case ShortcutToggleFastForward:
			c.fastForwardToggled = !c.fastForwardToggled
			if c.fastForwardToggled {
				// Last toggle wins: turning FF on clears rewind-toggle.
				c.rewindToggled = false
			}
		case ShortcutToggleRewind:
			c.rewindToggled = !c.rewindToggled
			if c.rewindToggled {
				c.fastForwardToggled = false
			}
		case ShortcutHoldRewind:
			// handled via SetRewindHeld below; presence in the table
			// still produces an Event for callers that want an edge log.
		}

		events = append(events, Event{Kind: s.Kind})
	}

	return events
}

// SetRewindHeld updates hold-rewind state for this frame, applying the
// "holding rewind pauses a toggled fast-forward; release restores it"
// invariant.
func (c *Controller) SetRewindHeld(held bool) {
	if held && !c.rewindHeld {
		if c.fastForwardToggled {
			c.ffPausedByRewind = true
			c.fastForwardToggled = false
		}
	} else if !held && c.rewindHeld {
		if c.ffPausedByRewind {
			c.fastForwardToggled = true
			c.ffPausedByRewind = false
		}
	}
	c.rewindHeld = held
}

// FastForwardActive reports whether fast-forward should be in effect
// this frame, combining the toggle and hold-rewind-pause state.
func (c *Controller) FastForwardActive() bool {
	return c.fastForwardToggled
}

// RewindActive reports whether rewind should be consulted this frame,
// combining the toggle and hold states.
func (c *Controller) RewindActive() bool {
	return c.rewindToggled || c.rewindHeld
}
