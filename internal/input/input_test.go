package input

import "testing"

func TestMapperPollBasic(t *testing.T) {
	m := NewMapper()
	m.Bind(Binding{Physical: "A", EmulatorID: 8})
	m.Bind(Binding{Physical: "Up", EmulatorID: 4})

	pressed := map[string]bool{"A": true, "Up": false}
	mask := m.Poll(pressed, false)
	if mask != 1<<8 {
		t.Fatalf("mask = %b, want %b", mask, 1<<8)
	}
}

func TestMapperMenuModifierGating(t *testing.T) {
	m := NewMapper()
	m.Bind(Binding{Physical: "A", EmulatorID: 8}) // unmodified
	m.Bind(Binding{Physical: "X", EmulatorID: 9, Modifier: ModMenu})

	pressed := map[string]bool{"A": true, "X": true}

	// Without menu held, the MENU+X binding does not contribute; with menu
	// held, Poll drops the plain bindings and keeps only MENU+X ones.
	mask := m.Poll(pressed, false)
	if mask != 1<<8 {
		t.Fatalf("mask without menu held = %b, want only A", mask)
	}

	mask = m.Poll(pressed, true)
	if mask != 1<<9 {
		t.Fatalf("mask with menu held = %b, want only MENU+X binding", mask)
	}
}

func TestToggleFastForwardClearsRewindToggle(t *testing.T) {
	c := NewController(false)
	c.Bind(Shortcut{Kind: ShortcutToggleRewind, Physical: "Select", Edge: EdgePress})
	c.Bind(Shortcut{Kind: ShortcutToggleFastForward, Physical: "R2", Edge: EdgePress})

	c.Poll(map[string]bool{"Select": true}, false)
	if !c.rewindToggled {
		t.Fatal("expected rewind-toggle on after Select press")
	}

	c.Poll(map[string]bool{"Select": false, "R2": true}, false)
	if c.rewindToggled {
		t.Fatal("toggling fast-forward on should clear rewind-toggle (last toggle wins)")
	}
	if !c.FastForwardActive() {
		t.Fatal("expected fast-forward active")
	}
}

func TestHoldRewindPausesToggledFastForward(t *testing.T) {
	c := NewController(false)
	c.Bind(Shortcut{Kind: ShortcutToggleFastForward, Physical: "R2", Edge: EdgePress})

	c.Poll(map[string]bool{"R2": true}, false)
	if !c.FastForwardActive() {
		t.Fatal("expected fast-forward toggled on")
	}

	c.SetRewindHeld(true)
	if c.FastForwardActive() {
		t.Fatal("holding rewind should pause a toggled fast-forward")
	}

	c.SetRewindHeld(false)
	if !c.FastForwardActive() {
		t.Fatal("releasing rewind should restore fast-forward")
	}
}

func TestTurboShortcutGatedByCapability(t *testing.T) {
	c := NewController(false)
	c.Bind(Shortcut{Kind: ShortcutTurbo, Physical: "Y", Edge: EdgePress})

	events := c.Poll(map[string]bool{"Y": true}, false)
	if len(events) != 0 {
		t.Fatal("turbo shortcut should not fire on a device without turbo capability")
	}

	c2 := NewController(true)
	c2.Bind(Shortcut{Kind: ShortcutTurbo, Physical: "Y", Edge: EdgePress})
	events = c2.Poll(map[string]bool{"Y": true}, false)
	if len(events) != 1 {
		t.Fatal("turbo shortcut should fire on a turbo-capable device")
	}
}

func TestIgnoreMenuLatch(t *testing.T) {
	m := NewMapper()
	m.NoteMenuHeld(true)
	if !m.ConsumeIgnoreMenu() {
		t.Fatal("expected ignore_menu latch set")
	}
	if m.ConsumeIgnoreMenu() {
		t.Fatal("ConsumeIgnoreMenu should clear the latch")
	}
}
