package options

import "testing"

func TestInitFromV1FirstShapeWins(t *testing.T) {
	r := New(nil)
	ok := r.InitFromV1([]V1Def{
		{Key: "gfx_filter", Description: "Filter", Values: []string{"nearest", "linear"}},
	})
	if !ok {
		t.Fatal("first InitFromV1 should succeed")
	}
	if ok := r.InitFromV2([]V2Def{{Key: "other", Values: []Value{{Value: "a"}}}}); ok {
		t.Fatal("second init call should be rejected, first shape wins")
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected 1 option, got %d", len(r.All()))
	}
}

func TestInitFromV2Defaults(t *testing.T) {
	r := New(nil)
	r.InitFromV2([]V2Def{
		{
			Key:          "core_speed",
			Name:         "Speed",
			Values:       []Value{{Value: "slow"}, {Value: "fast"}},
			DefaultValue: "fast",
		},
	})
	v, ok := r.Get("core_speed")
	if !ok || v != "fast" {
		t.Fatalf("Get() = %q, %v; want fast, true", v, ok)
	}
}

func TestSetUnknownValueKeepsCurrent(t *testing.T) {
	r := New(nil)
	r.InitFromV1([]V1Def{{Key: "k", Values: []string{"a", "b"}}})
	if ok := r.Set("k", "bogus"); !ok {
		t.Fatal("Set on known key should return true even if value unknown")
	}
	v, _ := r.Get("k")
	if v != "a" {
		t.Fatalf("value changed to %q on unknown input, want unchanged default %q", v, "a")
	}
}

func TestSetKnownValue(t *testing.T) {
	r := New(nil)
	r.InitFromV1([]V1Def{{Key: "k", Values: []string{"a", "b"}}})
	if !r.Set("k", "b") {
		t.Fatal("Set should succeed for known key")
	}
	v, _ := r.Get("k")
	if v != "b" {
		t.Fatalf("Get() = %q, want b", v)
	}
	if !r.Changed("k") {
		t.Fatal("expected changed flag set after Set")
	}
	if r.Changed("k") {
		t.Fatal("Changed should clear the flag on read")
	}
}

func TestEnabledFiltersLockedAndHidden(t *testing.T) {
	r := New(nil)
	r.InitFromV1([]V1Def{
		{Key: "a", Values: []string{"1"}},
		{Key: "b", Values: []string{"1"}},
		{Key: "c", Values: []string{"1"}},
	})
	r.SetLocked("a", true)
	r.SetVisibility("b", false)

	enabled := r.Enabled()
	if len(enabled) != 1 || enabled[0].Key != "c" {
		t.Fatalf("Enabled() = %+v, want only key c", enabled)
	}
}

func TestResetClearsInitializedLatch(t *testing.T) {
	r := New(nil)
	r.InitFromV1([]V1Def{{Key: "a", Values: []string{"1"}}})
	r.Reset()
	if len(r.All()) != 0 {
		t.Fatal("Reset should clear all options")
	}
	if ok := r.InitFromV2([]V2Def{{Key: "b", Values: []Value{{Value: "1"}}}}); !ok {
		t.Fatal("after Reset, a new Init* call should be accepted")
	}
}

func TestSetByIndexOutOfRange(t *testing.T) {
	r := New(nil)
	r.InitFromV1([]V1Def{{Key: "k", Values: []string{"a", "b"}}})
	if r.SetByIndex("k", 5) {
		t.Fatal("SetByIndex should reject out-of-range index")
	}
	if !r.SetByIndex("k", 1) {
		t.Fatal("SetByIndex should accept valid index")
	}
}
