package coreabi

import "testing"

func TestCStringGoStringRoundTrip(t *testing.T) {
	p := cString("snes9x")
	if got := goString(p); got != "snes9x" {
		t.Fatalf("goString = %q, want %q", got, "snes9x")
	}
}

func TestGoStringNilPointer(t *testing.T) {
	if got := goString(nil); got != "" {
		t.Fatalf("goString(nil) = %q, want empty", got)
	}
}

func TestDecodeSystemInfo(t *testing.T) {
	raw := rawSystemInfo{
		libraryName:     cString("Mupen64Plus-Next"),
		libraryVersion:  cString("2.5.9"),
		validExtensions: cString("n64|z64|v64"),
		needFullpath:    1,
		blockExtract:    0,
	}
	info := decodeSystemInfo(&raw)
	if info.LibraryName != "Mupen64Plus-Next" || info.LibraryVersion != "2.5.9" {
		t.Fatalf("info = %+v", info)
	}
	if !info.NeedFullpath || info.BlockExtract {
		t.Fatalf("info flags = %+v", info)
	}
}

func TestDecodeSystemAVInfo(t *testing.T) {
	raw := rawSystemAVInfo{
		geometry: rawGameGeometry{baseWidth: 320, baseHeight: 240, maxWidth: 320, maxHeight: 240, aspectRatio: 1.3333},
		timing:   rawSystemTiming{fps: 60.0, sampleRate: 44100.0},
	}
	info := decodeSystemAVInfo(&raw)
	if info.Geometry.BaseWidth != 320 || info.Timing.FPS != 60.0 || info.Timing.SampleRate != 44100.0 {
		t.Fatalf("info = %+v", info)
	}
}

func TestMarshalGameInfo(t *testing.T) {
	g := &GameInfo{Path: "/roms/game.sfc", Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}, Meta: ""}
	raw := marshalGameInfo(g)
	if raw.path == nil || goString(raw.path) != "/roms/game.sfc" {
		t.Fatalf("path not marshaled correctly")
	}
	if raw.size != 4 || raw.data == nil {
		t.Fatalf("data/size not marshaled correctly: size=%d data=%v", raw.size, raw.data)
	}
	if raw.meta != nil {
		t.Fatal("empty meta should marshal to nil pointer")
	}
}

func TestMarshalGameInfoEmptyData(t *testing.T) {
	g := &GameInfo{Path: "", Data: nil, Meta: "extra"}
	raw := marshalGameInfo(g)
	if raw.path != nil {
		t.Fatal("empty path should marshal to nil pointer")
	}
	if raw.data != nil || raw.size != 0 {
		t.Fatal("nil data should marshal to nil pointer and zero size")
	}
	if goString(raw.meta) != "extra" {
		t.Fatalf("meta = %q, want extra", goString(raw.meta))
	}
}
