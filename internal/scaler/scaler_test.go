package scaler

import "testing"

func TestNativeIntegerScaleCentered(t *testing.T) {
	s := New(640, 480, 1920)
	g := s.Select(320, 240, 320, 4.0/3.0, PolicyNative)
	if g.Scale != 2 {
		t.Fatalf("Scale = %d, want 2", g.Scale)
	}
	if g.DstW != 640 || g.DstH != 480 {
		t.Fatalf("expected full-screen dst rect, got %dx%d", g.DstW, g.DstH)
	}
	if g.DstX != 0 || g.DstY != 0 {
		t.Fatalf("expected centered (0,0) offset for exact-fit scale, got (%d,%d)", g.DstX, g.DstY)
	}
	if g.DstX+g.Scale*g.SrcW > s.ScreenW || g.DstY+g.Scale*g.SrcH > s.ScreenH {
		t.Fatal("scaled rect exceeds screen bounds")
	}
}

func TestNativeForcedCropWhenLargerThanScreen(t *testing.T) {
	s := New(320, 240, 1920)
	g := s.Select(640, 480, 640, 4.0/3.0, PolicyNative)
	if g.Scale != 0 {
		t.Fatalf("Scale = %d, want 0 (forced crop)", g.Scale)
	}
	if g.DstW != 320 || g.DstH != 240 {
		t.Fatalf("forced crop should fill screen, got %dx%d", g.DstW, g.DstH)
	}
	if g.SrcX != 160 || g.SrcY != 120 {
		t.Fatalf("SrcX/SrcY = %d/%d, want centered crop offsets 160/120", g.SrcX, g.SrcY)
	}
}

func TestCroppedDegradesToNativeOnHDMI(t *testing.T) {
	s := New(1920, 1080, 1920)
	g := s.Select(320, 240, 320, 4.0/3.0, PolicyCropped)
	// On HDMI-sized screens, cropped degrades to native integer scaling.
	if g.DstX != (1920-320*g.Scale)/2 {
		t.Fatalf("expected native-style centering, got DstX=%d scale=%d", g.DstX, g.Scale)
	}
}

func TestAspectExactMatch(t *testing.T) {
	s := New(640, 480, 1920)
	g := s.Select(320, 240, 320, 4.0/3.0, PolicyAspect)
	if g.DstW*s.ScreenH != g.DstH*s.ScreenW {
		t.Fatalf("exact aspect match should satisfy dst_w*screen_h == dst_h*screen_w, got %d vs %d",
			g.DstW*s.ScreenH, g.DstH*s.ScreenW)
	}
}

func TestAspectLetterbox(t *testing.T) {
	s := New(640, 480, 1920) // 4:3 screen
	// Wider-than-screen core aspect triggers letterboxing.
	g := s.Select(256, 224, 256, 8.0/7.0*2.0, PolicyAspect) // exaggerated wide aspect
	if g.DstH <= 0 || g.DstW <= 0 {
		t.Fatalf("expected positive letterboxed rect, got %dx%d", g.DstW, g.DstH)
	}
}

func TestFullscreenOddResolutionSnap(t *testing.T) {
	s := New(320, 240, 1920)
	g := s.Select(320, 239, 320, 4.0/3.0, PolicyFullscreen)
	if g.Aspect != -1 {
		t.Fatalf("Aspect = %v, want -1 for fullscreen", g.Aspect)
	}
	if g.Scale < 1 {
		t.Fatalf("Scale = %d, want >= 1", g.Scale)
	}
}

func TestNeedsRecomputeOnSizeChange(t *testing.T) {
	s := New(640, 480, 1920)
	if !s.NeedsRecompute(320, 240, 1) {
		t.Fatal("first call should always require recompute")
	}
	s.Select(320, 240, 320, 4.0/3.0, PolicyNative)
	if s.NeedsRecompute(320, 240, 1) {
		t.Fatal("same geometry should not require recompute")
	}
	if !s.NeedsRecompute(320, 240, 0) {
		t.Fatal("dst_pitch == 0 must force recomputation even with unchanged size")
	}
	if !s.NeedsRecompute(352, 240, 1) {
		t.Fatal("changed src_w must force recomputation")
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	s := New(640, 480, 1920)
	s.Select(320, 240, 320, 4.0/3.0, PolicyNative)
	s.Invalidate()
	if !s.NeedsRecompute(320, 240, 1) {
		t.Fatal("Invalidate should force the next NeedsRecompute to report true")
	}
}
