// Package scaler implements the frame scaler selector (component B): given
// the core's reported output geometry and a scaling policy, it derives a
// blit rectangle and scale factor for the device's fixed framebuffer.
package scaler

// Policy selects one of the five scaling strategies.
type Policy int

const (
	PolicyNative Policy = iota
	PolicyCropped
	PolicyFullscreen
	PolicyAspectScreen
	PolicyAspect
)

// bytesPerPixel is the fixed destination pixel size the device
// framebuffer is blitted in (XRGB8888).
const bytesPerPixel = 4

// Geometry is the derived renderer geometry consumed by the audio/video
// bridge (component D) on every frame whose source size changed.
type Geometry struct {
	SrcX, SrcY, SrcW, SrcH, SrcPitch int
	DstX, DstY, DstW, DstH, DstPitch int
	Scale  int
	Aspect float64 // 0 for native/cropped, -1 for fullscreen, else the target aspect ratio
}

// Selector remembers the last geometry it computed so it can decide
// whether a new frame's (src_w, src_h) requires recomputation.
type Selector struct {
	ScreenW, ScreenH int
	// HDMIWidth is compared against ScreenW to degrade PolicyCropped to
	// PolicyNative on HDMI-sized outputs, mirroring the device's own
	// "not a fit for cropping" rule.
	HDMIWidth int

	lastTrueW, lastTrueH int
	lastPitch            int
	valid                bool
}

// New creates a Selector for a screen of the given fixed size.
func New(screenW, screenH, hdmiWidth int) *Selector {
	return &Selector{ScreenW: screenW, ScreenH: screenH, HDMIWidth: hdmiWidth}
}

// Invalidate forces the next NeedsRecompute to report true regardless of
// whether the source geometry changed — used when the core's AV info or
// geometry changes.
func (s *Selector) Invalidate() {
	s.valid = false
}

// NeedsRecompute reports whether Select must be called again: either the
// selector was invalidated, or the incoming size differs from the last
// size it computed for.
func (s *Selector) NeedsRecompute(srcW, srcH, dstPitch int) bool {
	if !s.valid || dstPitch == 0 {
		return true
	}
	return srcW != s.lastTrueW || srcH != s.lastTrueH
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		return a/b + 1
	}
	return a / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Select recomputes the renderer geometry for the given source frame and
// policy. coreAspect is the core-reported display aspect ratio
// (src_w/src_h corrected, e.g. via RETRO_ENVIRONMENT_SET_GEOMETRY); it is
// only consulted by PolicyAspect.
func (s *Selector) Select(srcW, srcH, srcPitch int, coreAspect float64, policy Policy) Geometry {
	var srcX, srcY, dstX, dstY, dstW, dstH, dstP, scale int
	var aspect float64

	trueW, trueH := srcW, srcH

	effective := policy
	if effective == PolicyCropped && s.ScreenW == s.HDMIWidth {
		effective = PolicyNative
	}

	switch effective {
	case PolicyNative, PolicyCropped:
		scale = minInt(s.ScreenW/srcW, s.ScreenH/srcH)
		switch {
		case scale == 0:
			// Forced crop: the source does not fit even at 1x.
			dstW, dstH, dstP = s.ScreenW, s.ScreenH, s.ScreenW*bytesPerPixel
			ox := (s.ScreenW - srcW) / 2
			oy := (s.ScreenH - srcH) / 2
			if ox < 0 {
				srcX = -ox
			} else {
				dstX = ox
			}
			if oy < 0 {
				srcY = -oy
			} else {
				dstY = oy
			}
		case effective == PolicyCropped:
			scaleX := ceilDiv(s.ScreenW, srcW)
			scaleY := ceilDiv(s.ScreenH, srcH)
			scale = minInt(scaleX, scaleY)

			dstW, dstH, dstP = s.ScreenW, s.ScreenH, s.ScreenW*bytesPerPixel
			scaledW := srcW * scale
			scaledH := srcH * scale

			ox := (s.ScreenW - scaledW) / 2
			oy := (s.ScreenH - scaledH) / 2
			if ox < 0 {
				srcX = -ox / scale
				srcW -= srcX * 2
			} else {
				dstX = ox
			}
			if oy < 0 {
				srcY = -oy / scale
				srcH -= srcY * 2
			} else {
				dstY = oy
			}
		default: // integer-scaled native, centered
			scaledW := srcW * scale
			scaledH := srcH * scale
			dstW, dstH, dstP = s.ScreenW, s.ScreenH, s.ScreenW*bytesPerPixel
			dstX = (s.ScreenW - scaledW) / 2
			dstY = (s.ScreenH - scaledH) / 2
		}

	default:
		scaleX := ceilDiv(s.ScreenW, srcW)
		scaleY := ceilDiv(s.ScreenH, srcH)

		// 8-pixel snap for odd source resolutions (e.g. 320x239).
		if r := (s.ScreenH - srcH) % 8; r != 0 && r < 8 {
			scaleY--
		}
		scale = maxInt(scaleX, scaleY)

		scaledW := srcW * scale
		scaledH := srcH * scale

		switch effective {
		case PolicyFullscreen:
			dstW, dstH = scaledW, scaledH
			dstP = dstW * bytesPerPixel
			aspect = -1

		case PolicyAspectScreen:
			sx := s.ScreenW / srcW
			sy := s.ScreenH / srcH
			scale = minInt(sx, sy)
			aspect = float64(srcW) / float64(srcH)

			scaledW = srcW * scale
			scaledH = srcH * scale
			dstW, dstH = scaledW, scaledH
			dstX = (s.ScreenW - dstW) / 2
			dstY = (s.ScreenH - dstH) / 2
			dstP = dstW * bytesPerPixel

		default: // PolicyAspect
			fixedAspectRatio := float64(s.ScreenW) / float64(s.ScreenH)
			coreAspectMille := int(coreAspect * 1000)
			fixedAspectMille := int(fixedAspectRatio * 1000)

			switch {
			case coreAspectMille > fixedAspectMille:
				// letterbox
				aspectH := float64(s.ScreenW) / coreAspect
				aspectHR := aspectH / float64(s.ScreenH)
				dstW = scaledW
				dstH = int(float64(scaledH) / aspectHR)
				dstY = (dstH - scaledH) / 2
			case coreAspectMille < fixedAspectMille:
				// pillarbox
				aspectW := float64(s.ScreenH) * coreAspect
				aspectWR := aspectW / float64(s.ScreenW)
				dstW = int(float64(scaledW) / aspectWR)
				dstH = scaledH
				dstW = (dstW / 8) * 8
				dstX = (dstW - scaledW) / 2
			default:
				// exact match
				dstW = scaledW
				dstH = scaledH
			}
			dstP = dstW * bytesPerPixel
			aspect = coreAspect
		}
	}

	s.lastTrueW, s.lastTrueH = trueW, trueH
	s.lastPitch = srcPitch
	s.valid = true

	return Geometry{
		SrcX: srcX, SrcY: srcY, SrcW: srcW, SrcH: srcH, SrcPitch: srcPitch,
		DstX: dstX, DstY: dstY, DstW: dstW, DstH: dstH, DstPitch: dstP,
		Scale:  scale,
		Aspect: aspect,
	}
}
