// Package avbridge forwards the core's audio samples and video frames to
// platform sinks (component D), consulting the scaler selector on
// geometry changes and honoring fast-forward/rewind audio gating.
package avbridge

import (
	"time"

	"github.com/minarch-dev/minarch/internal/logging"
	"github.com/minarch-dev/minarch/internal/scaler"
)

// PixelFormat is one of the two formats the bridge accepts from a core.
type PixelFormat int

const (
	PixelFormatRGB565 PixelFormat = iota
	PixelFormatXRGB8888
)

// VideoSink is the platform GFX facade. Implementations (ebiten,
// framebuffer device, …) are external collaborators; only this contract
// is specified here.
type VideoSink interface {
	Present(rgba []byte, geom scaler.Geometry)
}

// AudioSink is the platform SND facade.
type AudioSink interface {
	Submit(samples []int16)
}

// Bridge wires core callbacks to platform sinks.
type Bridge struct {
	Scaler *scaler.Selector
	Video  VideoSink
	Audio  AudioSink
	log    *logging.Logger

	format PixelFormat

	lastFrame  []byte
	lastW      int
	lastH      int
	lastPitch  int
	lastGeom   scaler.Geometry
	haveFrame  bool

	RewindAudioEnabled bool
	FFAudioEnabled     bool

	CoreFPS    float64
	SampleRate int
}

// New creates a Bridge over the given scaler, video sink, and audio sink.
func New(sel *scaler.Selector, video VideoSink, audio AudioSink, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.Default("avbridge")
	}
	return &Bridge{Scaler: sel, Video: video, Audio: audio, log: log, format: PixelFormatRGB565}
}

// NegotiatePixelFormat accepts XRGB8888 and RGB565; any other request is
// refused with a log line and defaults to RGB565.
func (b *Bridge) NegotiatePixelFormat(requested PixelFormat) PixelFormat {
	switch requested {
	case PixelFormatXRGB8888, PixelFormatRGB565:
		b.format = requested
		return requested
	default:
		b.log.Warnf("unsupported pixel format %d requested, defaulting to RGB565", requested)
		b.format = PixelFormatRGB565
		return PixelFormatRGB565
	}
}

// VideoRefresh handles one core video callback. If pixels is nil the
// previous frame is reused (a core signaling "nothing changed"). The
// caller indicates the current coreAspect for aspect-ratio scaling
// policies and whether the frame occurred during rewind/fast-forward
// (gating is handled on the audio side, not here — video always draws).
func (b *Bridge) VideoRefresh(pixels []byte, w, h, pitch int, coreAspect float64, policy scaler.Policy) {
	if pixels == nil {
		if b.haveFrame {
			b.Video.Present(b.lastFrame, b.lastGeom)
		}
		return
	}

	if b.Scaler.NeedsRecompute(w, h, pitch) {
		b.lastGeom = b.Scaler.Select(w, h, pitch, coreAspect, policy)
	}

	rgba := b.convertToRGBA(pixels, w, h, pitch)
	b.lastFrame = rgba
	b.lastW, b.lastH, b.lastPitch = w, h, pitch
	b.haveFrame = true

	b.Video.Present(rgba, b.lastGeom)
}

// convertToRGBA converts one frame from the negotiated source format to
// RGBA. This is the reference (non-SIMD) conversion path; a platform
// build may shadow it with an arch-specific fast path behind a build tag.
func (b *Bridge) convertToRGBA(src []byte, w, h, pitch int) []byte {
	dst := make([]byte, w*h*4)
	switch b.format {
	case PixelFormatXRGB8888:
		convertXRGB8888ToRGBA(src, dst, w, h, pitch)
	default:
		convertRGB565ToRGBA(src, dst, w, h, pitch)
	}
	return dst
}

func convertXRGB8888ToRGBA(src, dst []byte, w, h, pitch int) {
	for y := 0; y < h; y++ {
		srcRow := src[y*pitch : y*pitch+w*4]
		dstRow := dst[y*w*4 : (y+1)*w*4]
		for x := 0; x < w; x++ {
			b := srcRow[x*4+0]
			g := srcRow[x*4+1]
			r := srcRow[x*4+2]
			dstRow[x*4+0] = r
			dstRow[x*4+1] = g
			dstRow[x*4+2] = b
			dstRow[x*4+3] = 0xFF
		}
	}
}

func convertRGB565ToRGBA(src, dst []byte, w, h, pitch int) {
	for y := 0; y < h; y++ {
		srcRow := src[y*pitch : y*pitch+w*2]
		dstRow := dst[y*w*4 : (y+1)*w*4]
		for x := 0; x < w; x++ {
			px := uint16(srcRow[x*2]) | uint16(srcRow[x*2+1])<<8
			r5 := (px >> 11) & 0x1F
			g6 := (px >> 5) & 0x3F
			b5 := px & 0x1F
			dstRow[x*4+0] = byte((r5*255 + 15) / 31)
			dstRow[x*4+1] = byte((g6*255 + 31) / 63)
			dstRow[x*4+2] = byte((b5*255 + 15) / 31)
			dstRow[x*4+3] = 0xFF
		}
	}
}

// AudioSampleBatch forwards batched stereo samples to the platform sink,
// dropping them during rewind (unless rewind-audio is enabled) or
// fast-forward (unless ff-audio is enabled).
func (b *Bridge) AudioSampleBatch(samples []int16, rewinding, fastForward bool) {
	if rewinding && !b.RewindAudioEnabled {
		return
	}
	if fastForward && !b.FFAudioEnabled {
		return
	}
	b.Audio.Submit(samples)
}

// AudioSample forwards a single stereo sample pair, subject to the same
// gating as AudioSampleBatch.
func (b *Bridge) AudioSample(left, right int16, rewinding, fastForward bool) {
	b.AudioSampleBatch([]int16{left, right}, rewinding, fastForward)
}

// FastForwardFrameCeiling returns the maximum wall time budget for one
// frame under fast-forward, per §4.D: 1_000_000 / (core_fps *
// (max_ff_speed+1)) microseconds.
func (b *Bridge) FastForwardFrameCeiling(maxFFSpeed int) time.Duration {
	if b.CoreFPS <= 0 {
		return 0
	}
	micros := 1_000_000.0 / (b.CoreFPS * float64(maxFFSpeed+1))
	return time.Duration(micros * float64(time.Microsecond))
}

// AverageFastForwardAudio downsamples the concatenated stereo samples
// from multiplier sub-frame runs into one frame's worth by averaging
// corresponding sample pairs, keeping pitch correct when several core
// runs are collapsed into a single displayed frame under fast-forward.
func AverageFastForwardAudio(combined []int16, multiplier int) []int16 {
	if multiplier <= 1 || len(combined) == 0 {
		return combined
	}

	frameLen := len(combined) / multiplier
	frameLen &^= 1 // round down to an even stereo-pair count
	if frameLen == 0 {
		return nil
	}

	out := make([]int16, frameLen)
	for i := 0; i < frameLen; i++ {
		var acc int32
		for f := 0; f < multiplier; f++ {
			acc += int32(combined[f*frameLen+i])
		}
		out[i] = int16(acc / int32(multiplier))
	}
	return out
}
