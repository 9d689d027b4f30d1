// Package corehost implements the core host loop (component G): core
// lifecycle, per-frame sequencing, and the environment callback
// switchboard dispatching opcodes to the option registry, AV bridge,
// and state I/O manager.
package corehost

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/minarch-dev/minarch/internal/avbridge"
	"github.com/minarch-dev/minarch/internal/coreabi"
	"github.com/minarch-dev/minarch/internal/input"
	"github.com/minarch-dev/minarch/internal/logging"
	"github.com/minarch-dev/minarch/internal/options"
	"github.com/minarch-dev/minarch/internal/rewind"
	"github.com/minarch-dev/minarch/internal/scaler"
	"github.com/minarch-dev/minarch/internal/stateio"
)

// Notifier surfaces a core-originated message (RETRO_ENVIRONMENT_SET_MESSAGE).
type Notifier interface {
	Notify(message string)
}

// Host ties every component to one loaded core.
type Host struct {
	core    *coreabi.Core
	Options *options.Registry
	Scaler  *scaler.Selector
	AV      *avbridge.Bridge
	Rewind  *rewind.Engine
	State   *stateio.Manager
	Input   *input.Mapper
	Shortcuts *input.Controller
	Governor *Governor

	log *logging.Logger

	SystemDirectory string
	SaveDirectory   string

	coreAspect    float64
	scalerPolicy  scaler.Policy
	avInfoChanged bool
	shutdown      bool
	notifier      Notifier

	maxFFSpeed int
	inputMask  uint32

	ffAggregating bool
	ffAudioBuf    []int16

	stableStrings map[string]*byte
}

// Config bundles the directories and tunables a Host needs at Open time.
type Config struct {
	SystemDirectory string
	SaveDirectory   string
	ScreenWidth     int
	ScreenHeight    int
	HDMIWidth       int
	ScalerPolicy    scaler.Policy
	MaxFFSpeed      int
	Rewind          rewind.Config
	Notifier        Notifier
	Video           avbridge.VideoSink
	Audio           avbridge.AudioSink
	CPUFreqPath     string // sysfs scaling_governor node; empty disables governor writes
	Log             *logging.Logger
}

// New creates a Host with every component wired but no core loaded yet.
func New(cfg Config) *Host {
	log := cfg.Log
	if log == nil {
		log = logging.Default("corehost")
	}
	sel := scaler.New(cfg.ScreenWidth, cfg.ScreenHeight, cfg.HDMIWidth)

	var freq FrequencyController
	if cfg.CPUFreqPath != "" {
		freq = NewSysfsGovernor(cfg.CPUFreqPath, log)
	}

	h := &Host{
		Options:         options.New(log),
		Scaler:          sel,
		AV:              avbridge.New(sel, cfg.Video, cfg.Audio, log),
		Input:           input.NewMapper(),
		Shortcuts:       input.NewController(true),
		Governor:        NewGovernor(freq),
		log:             log,
		SystemDirectory: cfg.SystemDirectory,
		SaveDirectory:   cfg.SaveDirectory,
		scalerPolicy:    cfg.ScalerPolicy,
		notifier:        cfg.Notifier,
		maxFFSpeed:      cfg.MaxFFSpeed,
		stableStrings:   make(map[string]*byte),
	}
	return h
}

// Open dlopens the core at path and wires this Host as its callback
// Handler. Does not call retro_init; callers call Init explicitly.
func (h *Host) Open(path string) error {
	c, err := coreabi.Load(path)
	if err != nil {
		return err
	}
	h.core = c
	c.SetHandler(h)
	return nil
}

// Init calls retro_init on the opened core.
func (h *Host) Init() {
	h.core.Init()
}

// Close unloads the game, tears down the rewind engine, and calls
// retro_deinit. Idempotent.
func (h *Host) Close() {
	if h.core == nil {
		return
	}
	if h.Rewind != nil {
		h.Rewind.Free()
		h.Rewind = nil
	}
	h.core.UnloadGame()
	h.core.Deinit()
	h.Options.Reset()
	h.core = nil
}

type rewindCoreAdapter struct{ core *coreabi.Core }

func (a rewindCoreAdapter) SerializeInto(buf []byte) (int, error) { return a.core.Serialize(buf) }
func (a rewindCoreAdapter) Deserialize(buf []byte) error          { return a.core.Unserialize(buf) }

// LoadGame reads romPath, hands it to the core, and (on acceptance)
// pulls system AV info to configure the scaler, AV bridge, state I/O,
// and rewind engine.
func (h *Host) LoadGame(romPath string, rewindCfg rewind.Config) error {
	data, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("corehost: read rom: %w", err)
	}
	info := &coreabi.GameInfo{Path: romPath, Data: data}
	if !h.core.LoadGame(info) {
		return fmt.Errorf("corehost: core refused %s", romPath)
	}

	h.applyAVInfo(h.core.SystemAVInfo())
	h.State = stateio.New(h.core, h.log)
	if h.notifier != nil {
		h.State.Notifier = h.notifier
	}

	stateSize := h.core.SerializeSize()
	eng, err := rewind.New(stateSize, rewindCfg, rewindCoreAdapter{h.core}, h.log)
	if err != nil {
		return fmt.Errorf("corehost: rewind init: %w", err)
	}
	h.Rewind = eng
	h.State.Rewind = h.Rewind

	return nil
}

func (h *Host) applyAVInfo(info coreabi.SystemAVInfo) {
	h.coreAspect = float64(info.Geometry.AspectRatio)
	h.AV.CoreFPS = info.Timing.FPS
	h.AV.SampleRate = int(info.Timing.SampleRate)
	h.Scaler.Invalidate()
}

// RunFrame executes the per-frame sequence: rewind-or-run, push capture,
// AV-info re-sync. It does not apply the fast-forward ceiling; the caller
// reads it from FastForwardCeiling, enforces it as wall-clock budget, and
// owns the menu-suspend point.
func (h *Host) RunFrame(fastForward bool) {
	if h.Shortcuts.RewindActive() {
		if _, err := h.Rewind.StepBack(); err != nil {
			h.log.Warnf("rewind step failed: %v", err)
		}
	} else {
		if h.Rewind.IsRewinding() {
			h.Rewind.SyncEncodeState()
		}
		runs := 1
		if fastForward {
			runs = h.maxFFSpeed + 1
			if runs < 2 {
				runs = 2
			}
		}

		if runs > 1 {
			h.ffAggregating = true
			h.ffAudioBuf = h.ffAudioBuf[:0]
		}
		for i := 0; i < runs; i++ {
			h.core.Run()
		}
		if runs > 1 {
			h.ffAggregating = false
			averaged := avbridge.AverageFastForwardAudio(h.ffAudioBuf, runs)
			h.AV.AudioSampleBatch(averaged, false, true)
		}

		if err := h.Rewind.Push(false); err != nil {
			h.log.Warnf("rewind push failed: %v", err)
		}
	}

	if h.avInfoChanged {
		h.applyAVInfo(h.core.SystemAVInfo())
		h.avInfoChanged = false
	}
}

// CheatReset clears every cheat previously installed via CheatSet.
func (h *Host) CheatReset() { h.core.CheatReset() }

// CheatSet installs or removes a single libretro cheat code at index.
func (h *Host) CheatSet(index uint32, enabled bool, code string) {
	h.core.CheatSet(index, enabled, code)
}

// FastForwardCeiling reports the current per-frame wall-time budget
// under fast-forward.
func (h *Host) FastForwardCeiling() time.Duration {
	return h.AV.FastForwardFrameCeiling(h.maxFFSpeed)
}

// ShutdownRequested reports whether the core asked to quit via
// RETRO_ENVIRONMENT_SHUTDOWN.
func (h *Host) ShutdownRequested() bool { return h.shutdown }

// Environment implements coreabi.Handler: the opcode switchboard.
func (h *Host) Environment(cmd uint32, data unsafe.Pointer) bool {
	switch cmd {
	case coreabi.EnvSetPixelFormat:
		if data == nil {
			return false
		}
		requested := *(*uint32)(data)
		h.AV.NegotiatePixelFormat(avbridge.PixelFormat(requested))
		return true

	case coreabi.EnvSetVariables:
		h.handleSetVariables(data)
		return true

	case coreabi.EnvGetVariable:
		return h.handleGetVariable(data)

	case coreabi.EnvGetVariableUpdate:
		if data == nil {
			return false
		}
		*(*uint8)(data) = boolToUint8(h.Options.AnyChanged())
		return true

	case coreabi.EnvSetMessage:
		h.handleSetMessage(data)
		return true

	case coreabi.EnvShutdown:
		h.shutdown = true
		return true

	case coreabi.EnvGetSystemDirectory:
		if data == nil {
			return false
		}
		*(**byte)(data) = h.stableCString(h.SystemDirectory)
		return true

	case coreabi.EnvGetSaveDirectory:
		if data == nil {
			return false
		}
		*(**byte)(data) = h.stableCString(h.SaveDirectory)
		return true

	case coreabi.EnvGetCanDupe:
		if data == nil {
			return false
		}
		*(*uint8)(data) = 1
		return true

	case coreabi.EnvSetSupportNoGame, coreabi.EnvSetSupportAchievements:
		return true

	case coreabi.EnvSetSystemAVInfo:
		h.avInfoChanged = true
		return true

	case coreabi.EnvSetGeometry:
		h.Scaler.Invalidate()
		return true

	case coreabi.EnvGetInputDeviceCapabilities:
		if data == nil {
			return false
		}
		*(*uint64)(data) = 1 << coreabi.DeviceJoypad
		return true

	default:
		return false
	}
}

// VideoRefresh implements coreabi.Handler.
func (h *Host) VideoRefresh(data unsafe.Pointer, width, height uint32, pitch uintptr) {
	var pixels []byte
	if data != nil {
		n := int(pitch) * int(height)
		pixels = unsafe.Slice((*byte)(data), n)
	}
	h.AV.VideoRefresh(pixels, int(width), int(height), int(pitch), h.coreAspect, h.scalerPolicy)
}

// AudioSample implements coreabi.Handler. While aggregating fast-forward
// sub-frames, samples are buffered rather than forwarded so RunFrame can
// average them down to one frame's worth after the burst of Run calls.
func (h *Host) AudioSample(left, right int16) {
	if h.ffAggregating {
		h.ffAudioBuf = append(h.ffAudioBuf, left, right)
		return
	}
	h.AV.AudioSample(left, right, h.Rewind != nil && h.Rewind.IsRewinding(), h.Shortcuts.FastForwardActive())
}

// AudioSampleBatch implements coreabi.Handler.
func (h *Host) AudioSampleBatch(data unsafe.Pointer, frames uintptr) uintptr {
	if data == nil || frames == 0 {
		return 0
	}
	samples := unsafe.Slice((*int16)(data), int(frames)*2)
	if h.ffAggregating {
		h.ffAudioBuf = append(h.ffAudioBuf, samples...)
		return frames
	}
	h.AV.AudioSampleBatch(samples, h.Rewind != nil && h.Rewind.IsRewinding(), h.Shortcuts.FastForwardActive())
	return frames
}

// InputPoll implements coreabi.Handler. The platform layer is
// responsible for refreshing the pressed-button snapshot the mapper and
// shortcut controller poll from before the core calls InputState.
func (h *Host) InputPoll() {}

// InputState implements coreabi.Handler. Actual button-to-bit mapping
// happens in Input.Poll ahead of the frame; this returns the bit for id
// out of the last computed mask, supplied by the platform layer via
// SetInputMask.
func (h *Host) InputState(port, device, index, id uint32) int16 {
	if device != coreabi.DeviceJoypad || port != 0 {
		return 0
	}
	if h.inputMask&(1<<id) != 0 {
		return 1
	}
	return 0
}

// SetInputMask stores the current frame's joypad bitmask, computed by
// the platform layer from Input.Poll before the core's next run().
func (h *Host) SetInputMask(mask uint32) { h.inputMask = mask }

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
