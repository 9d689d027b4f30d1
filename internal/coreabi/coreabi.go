// Package coreabi dynamically loads a libretro core (an opaque shared
// library) via purego and exposes its C ABI as a set of Go functions and
// a callback Handler interface, without cgo.
package coreabi

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Environment command opcodes, per the libretro core API's
// retro_environment_t. The frontend switchboard (corehost) dispatches
// only a subset of the opcodes named here; any opcode it does not handle
// is answered with false.
const (
	EnvSetRotation                   = 1
	EnvGetOverscan                   = 2
	EnvGetCanDupe                    = 3
	EnvSetMessage                    = 6
	EnvShutdown                      = 7
	EnvSetPerformanceLevel           = 8
	EnvGetSystemDirectory            = 9
	EnvSetPixelFormat                = 10
	EnvSetInputDescriptors           = 11
	EnvSetKeyboardCallback           = 12
	EnvSetDiskControlInterface       = 13
	EnvSetHWRender                   = 14
	EnvGetVariable                   = 15
	EnvSetVariables                  = 16
	EnvGetVariableUpdate             = 17
	EnvSetSupportNoGame              = 18
	EnvGetLibretroPath               = 19
	EnvSetFrameTimeCallback          = 21
	EnvSetAudioCallback              = 22
	EnvGetRumbleInterface            = 23
	EnvGetInputDeviceCapabilities    = 24
	EnvGetLogInterface               = 27
	EnvGetPerfInterface              = 28
	EnvGetSaveDirectory              = 31
	EnvSetSystemAVInfo               = 32
	EnvSetSubsystemInfo              = 34
	EnvSetControllerInfo             = 35
	EnvSetMemoryMaps                 = 36
	EnvSetGeometry                   = 37
	EnvGetUsername                   = 38
	EnvGetLanguage                   = 39
	EnvSetSupportAchievements        = 42
	EnvSetSerializationQuirks        = 44
	EnvGetAudioVideoEnable           = 47
	EnvGetFastForwarding             = 48
	EnvGetTargetRefreshRate          = 49
	EnvGetCoreOptionsVersion         = 52
	EnvSetCoreOptions                = 53
	EnvSetCoreOptionsIntl            = 54
	EnvSetCoreOptionsDisplay         = 55
	EnvSetCoreOptionsV2              = 67
	EnvSetCoreOptionsV2Intl          = 68
)

// Device types for retro_set_controller_port_device.
const (
	DeviceNone     = 0
	DeviceJoypad   = 1
	DeviceMouse    = 2
	DeviceKeyboard = 3
	DeviceLightgun = 4
	DeviceAnalog   = 5
	DevicePointer  = 6
)

// Joypad button IDs for RETRO_DEVICE_JOYPAD input state queries.
const (
	DeviceIDJoypadB      = 0
	DeviceIDJoypadY      = 1
	DeviceIDJoypadSelect = 2
	DeviceIDJoypadStart  = 3
	DeviceIDJoypadUp     = 4
	DeviceIDJoypadDown   = 5
	DeviceIDJoypadLeft   = 6
	DeviceIDJoypadRight  = 7
	DeviceIDJoypadA      = 8
	DeviceIDJoypadX      = 9
	DeviceIDJoypadL      = 10
	DeviceIDJoypadR      = 11
	DeviceIDJoypadL2     = 12
	DeviceIDJoypadR2     = 13
	DeviceIDJoypadL3     = 14
	DeviceIDJoypadR3     = 15
)

// Pixel formats a core may request via EnvSetPixelFormat.
const (
	PixelFormat0RGB1555 = 0
	PixelFormatXRGB8888 = 1
	PixelFormatRGB565   = 2
)

// Memory region IDs for retro_get_memory_data/retro_get_memory_size.
const (
	MemorySaveRAM   = 0
	MemoryRTC       = 1
	MemorySystemRAM = 2
	MemoryVideoRAM  = 3
)

// SystemInfo mirrors retro_system_info, decoded from C strings into Go
// strings at the call boundary.
type SystemInfo struct {
	LibraryName     string
	LibraryVersion  string
	ValidExtensions string
	NeedFullpath    bool
	BlockExtract    bool
}

// GameGeometry mirrors retro_game_geometry.
type GameGeometry struct {
	BaseWidth   uint32
	BaseHeight  uint32
	MaxWidth    uint32
	MaxHeight   uint32
	AspectRatio float32
}

// SystemTiming mirrors retro_system_timing.
type SystemTiming struct {
	FPS        float64
	SampleRate float64
}

// SystemAVInfo mirrors retro_system_av_info.
type SystemAVInfo struct {
	Geometry GameGeometry
	Timing   SystemTiming
}

// GameInfo mirrors retro_game_info; the frontend owns Data's lifetime
// for the duration of retro_load_game.
type GameInfo struct {
	Path string
	Data []byte
	Meta string
}

// Handler receives the core's callbacks. corehost implements this to
// dispatch environment opcodes to the options/avbridge/input/stateio
// collaborators.
type Handler interface {
	Environment(cmd uint32, data unsafe.Pointer) bool
	VideoRefresh(data unsafe.Pointer, width, height uint32, pitch uintptr)
	AudioSample(left, right int16)
	AudioSampleBatch(data unsafe.Pointer, frames uintptr) uintptr
	InputPoll()
	InputState(port, device, index, id uint32) int16
}

// Core is one dynamically loaded libretro shared library.
type Core struct {
	handle uintptr
	path   string

	retroInit                     func()
	retroDeinit                   func()
	retroAPIVersion                func() uint32
	retroGetSystemInfo             func(info unsafe.Pointer)
	retroGetSystemAVInfo           func(info unsafe.Pointer)
	retroSetEnvironment            func(cb uintptr)
	retroSetVideoRefresh           func(cb uintptr)
	retroSetAudioSample            func(cb uintptr)
	retroSetAudioSampleBatch       func(cb uintptr)
	retroSetInputPoll              func(cb uintptr)
	retroSetInputState             func(cb uintptr)
	retroSetControllerPortDevice   func(port uint32, device uint32)
	retroReset                     func()
	retroRun                       func()
	retroSerializeSize             func() uintptr
	retroSerialize                 func(data unsafe.Pointer, size uintptr) bool
	retroUnserialize               func(data unsafe.Pointer, size uintptr) bool
	retroLoadGame                  func(game unsafe.Pointer) bool
	retroLoadGameSpecial           func(gameType uint32, info unsafe.Pointer, numInfo uintptr) bool
	retroUnloadGame                func()
	retroGetRegion                 func() uint32
	retroGetMemoryData             func(id uint32) unsafe.Pointer
	retroGetMemorySize             func(id uint32) uintptr
	retroCheatReset                func()
	retroCheatSet                  func(index uint32, enabled bool, code unsafe.Pointer)

	handler Handler

	envCallback         uintptr
	videoRefreshCallback uintptr
	audioSampleCallback  uintptr
	audioBatchCallback   uintptr
	inputPollCallback    uintptr
	inputStateCallback   uintptr
}

// Load dlopens path and resolves every required retro_* symbol. It does
// not call retro_init; callers drive the lifecycle explicitly.
func Load(path string) (*Core, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("coreabi: dlopen %s: %w", path, err)
	}

	c := &Core{handle: handle, path: path}

	purego.RegisterLibFunc(&c.retroInit, handle, "retro_init")
	purego.RegisterLibFunc(&c.retroDeinit, handle, "retro_deinit")
	purego.RegisterLibFunc(&c.retroAPIVersion, handle, "retro_api_version")
	purego.RegisterLibFunc(&c.retroGetSystemInfo, handle, "retro_get_system_info")
	purego.RegisterLibFunc(&c.retroGetSystemAVInfo, handle, "retro_get_system_av_info")
	purego.RegisterLibFunc(&c.retroSetEnvironment, handle, "retro_set_environment")
	purego.RegisterLibFunc(&c.retroSetVideoRefresh, handle, "retro_set_video_refresh")
	purego.RegisterLibFunc(&c.retroSetAudioSample, handle, "retro_set_audio_sample")
	purego.RegisterLibFunc(&c.retroSetAudioSampleBatch, handle, "retro_set_audio_sample_batch")
	purego.RegisterLibFunc(&c.retroSetInputPoll, handle, "retro_set_input_poll")
	purego.RegisterLibFunc(&c.retroSetInputState, handle, "retro_set_input_state")
	purego.RegisterLibFunc(&c.retroSetControllerPortDevice, handle, "retro_set_controller_port_device")
	purego.RegisterLibFunc(&c.retroReset, handle, "retro_reset")
	purego.RegisterLibFunc(&c.retroRun, handle, "retro_run")
	purego.RegisterLibFunc(&c.retroSerializeSize, handle, "retro_serialize_size")
	purego.RegisterLibFunc(&c.retroSerialize, handle, "retro_serialize")
	purego.RegisterLibFunc(&c.retroUnserialize, handle, "retro_unserialize")
	purego.RegisterLibFunc(&c.retroLoadGame, handle, "retro_load_game")
	purego.RegisterLibFunc(&c.retroLoadGameSpecial, handle, "retro_load_game_special")
	purego.RegisterLibFunc(&c.retroUnloadGame, handle, "retro_unload_game")
	purego.RegisterLibFunc(&c.retroGetRegion, handle, "retro_get_region")
	purego.RegisterLibFunc(&c.retroGetMemoryData, handle, "retro_get_memory_data")
	purego.RegisterLibFunc(&c.retroGetMemorySize, handle, "retro_get_memory_size")
	purego.RegisterLibFunc(&c.retroCheatReset, handle, "retro_cheat_reset")
	purego.RegisterLibFunc(&c.retroCheatSet, handle, "retro_cheat_set")

	return c, nil
}

// Path returns the filesystem path this core was loaded from.
func (c *Core) Path() string { return c.path }

// SetHandler wires a Handler's methods as C-callable trampolines and
// registers them with the core via retro_set_environment and friends.
// Must be called before Init.
func (c *Core) SetHandler(h Handler) {
	c.handler = h

	c.envCallback = purego.NewCallback(func(cmd uint32, data unsafe.Pointer) uintptr {
		if c.handler.Environment(cmd, data) {
			return 1
		}
		return 0
	})
	c.videoRefreshCallback = purego.NewCallback(func(data unsafe.Pointer, width, height uint32, pitch uintptr) uintptr {
		c.handler.VideoRefresh(data, width, height, pitch)
		return 0
	})
	c.audioSampleCallback = purego.NewCallback(func(left, right int16) uintptr {
		c.handler.AudioSample(left, right)
		return 0
	})
	c.audioBatchCallback = purego.NewCallback(func(data unsafe.Pointer, frames uintptr) uintptr {
		return c.handler.AudioSampleBatch(data, frames)
	})
	c.inputPollCallback = purego.NewCallback(func() uintptr {
		c.handler.InputPoll()
		return 0
	})
	c.inputStateCallback = purego.NewCallback(func(port, device, index, id uint32) uintptr {
		return uintptr(uint16(c.handler.InputState(port, device, index, id)))
	})

	c.retroSetEnvironment(c.envCallback)
	c.retroSetVideoRefresh(c.videoRefreshCallback)
	c.retroSetAudioSample(c.audioSampleCallback)
	c.retroSetAudioSampleBatch(c.audioBatchCallback)
	c.retroSetInputPoll(c.inputPollCallback)
	c.retroSetInputState(c.inputStateCallback)
}

// APIVersion returns the core's reported libretro API version.
func (c *Core) APIVersion() uint32 { return c.retroAPIVersion() }

// Init calls retro_init. SetHandler must be called first so the core's
// environment queries during init reach the handler.
func (c *Core) Init() { c.retroInit() }

// Deinit calls retro_deinit.
func (c *Core) Deinit() { c.retroDeinit() }

// LoadGame calls retro_load_game with the given game data, returning
// whether the core accepted it.
func (c *Core) LoadGame(game *GameInfo) bool {
	raw := marshalGameInfo(game)
	return c.retroLoadGame(unsafe.Pointer(&raw))
}

// LoadGameSpecial calls retro_load_game_special, used for subsystem
// content (e.g. Super Game Boy, multi-cart) that takes more than one
// retro_game_info entry under a single gameType.
func (c *Core) LoadGameSpecial(gameType uint32, infos []*GameInfo) bool {
	if len(infos) == 0 {
		return c.retroLoadGameSpecial(gameType, nil, 0)
	}
	raw := make([]rawGameInfo, len(infos))
	for i, info := range infos {
		raw[i] = marshalGameInfo(info)
	}
	return c.retroLoadGameSpecial(gameType, unsafe.Pointer(&raw[0]), uintptr(len(raw)))
}

// UnloadGame calls retro_unload_game.
func (c *Core) UnloadGame() { c.retroUnloadGame() }

// Run advances the core by one frame.
func (c *Core) Run() { c.retroRun() }

// Reset calls retro_reset.
func (c *Core) Reset() { c.retroReset() }

// SetControllerPortDevice selects the input device type for one port.
func (c *Core) SetControllerPortDevice(port uint32, device uint32) {
	c.retroSetControllerPortDevice(port, device)
}

// SystemInfo calls retro_get_system_info and decodes the result.
func (c *Core) SystemInfo() SystemInfo {
	var raw rawSystemInfo
	c.retroGetSystemInfo(unsafe.Pointer(&raw))
	return decodeSystemInfo(&raw)
}

// SystemAVInfo calls retro_get_system_av_info and decodes the result.
func (c *Core) SystemAVInfo() SystemAVInfo {
	var raw rawSystemAVInfo
	c.retroGetSystemAVInfo(unsafe.Pointer(&raw))
	return decodeSystemAVInfo(&raw)
}

// Region calls retro_get_region.
func (c *Core) Region() uint32 { return c.retroGetRegion() }

// SerializeSize returns the core-reported save-state buffer size.
func (c *Core) SerializeSize() int { return int(c.retroSerializeSize()) }

// Serialize writes the core's state into buf, sized to SerializeSize.
func (c *Core) Serialize(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	ok := c.retroSerialize(unsafe.Pointer(&buf[0]), uintptr(len(buf)))
	if !ok {
		return 0, fmt.Errorf("coreabi: retro_serialize failed")
	}
	return len(buf), nil
}

// Unserialize restores the core's state from buf.
func (c *Core) Unserialize(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("coreabi: empty state buffer")
	}
	if !c.retroUnserialize(unsafe.Pointer(&buf[0]), uintptr(len(buf))) {
		return fmt.Errorf("coreabi: retro_unserialize rejected state")
	}
	return nil
}

// MemoryData returns a pointer to the core's memory region id, or nil if
// the core exposes none.
func (c *Core) MemoryData(id uint32) unsafe.Pointer { return c.retroGetMemoryData(id) }

// MemorySize returns the byte size of memory region id.
func (c *Core) MemorySize(id uint32) int { return int(c.retroGetMemorySize(id)) }

// CheatReset calls retro_cheat_reset, clearing every cheat previously
// set via CheatSet.
func (c *Core) CheatReset() { c.retroCheatReset() }

// CheatSet calls retro_cheat_set, installing or removing a single cheat
// at index with the given libretro cheat code string.
func (c *Core) CheatSet(index uint32, enabled bool, code string) {
	cstr := cString(code)
	c.retroCheatSet(index, enabled, unsafe.Pointer(cstr))
}
