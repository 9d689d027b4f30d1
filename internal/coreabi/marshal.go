package coreabi

import "unsafe"

// The raw* types mirror the libretro C ABI's struct layout on a typical
// 64-bit target (8-byte pointers, natural alignment). They exist only
// as the wire shape for unsafe.Pointer hand-off across the purego call
// boundary; callers use the decoded Go-native types instead.

type rawSystemInfo struct {
	libraryName     *byte
	libraryVersion  *byte
	validExtensions *byte
	needFullpath    uint8
	blockExtract    uint8
	_               [6]byte
}

type rawGameGeometry struct {
	baseWidth   uint32
	baseHeight  uint32
	maxWidth    uint32
	maxHeight   uint32
	aspectRatio float32
}

type rawSystemTiming struct {
	fps        float64
	sampleRate float64
}

type rawSystemAVInfo struct {
	geometry rawGameGeometry
	_        [4]byte
	timing   rawSystemTiming
}

type rawGameInfo struct {
	path *byte
	data unsafe.Pointer
	size uintptr
	meta *byte
}

// cString returns a NUL-terminated byte pointer backing s. The returned
// pointer keeps the backing array alive for as long as it is itself
// reachable, which holds for the lifetime of the marshaled struct that
// stores it.
func cString(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

func goString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for {
		c := *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(n)))
		if c == 0 {
			break
		}
		n++
	}
	return unsafe.String(p, n)
}

func decodeSystemInfo(raw *rawSystemInfo) SystemInfo {
	return SystemInfo{
		LibraryName:     goString(raw.libraryName),
		LibraryVersion:  goString(raw.libraryVersion),
		ValidExtensions: goString(raw.validExtensions),
		NeedFullpath:    raw.needFullpath != 0,
		BlockExtract:    raw.blockExtract != 0,
	}
}

func decodeSystemAVInfo(raw *rawSystemAVInfo) SystemAVInfo {
	return SystemAVInfo{
		Geometry: GameGeometry{
			BaseWidth:   raw.geometry.baseWidth,
			BaseHeight:  raw.geometry.baseHeight,
			MaxWidth:    raw.geometry.maxWidth,
			MaxHeight:   raw.geometry.maxHeight,
			AspectRatio: raw.geometry.aspectRatio,
		},
		Timing: SystemTiming{
			FPS:        raw.timing.fps,
			SampleRate: raw.timing.sampleRate,
		},
	}
}

func marshalGameInfo(g *GameInfo) rawGameInfo {
	var raw rawGameInfo
	if g.Path != "" {
		raw.path = cString(g.Path)
	}
	if len(g.Data) > 0 {
		raw.data = unsafe.Pointer(&g.Data[0])
		raw.size = uintptr(len(g.Data))
	}
	if g.Meta != "" {
		raw.meta = cString(g.Meta)
	}
	return raw
}
