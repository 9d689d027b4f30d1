package corehost

import (
	"strings"
	"unsafe"

	"github.com/minarch-dev/minarch/internal/options"
)

// rawVariable mirrors retro_variable: a key/value C string pair, used
// both for RETRO_ENVIRONMENT_SET_VARIABLES (key+description, values
// folded into the option registry) and RETRO_ENVIRONMENT_GET_VARIABLE
// (key in, value out).
type rawVariable struct {
	key   *byte
	value *byte
}

// rawMessage mirrors retro_message: a display string plus a frame count.
type rawMessage struct {
	msg    *byte
	frames uint32
}

func cStringLocal(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

func goStringLocal(p *byte) string {
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

// stableCString returns the same backing pointer for repeated calls
// with the same string, since the environment callback contract
// requires directory queries to hand back a stable pointer.
func (h *Host) stableCString(s string) *byte {
	if p, ok := h.stableStrings[s]; ok {
		return p
	}
	p := cStringLocal(s)
	h.stableStrings[s] = p
	return p
}

// handleSetVariables walks a NUL-terminated array of retro_variable and
// registers each as a legacy option definition. The description carries
// both the human-readable text and the "|"-joined value list after the
// last "; " separator, the same layout the legacy libretro ABI has
// always used.
func (h *Host) handleSetVariables(data unsafe.Pointer) {
	if data == nil {
		return
	}
	var defs []options.V1Def
	base := (*rawVariable)(data)
	for i := 0; ; i++ {
		v := (*rawVariable)(unsafe.Pointer(uintptr(unsafe.Pointer(base)) + uintptr(i)*unsafe.Sizeof(rawVariable{})))
		if v.key == nil {
			break
		}
		key := goStringLocal(v.key)
		desc := goStringLocal(v.value)

		sep := strings.LastIndex(desc, "; ")
		description := desc
		var values []string
		if sep >= 0 {
			description = desc[:sep]
			values = strings.Split(desc[sep+2:], "|")
		}
		defs = append(defs, options.V1Def{Key: key, Description: description, Values: values})
	}
	h.Options.InitFromV1(defs)
}

// handleGetVariable answers RETRO_ENVIRONMENT_GET_VARIABLE by looking up
// the requested key's current value and writing a stable C string
// pointer into the out-parameter.
func (h *Host) handleGetVariable(data unsafe.Pointer) bool {
	if data == nil {
		return false
	}
	v := (*rawVariable)(data)
	key := goStringLocal(v.key)
	value, ok := h.Options.Get(key)
	if !ok {
		return false
	}
	v.value = h.stableCString(value)
	return true
}

// handleSetMessage forwards a core-originated notification string to
// the platform notifier, ignoring the frame-count hint (the platform
// layer owns its own display duration policy).
func (h *Host) handleSetMessage(data unsafe.Pointer) {
	if data == nil || h.notifier == nil {
		return
	}
	m := (*rawMessage)(data)
	h.notifier.Notify(goStringLocal(m.msg))
}
