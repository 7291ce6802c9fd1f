package platform

import (
	"fmt"
	"unsafe"

	"github.com/andewx/vkframe"
	vk "github.com/vulkan-go/vulkan"
)

// safeString null-terminates s for the C side.
func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

// sliceUint32 reinterprets SPIR-V bytes as words without copying.
func sliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func orPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// checkErr turns a panic raised by orPanic into an error return.
func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = fmt.Errorf("%+v", v)
	}
}

func newError(op string, ret vk.Result) error {
	return vkframe.NewError(op, ret)
}

// checkExisting keeps the wanted names that are present in actual (both null-terminated)
// and counts the missing ones.
func checkExisting(actual, wanted []string) (existing []string, missing int) {
	have := make(map[string]struct{}, len(actual))
	for _, name := range actual {
		have[safeString(name)] = struct{}{}
	}
	for _, name := range wanted {
		if _, ok := have[safeString(name)]; ok {
			existing = append(existing, safeString(name))
		} else {
			missing++
		}
	}
	return existing, missing
}
