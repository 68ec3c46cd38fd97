package allocator

import (
	"os"
	"unsafe"
)

const uintptrSize = unsafe.Sizeof(uintptr(0))

var cachedPageSize = os.Getpagesize()

func pageSizeBytes() int {
	return cachedPageSize
}

// bytesToUintptrSlice reinterprets the first n*sizeof(uintptr) bytes of raw
// as a []uintptr, used to treat a raw OS mapping as an array of
// pointer-sized queue node slots without copying.
func bytesToUintptrSlice(raw []byte, n int) []uintptr {
	if len(raw) < n*int(uintptrSize) {
		n = len(raw) / int(uintptrSize)
	}
	return unsafe.Slice((*uintptr)(unsafe.Pointer(&raw[0])), n)
}
