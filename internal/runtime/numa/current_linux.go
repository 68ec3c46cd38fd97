//go:build linux

package numa

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// CurrentNode returns the NUMA node the calling OS thread is currently
// scheduled on, via the getcpu(2) syscall. Callers that need a stable
// answer across the lifetime of a thread cache should call this once after
// LockOSThread.
func CurrentNode() int {
	var cpu, node uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return 0
	}
	return ClampNode(int(node))
}
