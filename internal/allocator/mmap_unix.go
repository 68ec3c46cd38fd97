package allocator

import (
	"golang.org/x/sys/unix"
)

// mmapAnon maps size bytes of anonymous, zero-filled memory anywhere the
// kernel chooses. Used for MPMC queue node pages, which must not be
// allocated through the allocator they support (see queue.go) — mmap is a
// syscall straight to the kernel, never routed back through the SCAs.
func mmapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// munmapBytes unmaps memory previously obtained from mmapAnon.
func munmapBytes(b []byte) error {
	return unix.Munmap(b)
}
