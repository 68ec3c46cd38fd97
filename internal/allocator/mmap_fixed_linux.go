//go:build linux

package allocator

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapFixed attempts to map size bytes of anonymous memory at the exact
// address addr, optionally huge-page-backed. It fails rather than silently
// overwriting an existing mapping at that address (MAP_FIXED_NOREPLACE).
// ok is false when the address is already in use and the caller should
// retry elsewhere; err is non-nil only for failures unrelated to address
// contention.
func mmapFixed(addr uintptr, size int, hugePages bool) (base uintptr, ok bool, err error) {
	flags := unix.MAP_ANON | unix.MAP_PRIVATE | unix.MAP_FIXED | mapFixedNoReplaceFlag
	if hugePages {
		flags |= hugeTLBFlag
	}

	ret, errno := rawMmap(addr, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if errno != nil {
		if errno == unix.EEXIST || errno == unix.EINVAL || errno == unix.ENOMEM {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("allocator: mmap at %#x failed: %w", addr, errno)
	}
	return ret, true, nil
}

// munmapRegion unmaps a previously mapped region.
func munmapRegion(addr uintptr, size int) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(size), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// rawMmap calls mmap(2) directly so a fixed virtual address can be
// requested; golang.org/x/sys/unix.Mmap does not expose the address
// parameter since it always lets the kernel choose.
func rawMmap(addr uintptr, length int, prot, flags int) (uintptr, error) {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(length),
		uintptr(prot),
		uintptr(flags),
		^uintptr(0), // fd = -1
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

// bytesAt reinterprets length bytes starting at addr as a []byte. The
// caller is responsible for ensuring addr remains mapped (or is about to be
// probed, never dereferenced) for the lifetime of the returned slice.
func bytesAt(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
