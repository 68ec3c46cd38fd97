//go:build linux

package allocator

import (
	"golang.org/x/sys/unix"
)

const hugeTLBFlag = unix.MAP_HUGETLB

// mapFixedNoReplaceFlag is OR'd into the mmap flags for fixed-address
// region placement; the kernel refuses to map over an existing mapping
// instead of silently overwriting it, so a collision surfaces as EEXIST
// rather than corrupting another mapping.
const mapFixedNoReplaceFlag = unix.MAP_FIXED_NOREPLACE
