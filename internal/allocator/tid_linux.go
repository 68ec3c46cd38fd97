//go:build linux

package allocator

import "golang.org/x/sys/unix"

func currentOSThreadID() int {
	return unix.Gettid()
}
