//go:build !linux

package allocator

import "sync/atomic"

var syntheticTID atomic.Int64

// currentOSThreadID has no portable equivalent outside Linux without cgo.
// Each call returns a fresh synthetic id, which disables thread-cache reuse
// across repeated Acquire calls from the same OS thread on these platforms
// but otherwise preserves correctness: every handle still gets a distinct
// owner identity.
func currentOSThreadID() int {
	return int(syntheticTID.Add(1))
}
