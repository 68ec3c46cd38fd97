package allocator

import (
	"github.com/embergrand/ffma/internal/runtime/concurrency"
)

// sliceRegistry maps a region's base address to the sliceState carved from
// it, so Free(ptr) can locate the owning slice (and, through it, the owning
// SCA) given only a data pointer. Backed by the kept lock-free map instead
// of a mutex-guarded map, since lookups happen on every Free call from
// every thread.
type sliceRegistry struct {
	regionSize uintptr
	byBase     *concurrency.LockFreeMap[uintptr, *sliceState]
}

func newSliceRegistry(regionSize uintptr) *sliceRegistry {
	return &sliceRegistry{
		regionSize: regionSize,
		byBase: concurrency.NewLockFreeMap[uintptr, *sliceState](1024, func(k uintptr) uint64 {
			return uint64(k) * 0x9E3779B97F4A7C15 // Fibonacci hashing of an already-aligned address
		}),
	}
}

func (r *sliceRegistry) register(base uintptr, regionSize uintptr, slice *sliceState) {
	r.byBase.Store(base, slice)
}

func (r *sliceRegistry) unregister(base uintptr) {
	r.byBase.Delete(base)
}

// lookup finds the slice owning p, if any.
func (r *sliceRegistry) lookup(p uintptr) (*sliceState, bool) {
	base := p &^ (r.regionSize - 1)
	return r.byBase.Load(base)
}

// resolveOwned finds the slice and slot index for p, verifying that owner
// is indeed the SCA that carved this slice (a cheap sanity check against a
// cross-thread free arriving for the wrong size class).
func (r *sliceRegistry) resolveOwned(p uintptr, owner *sca) (*sliceState, int, bool) {
	slice, ok := r.lookup(p)
	if !ok || slice.header.owner != owner {
		return nil, 0, false
	}
	return slice, slice.indexOfAddr(p), true
}
