package allocator

import (
	"runtime"
	"sync/atomic"

	"github.com/embergrand/ffma/internal/runtime/concurrency"
)

// threadCacheRegistry maps an OS thread id to its ThreadCache, so repeated
// Acquire calls from goroutines pinned to the same OS thread share one
// handle (ref-counted) instead of each minting a fresh set of SCAs.
var threadCacheRegistry = concurrency.NewLockFreeMap[int, *ThreadCache](256, func(k int) uint64 {
	return uint64(k) * 2654435761
})

// ThreadCache is the C5 component: a per-OS-thread handle onto one SCA per
// size class. Go has no thread-local storage, so the handle substitutes
// runtime.LockOSThread (pinning the calling goroutine to one OS thread for
// the handle's lifetime) plus a registry keyed by that thread's id.
type ThreadCache struct {
	tid  int
	refs atomic.Int32
	core *allocatorCore
	scas []*sca
}

// acquireThreadCache pins the calling goroutine to its OS thread (on every
// call) and returns that thread's ThreadCache, creating one if none exists
// yet. Every call must be matched with a Close.
func acquireThreadCache(core *allocatorCore) (*ThreadCache, error) {
	runtime.LockOSThread()
	tid := currentOSThreadID()

	if tc, ok := threadCacheRegistry.Load(tid); ok {
		tc.refs.Add(1)
		return tc, nil
	}

	tc := &ThreadCache{
		tid:  tid,
		core: core,
		scas: make([]*sca, core.sizeClasses.count()),
	}
	tc.refs.Store(1)
	threadCacheRegistry.Store(tid, tc)
	return tc, nil
}

// scaFor returns (creating on first use) the SCA serving classIndex for
// this thread cache.
func (tc *ThreadCache) scaFor(classIndex int) (*sca, error) {
	if existing := tc.scas[classIndex]; existing != nil {
		return existing, nil
	}
	s, err := newSCA(classIndex, tc.core.sizeClasses.size(classIndex), tc.core.cfg, tc.core.regionCache, tc.core.registry, tc.core.tuning, tc.tid)
	if err != nil {
		return nil, err
	}
	tc.scas[classIndex] = s
	return s, nil
}

// Close releases this handle. Every Close unpins one LockOSThread call made
// by the matching Acquire, regardless of refcount; once the last reference
// drops, every SCA the handle created is torn down (subject to the
// cross-thread "last releaser" protocol in sca.go).
func (tc *ThreadCache) Close() {
	defer runtime.UnlockOSThread()
	if tc.refs.Add(-1) > 0 {
		return
	}
	threadCacheRegistry.Delete(tc.tid)
	for _, s := range tc.scas {
		if s != nil {
			s.close()
		}
	}
}
