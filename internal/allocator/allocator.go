// Package allocator implements the fixed-size-class memory allocator: a
// NUMA-aware region cache (C1), a lock-free MPMC node queue used for both
// the region free-list and cross-thread slot returns (C2), size-classed
// slices carved from regions (C3), per-thread-per-size-class allocators
// (C4), and the thread-cache handle that ties one OS thread's SCAs
// together (C5).
package allocator

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	ferrors "github.com/embergrand/ffma/internal/errors"
)

// allocatorCore holds the shared, process-wide state every ThreadCache and
// SCA draws from: configuration, the region cache, the slice registry used
// to resolve Free calls back to their owning slice, the size-class table,
// and the oversized-request fallback path.
type allocatorCore struct {
	cfg          *Config
	sizeClasses  *sizeClassTable
	regionCache  *regionCache
	registry     *sliceRegistry
	fallback     *fallbackAllocator
	tuning       *tuning
}

var (
	globalMu sync.Mutex
	global   *allocatorCore
)

// Initialize builds the process-wide allocator from the given options. It
// is not safe to call concurrently with Allocate/Free/Acquire, and is
// normally called once at process startup.
func Initialize(options ...Option) error {
	cfg := defaultConfig()
	for _, opt := range options {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	t := newTuning(cfg)
	core := &allocatorCore{
		cfg:         cfg,
		sizeClasses: newSizeClassTable(cfg.SizeClasses),
		regionCache: newRegionCache(cfg, t),
		registry:    newSliceRegistry(cfg.RegionSize),
		fallback:    newFallbackAllocator(),
		tuning:      t,
	}
	core.tuning.watch(cfg.TuningFile)

	globalMu.Lock()
	if global != nil {
		global.tuning.close()
	}
	global = core
	globalMu.Unlock()

	slog.Info("allocator: initialized",
		"version", Version,
		"region_size", cfg.RegionSize,
		"size_classes", len(cfg.SizeClasses),
		"max_size", core.sizeClasses.maxSize(),
		"numa_cache_cap", cfg.NUMACacheCap,
		"debug", cfg.Debug)
	return nil
}

func currentCore() (*allocatorCore, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil, fmt.Errorf("allocator: not initialized; call Initialize first")
	}
	return global, nil
}

// Acquire returns a ThreadCache bound to the calling goroutine's OS thread.
// Callers that perform many allocations from one long-lived goroutine
// should Acquire once and reuse the handle; Close releases it.
func Acquire() (*ThreadCache, error) {
	core, err := currentCore()
	if err != nil {
		return nil, err
	}
	return acquireThreadCache(core)
}

// Allocate returns size bytes, using the size-class path for requests at or
// below the configured maximum and the system fallback above it. The
// returned memory's contents are unspecified.
func Allocate(size uintptr) (unsafe.Pointer, error) {
	core, err := currentCore()
	if err != nil {
		return nil, err
	}
	return allocateWith(core, size, false)
}

// AllocateZeroed is Allocate, with the returned memory guaranteed zeroed.
func AllocateZeroed(size uintptr) (unsafe.Pointer, error) {
	core, err := currentCore()
	if err != nil {
		return nil, err
	}
	return allocateWith(core, size, true)
}

func allocateWith(core *allocatorCore, size uintptr, zeroed bool) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, nil
	}
	if idx, ok := core.sizeClasses.indexFor(size); ok {
		tc, err := acquireThreadCache(core)
		if err != nil {
			return nil, err
		}
		defer tc.Close()
		p, err := tc.scaAllocate(idx)
		if err != nil {
			return nil, err
		}
		ptr := unsafe.Pointer(p)
		if zeroed {
			zeroMemory(ptr, core.sizeClasses.size(idx))
		}
		return ptr, nil
	}
	return core.fallback.allocate(size, zeroed), nil
}

// Reallocate resizes the allocation at ptr to newSize, preserving the
// lesser of the old and new sizes' worth of content. ptr may be nil (acts
// as Allocate) and newSize may be 0 (acts as Free, returning nil).
func Reallocate(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	core, err := currentCore()
	if err != nil {
		return nil, err
	}
	if ptr == nil {
		return allocateWith(core, newSize, false)
	}
	if newSize == 0 {
		return nil, freeWith(core, ptr)
	}

	oldSize, fromFallback, err := sizeOfOwned(core, ptr)
	if err != nil {
		return nil, err
	}

	// Reallocation within the same size class is a no-op: the class
	// already holds newSize bytes' worth of capacity.
	if !fromFallback {
		if idx, ok := core.sizeClasses.indexFor(newSize); ok && core.sizeClasses.size(idx) == oldSize {
			return ptr, nil
		}
	}

	newPtr, err := allocateWith(core, newSize, false)
	if err != nil {
		return nil, err
	}
	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	copyMemory(newPtr, ptr, copySize)
	if err := freeWith(core, ptr); err != nil {
		return nil, err
	}
	return newPtr, nil
}

// Free releases ptr. Freeing nil is a no-op, matching the null-tolerant
// contract every other free-style API in this package follows. Freeing a
// pointer this allocator does not own (including one whose slice has
// already been retired) returns an error, or panics when Debug is enabled.
func Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	core, err := currentCore()
	if err != nil {
		return err
	}
	return freeWith(core, ptr)
}

func freeWith(core *allocatorCore, ptr unsafe.Pointer) error {
	if core.fallback.owns(ptr) {
		core.fallback.free(ptr)
		return nil
	}

	slice, ok := core.registry.lookup(uintptr(ptr))
	if !ok {
		if core.tuning.debug.Load() {
			panic(ferrors.FatalInvariant(fmt.Sprintf("free of pointer %p not owned by this allocator", ptr)))
		}
		return fmt.Errorf("allocator: free of pointer %p not owned by this allocator", ptr)
	}
	owner := slice.header.owner
	idx := slice.indexOfAddr(uintptr(ptr))

	// Pin to the current OS thread for the ownership check and any
	// resulting single-writer free-list mutation, mirroring the pinning
	// Allocate performs through acquireThreadCache: without it, the
	// scheduler could migrate this goroutine between the tid comparison
	// and localFree, racing with the owner SCA's own thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if currentOSThreadID() == owner.ownerTID {
		owner.localFree(slice, idx)
		return nil
	}
	owner.crossThreadFree(uintptr(ptr))
	return nil
}

func sizeOfOwned(core *allocatorCore, ptr unsafe.Pointer) (size uintptr, fromFallback bool, err error) {
	if s, ok := core.fallback.sizeOf(ptr); ok {
		return s, true, nil
	}
	slice, ok := core.registry.lookup(uintptr(ptr))
	if !ok {
		return 0, false, fmt.Errorf("allocator: reallocate of pointer %p not owned by this allocator", ptr)
	}
	return slice.header.objectSize, false, nil
}

func zeroMemory(p unsafe.Pointer, size uintptr) {
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = 0
	}
}

func copyMemory(dst, src unsafe.Pointer, size uintptr) {
	dstSlice := unsafe.Slice((*byte)(dst), size)
	srcSlice := unsafe.Slice((*byte)(src), size)
	copy(dstSlice, srcSlice)
}

// scaAllocate is the ThreadCache-scoped counterpart of package-level
// Allocate, used once a size class index is already known.
func (tc *ThreadCache) scaAllocate(classIndex int) (uintptr, error) {
	s, err := tc.scaFor(classIndex)
	if err != nil {
		return 0, err
	}
	return s.allocate()
}

// Allocate is the ThreadCache-scoped form of the package-level Allocate,
// for callers that already hold a handle and want to skip the
// acquire/close overhead of the ambient convenience functions.
func (tc *ThreadCache) Allocate(size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, nil
	}
	if idx, ok := tc.core.sizeClasses.indexFor(size); ok {
		p, err := tc.scaAllocate(idx)
		if err != nil {
			return nil, err
		}
		return unsafe.Pointer(p), nil
	}
	return tc.core.fallback.allocate(size, false), nil
}

// Free is the ThreadCache-scoped form of the package-level Free.
func (tc *ThreadCache) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	return freeWith(tc.core, ptr)
}
