package allocator

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// fallbackAllocator serves requests above the largest configured size
// class: rather than carving a slice for a size class that would hold one
// object per slice anyway, such requests go straight to Go's own
// allocator, tracked in a map so Free/Reallocate can find the size again.
// Grounded on the teacher's SystemAllocatorImpl, trimmed to just the
// oversized-request path (the size-class path below is FFMA's, not a
// simple wrapper around make([]byte, n)).
type fallbackAllocator struct {
	mu      sync.RWMutex
	blocks  map[unsafe.Pointer][]byte

	totalAllocated atomic.Uint64
	totalFreed     atomic.Uint64
	allocCount     atomic.Uint64
	freeCount      atomic.Uint64
}

func newFallbackAllocator() *fallbackAllocator {
	return &fallbackAllocator{blocks: make(map[unsafe.Pointer][]byte)}
}

func (f *fallbackAllocator) allocate(size uintptr, zeroed bool) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	block := make([]byte, size)
	ptr := unsafe.Pointer(&block[0])

	f.mu.Lock()
	f.blocks[ptr] = block
	f.mu.Unlock()

	f.totalAllocated.Add(uint64(size))
	f.allocCount.Add(1)
	// make([]byte, n) is already zeroed by the Go runtime; zeroed is kept
	// as a parameter only so call sites read the same regardless of path.
	_ = zeroed
	return ptr
}

// owns reports whether ptr was handed out by this allocator, letting the
// top-level Free dispatch between the fallback path and the size-class
// path without needing a separate tag bit on every pointer.
func (f *fallbackAllocator) owns(ptr unsafe.Pointer) bool {
	f.mu.RLock()
	_, ok := f.blocks[ptr]
	f.mu.RUnlock()
	return ok
}

func (f *fallbackAllocator) free(ptr unsafe.Pointer) {
	f.mu.Lock()
	block, ok := f.blocks[ptr]
	if ok {
		delete(f.blocks, ptr)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	f.totalFreed.Add(uint64(len(block)))
	f.freeCount.Add(1)
}

func (f *fallbackAllocator) sizeOf(ptr unsafe.Pointer) (uintptr, bool) {
	f.mu.RLock()
	block, ok := f.blocks[ptr]
	f.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return uintptr(len(block)), true
}

func (f *fallbackAllocator) stats() (allocated, freed uint64, active int) {
	f.mu.RLock()
	active = len(f.blocks)
	f.mu.RUnlock()
	return f.totalAllocated.Load(), f.totalFreed.Load(), active
}
