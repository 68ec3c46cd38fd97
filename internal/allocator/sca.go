package allocator

import (
	"fmt"
	"sync"
	"sync/atomic"

	ferrors "github.com/embergrand/ffma/internal/errors"
	"github.com/embergrand/ffma/internal/runtime/numa"
)

// sca is the C4 component: a single thread's per-size-class allocator. It
// owns a chain of slices carved from regions it pulls from the shared
// regionCache, a single-writer free-slot list (safe without locking because
// only the owning OS thread ever calls Allocate/localFree), and a
// cross-thread return queue that other threads use to hand back slots they
// free on this SCA's behalf.
type sca struct {
	classIndex int
	classSize  uintptr
	numaNode   int
	ownerTID   int

	cache      *regionCache
	registry   *sliceRegistry
	tuning     *tuning
	regionSize uintptr
	pageSize   uintptr

	slices     []*sliceState
	freeHead   *slotMetadata
	freeTail   *slotMetadata

	returnQueue *mpmcQueue
	outstanding atomic.Int64
	// inUse is the number of objects currently handed out by this SCA and
	// not yet freed, summed across every slice it owns. Unlike outstanding
	// (pending cross-thread returns not yet drained), this is what actually
	// gates teardown: a cache can have zero outstanding returns and still
	// be holding live objects a caller hasn't freed yet.
	inUse        atomic.Int64
	closing      atomic.Bool
	teardownOnce sync.Once

	allocatedTotal atomic.Uint64
	freedTotal     atomic.Uint64
}

func newSCA(classIndex int, classSize uintptr, cfg *Config, cache *regionCache, registry *sliceRegistry, t *tuning, ownerTID int) (*sca, error) {
	q, err := newMPMCQueue()
	if err != nil {
		return nil, fmt.Errorf("allocator: sca init for class %d failed: %w", classSize, err)
	}
	return &sca{
		classIndex:  classIndex,
		classSize:   classSize,
		numaNode:    numa.CurrentNode(),
		ownerTID:    ownerTID,
		cache:       cache,
		registry:    registry,
		tuning:      t,
		regionSize:  cfg.RegionSize,
		pageSize:    uintptr(pageSizeBytes()),
		returnQueue: q,
	}, nil
}

func (s *sca) slotBatch() int {
	return int(s.tuning.slotInitBatch.Load())
}

func (s *sca) debugEnabled() bool {
	return s.tuning.debug.Load()
}

// allocate returns a data pointer for one object of classSize, growing the
// SCA (draining cross-thread returns, lazily initializing more slots,
// carving a fresh slice, or pulling a fresh region) as each source runs dry.
func (s *sca) allocate() (uintptr, error) {
	s.drainReturns()

	if slot := s.popFree(); slot != nil {
		return s.claim(slot), nil
	}

	if tail := s.tailSlice(); tail != nil && tail.hasUninitializedSlots() {
		s.refillFromSlice(tail)
		if slot := s.popFree(); slot != nil {
			return s.claim(slot), nil
		}
	}

	if err := s.grow(); err != nil {
		return 0, err
	}
	s.refillFromSlice(s.tailSlice())
	if slot := s.popFree(); slot != nil {
		return s.claim(slot), nil
	}
	return 0, fmt.Errorf("allocator: sca class %d failed to produce a slot after growth", s.classSize)
}

func (s *sca) tailSlice() *sliceState {
	if len(s.slices) == 0 {
		return nil
	}
	return s.slices[len(s.slices)-1]
}

// grow carves a new slice out of a fresh region from the shared region
// cache and appends it as the new tail slice.
func (s *sca) grow() error {
	base, err := s.cache.acquire(s.numaNode)
	if err != nil {
		return err
	}
	geom := computeSliceGeometry(s.regionSize, s.pageSize, s.classSize)
	if geom.slotsTotal <= 0 {
		return ferrors.OutOfMemory(s.classSize, fmt.Sprintf("region size %d too small to carve even one slot", s.regionSize))
	}
	slice := newSliceState(s, base, s.classSize, geom)
	s.slices = append(s.slices, slice)
	s.registry.register(base, s.regionSize, slice)
	return nil
}

// refillFromSlice lazily initializes the next batch of slots in slice and
// pushes them onto the free list, per §4.4's lazy-initialization step.
func (s *sca) refillFromSlice(slice *sliceState) {
	if slice == nil {
		return
	}
	for _, slot := range slice.initNextBatch(s.slotBatch()) {
		s.pushFree(slot)
	}
}

// pushFree adds slot to the head of the free list (LIFO reuse keeps the hot
// end of the list warm in cache).
func (s *sca) pushFree(slot *slotMetadata) {
	slot.available = true
	slot.freePrev = nil
	slot.freeNext = s.freeHead
	if s.freeHead != nil {
		s.freeHead.freePrev = slot
	}
	s.freeHead = slot
	if s.freeTail == nil {
		s.freeTail = slot
	}
}

// popFree removes and returns the head of the free list, or nil if empty.
func (s *sca) popFree() *slotMetadata {
	slot := s.freeHead
	if slot == nil {
		return nil
	}
	s.freeHead = slot.freeNext
	if s.freeHead != nil {
		s.freeHead.freePrev = nil
	} else {
		s.freeTail = nil
	}
	slot.freeNext = nil
	return slot
}

func (s *sca) claim(slot *slotMetadata) uintptr {
	slot.available = false
	if s.debugEnabled() {
		slot.allocCount++
	}
	s.allocatedTotal.Add(uint64(s.classSize))
	slot.owner.header.slotsInUse++
	s.inUse.Add(1)
	return slot.dataPtr
}

// localFree is called by the owning OS thread to free a slot directly. If
// this was the slice's last in-use slot, the slice is retired: detached
// from s.slices, unregistered, and its region pushed back to the region
// cache (§4.4's active -> empty -> returned_to_region_cache transition).
func (s *sca) localFree(slice *sliceState, idx int) {
	slot := &slice.slots[idx]
	if s.debugEnabled() {
		if slot.available {
			panic(ferrors.FatalInvariant(fmt.Sprintf("double free detected at slot %d of slice %#x", idx, slice.header.regionBase)))
		}
		slot.freeCount++
	}
	s.freedTotal.Add(uint64(s.classSize))
	s.inUse.Add(-1)
	slice.header.slotsInUse--
	slot.available = true

	if slice.header.slotsInUse == 0 {
		s.retireSlice(slice)
	} else {
		s.pushFree(slot)
	}

	if s.closing.Load() {
		s.tryFinalize()
	}
}

// unlinkFree removes slot from the free list if it is currently linked
// into it, leaving non-member slots untouched. Safe to call unconditionally.
func (s *sca) unlinkFree(slot *slotMetadata) {
	if slot.freePrev != nil {
		slot.freePrev.freeNext = slot.freeNext
	} else if s.freeHead == slot {
		s.freeHead = slot.freeNext
	}
	if slot.freeNext != nil {
		slot.freeNext.freePrev = slot.freePrev
	} else if s.freeTail == slot {
		s.freeTail = slot.freePrev
	}
	slot.freePrev = nil
	slot.freeNext = nil
}

// retireSlice removes every one of slice's slots from the SCA-wide free
// list (they were pushed there by earlier localFree calls on this same
// slice, before its slots_in_use reached zero), detaches slice from
// s.slices, unregisters it, and returns its region to the region cache.
func (s *sca) retireSlice(slice *sliceState) {
	for i := 0; i < int(slice.header.slotsInitialized); i++ {
		s.unlinkFree(&slice.slots[i])
	}
	for i, candidate := range s.slices {
		if candidate == slice {
			s.slices = append(s.slices[:i], s.slices[i+1:]...)
			break
		}
	}
	s.registry.unregister(slice.header.regionBase)
	s.cache.release(s.numaNode, slice.header.regionBase)
}

// crossThreadFree is called by a thread other than the SCA's owner; the
// slot address is handed to the owner via returnQueue instead of touching
// the single-writer free list directly.
func (s *sca) crossThreadFree(dataPtr uintptr) {
	s.outstanding.Add(1)
	if err := s.returnQueue.push(dataPtr); err != nil {
		panic(ferrors.FatalInvariant(fmt.Sprintf("cross-thread free queue push failed: %v", err)))
	}
	if s.closing.Load() {
		s.tryFinalize()
	}
}

// drainReturns folds every pending cross-thread free into the local free
// list. Only the owning thread calls this.
func (s *sca) drainReturns() {
	for {
		v := s.returnQueue.pop()
		if v == 0 {
			return
		}
		slice, idx, ok := s.registry.resolveOwned(v, s)
		if !ok {
			panic(ferrors.FatalInvariant(fmt.Sprintf("cross-thread free for unrecognized pointer %#x", v)))
		}
		s.localFree(slice, idx)
		s.outstanding.Add(-1)
	}
}

// close is invoked when the owning thread cache tears this SCA down. It
// only marks the SCA as closing; teardown itself is deferred until both
// outstanding (pending cross-thread returns) and inUse (objects the caller
// hasn't freed yet) reach zero, matching §4.4 Release: "if objects_in_use
// is still nonzero, do nothing." Whichever caller — this one, a later
// crossThreadFree, or a later localFree — observes both counters at zero
// performs the teardown ("last releaser").
func (s *sca) close() {
	s.closing.Store(true)
	s.drainReturns()
	s.tryFinalize()
}

func (s *sca) tryFinalize() {
	if !s.closing.Load() {
		return
	}
	s.drainReturns()
	if s.outstanding.Load() != 0 || s.inUse.Load() != 0 {
		return
	}
	s.teardownOnce.Do(s.teardown)
}

// teardown releases whatever slices are still attached to this SCA. In the
// common case retireSlice has already detached and released every slice by
// the time this runs (each one emptied via localFree), leaving nothing to
// do here beyond freeing the return queue.
func (s *sca) teardown() {
	if s.debugEnabled() {
		s.retainSnapshot()
	}
	for _, slice := range s.slices {
		s.registry.unregister(slice.header.regionBase)
		s.cache.release(s.numaNode, slice.header.regionBase)
	}
	s.slices = nil
	s.returnQueue.free()
}
