package allocator

import "unsafe"

// sliceHeader mirrors the original's 64 B cache-line-aligned slice header,
// sized the same way in spirit: owning-SCA back-pointer, region/data base
// addresses, and the three slot-count totals. Unlike the original, this
// struct lives on the Go heap rather than embedded in the mmap'd region
// itself — storing a live *sca pointer inside memory the garbage collector
// cannot scan would leave it dangling the moment the SCA were otherwise
// collected, which is unsound in Go even though it is fine in C. The
// region's byte range that the geometry formulas reserve for "header +
// slot-metadata array" is still computed and still excluded from the data
// area; it is simply left unused padding instead of literally holding this
// struct's fields.
type sliceHeader struct {
	owner            *sca
	regionBase       uintptr
	dataBase         uintptr
	objectSize       uintptr
	slotsTotal       int32
	slotsInitialized int32
	slotsInUse       int32
	_                [20]byte // pad toward a 64B cache line, matching §3's header size intent
}

// slotMetadata mirrors the original's per-slot record: a data pointer, an
// availability flag, and intrusive free-list pointers "overlapping" the
// data pointer field (§9). Go has no unions, so the overlap is expressed as
// "the same conceptual slot carries different live fields depending on
// available" rather than literal field aliasing: a struct with a
// discriminating flag, exactly as §9 says is acceptable.
//
// Because slotMetadata also needs to participate in a cross-slice,
// process-wide doubly-linked free list (the SCA's free_list spans every
// slice it owns), freePrev/freeNext are plain pointers to other
// slotMetadata records rather than in-slice indices — legal and stable
// because a slice's slot array is allocated once, at its final size, and
// never grows.
type slotMetadata struct {
	dataPtr   uintptr
	available bool
	freePrev  *slotMetadata
	freeNext  *slotMetadata

	// owner is the slice this slot was carved from. The SCA's free list is
	// shared across every slice it owns, so a slot popped off that list
	// carries no other way to find which slice (and therefore which
	// slots_in_use counter) it belongs to.
	owner *sliceState

	// Debug-mode bookkeeping. Always present for layout simplicity; only
	// consulted when the allocator is running with Debug enabled. The
	// record therefore has one layout (48 B on 64-bit platforms) in both
	// modes; there is no separate 32B release or 64B debug record.
	allocCount uint32
	freeCount  uint32
}

var (
	sliceHeaderSize   = unsafe.Sizeof(sliceHeader{})
	slotMetadataSize  = unsafe.Sizeof(slotMetadata{})
	uintptrAlignCheck = unsafe.Alignof(uintptr(0))
)

// sliceGeometry is the §4.3 computation, reproduced exactly: given region
// size R, OS page size P, and object size s, derive how many slots fit and
// where the data area begins.
type sliceGeometry struct {
	slotsTotal int
	dataOffset uintptr
}

func computeSliceGeometry(regionSize uintptr, pageSize uintptr, objectSize uintptr) sliceGeometry {
	usable := regionSize - pageSize - sliceHeaderSize
	rawSlots := usable / (objectSize + slotMetadataSize)
	dataOffset := roundUp(sliceHeaderSize+rawSlots*slotMetadataSize, pageSize)
	slotsTotal := (usable - dataOffset + sliceHeaderSize) / objectSize
	return sliceGeometry{
		slotsTotal: int(slotsTotal),
		dataOffset: dataOffset,
	}
}

func roundUp(n, multiple uintptr) uintptr {
	if multiple == 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}

// sliceState is the live, in-process representation of a slice: a region
// claimed by one SCA, carved per computeSliceGeometry, with its slot
// metadata array pre-sized once so element addresses stay stable for the
// slice's lifetime.
type sliceState struct {
	header sliceHeader
	slots  []slotMetadata

	listPrev *sliceState // never set: the owning SCA keeps its slices in sca.slices
	listNext *sliceState
}

func newSliceState(owner *sca, regionBase uintptr, objectSize uintptr, geom sliceGeometry) *sliceState {
	s := &sliceState{
		slots: make([]slotMetadata, geom.slotsTotal),
	}
	s.header = sliceHeader{
		owner:      owner,
		regionBase: regionBase,
		dataBase:   regionBase + geom.dataOffset,
		objectSize: objectSize,
		slotsTotal: int32(geom.slotsTotal),
	}
	return s
}

// slotAddr returns the data address of slot i, per "slot i addr = data_addr
// + i·s" in §4.3.
func (s *sliceState) slotAddr(i int) uintptr {
	return s.header.dataBase + uintptr(i)*s.header.objectSize
}

// indexOfAddr returns the slot index for a data pointer known to fall
// inside this slice's data area.
func (s *sliceState) indexOfAddr(p uintptr) int {
	return int((p - s.header.dataBase) / s.header.objectSize)
}

// initNextBatch lazily initializes up to n more slots (writing each data
// pointer and marking it available), per §4.4 step 2. It returns the
// newly initialized slots, which may be fewer than n once slotsTotal is
// reached, and nil when none are left.
func (s *sliceState) initNextBatch(n int) []*slotMetadata {
	start := int(s.header.slotsInitialized)
	end := start + n
	if end > int(s.header.slotsTotal) {
		end = int(s.header.slotsTotal)
	}
	if end <= start {
		return nil
	}

	newlyReady := make([]*slotMetadata, 0, end-start)
	for i := start; i < end; i++ {
		slot := &s.slots[i]
		slot.dataPtr = s.slotAddr(i)
		slot.available = true
		slot.owner = s
		newlyReady = append(newlyReady, slot)
	}
	s.header.slotsInitialized = int32(end)
	return newlyReady
}

func (s *sliceState) hasUninitializedSlots() bool {
	return s.header.slotsInitialized < s.header.slotsTotal
}
