package allocator

import "testing"

func TestComputeSliceGeometry(t *testing.T) {
	const regionSize = 4 * 1024 * 1024
	pageSize := uintptr(pageSizeBytes())

	for _, objectSize := range []uintptr{16, 64, 256, 4096, 65536} {
		geom := computeSliceGeometry(regionSize, pageSize, objectSize)

		if geom.slotsTotal <= 0 {
			t.Fatalf("objectSize=%d: slotsTotal = %d, want > 0", objectSize, geom.slotsTotal)
		}
		if geom.dataOffset%pageSize != 0 {
			t.Fatalf("objectSize=%d: dataOffset %d not page-aligned", objectSize, geom.dataOffset)
		}

		used := geom.dataOffset + uintptr(geom.slotsTotal)*objectSize
		if used > regionSize {
			t.Fatalf("objectSize=%d: data area overruns region: dataOffset=%d slots=%d size=%d total=%d > region %d",
				objectSize, geom.dataOffset, geom.slotsTotal, objectSize, used, regionSize)
		}
	}
}

func TestSliceStateSlotAddressing(t *testing.T) {
	const regionSize = 4 * 1024 * 1024
	const objectSize = 128
	pageSize := uintptr(pageSizeBytes())

	geom := computeSliceGeometry(regionSize, pageSize, objectSize)
	base := uintptr(0x7f0000000000)
	s := newSliceState(nil, base, objectSize, geom)

	for i := 0; i < 3; i++ {
		addr := s.slotAddr(i)
		if got := s.indexOfAddr(addr); got != i {
			t.Fatalf("indexOfAddr(slotAddr(%d)) = %d, want %d", i, got, i)
		}
	}
}

func TestSliceStateLazyInit(t *testing.T) {
	const regionSize = 4 * 1024 * 1024
	const objectSize = 64
	pageSize := uintptr(pageSizeBytes())

	geom := computeSliceGeometry(regionSize, pageSize, objectSize)
	s := newSliceState(nil, 0x7f1000000000, objectSize, geom)

	if !s.hasUninitializedSlots() {
		t.Fatal("freshly carved slice should have uninitialized slots")
	}

	batch := s.initNextBatch(16)
	if len(batch) != 16 {
		t.Fatalf("initNextBatch(16) returned %d slots, want 16", len(batch))
	}
	for i, slot := range batch {
		if !slot.available {
			t.Fatalf("slot %d not marked available after init", i)
		}
		if slot.dataPtr != s.slotAddr(i) {
			t.Fatalf("slot %d dataPtr = %#x, want %#x", i, slot.dataPtr, s.slotAddr(i))
		}
	}

	remaining := geom.slotsTotal - 16
	drained := 0
	for s.hasUninitializedSlots() {
		drained += len(s.initNextBatch(16))
	}
	if drained != remaining {
		t.Fatalf("drained %d remaining slots, want %d", drained, remaining)
	}
	if s.initNextBatch(16) != nil {
		t.Fatal("initNextBatch on a fully-initialized slice should return nil")
	}
}
