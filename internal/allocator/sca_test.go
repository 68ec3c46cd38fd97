package allocator

import "testing"

func newTestSCA(t *testing.T, classSize uintptr) *sca {
	t.Helper()
	cfg := defaultConfig()
	cfg.RegionSize = 256 * 1024
	cfg.SlotInitBatch = 4
	tn := newTuning(cfg)
	rc := newRegionCache(cfg, tn)
	reg := newSliceRegistry(cfg.RegionSize)

	s, err := newSCA(0, classSize, cfg, rc, reg, tn, currentOSThreadID())
	if err != nil {
		t.Fatalf("newSCA: %v", err)
	}
	t.Cleanup(func() {
		s.close()
		rc.close()
	})
	return s
}

func TestSCAAllocateAndLocalFreeReuse(t *testing.T) {
	s := newTestSCA(t, 64)

	p1, err := s.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p1 == 0 {
		t.Fatal("allocate returned a nil data pointer")
	}

	slice, idx, ok := s.registry.resolveOwned(p1, s)
	if !ok {
		t.Fatal("resolveOwned failed for a pointer this sca just allocated")
	}
	s.localFree(slice, idx)

	p2, err := s.allocate()
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if p2 != p1 {
		t.Fatalf("LIFO free list should hand back the just-freed slot: got %#x, want %#x", p2, p1)
	}
}

func TestSCAGrowsAcrossSlicesWhenExhausted(t *testing.T) {
	s := newTestSCA(t, 4096) // large class size so one slice holds relatively few slots

	seen := make(map[uintptr]bool)
	for i := 0; i < 200; i++ {
		p, err := s.allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[p] {
			t.Fatalf("allocate %d returned duplicate address %#x", i, p)
		}
		seen[p] = true
	}
	if len(s.slices) < 2 {
		t.Fatalf("expected growth to carve more than one slice, got %d", len(s.slices))
	}
}

func TestSCACrossThreadFreeDrainsOnNextAllocate(t *testing.T) {
	s := newTestSCA(t, 64)

	p, err := s.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	s.crossThreadFree(p)
	if s.outstanding.Load() != 1 {
		t.Fatalf("outstanding = %d, want 1 right after crossThreadFree", s.outstanding.Load())
	}

	p2, err := s.allocate()
	if err != nil {
		t.Fatalf("allocate after cross-thread free: %v", err)
	}
	if p2 != p {
		t.Fatalf("expected the drained cross-thread free to be reused: got %#x, want %#x", p2, p)
	}
	if s.outstanding.Load() != 0 {
		t.Fatalf("outstanding = %d, want 0 after drain", s.outstanding.Load())
	}
}

func TestSCADoubleFreePanicsWhenDebugEnabled(t *testing.T) {
	s := newTestSCA(t, 64)
	s.tuning.debug.Store(true)

	p, err := s.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	slice, idx, ok := s.registry.resolveOwned(p, s)
	if !ok {
		t.Fatal("resolveOwned failed")
	}
	s.localFree(slice, idx)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic on double free")
		}
	}()
	s.localFree(slice, idx)
}
