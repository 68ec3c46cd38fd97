package allocator

import "testing"

func newTestCore(t *testing.T) *allocatorCore {
	t.Helper()
	cfg := defaultConfig()
	cfg.RegionSize = 512 * 1024
	cfg.SlotInitBatch = 4
	tn := newTuning(cfg)
	core := &allocatorCore{
		cfg:         cfg,
		sizeClasses: newSizeClassTable(cfg.SizeClasses),
		regionCache: newRegionCache(cfg, tn),
		registry:    newSliceRegistry(cfg.RegionSize),
		fallback:    newFallbackAllocator(),
		tuning:      tn,
	}
	t.Cleanup(core.regionCache.close)
	return core
}

func TestThreadCacheRepeatedAcquireSharesHandle(t *testing.T) {
	core := newTestCore(t)

	tc1, err := acquireThreadCache(core)
	if err != nil {
		t.Fatalf("acquireThreadCache: %v", err)
	}
	defer tc1.Close()

	tc2, err := acquireThreadCache(core)
	if err != nil {
		t.Fatalf("acquireThreadCache (second): %v", err)
	}
	defer tc2.Close()

	if tc1 != tc2 {
		t.Fatal("repeated Acquire from the same OS thread should return the same handle")
	}
}

func TestThreadCacheAllocateAcrossClasses(t *testing.T) {
	core := newTestCore(t)

	tc, err := acquireThreadCache(core)
	if err != nil {
		t.Fatalf("acquireThreadCache: %v", err)
	}
	defer tc.Close()

	for _, size := range []uintptr{16, 128, 4096} {
		ptr, err := tc.Allocate(size)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", size, err)
		}
		if ptr == nil {
			t.Fatalf("Allocate(%d) returned nil", size)
		}
		if err := tc.Free(ptr); err != nil {
			t.Fatalf("Free(%d): %v", size, err)
		}
	}
}

func TestThreadCacheCloseTeardownReleasesRegions(t *testing.T) {
	core := newTestCore(t)

	tc, err := acquireThreadCache(core)
	if err != nil {
		t.Fatalf("acquireThreadCache: %v", err)
	}
	ptr, err := tc.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := tc.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}

	tc.Close()

	if _, ok := threadCacheRegistry.Load(tc.tid); ok {
		t.Fatal("thread cache should be removed from the registry after Close")
	}

	var cached uint32
	for _, q := range core.regionCache.nodes {
		cached += q.length()
	}
	if cached != 1 {
		t.Fatalf("region cache holds %d regions after Close, want 1 (the released slice's region)", cached)
	}
}
