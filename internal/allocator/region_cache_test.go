package allocator

import (
	"testing"

	"github.com/embergrand/ffma/internal/runtime/numa"
)

func newTestRegionCache(t *testing.T, cacheCap int) *regionCache {
	t.Helper()
	cfg := defaultConfig()
	cfg.RegionSize = 2 * 1024 * 1024
	cfg.NUMACacheCap = cacheCap
	tn := newTuning(cfg)
	rc := newRegionCache(cfg, tn)
	t.Cleanup(rc.close)
	return rc
}

func TestRegionCacheAcquireReleaseRoundTrip(t *testing.T) {
	rc := newTestRegionCache(t, 4)

	base, err := rc.acquire(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if base == 0 {
		t.Fatal("acquire returned a nil base address")
	}
	if base%rc.regionSize != 0 {
		t.Fatalf("region base %#x is not aligned to region size %d", base, rc.regionSize)
	}

	rc.release(0, base)

	again, err := rc.acquire(0)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if again != base {
		t.Fatalf("acquire after release = %#x, want cached region %#x", again, base)
	}
}

func TestRegionCacheDistinctRegionsDoNotOverlap(t *testing.T) {
	rc := newTestRegionCache(t, 4)

	a, err := rc.acquire(0)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := rc.acquire(0)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if a == b {
		t.Fatal("two live acquires returned the same base address")
	}

	rc.release(0, a)
	rc.release(0, b)
}

func TestRegionCacheCapEviction(t *testing.T) {
	rc := newTestRegionCache(t, 1)

	a, err := rc.acquire(0)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := rc.acquire(0)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	rc.release(0, a) // fills the one-region cache
	rc.release(0, b) // over cap: unmapped immediately, not cached

	if got := rc.nodes[numa.ClampNode(0)].length(); got != 1 {
		t.Fatalf("node queue length = %d, want 1 (cap)", got)
	}
}
