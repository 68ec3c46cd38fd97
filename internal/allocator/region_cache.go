package allocator

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"

	ferrors "github.com/embergrand/ffma/internal/errors"
	"github.com/embergrand/ffma/internal/runtime/numa"
)

// candidateRetryWarnEvery and candidateRetryFatalAt bound the fixed-address
// placement retry loop in §4.2: a collision is expected occasionally under
// concurrent growth, but a long run of them signals address-space pressure
// worth surfacing, and a very long run is treated as fatal rather than
// spinning forever.
const (
	candidateRetryWarnEvery = 20
	candidateRetryFatalAt   = 100
)

// regionCache is the C1 component: a per-NUMA-node cache of free,
// region-size-aligned virtual memory regions, backed by an mpmcQueue per
// node plus a shared candidate-address cursor used to synthesize a fresh
// region when the requested node's cache is empty.
type regionCache struct {
	regionSize uintptr
	hugePages  bool
	tuning     *tuning

	nodes     []*mpmcQueue
	candidate atomic.Uint64 // next fixed-address guess to try
}

func newRegionCache(cfg *Config, t *tuning) *regionCache {
	n := numa.NodeCount()
	nodes := make([]*mpmcQueue, n)
	for i := range nodes {
		q, err := newMPMCQueue()
		if err != nil {
			// A queue's first page is a single ordinary-size mmap; failure
			// here means the process is out of address space entirely.
			panic(fmt.Sprintf("allocator: region cache init failed on node %d: %v", i, err))
		}
		nodes[i] = q
	}

	rc := &regionCache{
		regionSize: cfg.RegionSize,
		hugePages:  cfg.UseHugePages,
		tuning:     t,
		nodes:      nodes,
	}
	rc.candidate.Store(uint64(randomAlignedBase(cfg.RegionSize)))
	return rc
}

// randomAlignedBase picks a starting guess for fixed-address placement,
// aligned to regionSize, somewhere in the low 2^46 bytes of the address
// space; it does not pick from the upper half of the userspace range.
// Randomizing the start reduces
// contention between concurrent processes (or repeated runs) guessing the
// same addresses.
func randomAlignedBase(regionSize uintptr) uintptr {
	const addressSpaceBits = 46 // stays well clear of the kernel half on amd64/arm64
	raw := uintptr(rand.Uint64() & ((uint64(1) << addressSpaceBits) - 1))
	return raw &^ (regionSize - 1)
}

func (rc *regionCache) nextCandidate() uintptr {
	addr := uintptr(rc.candidate.Add(uint64(rc.regionSize)))
	return addr &^ (rc.regionSize - 1)
}

// acquire returns a region base address for the given NUMA node: a cached
// free region if one exists, otherwise a freshly synthesized mapping.
func (rc *regionCache) acquire(node int) (uintptr, error) {
	node = numa.ClampNode(node)
	if base := rc.nodes[node].pop(); base != 0 {
		return base, nil
	}
	return rc.synthesize()
}

func (rc *regionCache) synthesize() (uintptr, error) {
	attempts := 0
	for {
		addr := rc.nextCandidate()
		base, ok, err := mmapFixed(addr, int(rc.regionSize), rc.hugePages)
		if err != nil {
			return 0, fmt.Errorf("allocator: region synthesis failed: %w", err)
		}
		if ok {
			return base, nil
		}

		attempts++
		if attempts%candidateRetryWarnEvery == 0 {
			slog.Warn("allocator: region cache retrying fixed-address placement",
				"attempts", attempts, "last_candidate", fmt.Sprintf("%#x", addr))
		}
		if attempts >= candidateRetryFatalAt {
			panic(ferrors.FatalInvariant(fmt.Sprintf("region cache failed to place a region after %d attempts", attempts)))
		}
	}
}

// release returns a region to the node's cache, unless the node is already
// at its cap, in which case the region is unmapped immediately.
func (rc *regionCache) release(node int, base uintptr) {
	node = numa.ClampNode(node)
	q := rc.nodes[node]
	cacheCap := int(rc.tuning.numaCacheCap.Load())

	if int(q.length()) >= cacheCap {
		if err := munmapRegion(base, int(rc.regionSize)); err != nil {
			slog.Error("allocator: failed to unmap overflow region", "error", err, "base", fmt.Sprintf("%#x", base))
		}
		return
	}
	if err := q.push(base); err != nil {
		// Queue growth failed (OOM on the node-page mmap); fall back to
		// unmapping the region outright rather than losing track of it.
		slog.Error("allocator: region cache push failed, unmapping instead", "error", err)
		_ = munmapRegion(base, int(rc.regionSize))
	}
}

// close drains and unmaps every cached region across every node. Callers
// must guarantee no concurrent acquire/release is in flight.
func (rc *regionCache) close() {
	for _, q := range rc.nodes {
		for {
			base := q.pop()
			if base == 0 {
				break
			}
			_ = munmapRegion(base, int(rc.regionSize))
		}
		q.free()
	}
}
