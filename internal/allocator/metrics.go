package allocator

// AllocatorStats summarizes activity across the thread caches registered
// at the time of the call and the oversized-request fallback path. Counters
// of thread caches already closed (including the short-lived ones the
// package-level Allocate uses) are not included.
type AllocatorStats struct {
	TotalAllocated    uint64
	TotalFreed        uint64
	BytesInUse        uint64
	FallbackAllocated uint64
	FallbackFreed     uint64
	FallbackActive    int
	PerClass          []ClassStats
}

// ClassStats summarizes one size class across every SCA currently serving
// it (one per OS thread that has allocated from that class).
type ClassStats struct {
	Size      uintptr
	Allocated uint64
	Freed     uint64
}

// Stats snapshots AllocatorStats for the process-wide allocator. Every
// counter is read via atomics from whatever thread calls Stats, but the
// snapshot as a whole is not a single atomic point in time.
func Stats() (AllocatorStats, error) {
	core, err := currentCore()
	if err != nil {
		return AllocatorStats{}, err
	}

	perClass := make([]ClassStats, core.sizeClasses.count())
	for i := 0; i < core.sizeClasses.count(); i++ {
		perClass[i].Size = core.sizeClasses.size(i)
	}

	var totalAlloc, totalFree uint64
	threadCacheRegistry.Range(func(_ int, tc *ThreadCache) bool {
		for i, s := range tc.scas {
			if s == nil {
				continue
			}
			a := s.allocatedTotal.Load()
			f := s.freedTotal.Load()
			perClass[i].Allocated += a
			perClass[i].Freed += f
			totalAlloc += a
			totalFree += f
		}
		return true
	})

	fallbackAlloc, fallbackFree, fallbackActive := core.fallback.stats()

	return AllocatorStats{
		TotalAllocated:    totalAlloc + fallbackAlloc,
		TotalFreed:        totalFree + fallbackFree,
		BytesInUse:        (totalAlloc + fallbackAlloc) - (totalFree + fallbackFree),
		FallbackAllocated: fallbackAlloc,
		FallbackFreed:     fallbackFree,
		FallbackActive:    fallbackActive,
		PerClass:          perClass,
	}, nil
}
