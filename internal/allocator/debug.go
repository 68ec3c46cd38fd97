package allocator

import "github.com/embergrand/ffma/internal/runtime/concurrency"

// retainedSCACapacity bounds how many torn-down SCAs' final stats are kept
// around for post-mortem inspection when running in debug mode.
const retainedSCACapacity = 256

// RetainedSCA is a snapshot of one SCA's lifetime counters, captured at
// teardown so a debugging tool can inspect recently-closed thread caches
// without holding the SCAs themselves alive.
type RetainedSCA struct {
	ClassSize      uintptr
	NUMANode       int
	OwnerTID       int
	SlicesCarved   int
	AllocatedTotal uint64
	FreedTotal     uint64
}

var retainedSCAs = concurrency.NewMPMCQueue[RetainedSCA](retainedSCACapacity)

// RetainedSCASnapshots drains and returns every SCA teardown snapshot
// collected so far. It only yields data when the allocator was configured
// with Debug enabled; otherwise no snapshots are ever recorded.
func RetainedSCASnapshots() []RetainedSCA {
	var out []RetainedSCA
	var snap RetainedSCA
	for retainedSCAs.Dequeue(&snap) {
		out = append(out, snap)
	}
	return out
}

// retainSnapshot records s's final state. Called from teardown only when
// s.debugEnabled().
func (s *sca) retainSnapshot() {
	snap := RetainedSCA{
		ClassSize:      s.classSize,
		NUMANode:       s.numaNode,
		OwnerTID:       s.ownerTID,
		SlicesCarved:   len(s.slices),
		AllocatedTotal: s.allocatedTotal.Load(),
		FreedTotal:     s.freedTotal.Load(),
	}
	if !retainedSCAs.Enqueue(snap) {
		// Ring is full: drop the oldest snapshot to make room. A
		// postmortem tool that isn't draining the ring regularly only
		// needs the most recent teardowns anyway.
		var discard RetainedSCA
		retainedSCAs.Dequeue(&discard)
		retainedSCAs.Enqueue(snap)
	}
}
