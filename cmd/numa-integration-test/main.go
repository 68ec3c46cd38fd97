// Command numa-integration-test exercises NUMA topology discovery and the
// allocator's allocate/free paths end to end, against real sysfs and mmap
// rather than a simulated environment. Workers are not bound to particular
// NUMA nodes.
package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/embergrand/ffma/internal/allocator"
	"github.com/embergrand/ffma/internal/runtime/numa"
)

func main() {
	fmt.Println("=== NUMA topology + allocator integration test ===")

	fmt.Println("\n1. Discovering NUMA topology...")
	nodeCount := numa.NodeCount()
	current := numa.CurrentNode()
	fmt.Printf("✓ node count: %d, current node: %d\n", nodeCount, current)
	if clamped := numa.ClampNode(nodeCount + 5); clamped < 0 || clamped >= nodeCount {
		panic(fmt.Sprintf("ClampNode produced out-of-range node %d for count %d", clamped, nodeCount))
	}
	fmt.Println("✓ ClampNode folds out-of-range hints back into range")

	fmt.Println("\n2. Initializing allocator...")
	if err := allocator.Initialize(
		allocator.WithRegionSize(4*1024*1024),
		allocator.WithNUMACacheCap(8),
	); err != nil {
		panic(fmt.Sprintf("Initialize failed: %v", err))
	}
	fmt.Println("✓ allocator initialized")

	fmt.Println("\n3. Single-thread allocate/free sweep...")
	start := time.Now()
	const sweepCount = 2000
	for i := 0; i < sweepCount; i++ {
		size := uintptr(16 + (i%64)*32)
		ptr, err := allocator.Allocate(size)
		if err != nil {
			panic(fmt.Sprintf("allocation %d failed: %v", i, err))
		}
		if err := allocator.Free(ptr); err != nil {
			panic(fmt.Sprintf("free %d failed: %v", i, err))
		}
	}
	sweepTime := time.Since(start)
	fmt.Printf("✓ %d allocate/free pairs in %v (avg %v/op)\n", sweepCount, sweepTime, sweepTime/sweepCount)

	fmt.Println("\n4. Concurrent allocation across goroutines, two per NUMA node (at least four)...")
	const perWorker = 500
	workers := nodeCount * 2
	if workers < 4 {
		workers = 4
	}
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start = time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			tc, err := allocator.Acquire()
			if err != nil {
				errs <- fmt.Errorf("worker %d: acquire: %w", id, err)
				return
			}
			defer tc.Close()
			for i := 0; i < perWorker; i++ {
				ptr, err := tc.Allocate(uintptr(64 + (i%8)*64))
				if err != nil {
					errs <- fmt.Errorf("worker %d: allocate %d: %w", id, i, err)
					return
				}
				if err := tc.Free(ptr); err != nil {
					errs <- fmt.Errorf("worker %d: free %d: %w", id, i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		panic(err.Error())
	}
	concurrentTime := time.Since(start)
	totalOps := workers * perWorker
	fmt.Printf("✓ %d concurrent allocate/free pairs across %d workers in %v (avg %v/op)\n",
		totalOps, workers, concurrentTime, concurrentTime/time.Duration(totalOps))

	fmt.Println("\n5. Collecting stats...")
	stats, err := allocator.Stats()
	if err != nil {
		panic(fmt.Sprintf("Stats failed: %v", err))
	}
	fmt.Printf("✓ total allocated: %d bytes, total freed: %d bytes, in use: %d bytes\n",
		stats.TotalAllocated, stats.TotalFreed, stats.BytesInUse)
	for _, c := range stats.PerClass {
		if c.Allocated == 0 && c.Freed == 0 {
			continue
		}
		fmt.Printf("  class %6d: allocated=%d freed=%d\n", c.Size, c.Allocated, c.Freed)
	}

	fmt.Println("\n=== NUMA + allocator integration test passed ===")
}
