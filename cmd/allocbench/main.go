// Command allocbench drives configurable allocate/free workloads against
// the allocator and reports throughput, optionally under CPU or memory
// profiling.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/embergrand/ffma/internal/allocator"
	"github.com/embergrand/ffma/internal/cli"
)

func main() {
	var (
		showVersion  = flag.Bool("version", false, "show version information")
		showHelp     = flag.Bool("help", false, "show help information")
		jsonOutput   = flag.Bool("json", false, "output version in JSON format")
		workers      = flag.Int("workers", runtime.GOMAXPROCS(0), "number of concurrent allocating goroutines")
		iterations   = flag.Int("iterations", 100000, "allocate/free pairs per worker")
		minSize      = flag.Uint("min-size", 16, "minimum allocation size in bytes")
		maxSize      = flag.Uint("max-size", 4096, "maximum allocation size in bytes")
		regionSize   = flag.Uint64("region-size", 8*1024*1024, "allocator region size in bytes")
		numaCacheCap = flag.Int("numa-cache-cap", 16, "free regions retained per NUMA node")
		hugePages    = flag.Bool("huge-pages", false, "back regions with huge pages")
		debugMode    = flag.Bool("debug", false, "enable allocator debug bookkeeping")
		cpuProfile   = flag.String("cpuprofile", "", "write a CPU profile to this file")
		memProfile   = flag.String("memprofile", "", "write a heap profile to this file")
		verbose      = flag.Bool("verbose", false, "verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Allocator throughput benchmark.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s --workers 16 --iterations 200000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --cpuprofile cpu.prof --workers 4\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("allocbench", *jsonOutput)
		os.Exit(0)
	}

	logger := cli.NewLogger(*verbose, *debugMode)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			cli.ExitWithError("create cpu profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			cli.ExitWithError("start cpu profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	b := &benchmark{
		workers:      *workers,
		iterations:   *iterations,
		minSize:      uintptr(*minSize),
		maxSize:      uintptr(*maxSize),
		regionSize:   uintptr(*regionSize),
		numaCacheCap: *numaCacheCap,
		hugePages:    *hugePages,
		debug:        *debugMode,
		logger:       logger,
	}

	result, err := b.run()
	if err != nil {
		cli.ExitWithError("benchmark failed: %v", err)
	}
	result.report()

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			cli.ExitWithError("create mem profile: %v", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			cli.ExitWithError("write mem profile: %v", err)
		}
	}
}

type benchmark struct {
	workers      int
	iterations   int
	minSize      uintptr
	maxSize      uintptr
	regionSize   uintptr
	numaCacheCap int
	hugePages    bool
	debug        bool
	logger       *cli.Logger
}

type benchmarkResult struct {
	workers  int
	totalOps int
	elapsed  time.Duration
	stats    allocator.AllocatorStats
}

func (b *benchmark) run() (*benchmarkResult, error) {
	if b.minSize == 0 || b.maxSize < b.minSize {
		return nil, fmt.Errorf("invalid size range [%d, %d]", b.minSize, b.maxSize)
	}

	b.logger.Info("initializing allocator: region=%d workers=%d iterations=%d", b.regionSize, b.workers, b.iterations)
	if err := allocator.Initialize(
		allocator.WithRegionSize(b.regionSize),
		allocator.WithNUMACacheCap(b.numaCacheCap),
		allocator.WithHugePages(b.hugePages),
		allocator.WithDebug(b.debug),
	); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	span := b.maxSize - b.minSize + 1
	var wg sync.WaitGroup
	errs := make(chan error, b.workers)

	start := time.Now()
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			tc, err := allocator.Acquire()
			if err != nil {
				errs <- fmt.Errorf("worker %d: acquire: %w", id, err)
				return
			}
			defer tc.Close()

			for i := 0; i < b.iterations; i++ {
				size := b.minSize + uintptr(i)%span
				ptr, err := tc.Allocate(size)
				if err != nil {
					errs <- fmt.Errorf("worker %d: allocate: %w", id, err)
					return
				}
				if err := tc.Free(ptr); err != nil {
					errs <- fmt.Errorf("worker %d: free: %w", id, err)
					return
				}
			}
			b.logger.Debug("worker %d finished %d iterations", id, b.iterations)
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return nil, err
	}
	elapsed := time.Since(start)

	stats, err := allocator.Stats()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	return &benchmarkResult{
		workers:  b.workers,
		totalOps: b.workers * b.iterations,
		elapsed:  elapsed,
		stats:    stats,
	}, nil
}

func (r *benchmarkResult) report() {
	fmt.Printf("workers:        %d\n", r.workers)
	fmt.Printf("total ops:      %d (allocate+free pairs)\n", r.totalOps)
	fmt.Printf("elapsed:        %v\n", r.elapsed)
	fmt.Printf("throughput:     %.0f ops/sec\n", float64(r.totalOps)/r.elapsed.Seconds())
	fmt.Printf("avg latency:    %v/op\n", r.elapsed/time.Duration(r.totalOps))
	fmt.Printf("bytes in use:   %d\n", r.stats.BytesInUse)
	fmt.Printf("fallback count: %d active\n", r.stats.FallbackActive)
}
