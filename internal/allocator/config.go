package allocator

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// Version is this package's own build version. It exists so a server can
// pin a compatibility constraint (Config.RequiredVersion) and refuse to
// start against an allocator build it wasn't tested with.
const Version = "1.4.0"

// Config configures an Allocator instance. Zero value is not usable;
// construct with defaultConfig() and functional options.
type Config struct {
	// RegionSize is R: the size and alignment of every region acquired from
	// the OS. Must be a power of two >= 4*PageSize.
	RegionSize uintptr

	// NUMACacheCap is K: the maximum number of free regions retained per
	// NUMA node before the region cache starts unmapping instead of
	// recycling.
	NUMACacheCap int

	// UseHugePages selects huge-page-backed anonymous mappings for regions
	// instead of ordinary anonymous mappings.
	UseHugePages bool

	// SizeClasses is the power-of-two size-class sequence; the last
	// element is the maximum size this allocator will serve directly.
	SizeClasses []uintptr

	// SlotInitBatch is the number of slots lazily initialized per tranche
	// when an SCA grows into a freshly carved slice.
	SlotInitBatch int

	// Debug enables per-slot alloc/free counters, double-free and
	// foreign-pointer panics, and retained-SCA post-mortem metrics. Slot
	// metadata has the same size with or without it.
	Debug bool

	// RequiredVersion, if non-empty, is a semver constraint (e.g. ">= 1.0.0,
	// < 2.0.0") that Version must satisfy for Initialize to proceed.
	RequiredVersion string

	// TuningFile, if non-empty, is a path to a JSON file from which
	// SlotInitBatch, Debug, and NUMACacheCap are loaded and hot-reloaded.
	// See tuning.go.
	TuningFile string
}

// Option mutates a Config during construction.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		RegionSize:    8 * 1024 * 1024, // 8 MiB, matches a conservative huge-page multiple
		NUMACacheCap:  16,
		UseHugePages:  false,
		SizeClasses:   append([]uintptr(nil), DefaultSizeClasses...),
		SlotInitBatch: 16,
		Debug:         false,
	}
}

// WithRegionSize overrides R. Must be a power of two >= 4 * os page size;
// validated by Initialize.
func WithRegionSize(size uintptr) Option {
	return func(c *Config) { c.RegionSize = size }
}

// WithNUMACacheCap overrides K, the per-NUMA-node free-region cap.
func WithNUMACacheCap(cap int) Option {
	return func(c *Config) { c.NUMACacheCap = cap }
}

// WithHugePages toggles huge-page-backed region mappings.
func WithHugePages(enabled bool) Option {
	return func(c *Config) { c.UseHugePages = enabled }
}

// WithSizeClasses overrides the power-of-two size-class set.
func WithSizeClasses(classes []uintptr) Option {
	return func(c *Config) { c.SizeClasses = append([]uintptr(nil), classes...) }
}

// WithSlotInitBatch overrides the lazy slot-initialization batch size.
func WithSlotInitBatch(n int) Option {
	return func(c *Config) { c.SlotInitBatch = n }
}

// WithDebug enables debug-mode bookkeeping: per-slot counters, double-free
// and foreign-pointer panics, retained-SCA post-mortem metrics.
func WithDebug(enabled bool) Option {
	return func(c *Config) { c.Debug = enabled }
}

// WithRequiredVersion gates Initialize on a semver constraint against
// Version, so a server can refuse to link against an incompatible build.
func WithRequiredVersion(constraint string) Option {
	return func(c *Config) { c.RequiredVersion = constraint }
}

// WithTuningFile enables hot-reloadable tuning from a JSON file; see
// tuning.go for the reloadable field set.
func WithTuningFile(path string) Option {
	return func(c *Config) { c.TuningFile = path }
}

func (c *Config) validate() error {
	if c.RegionSize == 0 || c.RegionSize&(c.RegionSize-1) != 0 {
		return fmt.Errorf("allocator: region size %d is not a power of two", c.RegionSize)
	}
	pageSize := uintptr(os.Getpagesize())
	if c.RegionSize < 4*pageSize {
		return fmt.Errorf("allocator: region size %d smaller than 4 pages (%d)", c.RegionSize, 4*pageSize)
	}
	if c.NUMACacheCap < 0 {
		return fmt.Errorf("allocator: NUMA cache cap %d must be >= 0", c.NUMACacheCap)
	}
	if len(c.SizeClasses) == 0 {
		return fmt.Errorf("allocator: size-class set is empty")
	}
	if c.SlotInitBatch <= 0 {
		return fmt.Errorf("allocator: slot init batch %d must be > 0", c.SlotInitBatch)
	}
	if c.RequiredVersion != "" {
		constraint, err := semver.NewConstraint(c.RequiredVersion)
		if err != nil {
			return fmt.Errorf("allocator: invalid required-version constraint %q: %w", c.RequiredVersion, err)
		}
		v, err := semver.NewVersion(Version)
		if err != nil {
			return fmt.Errorf("allocator: invalid internal version %q: %w", Version, err)
		}
		if !constraint.Check(v) {
			return fmt.Errorf("allocator: build version %s does not satisfy required constraint %q", Version, c.RequiredVersion)
		}
	}
	return nil
}
