package pagecache

import (
	"fmt"
	"math"
	"time"

	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
)

const (
	DefaultPageSize         = 8192
	MinFilePageSize         = 8
	DefaultUtilizationRatio = 0.96
	DefaultParkInterval     = 10 * time.Millisecond
	DefaultLiveLockSweeps   = 100

	minCachePages = 2
	// maxCachePages is bounded by the free list, which stores index+1 in 32 bits.
	maxCachePages = 1<<32 - 1
)

// Config holds the page cache settings.
type Config struct {
	// MaxPages is the number of slots in the cache.
	MaxPages int `yaml:"max_pages"`
	// PageSize is the slot buffer size. Must be a power of two.
	PageSize int `yaml:"page_size"`
	// UtilizationRatio is the loaded fraction above which the sweeper evicts.
	UtilizationRatio float64 `yaml:"utilization_ratio"`
	// MaxUsageCount caps the per-slot CLOCK counter.
	MaxUsageCount int `yaml:"max_usage_count"`
	// EvictorParkInterval bounds how long the sweeper sleeps between checks.
	EvictorParkInterval time.Duration `yaml:"evictor_park_interval"`
	// EnableEvictionThread runs the background sweeper. When false, faulting
	// goroutines evict for themselves.
	EnableEvictionThread bool `yaml:"enable_eviction_thread"`
	// CooperativeEvictionLiveLockSweeps is how many full revolutions a
	// cooperative evictor makes before giving up.
	CooperativeEvictionLiveLockSweeps int `yaml:"cooperative_eviction_live_lock_sweeps"`
	// FlushBytesPerSecond throttles explicit flushes. Zero disables throttling.
	FlushBytesPerSecond int64 `yaml:"flush_bytes_per_second"`
}

// DefaultConfig returns a 1000 page cache of 8 KiB pages.
func DefaultConfig() Config {
	return Config{
		MaxPages:                          1000,
		PageSize:                          DefaultPageSize,
		UtilizationRatio:                  DefaultUtilizationRatio,
		MaxUsageCount:                     int(pagemanager.DefaultMaxUsage),
		EvictorParkInterval:               DefaultParkInterval,
		EnableEvictionThread:              true,
		CooperativeEvictionLiveLockSweeps: DefaultLiveLockSweeps,
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.MaxPages < minCachePages:
		return fmt.Errorf("%w: max_pages must be at least %d, got %d", flushmanager.ErrInvalidConfig, minCachePages, c.MaxPages)
	case int64(c.MaxPages) > maxCachePages:
		return fmt.Errorf("%w: max_pages must be at most %d, got %d", flushmanager.ErrInvalidConfig, int64(maxCachePages), c.MaxPages)
	case c.PageSize < MinFilePageSize || c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("%w: page_size must be a power of two >= %d, got %d", flushmanager.ErrInvalidConfig, MinFilePageSize, c.PageSize)
	case c.UtilizationRatio < 0 || c.UtilizationRatio > 1 || math.IsNaN(c.UtilizationRatio):
		return fmt.Errorf("%w: utilization_ratio must be within [0, 1], got %v", flushmanager.ErrInvalidConfig, c.UtilizationRatio)
	case c.MaxUsageCount < 1:
		return fmt.Errorf("%w: max_usage_count must be positive, got %d", flushmanager.ErrInvalidConfig, c.MaxUsageCount)
	case c.EvictorParkInterval <= 0:
		return fmt.Errorf("%w: evictor_park_interval must be positive, got %v", flushmanager.ErrInvalidConfig, c.EvictorParkInterval)
	case c.CooperativeEvictionLiveLockSweeps < 1:
		return fmt.Errorf("%w: cooperative_eviction_live_lock_sweeps must be positive, got %d", flushmanager.ErrInvalidConfig, c.CooperativeEvictionLiveLockSweeps)
	case c.FlushBytesPerSecond < 0:
		return fmt.Errorf("%w: flush_bytes_per_second must not be negative", flushmanager.ErrInvalidConfig)
	}
	return nil
}

// minLoadedPages is the loaded-page count the sweeper tries to stay at or below.
func (c Config) minLoadedPages() int64 {
	return int64(math.Round(float64(c.MaxPages) * c.UtilizationRatio))
}
