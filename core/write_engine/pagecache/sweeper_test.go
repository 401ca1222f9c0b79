package pagecache

import (
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

func TestConfig_MinLoadedPages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPages = 2
	require.Equal(t, int64(2), cfg.minLoadedPages())
	cfg.MaxPages = 1000
	require.Equal(t, int64(960), cfg.minLoadedPages())
	cfg.UtilizationRatio = 0
	require.Equal(t, int64(0), cfg.minLoadedPages())
}

// TestConfig_MaxPagesFitsFreeList rejects caches too large for the 32-bit
// free list links.
func TestConfig_MaxPagesFitsFreeList(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("int cannot hold the limit")
	}
	limit := int64(maxCachePages)

	cfg := DefaultConfig()
	cfg.MaxPages = int(limit)
	require.NoError(t, cfg.Validate())
	cfg.MaxPages = int(limit + 1)
	require.ErrorIs(t, cfg.Validate(), flushmanager.ErrInvalidConfig)
}

// TestSweeper_KeepsUtilizationTarget loads more pages than the utilization
// target allows and waits for the sweeper to bring the count back down.
func TestSweeper_KeepsUtilizationTarget(t *testing.T) {
	cfg := testConfig(10, 64)
	cfg.EnableEvictionThread = true
	cfg.UtilizationRatio = 0.5
	cfg.EvictorParkInterval = time.Millisecond
	c, _ := setupPageCache(t, cfg, nil)
	f := mapFile(t, c, "target.db", 64)

	for i := 0; i < 8; i++ {
		writeLong(t, f, pagemanager.PageID(i), int64(i))
	}
	require.Eventually(t, func() bool { return c.LoadedPages() <= 5 }, 5*time.Second, time.Millisecond)
	for i := 0; i < 8; i++ {
		require.Equal(t, int64(i), readLong(t, f, pagemanager.PageID(i)))
	}
}

// TestSweeper_DecaysUsageBeforeEvicting runs passes by hand and checks that a
// page is only evicted after its usage count has been worn down, and that a
// latched page is skipped.
func TestSweeper_DecaysUsageBeforeEvicting(t *testing.T) {
	c, _ := setupPageCache(t, testConfig(4, 64), nil)
	f := mapFile(t, c, "decay.db", 64)

	// One exclusive fault and two shared hits leave page 0 with usage 3.
	writeLong(t, f, 0, 1)
	readLong(t, f, 0)
	readLong(t, f, 0)
	slot := c.table.pages[0]
	require.Equal(t, int32(3), slot.Usage())

	held, err := f.Pin(1, pagemanager.LockShared)
	require.NoError(t, err)
	defer held.Close()

	s := newSweeper(c.table, zaptest.NewLogger(t))
	for pass := 0; pass < 3; pass++ {
		evicted, err := s.evictPages(4)
		require.NoError(t, err)
		require.Zero(t, evicted, "pass %d", pass)
	}
	require.Equal(t, int32(0), slot.Usage())

	evicted, err := s.evictPages(4)
	require.NoError(t, err)
	require.Equal(t, int64(1), evicted)
	require.False(t, slot.IsLoaded())
	require.True(t, c.table.pages[1].IsLoaded(), "latched page must be skipped")
}

// TestSweeper_UsageIsCapped pins one page many times and checks that a
// bounded number of sweeps still evicts it.
func TestSweeper_UsageIsCapped(t *testing.T) {
	c, _ := setupPageCache(t, testConfig(2, 64), nil)
	f := mapFile(t, c, "cap.db", 64)
	for i := 0; i < 50; i++ {
		readLong(t, f, 0)
	}
	require.Equal(t, int32(c.cfg.MaxUsageCount), c.table.pages[0].Usage())
	sweepUntilFree(t, c)
	require.False(t, c.table.pages[0].IsLoaded())
}

func TestFreeList_ConcurrentPushPop(t *testing.T) {
	const capacity = 64
	fl := newFreeList(capacity)
	for i := 0; i < capacity; i++ {
		fl.push(i)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				idx, ok := fl.pop()
				if !ok {
					continue
				}
				fl.push(idx)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(capacity), fl.len())
	var drained []int
	for {
		idx, ok := fl.pop()
		if !ok {
			break
		}
		drained = append(drained, idx)
	}
	sort.Ints(drained)
	want := make([]int, capacity)
	for i := range want {
		want[i] = i
	}
	require.Equal(t, want, drained, "every slot must be on the free list exactly once")
	require.Equal(t, int64(0), fl.len())
}
