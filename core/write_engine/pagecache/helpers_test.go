package pagecache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

// --- Test Helpers ---

// countingFactory wraps a MemorySwapperFactory and records every read, write
// and eviction notification made through the swappers it creates.
type countingFactory struct {
	inner *flushmanager.MemorySwapperFactory

	reads     atomic.Int64
	writes    atomic.Int64
	evictions atomic.Int64

	mu          sync.Mutex
	readsByPage map[pagemanager.PageID]int
	writeLog    []pagemanager.PageID
	readDelay   time.Duration
	failWrites  atomic.Bool
	failReads   atomic.Bool
}

var errInjected = errors.New("injected failure")

func newCountingFactory() *countingFactory {
	return &countingFactory{
		inner:       flushmanager.NewMemorySwapperFactory(),
		readsByPage: make(map[pagemanager.PageID]int),
	}
}

func (f *countingFactory) CreatePageSwapper(path string, filePageSize int, create bool) (flushmanager.PageSwapper, error) {
	inner, err := f.inner.CreatePageSwapper(path, filePageSize, create)
	if err != nil {
		return nil, err
	}
	return &countingSwapper{PageSwapper: inner, factory: f}, nil
}

func (f *countingFactory) readsOf(pageID pagemanager.PageID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readsByPage[pageID]
}

func (f *countingFactory) writesInOrder() []pagemanager.PageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pagemanager.PageID(nil), f.writeLog...)
}

type countingSwapper struct {
	flushmanager.PageSwapper
	factory *countingFactory
}

func (s *countingSwapper) Read(pageID pagemanager.PageID, buf []byte) (int, error) {
	f := s.factory
	f.reads.Add(1)
	f.mu.Lock()
	f.readsByPage[pageID]++
	delay := f.readDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if f.failReads.Load() {
		return 0, errInjected
	}
	return s.PageSwapper.Read(pageID, buf)
}

func (s *countingSwapper) Write(pageID pagemanager.PageID, buf []byte) (int, error) {
	f := s.factory
	if f.failWrites.Load() {
		return 0, errInjected
	}
	f.writes.Add(1)
	f.mu.Lock()
	f.writeLog = append(f.writeLog, pageID)
	f.mu.Unlock()
	return s.PageSwapper.Write(pageID, buf)
}

func (s *countingSwapper) Evicted(pageID pagemanager.PageID) {
	s.factory.evictions.Add(1)
	s.PageSwapper.Evicted(pageID)
}

// recordingMonitor remembers the page ids of faults and evictions.
type recordingMonitor struct {
	mu      sync.Mutex
	faults  []pagemanager.PageID
	evicted []pagemanager.PageID
}

func (m *recordingMonitor) PageFault(pageID pagemanager.PageID, _ flushmanager.PageSwapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, pageID)
}

func (m *recordingMonitor) Evict(pageID pagemanager.PageID, _ flushmanager.PageSwapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, pageID)
}

func (m *recordingMonitor) evictions() []pagemanager.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pagemanager.PageID(nil), m.evicted...)
}

// testConfig returns a small cache configuration. The background sweeper is
// disabled so that tests decide when eviction happens.
func testConfig(maxPages, pageSize int) Config {
	cfg := DefaultConfig()
	cfg.MaxPages = maxPages
	cfg.PageSize = pageSize
	cfg.EnableEvictionThread = false
	return cfg
}

// setupPageCache builds a cache over a counting in-memory swapper factory
// and closes it when the test ends.
func setupPageCache(t *testing.T, cfg Config, monitor Monitor) (*PageCache, *countingFactory) {
	t.Helper()
	factory := newCountingFactory()
	c, err := New(cfg, factory, monitor, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, factory
}

// mapFile maps path with CreateIfNotExists and closes it when the test ends.
func mapFile(t *testing.T, c *PageCache, path string, pageSize int) *PagedFile {
	t.Helper()
	f, err := c.Map(path, pageSize, CreateIfNotExists())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// writeLong pins pageID exclusively and stores v at offset 0.
func writeLong(t *testing.T, f *PagedFile, pageID pagemanager.PageID, v int64) {
	t.Helper()
	cursor, err := f.Pin(pageID, pagemanager.LockExclusive)
	require.NoError(t, err)
	cursor.PutLongAt(0, v)
	cursor.Close()
}

// readLong pins pageID shared and loads the value at offset 0.
func readLong(t *testing.T, f *PagedFile, pageID pagemanager.PageID) int64 {
	t.Helper()
	cursor, err := f.Pin(pageID, pagemanager.LockShared)
	require.NoError(t, err)
	defer cursor.Close()
	return cursor.GetLongAt(0)
}

// sweepUntilFree runs sweeper passes on the calling goroutine until at least
// one slot is on the free list.
func sweepUntilFree(t *testing.T, c *PageCache) {
	t.Helper()
	s := newSweeper(c.table, zaptest.NewLogger(t))
	for i := 0; i < c.cfg.MaxUsageCount+2; i++ {
		_, err := s.evictPages(1)
		require.NoError(t, err)
		if c.table.free.len() > 0 {
			return
		}
	}
	t.Fatalf("no page became free after %d sweeps", c.cfg.MaxUsageCount+2)
}
