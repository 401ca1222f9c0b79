package pagecache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	minFreePageBackoff = 50 * time.Microsecond
	maxFreePageBackoff = 10 * time.Millisecond
)

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	MaxPages      int
	LoadedPages   int64
	FreePages     int64
	Faults        int64
	Hits          int64
	Evictions     int64
	Flushes       int64
	FlushFailures int64
}

type counters struct {
	faults        atomic.Int64
	hits          atomic.Int64
	evictions     atomic.Int64
	flushes       atomic.Int64
	flushFailures atomic.Int64
}

// signal is a broadcast that can be waited on repeatedly.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *signal) broadcast() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

type evictorFailure struct{ err error }

// PageTable owns the slot arena and the free list. It loads pages into free
// slots, evicts cold pages and writes dirty pages back.
type PageTable struct {
	cfg     Config
	pages   []*pagemanager.Page
	free    *freeList
	loaded  atomic.Int64
	files   *xsync.MapOf[uint32, *PagedFile]
	monitor Monitor
	logger  *zap.Logger
	limiter *rate.Limiter
	stats   counters

	evictorErr atomic.Pointer[evictorFailure]
	freed      *signal
	wake       chan struct{}
	sweeper    *sweeper
	closed     atomic.Bool
}

func newPageTable(cfg Config, monitor Monitor, logger *zap.Logger) *PageTable {
	pt := &PageTable{
		cfg:     cfg,
		pages:   make([]*pagemanager.Page, cfg.MaxPages),
		free:    newFreeList(cfg.MaxPages),
		files:   xsync.NewMapOf[uint32, *PagedFile](),
		monitor: safeMonitor{inner: monitor, logger: logger},
		logger:  logger,
		freed:   newSignal(),
		wake:    make(chan struct{}, 1),
	}
	if cfg.FlushBytesPerSecond > 0 {
		burst := int(max(cfg.FlushBytesPerSecond, int64(cfg.PageSize)))
		pt.limiter = rate.NewLimiter(rate.Limit(cfg.FlushBytesPerSecond), burst)
	}
	// Push in reverse so the first fault gets slot 0.
	for i := cfg.MaxPages - 1; i >= 0; i-- {
		pt.pages[i] = pagemanager.NewPage(i, cfg.PageSize, int32(cfg.MaxUsageCount))
		pt.free.push(i)
	}
	if cfg.EnableEvictionThread {
		pt.sweeper = newSweeper(pt, logger)
		go pt.sweeper.run()
	}
	return pt
}

// load faults pageID of file into a free slot and returns it exclusively
// latched, bound and loaded. Only the goroutine that installed the loading
// marker for (file, pageID) may call it. PFNoLoad skips the read and leaves
// the page zeroed; PFTransient leaves its usage at zero.
func (pt *PageTable) load(file *PagedFile, pageID pagemanager.PageID, flags int) (pagemanager.Latched, error) {
	idx, err := pt.grabFreePage()
	if err != nil {
		return pagemanager.Latched{}, err
	}
	l := pt.pages[idx].LockExclusive()
	l.Bind(file.swapperID, pageID)
	if file.closed.Load() {
		l.Reset()
		l.Release()
		pt.releaseFreePage(idx)
		return pagemanager.Latched{}, fmt.Errorf("%w: %s", flushmanager.ErrFileNotMapped, file.path)
	}
	if flags&PFNoLoad == 0 {
		if _, err := file.swapper.Read(pageID, l.Data()[:file.pageSize]); err != nil {
			l.Reset()
			l.Release()
			pt.releaseFreePage(idx)
			return pagemanager.Latched{}, fmt.Errorf("%w: faulting page %d of %s: %w", flushmanager.ErrIO, pageID, file.path, err)
		}
	}
	l.MarkLoaded()
	if flags&PFTransient == 0 {
		l.Page().IncrementUsage()
	}
	pt.loaded.Add(1)
	pt.stats.faults.Add(1)
	pt.monitor.PageFault(pageID, file.swapper)
	return l, nil
}

// grabFreePage blocks until a slot is free. It keeps nudging the sweeper and
// fails once the sweeper has died or the cache is closed.
func (pt *PageTable) grabFreePage() (int, error) {
	backoff := minFreePageBackoff
	for {
		if err := pt.evictorFailure(); err != nil {
			return -1, err
		}
		if pt.closed.Load() {
			return -1, flushmanager.ErrCacheClosed
		}
		if idx, ok := pt.free.pop(); ok {
			return idx, nil
		}
		if pt.sweeper == nil {
			return pt.cooperativelyEvict()
		}
		freed := pt.freed.wait()
		if idx, ok := pt.free.pop(); ok {
			return idx, nil
		}
		pt.nudgeSweeper()
		timer := time.NewTimer(backoff)
		select {
		case <-freed:
		case <-timer.C:
		}
		timer.Stop()
		backoff = min(backoff*2, maxFreePageBackoff)
	}
}

// cooperativelyEvict runs the CLOCK scan on the calling goroutine and hands
// the evicted slot straight to the caller.
func (pt *PageTable) cooperativelyEvict() (int, error) {
	n := len(pt.pages)
	start := rand.IntN(n)
	for sweep := 0; sweep < pt.cfg.CooperativeEvictionLiveLockSweeps; sweep++ {
		for i := 0; i < n; i++ {
			if idx, ok := pt.free.pop(); ok {
				return idx, nil
			}
			idx := (start + i) % n
			evicted, err := pt.tryEvict(idx, false)
			if err != nil {
				return -1, err
			}
			if evicted {
				return idx, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: %d sweeps over %d pages", flushmanager.ErrCacheLiveLock,
		pt.cfg.CooperativeEvictionLiveLockSweeps, n)
}

// tryEvict visits one slot for the CLOCK hand. A slot that is latched by
// anyone is skipped; a slot with remaining usage loses one unit; a slot with
// no usage is flushed if dirty, unbound and, when release is set, pushed to
// the free list.
func (pt *PageTable) tryEvict(idx int, release bool) (bool, error) {
	p := pt.pages[idx]
	if !p.IsLoaded() {
		return false, nil
	}
	l, ok := p.TryLockExclusive()
	if !ok {
		return false, nil
	}
	if !p.IsLoaded() || !p.DecrementUsage() {
		l.Release()
		return false, nil
	}

	pageID := l.PageID()
	file, _ := pt.files.Load(l.SwapperID())
	if file == nil {
		// Unmap evicts a file's pages before unregistering it.
		l.Release()
		panic(fmt.Sprintf("pagecache: slot %d holds page %d of unregistered swapper %d",
			idx, pageID, l.SwapperID()))
	}
	if p.IsDirty() {
		if err := l.Flush(file.swapper, file.pageSize); err != nil {
			pt.stats.flushFailures.Add(1)
			l.Release()
			return false, fmt.Errorf("%w: flushing page %d of %s before eviction: %w",
				flushmanager.ErrIO, pageID, file.path, err)
		}
		pt.stats.flushes.Add(1)
	}
	l.Reset()
	l.Release()
	pt.loaded.Add(-1)
	pt.stats.evictions.Add(1)
	file.evicted(pageID, idx)
	if release {
		pt.releaseFreePage(idx)
	}
	return true, nil
}

func (pt *PageTable) releaseFreePage(idx int) {
	pt.free.push(idx)
	pt.freed.broadcast()
}

func (pt *PageTable) nudgeSweeper() {
	select {
	case pt.wake <- struct{}{}:
	default:
	}
}

// flushAll writes back every dirty page. It keeps going after a failed write
// and returns the first failure, unless the sweeper has died, in which case
// the sweeper's failure is returned.
func (pt *PageTable) flushAll(ctx context.Context) error {
	var firstErr error
	for _, p := range pt.pages {
		if !p.IsDirty() {
			continue
		}
		file, ok := pt.files.Load(p.SwapperIDHint())
		if !ok {
			continue
		}
		if err := pt.flushPage(ctx, p, file); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := pt.evictorFailure(); err != nil {
		return err
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}

// flushFile writes back the dirty pages of one file and forces the file.
func (pt *PageTable) flushFile(ctx context.Context, file *PagedFile) error {
	var firstErr error
	for _, p := range pt.pages {
		if p.SwapperIDHint() != file.swapperID || !p.IsDirty() {
			continue
		}
		if err := pt.flushPage(ctx, p, file); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := file.swapper.Force(); err != nil {
		return fmt.Errorf("%w: forcing %s: %w", flushmanager.ErrIO, file.path, err)
	}
	return nil
}

func (pt *PageTable) flushPage(ctx context.Context, p *pagemanager.Page, file *PagedFile) error {
	if pt.limiter != nil {
		if err := pt.limiter.WaitN(ctx, file.pageSize); err != nil {
			return err
		}
	}
	l := p.LockShared()
	defer l.Release()
	if l.SwapperID() != file.swapperID || !p.IsDirty() {
		return nil
	}
	return pt.flushLatched(l, file)
}

// flushLatched writes back a latched page of file if it is dirty.
func (pt *PageTable) flushLatched(l pagemanager.Latched, file *PagedFile) error {
	if !l.Page().IsDirty() {
		return nil
	}
	if err := l.Flush(file.swapper, file.pageSize); err != nil {
		pt.stats.flushFailures.Add(1)
		pt.logger.Error("Failed to flush page", zap.String("file", file.path),
			zap.Int64("page_id", int64(l.PageID())), zap.Error(err))
		return fmt.Errorf("%w: flushing page %d of %s: %w", flushmanager.ErrIO, l.PageID(), file.path, err)
	}
	pt.stats.flushes.Add(1)
	return nil
}

// evictFile removes every page of an unmapped file from the cache, waiting
// for pinned pages to be released. Dirty pages are written back first unless
// discard is set; a failed write is reported but the page is still dropped.
func (pt *PageTable) evictFile(file *PagedFile, discard bool) error {
	var firstErr error
	for idx, p := range pt.pages {
		if p.SwapperIDHint() != file.swapperID {
			continue
		}
		l := p.LockExclusive()
		if l.SwapperID() != file.swapperID || !p.IsLoaded() {
			l.Release()
			continue
		}
		pageID := l.PageID()
		if !discard {
			if err := l.Flush(file.swapper, file.pageSize); err != nil {
				pt.stats.flushFailures.Add(1)
				if firstErr == nil {
					firstErr = fmt.Errorf("%w: flushing page %d of %s on unmap: %w", flushmanager.ErrIO, pageID, file.path, err)
				}
			}
		}
		l.Reset()
		l.Release()
		pt.loaded.Add(-1)
		pt.stats.evictions.Add(1)
		file.evicted(pageID, idx)
		pt.releaseFreePage(idx)
	}
	return firstErr
}

func (pt *PageTable) setEvictorFailure(err error) {
	pt.evictorErr.CompareAndSwap(nil, &evictorFailure{err: fmt.Errorf("%w: %w", flushmanager.ErrEvictorFailed, err)})
	pt.freed.broadcast()
}

func (pt *PageTable) evictorFailure() error {
	if f := pt.evictorErr.Load(); f != nil {
		return f.err
	}
	return nil
}

func (pt *PageTable) snapshot() Stats {
	return Stats{
		MaxPages:      len(pt.pages),
		LoadedPages:   pt.loaded.Load(),
		FreePages:     pt.free.len(),
		Faults:        pt.stats.faults.Load(),
		Hits:          pt.stats.hits.Load(),
		Evictions:     pt.stats.evictions.Load(),
		Flushes:       pt.stats.flushes.Load(),
		FlushFailures: pt.stats.flushFailures.Load(),
	}
}

// close stops the sweeper and wakes every goroutine waiting for a free page.
func (pt *PageTable) close() {
	if !pt.closed.CompareAndSwap(false, true) {
		return
	}
	if pt.sweeper != nil {
		pt.sweeper.shutdown()
	}
	pt.freed.broadcast()
}
