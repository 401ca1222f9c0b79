package pagecache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// Cursor flags.
const (
	// PFSharedLock pins pages for reading. Any number of shared pins may
	// coexist on a page.
	PFSharedLock = 1 << iota
	// PFExclusiveLock pins pages for writing. Exclusive pins mark the page
	// dirty and grow the file when they reach past its end.
	PFExclusiveLock
	// PFNoGrow makes Next stop at the last page of the file.
	PFNoGrow
	// PFTransient pins pages without raising their usage, so a scan does not
	// push the working set out of the cache.
	PFTransient
	// PFNoFault never reads a page in. A page that is not in the cache leaves
	// the cursor unbound: CurrentPageID is UnboundPageID and every access sets
	// the bounds flag. Implies PFNoGrow.
	PFNoFault
	// PFEagerFlush writes an exclusively pinned page back as soon as it is
	// unpinned.
	PFEagerFlush
	// PFNoLoad faults pages in zeroed instead of reading them, for callers
	// that overwrite the whole page.
	PFNoLoad

	pfKnownFlags = PFSharedLock | PFExclusiveLock | PFNoGrow | PFTransient | PFNoFault | PFEagerFlush | PFNoLoad
)

// mapping is a translation table entry. While loading is non-nil a fault is
// in flight and the channel is closed when it resolves; otherwise slot is the
// index of the slot the page was loaded into. A mapping is never mutated
// after it is published.
type mapping struct {
	slot    int
	loading chan struct{}
}

// PagedFile is one file mapped into the page cache.
type PagedFile struct {
	cache     *PageCache
	table     *PageTable
	swapper   flushmanager.PageSwapper
	swapperID uint32
	path      string
	pageSize  int
	logger    *zap.Logger

	translation *xsync.MapOf[pagemanager.PageID, *mapping]
	lastPageID  atomic.Int64
	openCursors atomic.Int64
	closed      atomic.Bool
	// deleteOnClose drops dirty pages and removes the file on the last unmap.
	deleteOnClose atomic.Bool

	// refCount is guarded by cache.mu.
	refCount int
}

func newPagedFile(cache *PageCache, swapper flushmanager.PageSwapper, swapperID uint32,
	path string, pageSize int, lastPageID pagemanager.PageID) *PagedFile {
	f := &PagedFile{
		cache:       cache,
		table:       cache.table,
		swapper:     swapper,
		swapperID:   swapperID,
		path:        path,
		pageSize:    pageSize,
		logger:      cache.logger.With(zap.String("file", path)),
		translation: xsync.NewMapOf[pagemanager.PageID, *mapping](),
		refCount:    1,
	}
	f.lastPageID.Store(int64(lastPageID))
	return f
}

func (f *PagedFile) Path() string { return f.path }

// PageSize is the file page size, which may be smaller than the cache page size.
func (f *PagedFile) PageSize() int { return f.pageSize }

// LastPageID is the highest page id written or exclusively pinned so far, or
// UnboundPageID for an empty file.
func (f *PagedFile) LastPageID() pagemanager.PageID {
	return pagemanager.PageID(f.lastPageID.Load())
}

func (f *PagedFile) FileSize() int64 {
	return (f.lastPageID.Load() + 1) * int64(f.pageSize)
}

// RefCount is the number of open mappings of this file.
func (f *PagedFile) RefCount() int {
	f.cache.mu.Lock()
	defer f.cache.mu.Unlock()
	return f.refCount
}

// SetDeleteOnClose marks the file for deletion when its last mapping is
// closed. Dirty pages are then discarded instead of written back.
func (f *PagedFile) SetDeleteOnClose(deleteOnClose bool) { f.deleteOnClose.Store(deleteOnClose) }

func (f *PagedFile) IsDeleteOnClose() bool { return f.deleteOnClose.Load() }

// Io returns an unpinned cursor that will visit pages from pageID onwards.
// Exactly one of PFSharedLock and PFExclusiveLock must be set.
func (f *PagedFile) Io(pageID pagemanager.PageID, flags int) (*PageCursor, error) {
	if flags&^pfKnownFlags != 0 {
		panic(fmt.Sprintf("pagecache: unknown cursor flags %#x", flags&^pfKnownFlags))
	}
	var mode pagemanager.LockMode
	switch flags & (PFSharedLock | PFExclusiveLock) {
	case PFSharedLock:
		mode = pagemanager.LockShared
	case PFExclusiveLock:
		mode = pagemanager.LockExclusive
	default:
		panic(fmt.Sprintf("pagecache: cursor flags %#x must contain exactly one lock mode", flags))
	}
	if pageID < 0 {
		return nil, fmt.Errorf("%w: %d in %s", flushmanager.ErrInvalidPageID, pageID, f.path)
	}
	if f.closed.Load() {
		return nil, fmt.Errorf("%w: %s", flushmanager.ErrFileNotMapped, f.path)
	}
	f.openCursors.Add(1)
	return &PageCursor{
		file:          f,
		mode:          mode,
		flags:         flags,
		noGrow:        flags&(PFNoGrow|PFNoFault) != 0,
		nextPageID:    pageID,
		currentPageID: pagemanager.UnboundPageID,
	}, nil
}

// Pin returns a cursor already positioned on pageID. The caller must Close it.
func (f *PagedFile) Pin(pageID pagemanager.PageID, mode pagemanager.LockMode) (*PageCursor, error) {
	flags := PFSharedLock
	if mode == pagemanager.LockExclusive {
		flags = PFExclusiveLock
	} else if mode != pagemanager.LockShared {
		panic(fmt.Sprintf("pagecache: unknown lock mode %d", uint8(mode)))
	}
	c, err := f.Io(pageID, flags)
	if err != nil {
		return nil, err
	}
	if _, err := c.Next(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// pin resolves pageID to a latched slot, faulting it in when absent.
//
// The first goroutine to find the page absent installs a loading marker and
// performs the read; others wait on the marker and retry. A slot found
// through the table may have been evicted and reused since the entry was
// read, so the binding is re-checked under the latch and a stale entry is
// removed only if it is still the one observed.
//
// With PFNoFault a page that is absent or still being loaded yields an
// unheld Latched and no error.
func (f *PagedFile) pin(pageID pagemanager.PageID, mode pagemanager.LockMode, flags int) (pagemanager.Latched, error) {
	for {
		if f.closed.Load() {
			return pagemanager.Latched{}, fmt.Errorf("%w: %s", flushmanager.ErrFileNotMapped, f.path)
		}
		m, ok := f.translation.Load(pageID)
		if (!ok || m.loading != nil) && flags&PFNoFault != 0 {
			return pagemanager.Latched{}, nil
		}
		if !ok {
			marker := &mapping{slot: -1, loading: make(chan struct{})}
			if _, raced := f.translation.LoadOrStore(pageID, marker); raced {
				continue
			}
			l, err := f.table.load(f, pageID, flags)
			if err != nil {
				f.translation.Compute(pageID, removeIfSame(marker))
				close(marker.loading)
				return pagemanager.Latched{}, err
			}
			f.translation.Store(pageID, &mapping{slot: l.Page().Index()})
			close(marker.loading)
			if mode == pagemanager.LockExclusive {
				l.MarkDirty()
				return l, nil
			}
			// RWMutex cannot downgrade; go round again for a shared pin.
			l.Release()
			continue
		}
		if m.loading != nil {
			<-m.loading
			continue
		}
		slot := f.table.pages[m.slot]
		var l pagemanager.Latched
		if flags&PFTransient != 0 {
			l, ok = slot.PinTransient(f.swapperID, pageID, mode)
		} else {
			l, ok = slot.Pin(f.swapperID, pageID, mode)
		}
		if ok {
			f.table.stats.hits.Add(1)
			return l, nil
		}
		f.translation.Compute(pageID, removeIfSame(m))
	}
}

func removeIfSame(expected *mapping) func(*mapping, bool) (*mapping, bool) {
	return func(old *mapping, loaded bool) (*mapping, bool) {
		if !loaded {
			return nil, true
		}
		return old, old == expected
	}
}

// evicted drops the translation entry of a page that left slot and notifies
// the swapper and the monitor.
func (f *PagedFile) evicted(pageID pagemanager.PageID, slot int) {
	f.translation.Compute(pageID, func(old *mapping, loaded bool) (*mapping, bool) {
		if !loaded {
			return nil, true
		}
		return old, old.loading == nil && old.slot == slot
	})
	f.swapper.Evicted(pageID)
	f.table.monitor.Evict(pageID, f.swapper)
}

func (f *PagedFile) growLastPageID(pageID pagemanager.PageID) {
	for {
		last := f.lastPageID.Load()
		if int64(pageID) <= last || f.lastPageID.CompareAndSwap(last, int64(pageID)) {
			return
		}
	}
}

// FlushAndForce writes back this file's dirty pages and forces the file.
func (f *PagedFile) FlushAndForce(ctx context.Context) error {
	if f.closed.Load() {
		return fmt.Errorf("%w: %s", flushmanager.ErrFileNotMapped, f.path)
	}
	return f.table.flushFile(ctx, f)
}

// Close releases one mapping of the file. Releasing the last mapping flushes
// the file, evicts its pages and closes its swapper. Cursors must be closed
// first.
func (f *PagedFile) Close() error {
	return f.cache.unmap(f)
}

// unmapLocked tears the mapping down. Called with cache.mu held.
func (f *PagedFile) unmapLocked() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := f.openCursors.Load(); n > 0 {
		f.logger.Warn("Unmapping file with open cursors", zap.Int64("open_cursors", n))
	}
	discard := f.deleteOnClose.Load()
	var firstErr error
	if !discard {
		firstErr = f.table.flushFile(context.Background(), f)
	}
	if err := f.table.evictFile(f, discard); err != nil && firstErr == nil {
		firstErr = err
	}
	f.table.files.Delete(f.swapperID)
	f.translation.Clear()
	closeSwapper := f.swapper.Close
	if discard {
		closeSwapper = f.swapper.CloseAndDelete
	}
	if err := closeSwapper(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: closing %s: %w", flushmanager.ErrIO, f.path, err)
	}
	f.logger.Info("Unmapped file", zap.Bool("deleted", discard))
	return firstErr
}
