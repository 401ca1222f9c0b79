package pagemanager

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// --- Page Management ---

const (
	// UnboundPageID marks a slot that holds no file page.
	UnboundPageID PageID = -1
	// NoSwapper is the swapper id of an unbound slot. Real swapper ids start at 1.
	NoSwapper uint32 = 0
	// DefaultMaxUsage is the cap on a slot's CLOCK usage counter.
	DefaultMaxUsage int32 = 5
)

// PageID identifies a page within one file. Page n covers bytes
// [n*filePageSize, (n+1)*filePageSize).
type PageID int64

// LockMode selects how a slot is latched while pinned.
type LockMode uint8

const (
	LockShared LockMode = iota + 1
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("LockMode(%d)", uint8(m))
	}
}

// PageWriter is the write half of a page swapper.
type PageWriter interface {
	Write(pageID PageID, buf []byte) (int, error)
}

// Page is one fixed-size slot of the page cache arena.
//
// A slot is either free (unbound, not loaded, on the free list) or bound to
// exactly one (swapper, page) pair. The binding is written only under the
// exclusive latch; it is stored atomically so that scans can use it as an
// unlatched hint, but only a latched read is authoritative.
type Page struct {
	index int

	latch   sync.RWMutex
	flushMu sync.Mutex

	data      []byte
	swapperID atomic.Uint32
	pageID    atomic.Int64
	usage     atomic.Int32
	maxUsage  int32
	dirty     atomic.Bool
	loaded    atomic.Bool
}

// NewPage creates an unbound slot with a zeroed buffer of size bytes.
func NewPage(index, size int, maxUsage int32) *Page {
	if maxUsage <= 0 {
		maxUsage = DefaultMaxUsage
	}
	p := &Page{
		index:    index,
		data:     make([]byte, size),
		maxUsage: maxUsage,
	}
	p.pageID.Store(int64(UnboundPageID))
	return p
}

func (p *Page) Index() int { return p.index }
func (p *Page) Size() int  { return len(p.data) }

// SwapperIDHint returns the current binding without latching. Callers must
// re-check under a latch before acting on it.
func (p *Page) SwapperIDHint() uint32 { return p.swapperID.Load() }
func (p *Page) IsLoaded() bool        { return p.loaded.Load() }
func (p *Page) IsDirty() bool         { return p.dirty.Load() }
func (p *Page) Usage() int32          { return p.usage.Load() }

// IncrementUsage bumps the usage counter, saturating at the configured cap.
func (p *Page) IncrementUsage() {
	for {
		u := p.usage.Load()
		if u >= p.maxUsage {
			return
		}
		if p.usage.CompareAndSwap(u, u+1) {
			return
		}
	}
}

// DecrementUsage lowers the usage counter by one and reports whether it was
// already zero.
func (p *Page) DecrementUsage() (wasZero bool) {
	for {
		u := p.usage.Load()
		if u <= 0 {
			return true
		}
		if p.usage.CompareAndSwap(u, u-1) {
			return false
		}
	}
}

// Pin latches the slot in the given mode and verifies that it is still loaded
// and bound to (swapperID, pageID). On a mismatch the latch is released and
// ok is false: the caller looked the slot up through a stale mapping.
func (p *Page) Pin(swapperID uint32, pageID PageID, mode LockMode) (l Latched, ok bool) {
	return p.pin(swapperID, pageID, mode, true)
}

// PinTransient is Pin without the usage bump, for accesses that should not
// keep the page in the cache.
func (p *Page) PinTransient(swapperID uint32, pageID PageID, mode LockMode) (l Latched, ok bool) {
	return p.pin(swapperID, pageID, mode, false)
}

func (p *Page) pin(swapperID uint32, pageID PageID, mode LockMode, touch bool) (Latched, bool) {
	l := p.lock(mode)
	if !p.loaded.Load() || !l.IsBoundTo(swapperID, pageID) {
		l.Release()
		return Latched{}, false
	}
	if touch {
		p.IncrementUsage()
	}
	if mode == LockExclusive {
		p.dirty.Store(true)
	}
	return l, true
}

// LockExclusive blocks until the slot is exclusively latched.
func (p *Page) LockExclusive() Latched { return p.lock(LockExclusive) }

// LockShared blocks until the slot is latched for reading.
func (p *Page) LockShared() Latched { return p.lock(LockShared) }

// TryLockExclusive never blocks. It fails while any reader or writer holds
// the latch.
func (p *Page) TryLockExclusive() (Latched, bool) {
	if !p.latch.TryLock() {
		return Latched{}, false
	}
	return Latched{page: p, mode: LockExclusive}, true
}

func (p *Page) lock(mode LockMode) Latched {
	switch mode {
	case LockShared:
		p.latch.RLock()
	case LockExclusive:
		p.latch.Lock()
	default:
		panic(fmt.Sprintf("pagemanager: unknown lock mode %d", uint8(mode)))
	}
	return Latched{page: p, mode: mode}
}

// Latched is the proof that the caller holds the slot's latch. Operations
// that require the latch are only reachable through it.
type Latched struct {
	page *Page
	mode LockMode
}

func (l Latched) Page() *Page        { return l.page }
func (l Latched) Mode() LockMode     { return l.mode }
func (l Latched) Held() bool         { return l.page != nil }
func (l Latched) IsExclusive() bool  { return l.mode == LockExclusive }
func (l Latched) SwapperID() uint32  { return l.page.swapperID.Load() }
func (l Latched) PageID() PageID     { return PageID(l.page.pageID.Load()) }
func (l Latched) Data() []byte       { return l.page.data }
func (l Latched) IsBoundTo(swapperID uint32, pageID PageID) bool {
	return l.page.swapperID.Load() == swapperID && PageID(l.page.pageID.Load()) == pageID
}

// Release drops the latch in the mode it was taken.
func (l Latched) Release() {
	switch l.mode {
	case LockShared:
		l.page.latch.RUnlock()
	case LockExclusive:
		l.page.latch.Unlock()
	default:
		panic(fmt.Sprintf("pagemanager: release with unknown lock mode %d", uint8(l.mode)))
	}
}

// Bind attaches an unbound slot to a file page. Requires the exclusive latch.
func (l Latched) Bind(swapperID uint32, pageID PageID) {
	l.mustBeExclusive("bind")
	p := l.page
	if p.swapperID.Load() != NoSwapper || p.loaded.Load() {
		panic(fmt.Sprintf("pagemanager: slot %d handed out while bound to swapper %d page %d",
			p.index, p.swapperID.Load(), p.pageID.Load()))
	}
	p.swapperID.Store(swapperID)
	p.pageID.Store(int64(pageID))
}

// MarkLoaded publishes the slot contents as valid. The first use is counted
// separately by the caller.
func (l Latched) MarkLoaded() {
	l.mustBeExclusive("mark loaded")
	l.page.loaded.Store(true)
}

// MarkDirty flags the slot for write-back.
func (l Latched) MarkDirty() { l.page.dirty.Store(true) }

// Reset zeroes the buffer and returns the slot to the unbound state.
// Requires the exclusive latch.
func (l Latched) Reset() {
	l.mustBeExclusive("reset")
	p := l.page
	clear(p.data)
	p.loaded.Store(false)
	p.dirty.Store(false)
	p.usage.Store(0)
	p.pageID.Store(int64(UnboundPageID))
	p.swapperID.Store(NoSwapper)
}

// Flush writes the first length bytes of a dirty slot through w and clears
// the dirty flag. A failed write leaves the slot dirty. Concurrent shared
// holders flushing the same slot are serialised.
func (l Latched) Flush(w PageWriter, length int) error {
	p := l.page
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	if !p.dirty.Load() || !p.loaded.Load() {
		return nil
	}
	if _, err := w.Write(PageID(p.pageID.Load()), p.data[:length]); err != nil {
		return err
	}
	p.dirty.Store(false)
	return nil
}

func (l Latched) mustBeExclusive(op string) {
	if l.mode != LockExclusive {
		panic(fmt.Sprintf("pagemanager: %s on slot %d requires the exclusive latch", op, l.page.index))
	}
}
