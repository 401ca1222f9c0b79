package pagecache

import (
	"encoding/binary"
	"fmt"

	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// PageCursor walks the pages of a file, pinning one page at a time.
// A cursor belongs to a single goroutine.
//
// Accessors never panic on out-of-range offsets: they set a bounds flag that
// CheckAndClearBoundsFlag reports, reads return zero and writes are dropped.
// Multi-byte values are little-endian.
type PageCursor struct {
	file   *PagedFile
	mode   pagemanager.LockMode
	flags  int
	noGrow bool

	nextPageID    pagemanager.PageID
	currentPageID pagemanager.PageID
	latched       pagemanager.Latched
	data          []byte
	offset        int
	outOfBounds   bool
	closed        bool
}

// Next unpins the current page and pins the following one. It returns false
// without error when PFNoGrow is set and the file has no more pages. With
// PFNoFault a page missing from the cache still returns true but leaves the
// cursor unbound.
func (c *PageCursor) Next() (bool, error) {
	if c.closed {
		return false, flushmanager.ErrCursorClosed
	}
	c.Unpin()
	if c.noGrow && c.nextPageID > c.file.LastPageID() {
		return false, nil
	}
	l, err := c.file.pin(c.nextPageID, c.mode, c.flags)
	if err != nil {
		return false, err
	}
	c.offset = 0
	if !l.Held() {
		c.nextPageID++
		return true, nil
	}
	c.latched = l
	c.data = l.Data()[:c.file.pageSize]
	c.currentPageID = c.nextPageID
	c.nextPageID++
	if c.mode == pagemanager.LockExclusive {
		c.file.growLastPageID(c.currentPageID)
	}
	return true, nil
}

// NextPage moves the cursor to pageID.
func (c *PageCursor) NextPage(pageID pagemanager.PageID) (bool, error) {
	if c.closed {
		return false, flushmanager.ErrCursorClosed
	}
	if pageID < 0 {
		return false, fmt.Errorf("%w: %d in %s", flushmanager.ErrInvalidPageID, pageID, c.file.path)
	}
	c.nextPageID = pageID
	return c.Next()
}

// Unpin releases the current page, if any. The cursor stays usable.
// Under PFEagerFlush an exclusively pinned page is written back first; a
// failed write leaves it dirty for the next flush or eviction.
func (c *PageCursor) Unpin() {
	if !c.latched.Held() {
		return
	}
	if c.flags&PFEagerFlush != 0 && c.latched.IsExclusive() {
		if err := c.file.table.flushLatched(c.latched, c.file); err != nil {
			c.file.logger.Warn("Eager flush failed", zap.Int64("page_id", int64(c.currentPageID)), zap.Error(err))
		}
	}
	c.latched.Release()
	c.latched = pagemanager.Latched{}
	c.data = nil
	c.currentPageID = pagemanager.UnboundPageID
}

// Close unpins and retires the cursor. Closing twice is a no-op.
func (c *PageCursor) Close() {
	if c.closed {
		return
	}
	c.Unpin()
	c.closed = true
	c.file.openCursors.Add(-1)
}

func (c *PageCursor) CurrentPageID() pagemanager.PageID { return c.currentPageID }
func (c *PageCursor) IsExclusive() bool                 { return c.mode == pagemanager.LockExclusive }
func (c *PageCursor) File() *PagedFile                  { return c.file }
func (c *PageCursor) Offset() int                       { return c.offset }

func (c *PageCursor) SetOffset(offset int) {
	if offset < 0 || offset > len(c.data) {
		c.outOfBounds = true
		return
	}
	c.offset = offset
}

// CheckAndClearBoundsFlag reports whether any access since the last call went
// outside the page.
func (c *PageCursor) CheckAndClearBoundsFlag() bool {
	oob := c.outOfBounds
	c.outOfBounds = false
	return oob
}

func (c *PageCursor) inBounds(pos, size int) bool {
	if pos < 0 || size < 0 || pos > len(c.data) || size > len(c.data)-pos {
		c.outOfBounds = true
		return false
	}
	return true
}

func (c *PageCursor) mustWrite() {
	if c.mode != pagemanager.LockExclusive {
		panic(fmt.Sprintf("pagecache: write through shared cursor on page %d of %s", c.currentPageID, c.file.path))
	}
}

func (c *PageCursor) GetByteAt(pos int) byte {
	if !c.inBounds(pos, 1) {
		return 0
	}
	return c.data[pos]
}

func (c *PageCursor) PutByteAt(pos int, v byte) {
	c.mustWrite()
	if c.inBounds(pos, 1) {
		c.data[pos] = v
	}
}

func (c *PageCursor) GetIntAt(pos int) int32 {
	if !c.inBounds(pos, 4) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(c.data[pos:]))
}

func (c *PageCursor) PutIntAt(pos int, v int32) {
	c.mustWrite()
	if c.inBounds(pos, 4) {
		binary.LittleEndian.PutUint32(c.data[pos:], uint32(v))
	}
}

func (c *PageCursor) GetLongAt(pos int) int64 {
	if !c.inBounds(pos, 8) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(c.data[pos:]))
}

func (c *PageCursor) PutLongAt(pos int, v int64) {
	c.mustWrite()
	if c.inBounds(pos, 8) {
		binary.LittleEndian.PutUint64(c.data[pos:], uint64(v))
	}
}

// GetByte reads at the cursor offset and advances it.
func (c *PageCursor) GetByte() byte {
	v := c.GetByteAt(c.offset)
	c.offset++
	return v
}

func (c *PageCursor) PutByte(v byte) {
	c.PutByteAt(c.offset, v)
	c.offset++
}

func (c *PageCursor) GetInt() int32 {
	v := c.GetIntAt(c.offset)
	c.offset += 4
	return v
}

func (c *PageCursor) PutInt(v int32) {
	c.PutIntAt(c.offset, v)
	c.offset += 4
}

func (c *PageCursor) GetLong() int64 {
	v := c.GetLongAt(c.offset)
	c.offset += 8
	return v
}

func (c *PageCursor) PutLong(v int64) {
	c.PutLongAt(c.offset, v)
	c.offset += 8
}

// GetBytes fills dst from the cursor offset.
func (c *PageCursor) GetBytes(dst []byte) {
	if c.inBounds(c.offset, len(dst)) {
		copy(dst, c.data[c.offset:])
	} else {
		clear(dst)
	}
	c.offset += len(dst)
}

func (c *PageCursor) PutBytes(src []byte) {
	c.mustWrite()
	if c.inBounds(c.offset, len(src)) {
		copy(c.data[c.offset:], src)
	}
	c.offset += len(src)
}

// ZeroPage clears the whole page and rewinds the offset.
func (c *PageCursor) ZeroPage() {
	c.mustWrite()
	clear(c.data)
	c.offset = 0
}
