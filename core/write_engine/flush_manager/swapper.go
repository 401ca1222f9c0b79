package flushmanager

import (
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
)

// PageSwapper moves whole pages between one backing file and memory.
// Implementations must be safe for concurrent use on distinct pages.
type PageSwapper interface {
	// Read fills buf with the page's contents. Reading past the end of the
	// file is not an error: the unread tail of buf is zero-filled and the
	// number of bytes actually read is returned.
	Read(pageID pagemanager.PageID, buf []byte) (int, error)
	// Write stores buf as the page's contents, growing the file if needed.
	Write(pageID pagemanager.PageID, buf []byte) (int, error)
	// Evicted is called after the page has left the cache.
	Evicted(pageID pagemanager.PageID)
	Path() string
	// Force makes previous writes durable.
	Force() error
	Close() error
	// CloseAndDelete closes the swapper and removes the backing file.
	CloseAndDelete() error
	// LastPageID returns the highest page id present in the file, or
	// UnboundPageID when the file is empty.
	LastPageID() (pagemanager.PageID, error)
}

// SwapperFactory opens swappers for mapped files.
type SwapperFactory interface {
	CreatePageSwapper(path string, filePageSize int, create bool) (PageSwapper, error)
}

// lastPageIDForSize converts a file length into the id of its last page.
func lastPageIDForSize(size int64, pageSize int) pagemanager.PageID {
	if size <= 0 {
		return pagemanager.UnboundPageID
	}
	return pagemanager.PageID((size+int64(pageSize)-1)/int64(pageSize) - 1)
}
