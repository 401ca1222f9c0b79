package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrIO               = errors.New("i/o error")
	ErrFileNotFound     = errors.New("file not found")
	ErrSwapperClosed    = errors.New("page swapper is closed")
	ErrInvalidPageSize  = errors.New("invalid file page size")
	ErrPageSizeMismatch = errors.New("file is already mapped with a different page size")
	ErrInvalidConfig    = errors.New("invalid page cache configuration")
	ErrInvalidPageID    = errors.New("invalid page id")

	// Lifecycle errors.
	ErrCacheClosed   = errors.New("page cache is closed")
	ErrFileNotMapped = errors.New("file is not mapped")
	ErrCursorClosed  = errors.New("page cursor is closed")

	// ErrEvictorFailed wraps the I/O failure that stopped the background
	// eviction goroutine. Once set it is reported by every request that needs
	// a free page.
	ErrEvictorFailed = errors.New("page eviction failed")
	// ErrCacheLiveLock is returned when cooperative eviction cannot find an
	// evictable page after repeated sweeps.
	ErrCacheLiveLock = errors.New("no evictable page found, cache may be too small for the pinned working set")
)
