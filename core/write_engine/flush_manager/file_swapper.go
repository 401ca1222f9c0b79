package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- FileSwapper ---

// FileSwapper stores page n of a file at byte offset n*pageSize. Reads and
// writes use positional I/O and do not serialise against each other; the
// mutex only guards the file handle against Close.
type FileSwapper struct {
	path     string
	pageSize int
	logger   *zap.Logger

	mu   sync.RWMutex
	file *os.File
}

// OpenFileSwapper opens (or, when create is set, creates) the file at path.
func OpenFileSwapper(path string, pageSize int, create bool, logger *zap.Logger) (*FileSwapper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, path, err)
	}
	logger.Debug("Opened page file", zap.String("path", path), zap.Int("page_size", pageSize))
	return &FileSwapper{
		path:     path,
		pageSize: pageSize,
		logger:   logger,
		file:     file,
	}, nil
}

// Read reads one page into buf. A page past the end of the file reads as zeros.
func (fs *FileSwapper) Read(pageID pagemanager.PageID, buf []byte) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.file == nil {
		return 0, fmt.Errorf("%w: %s", ErrSwapperClosed, fs.path)
	}
	if len(buf) > fs.pageSize {
		buf = buf[:fs.pageSize]
	}
	offset := int64(pageID) * int64(fs.pageSize)
	n, err := fs.file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	clear(buf[n:])
	return n, nil
}

// Write writes buf at the page's offset.
func (fs *FileSwapper) Write(pageID pagemanager.PageID, buf []byte) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.file == nil {
		return 0, fmt.Errorf("%w: %s", ErrSwapperClosed, fs.path)
	}
	if len(buf) > fs.pageSize {
		buf = buf[:fs.pageSize]
	}
	offset := int64(pageID) * int64(fs.pageSize)
	n, err := fs.file.WriteAt(buf, offset)
	if err != nil {
		return n, fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return n, nil
}

func (fs *FileSwapper) Evicted(pagemanager.PageID) {}

func (fs *FileSwapper) Path() string { return fs.path }

// Force flushes all written pages to stable storage.
func (fs *FileSwapper) Force() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.file == nil {
		return fmt.Errorf("%w: %s", ErrSwapperClosed, fs.path)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, fs.path, err)
	}
	return nil
}

func (fs *FileSwapper) LastPageID() (pagemanager.PageID, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.file == nil {
		return pagemanager.UnboundPageID, fmt.Errorf("%w: %s", ErrSwapperClosed, fs.path)
	}
	fi, err := fs.file.Stat()
	if err != nil {
		return pagemanager.UnboundPageID, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
	}
	return lastPageIDForSize(fi.Size(), fs.pageSize), nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (fs *FileSwapper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	syncErr := fs.file.Sync()
	closeErr := fs.file.Close()
	fs.file = nil
	if syncErr != nil {
		return fmt.Errorf("%w: syncing %s on close: %v", ErrIO, fs.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, fs.path, closeErr)
	}
	fs.logger.Debug("Closed page file", zap.String("path", fs.path))
	return nil
}

// CloseAndDelete closes the file without syncing it and removes it.
func (fs *FileSwapper) CloseAndDelete() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file != nil {
		if err := fs.file.Close(); err != nil {
			fs.logger.Warn("Failed to close page file before deleting it", zap.String("path", fs.path), zap.Error(err))
		}
		fs.file = nil
	}
	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: deleting %s: %v", ErrIO, fs.path, err)
	}
	fs.logger.Debug("Deleted page file", zap.String("path", fs.path))
	return nil
}

// FileSwapperFactory opens FileSwappers. Relative paths are resolved
// against BaseDir when it is set.
type FileSwapperFactory struct {
	BaseDir string
	Logger  *zap.Logger
}

func NewFileSwapperFactory(baseDir string, logger *zap.Logger) *FileSwapperFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSwapperFactory{BaseDir: baseDir, Logger: logger.Named("swapper")}
}

func (f *FileSwapperFactory) CreatePageSwapper(path string, filePageSize int, create bool) (PageSwapper, error) {
	if f.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.BaseDir, path)
	}
	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating directory for %s: %v", ErrIO, path, err)
		}
	}
	return OpenFileSwapper(path, filePageSize, create, f.Logger)
}
