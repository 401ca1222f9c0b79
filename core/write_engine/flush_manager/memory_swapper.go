package flushmanager

import (
	"fmt"
	"sync"

	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
)

// memoryFile is the shared backing store of one path in a MemorySwapperFactory.
type memoryFile struct {
	mu    sync.RWMutex
	pages map[pagemanager.PageID][]byte
	last  pagemanager.PageID
}

// MemorySwapper keeps pages in a map. Data outlives the swapper: remapping
// the same path through the same factory sees earlier writes.
type MemorySwapper struct {
	path     string
	pageSize int
	file     *memoryFile
	remove   func()

	mu     sync.RWMutex
	closed bool
}

func (ms *MemorySwapper) Read(pageID pagemanager.PageID, buf []byte) (int, error) {
	if err := ms.checkOpen(); err != nil {
		return 0, err
	}
	if len(buf) > ms.pageSize {
		buf = buf[:ms.pageSize]
	}
	ms.file.mu.RLock()
	defer ms.file.mu.RUnlock()
	stored, ok := ms.file.pages[pageID]
	if !ok {
		clear(buf)
		return 0, nil
	}
	n := copy(buf, stored)
	clear(buf[n:])
	return n, nil
}

func (ms *MemorySwapper) Write(pageID pagemanager.PageID, buf []byte) (int, error) {
	if err := ms.checkOpen(); err != nil {
		return 0, err
	}
	if len(buf) > ms.pageSize {
		buf = buf[:ms.pageSize]
	}
	ms.file.mu.Lock()
	defer ms.file.mu.Unlock()
	stored, ok := ms.file.pages[pageID]
	if !ok {
		stored = make([]byte, ms.pageSize)
		ms.file.pages[pageID] = stored
	}
	n := copy(stored, buf)
	if pageID > ms.file.last {
		ms.file.last = pageID
	}
	return n, nil
}

func (ms *MemorySwapper) Evicted(pagemanager.PageID) {}

func (ms *MemorySwapper) Path() string { return ms.path }

func (ms *MemorySwapper) Force() error { return ms.checkOpen() }

func (ms *MemorySwapper) LastPageID() (pagemanager.PageID, error) {
	if err := ms.checkOpen(); err != nil {
		return pagemanager.UnboundPageID, err
	}
	ms.file.mu.RLock()
	defer ms.file.mu.RUnlock()
	return ms.file.last, nil
}

func (ms *MemorySwapper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

// CloseAndDelete closes the swapper and drops the path from its factory.
func (ms *MemorySwapper) CloseAndDelete() error {
	if err := ms.Close(); err != nil {
		return err
	}
	if ms.remove != nil {
		ms.remove()
	}
	return nil
}

func (ms *MemorySwapper) checkOpen() error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.closed {
		return fmt.Errorf("%w: %s", ErrSwapperClosed, ms.path)
	}
	return nil
}

// MemorySwapperFactory hands out MemorySwappers over a per-path store.
type MemorySwapperFactory struct {
	mu    sync.Mutex
	files map[string]*memoryFile
}

func NewMemorySwapperFactory() *MemorySwapperFactory {
	return &MemorySwapperFactory{files: make(map[string]*memoryFile)}
}

func (f *MemorySwapperFactory) CreatePageSwapper(path string, filePageSize int, create bool) (PageSwapper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		file = &memoryFile{
			pages: make(map[pagemanager.PageID][]byte),
			last:  pagemanager.UnboundPageID,
		}
		f.files[path] = file
	}
	remove := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.files[path] == file {
			delete(f.files, path)
		}
	}
	return &MemorySwapper{path: path, pageSize: filePageSize, file: file, remove: remove}, nil
}

// Contents returns a copy of a stored page, or nil if it was never written.
func (f *MemorySwapperFactory) Contents(path string, pageID pagemanager.PageID) []byte {
	f.mu.Lock()
	file, ok := f.files[path]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	file.mu.RLock()
	defer file.mu.RUnlock()
	stored, ok := file.pages[pageID]
	if !ok {
		return nil
	}
	return append([]byte(nil), stored...)
}
