// Package pagecache implements a fixed-capacity page cache shared by many
// files. Pages are evicted with a CLOCK sweep running on a background
// goroutine and are latched per page while pinned.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MapOption adjusts how Map opens a file.
type MapOption func(*mapOptions)

type mapOptions struct {
	create      bool
	anyPageSize bool
}

// CreateIfNotExists creates the backing file when it is missing.
func CreateIfNotExists() MapOption { return func(o *mapOptions) { o.create = true } }

// AnyPageSize accepts an existing mapping whatever its page size.
func AnyPageSize() MapOption { return func(o *mapOptions) { o.anyPageSize = true } }

// PageCache maps files into a shared pool of page slots.
type PageCache struct {
	id      string
	cfg     Config
	logger  *zap.Logger
	table   *PageTable
	factory flushmanager.SwapperFactory

	mu            sync.Mutex
	mappings      map[string]*PagedFile
	nextSwapperID uint32
	closed        bool
}

// New allocates the slot arena and starts the eviction sweeper when enabled.
// monitor and logger may be nil.
func New(cfg Config, factory flushmanager.SwapperFactory, monitor Monitor, logger *zap.Logger) (*PageCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: swapper factory is required", flushmanager.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if monitor == nil {
		monitor = NoopMonitor{}
	}
	id := uuid.NewString()
	logger = logger.Named("pagecache").With(zap.String("cache_id", id))

	c := &PageCache{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		factory:  factory,
		mappings: make(map[string]*PagedFile),
	}
	c.table = newPageTable(cfg, monitor, logger)
	logger.Info("Page cache initialized",
		zap.Int("max_pages", cfg.MaxPages),
		zap.Int("page_size", cfg.PageSize),
		zap.Float64("utilization_ratio", cfg.UtilizationRatio),
		zap.Bool("eviction_thread", cfg.EnableEvictionThread))
	return c, nil
}

func (c *PageCache) ID() string          { return c.id }
func (c *PageCache) PageSize() int       { return c.cfg.PageSize }
func (c *PageCache) MaxCachedPages() int { return c.cfg.MaxPages }
func (c *PageCache) FreePages() int64    { return c.table.free.len() }
func (c *PageCache) LoadedPages() int64  { return c.table.loaded.Load() }
func (c *PageCache) Stats() Stats        { return c.table.snapshot() }

// Map maps path with the given file page size. Mapping an already mapped
// path returns the same PagedFile and adds a reference; each Map must be
// matched by a PagedFile.Close.
func (c *PageCache) Map(path string, filePageSize int, opts ...MapOption) (*PagedFile, error) {
	var o mapOptions
	for _, opt := range opts {
		opt(&o)
	}
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, flushmanager.ErrCacheClosed
	}

	if f, ok := c.mappings[path]; ok {
		if !o.anyPageSize && f.pageSize != filePageSize {
			return nil, fmt.Errorf("%w: %s is mapped with page size %d, requested %d",
				flushmanager.ErrPageSizeMismatch, path, f.pageSize, filePageSize)
		}
		f.refCount++
		return f, nil
	}

	if filePageSize < MinFilePageSize || filePageSize > c.cfg.PageSize {
		return nil, fmt.Errorf("%w: %d is outside [%d, %d]", flushmanager.ErrInvalidPageSize,
			filePageSize, MinFilePageSize, c.cfg.PageSize)
	}
	swapper, err := c.factory.CreatePageSwapper(path, filePageSize, o.create)
	if err != nil {
		return nil, err
	}
	lastPageID, err := swapper.LastPageID()
	if err != nil {
		_ = swapper.Close()
		return nil, err
	}
	c.nextSwapperID++
	f := newPagedFile(c, swapper, c.nextSwapperID, path, filePageSize, lastPageID)
	c.table.files.Store(f.swapperID, f)
	c.mappings[path] = f
	f.logger.Info("Mapped file",
		zap.Int("file_page_size", filePageSize),
		zap.Int64("last_page_id", int64(lastPageID)))
	return f, nil
}

// GetExistingMapping returns the current mapping of path, adding a reference
// to it, or false if the path is not mapped.
func (c *PageCache) GetExistingMapping(path string) (*PagedFile, bool, error) {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, flushmanager.ErrCacheClosed
	}
	f, ok := c.mappings[path]
	if !ok {
		return nil, false, nil
	}
	f.refCount++
	return f, true, nil
}

// ListExistingMappings returns the mapped files ordered by path. No
// references are added.
func (c *PageCache) ListExistingMappings() []*PagedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	files := make([]*PagedFile, 0, len(c.mappings))
	for _, f := range c.mappings {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files
}

func (c *PageCache) unmap(f *PagedFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.refCount == 0 {
		return nil
	}
	f.refCount--
	if f.refCount > 0 {
		return nil
	}
	delete(c.mappings, f.path)
	return f.unmapLocked()
}

// Flush writes back every dirty page in the cache without forcing files.
func (c *PageCache) Flush(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.table.flushAll(ctx)
}

// FlushAndForce flushes and forces all mapped files in parallel. Every file
// is attempted; the first failure is returned, except that a failed sweeper
// takes precedence.
func (c *PageCache) FlushAndForce(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	var g errgroup.Group
	for _, f := range c.ListExistingMappings() {
		g.Go(func() error {
			err := f.FlushAndForce(ctx)
			if errors.Is(err, flushmanager.ErrFileNotMapped) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	if evErr := c.table.evictorFailure(); evErr != nil {
		return evErr
	}
	return err
}

// Close stops the sweeper and unmaps every file regardless of outstanding
// references, flushing dirty pages. Closing twice is a no-op.
func (c *PageCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.table.close()

	var firstErr error
	paths := make([]string, 0, len(c.mappings))
	for path := range c.mappings {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		f := c.mappings[path]
		f.logger.Warn("Closing page cache with file still mapped", zap.Int("references", f.refCount))
		f.refCount = 0
		if err := f.unmapLocked(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	clear(c.mappings)

	if evErr := c.table.evictorFailure(); evErr != nil {
		firstErr = evErr
	}
	c.logger.Info("Page cache closed", zap.Any("stats", c.table.snapshot()))
	return firstErr
}

func (c *PageCache) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return flushmanager.ErrCacheClosed
	}
	return nil
}
