package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
)

// shell runs CLI commands against one page cache.
type shell struct {
	cache *pagecache.PageCache
	out   io.Writer
	files map[string]*pagecache.PagedFile
}

func newShell(cache *pagecache.PageCache, out io.Writer) *shell {
	return &shell{cache: cache, out: out, files: make(map[string]*pagecache.PagedFile)}
}

// processCommand handles a single command and reports whether the shell
// should exit.
func (s *shell) processCommand(args []string) (quit bool) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Error: No command provided.")
		return false
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "map":
		err = s.mapFile(args[1:])
	case "unmap":
		err = s.unmapFile(args[1:])
	case "files":
		s.listFiles()
	case "write":
		err = s.write(args[1:])
	case "read":
		err = s.read(args[1:])
	case "putlong":
		err = s.putLong(args[1:])
	case "getlong":
		err = s.getLong(args[1:])
	case "flush":
		err = s.flush(args[1:])
	case "stats":
		s.printStats()
	case "help":
		s.printHelp()
	case "exit", "quit":
		fmt.Fprintln(s.out, "Exiting GojoCache CLI.")
		return true
	default:
		fmt.Fprintln(s.out, "Error: Unknown command. Type 'help' for a list of commands.")
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  map <file> [pageSize]")
	fmt.Fprintln(s.out, "  unmap <file>")
	fmt.Fprintln(s.out, "  files")
	fmt.Fprintln(s.out, "  write <file> <pageId> <offset> <text>")
	fmt.Fprintln(s.out, "  read <file> <pageId> [offset] [length]")
	fmt.Fprintln(s.out, "  putlong <file> <pageId> <offset> <value>")
	fmt.Fprintln(s.out, "  getlong <file> <pageId> <offset>")
	fmt.Fprintln(s.out, "  flush [file]")
	fmt.Fprintln(s.out, "  stats")
	fmt.Fprintln(s.out, "  help")
	fmt.Fprintln(s.out, "  exit / quit")
}

func (s *shell) mapFile(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("map requires a file")
	}
	pageSize := s.cache.PageSize()
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid page size %q", args[1])
		}
		pageSize = n
	}
	if _, ok := s.files[args[0]]; ok {
		return fmt.Errorf("%s is already mapped", args[0])
	}
	f, err := s.cache.Map(args[0], pageSize, pagecache.CreateIfNotExists())
	if err != nil {
		return err
	}
	s.files[args[0]] = f
	fmt.Fprintf(s.out, "Mapped %s (page size %d, last page %d)\n", f.Path(), f.PageSize(), f.LastPageID())
	return nil
}

func (s *shell) unmapFile(args []string) error {
	f, err := s.file(args)
	if err != nil {
		return err
	}
	delete(s.files, args[0])
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Unmapped %s\n", f.Path())
	return nil
}

func (s *shell) listFiles() {
	mappings := s.cache.ListExistingMappings()
	if len(mappings) == 0 {
		fmt.Fprintln(s.out, "No files mapped.")
		return
	}
	for _, f := range mappings {
		fmt.Fprintf(s.out, "%s\tpage size %d\tlast page %d\n", f.Path(), f.PageSize(), f.LastPageID())
	}
}

func (s *shell) write(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("write requires <file> <pageId> <offset> <text>")
	}
	return s.withCursor(args, pagemanager.LockExclusive, func(c *pagecache.PageCursor, offset int) error {
		c.SetOffset(offset)
		c.PutBytes([]byte(strings.Join(args[3:], " ")))
		if c.CheckAndClearBoundsFlag() {
			return fmt.Errorf("text does not fit in page at offset %d", offset)
		}
		fmt.Fprintln(s.out, "OK")
		return nil
	})
}

func (s *shell) read(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("read requires <file> <pageId>")
	}
	length := 32
	if len(args) > 3 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid length %q", args[3])
		}
		length = n
	}
	return s.withCursor(args, pagemanager.LockShared, func(c *pagecache.PageCursor, offset int) error {
		length = min(length, c.File().PageSize()-offset)
		buf := make([]byte, max(length, 0))
		c.SetOffset(offset)
		c.GetBytes(buf)
		if c.CheckAndClearBoundsFlag() {
			return fmt.Errorf("offset %d is outside the page", offset)
		}
		fmt.Fprintf(s.out, "% x\n%q\n", buf, strings.TrimRight(string(buf), "\x00"))
		return nil
	})
}

func (s *shell) putLong(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("putlong requires <file> <pageId> <offset> <value>")
	}
	v, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[3])
	}
	return s.withCursor(args, pagemanager.LockExclusive, func(c *pagecache.PageCursor, offset int) error {
		c.PutLongAt(offset, v)
		if c.CheckAndClearBoundsFlag() {
			return fmt.Errorf("offset %d is outside the page", offset)
		}
		fmt.Fprintln(s.out, "OK")
		return nil
	})
}

func (s *shell) getLong(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("getlong requires <file> <pageId> <offset>")
	}
	return s.withCursor(args, pagemanager.LockShared, func(c *pagecache.PageCursor, offset int) error {
		v := c.GetLongAt(offset)
		if c.CheckAndClearBoundsFlag() {
			return fmt.Errorf("offset %d is outside the page", offset)
		}
		fmt.Fprintln(s.out, v)
		return nil
	})
}

func (s *shell) flush(args []string) error {
	ctx := context.Background()
	if len(args) == 0 {
		if err := s.cache.FlushAndForce(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Flushed all files.")
		return nil
	}
	f, err := s.file(args)
	if err != nil {
		return err
	}
	if err := f.FlushAndForce(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Flushed %s\n", f.Path())
	return nil
}

func (s *shell) printStats() {
	st := s.cache.Stats()
	fmt.Fprintf(s.out, "pages: %d max, %d loaded, %d free\n", st.MaxPages, st.LoadedPages, st.FreePages)
	fmt.Fprintf(s.out, "faults: %d  hits: %d  evictions: %d\n", st.Faults, st.Hits, st.Evictions)
	fmt.Fprintf(s.out, "flushes: %d  flush failures: %d\n", st.Flushes, st.FlushFailures)
}

// withCursor pins <pageId> of <file> (args[0], args[1]) and passes the
// optional offset in args[2] to fn.
func (s *shell) withCursor(args []string, mode pagemanager.LockMode, fn func(*pagecache.PageCursor, int) error) error {
	f, err := s.file(args)
	if err != nil {
		return err
	}
	pageID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || pageID < 0 {
		return fmt.Errorf("invalid page id %q", args[1])
	}
	offset := 0
	if len(args) > 2 {
		offset, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid offset %q", args[2])
		}
	}
	c, err := f.Pin(pagemanager.PageID(pageID), mode)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c, offset)
}

func (s *shell) file(args []string) (*pagecache.PagedFile, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("a file argument is required")
	}
	f, ok := s.files[args[0]]
	if !ok {
		return nil, fmt.Errorf("%s is not mapped, use 'map %s' first", args[0], args[0])
	}
	return f, nil
}

func (s *shell) close() error {
	clear(s.files)
	return s.cache.Close()
}
