package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	"go.uber.org/zap/zaptest"
)

func setupShell(t *testing.T) (*shell, *bytes.Buffer, *flushmanager.MemorySwapperFactory) {
	t.Helper()
	cfg := pagecache.DefaultConfig()
	cfg.MaxPages = 4
	cfg.PageSize = 64
	factory := flushmanager.NewMemorySwapperFactory()
	cache, err := pagecache.New(cfg, factory, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	out := &bytes.Buffer{}
	sh := newShell(cache, out)
	t.Cleanup(func() { _ = sh.close() })
	return sh, out, factory
}

// run executes one command line and returns what it printed.
func run(sh *shell, out *bytes.Buffer, line string) string {
	out.Reset()
	sh.processCommand(strings.Fields(line))
	return out.String()
}

func TestShell_WriteReadFlush(t *testing.T) {
	sh, out, factory := setupShell(t)

	require.Contains(t, run(sh, out, "map notes.db 32"), "Mapped notes.db (page size 32, last page -1)")
	require.Equal(t, "OK\n", run(sh, out, "write notes.db 1 4 hello world"))
	require.Contains(t, run(sh, out, "read notes.db 1 4 11"), `"hello world"`)
	require.Equal(t, "OK\n", run(sh, out, "putlong notes.db 0 8 -42"))
	require.Equal(t, "-42\n", run(sh, out, "getlong notes.db 0 8"))
	require.Contains(t, run(sh, out, "files"), "notes.db\tpage size 32\tlast page 1")

	require.Equal(t, "Flushed notes.db\n", run(sh, out, "flush notes.db"))
	stored := factory.Contents("notes.db", 1)
	require.Equal(t, "hello world", string(stored[4:15]))
	require.Equal(t, "Flushed all files.\n", run(sh, out, "flush"))
	require.Contains(t, run(sh, out, "stats"), "pages: 4 max, 2 loaded, 2 free")

	require.Equal(t, "Unmapped notes.db\n", run(sh, out, "unmap notes.db"))
	require.Equal(t, "No files mapped.\n", run(sh, out, "files"))
}

func TestShell_Errors(t *testing.T) {
	sh, out, _ := setupShell(t)

	require.Contains(t, run(sh, out, "read missing.db 0"), "missing.db is not mapped")
	require.Contains(t, run(sh, out, "map tiny.db 4"), "invalid file page size")
	require.Contains(t, run(sh, out, "map data.db"), "page size 64")
	require.Contains(t, run(sh, out, "map data.db"), "already mapped")
	require.Contains(t, run(sh, out, "write data.db 0 60 too long"), "does not fit")
	require.Contains(t, run(sh, out, "getlong data.db 0 60"), "outside the page")
	require.Contains(t, run(sh, out, "getlong data.db x 0"), "invalid page id")
	require.Contains(t, run(sh, out, "bogus"), "Unknown command")
	require.Contains(t, run(sh, out, "help"), "putlong <file> <pageId> <offset> <value>")
	require.True(t, sh.processCommand([]string{"quit"}))
}
