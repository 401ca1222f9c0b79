package flushmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/gojocache/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

// setupFileSwapper creates a swapper over a fresh file in a temporary directory.
func setupFileSwapper(t *testing.T, pageSize int) (*FileSwapper, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pages.db")
	fs, err := OpenFileSwapper(path, pageSize, true, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs, path
}

func TestFileSwapper_ReadWrite(t *testing.T) {
	fs, path := setupFileSwapper(t, 8)

	last, err := fs.LastPageID()
	require.NoError(t, err)
	require.Equal(t, pagemanager.UnboundPageID, last)

	n, err := fs.Write(2, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.NoError(t, fs.Force())

	last, err = fs.LastPageID()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(2), last)

	buf := make([]byte, 8)
	n, err = fs.Read(2, buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(24), info.Size())
}

// TestFileSwapper_ReadPastEndIsZero verifies that reading beyond the end of
// the file fills the buffer with zeros rather than failing.
func TestFileSwapper_ReadPastEndIsZero(t *testing.T) {
	fs, _ := setupFileSwapper(t, 8)
	_, err := fs.Write(0, []byte{9, 9, 9, 9})
	require.NoError(t, err)

	buf := []byte{7, 7, 7, 7, 7, 7, 7, 7}
	n, err := fs.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{9, 9, 9, 9, 0, 0, 0, 0}, buf)

	buf = []byte{7, 7, 7, 7, 7, 7, 7, 7}
	n, err = fs.Read(5, buf)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, make([]byte, 8), buf)
}

func TestFileSwapper_ClosedSwapperFails(t *testing.T) {
	fs, _ := setupFileSwapper(t, 8)
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())

	_, err := fs.Read(0, make([]byte, 8))
	require.ErrorIs(t, err, ErrSwapperClosed)
	_, err = fs.Write(0, make([]byte, 8))
	require.ErrorIs(t, err, ErrSwapperClosed)
	require.ErrorIs(t, fs.Force(), ErrSwapperClosed)
}

func TestFileSwapperFactory_CreateAndMissing(t *testing.T) {
	dir := t.TempDir()
	factory := NewFileSwapperFactory(dir, zaptest.NewLogger(t))

	_, err := factory.CreatePageSwapper("nested/missing.db", 8, false)
	require.ErrorIs(t, err, ErrFileNotFound)

	s, err := factory.CreatePageSwapper("nested/created.db", 8, true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "nested", "created.db"), s.Path())
	require.NoError(t, s.Close())

	s, err = factory.CreatePageSwapper("nested/created.db", 8, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestMemorySwapperFactory_SharesDataPerPath(t *testing.T) {
	factory := NewMemorySwapperFactory()
	_, err := factory.CreatePageSwapper("mem.db", 8, false)
	require.ErrorIs(t, err, ErrFileNotFound)

	s, err := factory.CreatePageSwapper("mem.db", 8, true)
	require.NoError(t, err)
	_, err = s.Write(1, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Read(1, make([]byte, 8))
	require.ErrorIs(t, err, ErrSwapperClosed)

	reopened, err := factory.CreatePageSwapper("mem.db", 8, false)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := reopened.Read(1, buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)

	last, err := reopened.LastPageID()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), last)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, factory.Contents("mem.db", 1))
	require.Nil(t, factory.Contents("mem.db", 0))
}

func TestFileSwapper_CloseAndDeleteRemovesFile(t *testing.T) {
	fs, path := setupFileSwapper(t, 8)
	_, err := fs.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)

	require.NoError(t, fs.CloseAndDelete())
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Read(0, make([]byte, 8))
	require.ErrorIs(t, err, ErrSwapperClosed)

	// Deleting twice finds nothing to remove.
	require.NoError(t, fs.CloseAndDelete())
}

func TestMemorySwapper_CloseAndDeleteForgetsPath(t *testing.T) {
	factory := NewMemorySwapperFactory()
	s, err := factory.CreatePageSwapper("gone.db", 8, true)
	require.NoError(t, err)
	_, err = s.Write(0, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	require.NoError(t, err)

	require.NoError(t, s.CloseAndDelete())
	require.Nil(t, factory.Contents("gone.db", 0))
	_, err = factory.CreatePageSwapper("gone.db", 8, false)
	require.ErrorIs(t, err, ErrFileNotFound)
}
