package pagemanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	writes map[PageID][]byte
	err    error
}

func (w *recordingWriter) Write(pageID PageID, buf []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.writes == nil {
		w.writes = make(map[PageID][]byte)
	}
	w.writes[pageID] = append([]byte(nil), buf...)
	return len(buf), nil
}

// loadedPage returns a slot bound to (swapper 1, page 7) and marked loaded.
func loadedPage(t *testing.T) *Page {
	t.Helper()
	p := NewPage(0, 16, DefaultMaxUsage)
	l := p.LockExclusive()
	l.Bind(1, 7)
	l.MarkLoaded()
	l.Release()
	p.IncrementUsage()
	return p
}

func TestPage_PinVerifiesBinding(t *testing.T) {
	p := loadedPage(t)
	require.Equal(t, int32(1), p.Usage())

	l, ok := p.Pin(1, 7, LockShared)
	require.True(t, ok)
	require.Equal(t, PageID(7), l.PageID())
	require.False(t, p.IsDirty())
	l.Release()
	require.Equal(t, int32(2), p.Usage())

	_, ok = p.Pin(1, 8, LockShared)
	require.False(t, ok)
	_, ok = p.Pin(2, 7, LockExclusive)
	require.False(t, ok)

	l, ok = p.Pin(1, 7, LockExclusive)
	require.True(t, ok)
	require.True(t, p.IsDirty(), "exclusive pins mark the slot dirty")
	l.Release()
}

func TestPage_PinTransientKeepsUsage(t *testing.T) {
	p := loadedPage(t)

	l, ok := p.PinTransient(1, 7, LockExclusive)
	require.True(t, ok)
	require.True(t, p.IsDirty())
	l.Release()
	require.Equal(t, int32(1), p.Usage())

	_, ok = p.PinTransient(1, 8, LockShared)
	require.False(t, ok)
}

func TestPage_TryLockExclusiveFailsWhileHeld(t *testing.T) {
	p := loadedPage(t)

	shared := p.LockShared()
	_, ok := p.TryLockExclusive()
	require.False(t, ok, "a reader must block eviction")
	shared.Release()

	l, ok := p.TryLockExclusive()
	require.True(t, ok)
	_, again := p.TryLockExclusive()
	require.False(t, again)
	l.Release()
}

func TestPage_UsageIsCapped(t *testing.T) {
	p := NewPage(0, 8, 3)
	for i := 0; i < 10; i++ {
		p.IncrementUsage()
	}
	require.Equal(t, int32(3), p.Usage())
	require.False(t, p.DecrementUsage())
	require.False(t, p.DecrementUsage())
	require.False(t, p.DecrementUsage())
	require.True(t, p.DecrementUsage())
	require.Equal(t, int32(0), p.Usage())
}

func TestPage_FlushWritesDirtyPrefix(t *testing.T) {
	p := loadedPage(t)
	l, ok := p.Pin(1, 7, LockExclusive)
	require.True(t, ok)
	copy(l.Data(), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})

	failing := &recordingWriter{err: errors.New("disk gone")}
	require.Error(t, l.Flush(failing, 8))
	require.True(t, p.IsDirty(), "a failed flush keeps the slot dirty")

	w := &recordingWriter{}
	require.NoError(t, l.Flush(w, 8))
	require.False(t, p.IsDirty())
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, w.writes[7])

	w.writes = nil
	require.NoError(t, l.Flush(w, 8))
	require.Empty(t, w.writes, "clean slots are not written")
	l.Release()
}

func TestPage_ResetUnbinds(t *testing.T) {
	p := loadedPage(t)
	l := p.LockExclusive()
	l.Data()[3] = 42
	l.MarkDirty()
	l.Reset()
	require.False(t, p.IsLoaded())
	require.False(t, p.IsDirty())
	require.Equal(t, int32(0), p.Usage())
	require.Equal(t, NoSwapper, p.SwapperIDHint())
	require.Equal(t, UnboundPageID, l.PageID())
	require.Equal(t, make([]byte, 16), l.Data())

	// The slot can be bound again once reset.
	l.Bind(3, 1)
	l.Release()
	require.Equal(t, uint32(3), p.SwapperIDHint())
}

func TestPage_InvariantViolationsPanic(t *testing.T) {
	p := loadedPage(t)

	l := p.LockExclusive()
	require.Panics(t, func() { l.Bind(2, 2) }, "binding a bound slot")
	l.Release()

	shared := p.LockShared()
	require.Panics(t, func() { shared.Reset() })
	shared.Release()

	require.Panics(t, func() { p.lock(LockMode(9)) })
	require.Equal(t, "LockMode(9)", LockMode(9).String())
	require.Equal(t, "exclusive", LockExclusive.String())
}
