package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fdWatcher struct {
	uid    uint64
	fd     int
	events uint32
}

func (w *fdWatcher) UID() uint64 { return w.uid }
func (w *fdWatcher) FD() int { return w.fd }
func (w *fdWatcher) Events() uint32 { return w.events }
func (w *fdWatcher) SetEvents(events uint32) { w.events = events }
func (w *fdWatcher) IsReady() bool { return false }

func newEventFD(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd
}

func kick(t *testing.T, fd int) {
	t.Helper()
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	require.NoError(t, err)
}

func drain(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

func TestPollDeliversReadiness(t *testing.T) {
	r, err := New(4, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	w := &fdWatcher{uid: 1, fd: newEventFD(t)}
	var handled int
	r.SetHandlers(func(x Watcher) bool {
		handled++
		assert.Same(t, Watcher(w), x)
		assert.True(t, x.Events()&IORead != 0)
		drain(w.fd)
		return false
	}, func(Watcher) {})
	require.NoError(t, r.Add(w, IORead))

	kick(t, w.fd)
	require.NoError(t, r.Poll(true))
	assert.Equal(t, 1, r.Pending())
	r.Dispatch()
	assert.Equal(t, 1, handled)

	// Edge consumed: an idle non-blocking poll delivers nothing.
	require.NoError(t, r.Poll(false))
	assert.Equal(t, 0, r.Pending())
}

func TestRetainRequeues(t *testing.T) {
	r, err := New(4, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	w := &fdWatcher{uid: 2, fd: newEventFD(t)}
	var handled int
	r.SetHandlers(func(x Watcher) bool {
		handled++
		return false
	}, func(Watcher) {})
	require.NoError(t, r.Add(w, IORead))

	r.Retain(w)
	r.Retain(w) // idempotent
	assert.Equal(t, 1, r.Pending())
	r.Dispatch()
	assert.Equal(t, 1, handled)
}

func TestHandlerKeepRetains(t *testing.T) {
	r, err := New(4, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	w := &fdWatcher{uid: 3, fd: newEventFD(t)}
	var handled int
	r.SetHandlers(func(x Watcher) bool {
		handled++
		return handled < 2
	}, func(Watcher) {})
	require.NoError(t, r.Add(w, IORead))

	r.Retain(w)
	r.Dispatch()
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, r.Pending(), "kept for the next cycle")
	r.Dispatch()
	assert.Equal(t, 2, handled)
	assert.Equal(t, 0, r.Pending())
}

func TestDisableReleases(t *testing.T) {
	r, err := New(4, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	w := &fdWatcher{uid: 4, fd: newEventFD(t)}
	var handled, released int
	r.SetHandlers(func(Watcher) bool {
		handled++
		return false
	}, func(x Watcher) {
		released++
		assert.Same(t, Watcher(w), x)
	})
	require.NoError(t, r.Add(w, IORead))

	r.Disable(w)
	assert.True(t, w.Events()&IOClose != 0)
	r.Dispatch()
	assert.Equal(t, 0, handled, "closing watchers skip the handler")
	assert.Equal(t, 1, released)
	assert.False(t, r.Contains(w))

	// Dropped from the set: retains are ignored now.
	r.Retain(w)
	assert.Equal(t, 0, r.Pending())
}

func TestDuplicateAddRejected(t *testing.T) {
	r, err := New(4, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	w := &fdWatcher{uid: 5, fd: newEventFD(t)}
	require.NoError(t, r.Add(w, IORead))
	assert.Error(t, r.Add(w, IORead))
	assert.Error(t, r.Add(nil, IORead))
}
