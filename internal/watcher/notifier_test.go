package watcher

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEventAccumulator(t *testing.T) {
	e, err := NewEvent(false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })
	assert.False(t, e.Semaphore())

	require.NoError(t, e.Write(3))
	require.NoError(t, e.Write(2))

	count, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count, "accumulator returns the running total")

	count, err = e.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count, "drained")
}

func TestEventSemaphore(t *testing.T) {
	e, err := NewEvent(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })

	require.NoError(t, e.Write(2))
	for i := 0; i < 2; i++ {
		count, err := e.Read()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), count, "semaphore decrements one at a time")
	}
	count, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestAlarmTicks(t *testing.T) {
	a, err := NewAlarm(10, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop() })
	assert.Equal(t, uint(10), a.Expiration())
	assert.Equal(t, uint(10), a.Interval())

	count, err := a.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count, "not expired yet")

	time.Sleep(35 * time.Millisecond)
	count, err = a.Read()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, uint64(1))
}

func TestInotifierEvents(t *testing.T) {
	dir := t.TempDir()
	n, err := NewInotifier()
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })

	wd, err := n.Add(dir, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "probe"), []byte("x"), 0o600))

	var got *InotifyEvent
	require.Eventually(t, func() bool {
		if err := n.Read(); err != nil {
			return false
		}
		got = n.Next()
		return got != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(wd), got.WD)
	assert.Equal(t, "probe", got.Name)
	assert.NotZero(t, got.Mask&(unix.IN_CREATE|unix.IN_CLOSE_WRITE))

	require.NoError(t, n.Remove(wd))
}

func TestInotifierUnknownWatch(t *testing.T) {
	n, err := NewInotifier()
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	assert.Error(t, n.Remove(12345))
}

func TestInterruptBridge(t *testing.T) {
	in, err := NewInterrupt(syscall.SIGUSR1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = in.Stop() })

	signum, err := in.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, signum, "nothing pending")

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	require.Eventually(t, func() bool {
		signum, err := in.Read()
		return err == nil && signum == int(syscall.SIGUSR1)
	}, time.Second, 5*time.Millisecond)
}

func TestLogicEdges(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	l, err := NewLogic(fds[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Stop() })

	ev, err := l.Update()
	require.NoError(t, err)
	assert.Equal(t, EdgeNone, ev.Type, "spurious wake-up")

	_, err = unix.Write(fds[1], []byte{1})
	require.NoError(t, err)
	ev, err = l.Update()
	require.NoError(t, err)
	assert.Equal(t, EdgeRising, ev.Type)

	_, err = unix.Write(fds[1], []byte{2})
	require.NoError(t, err)
	ev, err = l.Update()
	require.NoError(t, err)
	assert.Equal(t, EdgeFalling, ev.Type)
}

func TestWatcherDefaults(t *testing.T) {
	e, err := NewEvent(false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })

	assert.GreaterOrEqual(t, e.UID(), uint64(1)<<63, "auto-assigned UID")
	assert.False(t, e.TestGroup(0), "group zero never conflicts")
	e.SetGroup(5)
	assert.True(t, e.TestGroup(5))
	assert.False(t, e.TestGroup(4))
	assert.False(t, e.Publish(nil), "only sockets accept messages")
	assert.False(t, e.HasTimedOut(time.Hour))
	assert.True(t, e.HasTimedOut(0))
}
