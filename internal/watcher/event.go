package watcher

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Event is a 64-bit event counter. In accumulator mode a read returns
// and clears the running total; in semaphore mode each read decrements
// the counter by one. The write side is the single thread-safe bridge
// a worker may use to stimulate the reactor.
type Event struct {
	Base
	semaphore bool
}

// NewEvent creates an event counter in the requested mode.
func NewEvent(semaphore bool) (*Event, error) {
	flags := unix.EFD_NONBLOCK | unix.EFD_CLOEXEC
	if semaphore {
		flags |= unix.EFD_SEMAPHORE
	}
	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, sysErr("eventfd", err)
	}
	e := &Event{semaphore: semaphore}
	e.init(fd)
	return e, nil
}

// Semaphore reports the counter mode.
func (e *Event) Semaphore() bool { return e.semaphore }

// Read returns the pending event value, zero when none is pending.
func (e *Event) Read() (uint64, error) {
	var buf [8]byte
	for {
		n, err := unix.Read(e.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, nil
			}
			if err == unix.EINTR {
				continue
			}
			return 0, sysErr("read event", err)
		}
		if n != 8 {
			return 0, nil
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

// Write adds to the event counter, waking the reactor. Safe to call
// from outside the reactor goroutine.
func (e *Event) Write(count uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], count)
	for {
		_, err := unix.Write(e.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return sysErr("write event", err)
	}
}
