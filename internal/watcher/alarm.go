package watcher

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Alarm is a periodic tick source backed by a monotonic timer
// descriptor. Reading it reports the tick count accumulated since the
// previous read.
type Alarm struct {
	Base
	expiration uint // ms until the first tick
	interval   uint // ms between subsequent ticks
}

// NewAlarm creates an armed alarm. A zero interval yields a one-shot
// timer.
func NewAlarm(expiration, interval uint) (*Alarm, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, sysErr("timerfd_create", err)
	}
	a := &Alarm{expiration: expiration, interval: interval}
	a.init(fd)
	if err := a.arm(); err != nil {
		_ = a.closeFD()
		return nil, err
	}
	return a, nil
}

func millisecondsToTimespec(ms uint) unix.Timespec {
	return unix.Timespec{
		Sec:  int64(ms / 1000),
		Nsec: int64(ms%1000) * 1_000_000,
	}
}

func (a *Alarm) arm() error {
	spec := unix.ItimerSpec{
		Value:    millisecondsToTimespec(a.expiration),
		Interval: millisecondsToTimespec(a.interval),
	}
	return sysErr("timerfd_settime", unix.TimerfdSettime(a.fd, 0, &spec, nil))
}

// Start re-arms the timer with its configured schedule.
func (a *Alarm) Start() error { return a.arm() }

// Expiration returns the initial delay in milliseconds.
func (a *Alarm) Expiration() uint { return a.expiration }

// Interval returns the period in milliseconds.
func (a *Alarm) Interval() uint { return a.interval }

// Read returns the number of ticks since the last read, zero when the
// timer has not fired.
func (a *Alarm) Read() (uint64, error) {
	var buf [8]byte
	for {
		n, err := unix.Read(a.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, nil
			}
			if err == unix.EINTR {
				continue
			}
			return 0, sysErr("read timer", err)
		}
		if n != 8 {
			return 0, nil
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}
