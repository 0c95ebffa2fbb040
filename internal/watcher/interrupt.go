package watcher

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// defaultSignals is the set bridged when the caller does not choose.
var defaultSignals = []os.Signal{
	syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
	syscall.SIGUSR1, syscall.SIGUSR2,
}

// Interrupt bridges process signals onto a descriptor so that they are
// delivered synchronously inside the reactor loop. A forwarding
// goroutine turns each delivered signal into one byte on a self-pipe;
// the read side is what the reactor watches.
type Interrupt struct {
	Base
	writeFD int
	ch      chan os.Signal
	done    chan struct{}
}

// NewInterrupt installs the bridge for the given signals, or for the
// default terminal set when none are given.
func NewInterrupt(signals ...os.Signal) (*Interrupt, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, sysErr("pipe2", err)
	}
	if len(signals) == 0 {
		signals = defaultSignals
	}
	in := &Interrupt{
		writeFD: fds[1],
		ch:      make(chan os.Signal, 8),
		done:    make(chan struct{}),
	}
	in.init(fds[0])
	signal.Notify(in.ch, signals...)
	go in.forward()
	return in, nil
}

func (in *Interrupt) forward() {
	for {
		select {
		case sig := <-in.ch:
			num, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			buf := [1]byte{byte(num)}
			_, _ = unix.Write(in.writeFD, buf[:])
		case <-in.done:
			return
		}
	}
}

// Read returns the next pending signal number, zero when none is
// pending.
func (in *Interrupt) Read() (int, error) {
	var buf [1]byte
	for {
		n, err := unix.Read(in.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, nil
			}
			if err == unix.EINTR {
				continue
			}
			return 0, sysErr("read interrupt", err)
		}
		if n != 1 {
			return 0, nil
		}
		return int(buf[0]), nil
	}
}

// Stop dismantles the bridge and closes both pipe ends.
func (in *Interrupt) Stop() error {
	signal.Stop(in.ch)
	select {
	case <-in.done:
	default:
		close(in.done)
	}
	if in.writeFD >= 0 {
		_ = unix.Close(in.writeFD)
		in.writeFD = -1
	}
	return in.closeFD()
}
