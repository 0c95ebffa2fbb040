package watcher

import (
	"golang.org/x/sys/unix"
)

// LogicEdge is the direction of a logic-level transition.
type LogicEdge uint8

const (
	// EdgeNone marks a spurious wake-up with no transition.
	EdgeNone LogicEdge = iota
	// EdgeRising marks a low-to-high transition.
	EdgeRising
	// EdgeFalling marks a high-to-low transition.
	EdgeFalling
)

// LogicEvent is one decoded edge.
type LogicEvent struct {
	Type LogicEdge
}

// Logic is an edge-triggered state input. It wraps a descriptor that
// delivers one byte per transition (1 for rising, 2 for falling), the
// convention used by external line-event bridges.
type Logic struct {
	Base
}

// NewLogic wraps an edge-event descriptor, switching it to
// non-blocking mode.
func NewLogic(fd int) (*Logic, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, sysErr("set nonblock", err)
	}
	l := &Logic{}
	l.init(fd)
	return l, nil
}

// Update reads the next edge. A spurious wake-up yields EdgeNone.
func (l *Logic) Update() (LogicEvent, error) {
	var buf [1]byte
	for {
		n, err := unix.Read(l.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return LogicEvent{Type: EdgeNone}, nil
			}
			if err == unix.EINTR {
				continue
			}
			return LogicEvent{Type: EdgeNone}, sysErr("read logic", err)
		}
		if n != 1 {
			return LogicEvent{Type: EdgeNone}, nil
		}
		switch buf[0] {
		case 1:
			return LogicEvent{Type: EdgeRising}, nil
		case 2:
			return LogicEvent{Type: EdgeFalling}, nil
		default:
			return LogicEvent{Type: EdgeNone}, nil
		}
	}
}
