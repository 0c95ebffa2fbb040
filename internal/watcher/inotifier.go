package watcher

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultInotifyMask is the watch mask applied when a caller does not
// supply one.
const DefaultInotifyMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_CLOSE_WRITE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO

// InotifyEvent is one decoded filesystem notification.
type InotifyEvent struct {
	WD     int32
	Mask   uint32
	Cookie uint32
	Name   string
}

// Inotifier watches filesystem paths through the kernel inotify
// interface and yields decoded events one at a time.
type Inotifier struct {
	Base
	buf     [4096]byte
	pending []InotifyEvent
	next    int
}

// NewInotifier creates an inotify descriptor with no watches.
func NewInotifier() (*Inotifier, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, sysErr("inotify_init1", err)
	}
	n := &Inotifier{}
	n.init(fd)
	return n, nil
}

// Add registers a path for watching and returns its watch identifier.
// A zero mask selects the default mask.
func (n *Inotifier) Add(path string, mask uint32) (int, error) {
	if mask == 0 {
		mask = DefaultInotifyMask
	}
	wd, err := unix.InotifyAddWatch(n.fd, path, mask)
	if err != nil {
		return -1, sysErr("inotify_add_watch "+path, err)
	}
	return wd, nil
}

// Remove drops a watch by its identifier.
func (n *Inotifier) Remove(wd int) error {
	_, err := unix.InotifyRmWatch(n.fd, uint32(wd))
	return sysErr("inotify_rm_watch", err)
}

// Read drains the descriptor and decodes the raw event stream. The
// kernel writes inotify_event structures back to back, each followed by
// a NUL-padded name of the length given in its header.
func (n *Inotifier) Read() error {
	for {
		count, err := unix.Read(n.fd, n.buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return sysErr("read inotify", err)
		}
		if count < unix.SizeofInotifyEvent {
			return nil
		}
		offset := 0
		for offset+unix.SizeofInotifyEvent <= count {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&n.buf[offset]))
			nameLen := int(raw.Len)
			name := ""
			if nameLen > 0 {
				nameBytes := n.buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
				name = string(bytes.TrimRight(nameBytes, "\x00"))
			}
			n.pending = append(n.pending, InotifyEvent{
				WD:     raw.Wd,
				Mask:   raw.Mask,
				Cookie: raw.Cookie,
				Name:   name,
			})
			offset += unix.SizeofInotifyEvent + nameLen
		}
	}
}

// Next yields the next decoded event, nil when none remain.
func (n *Inotifier) Next() *InotifyEvent {
	if n.next >= len(n.pending) {
		n.pending = n.pending[:0]
		n.next = 0
		return nil
	}
	ev := &n.pending[n.next]
	n.next++
	return ev
}

// IsReady reports undelivered decoded events.
func (n *Inotifier) IsReady() bool { return n.next < len(n.pending) }
