// Package reactor implements the readiness multiplexer at the center of
// the hub's event loop. Watchers register their descriptors with an
// epoll instance; Poll drains readiness notifications into per-watcher
// event masks and Dispatch delivers them through the owner's handler.
// The implementation targets Linux.
package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// IO readiness bits delivered to watchers.
const (
	IORead  uint32 = 1 << 0
	IOWrite uint32 = 1 << 1
	IOClose uint32 = 1 << 2

	// IOWR requests both read and write readiness.
	IOWR = IORead | IOWrite
)

// Watcher is the capability the reactor needs from an I/O handle. The
// full watcher contract lives with the owner; the reactor only moves
// readiness bits.
type Watcher interface {
	UID() uint64
	FD() int
	Events() uint32
	SetEvents(events uint32)
	IsReady() bool
}

// Handler examines a dispatched watcher and reports whether it should
// be examined again in the next cycle.
type Handler func(w Watcher) bool

// Releaser reclaims a disabled watcher. It is the only destruction path
// out of the reactor.
type Releaser func(w Watcher)

type entry struct {
	w      Watcher
	ready  bool
	closed bool
}

// Reactor multiplexes readiness across a heterogeneous watcher set.
type Reactor struct {
	epfd        int
	maxIOEvents int
	signalAware bool

	byFD    map[int]*entry
	entries map[Watcher]*entry
	ready   []*entry

	events []unix.EpollEvent

	handle  Handler
	release Releaser
}

// New creates a reactor with the given dispatch batch size. When
// signalAware is true the reactor treats signal interruption of the
// wait as a wake-up request instead of an error; otherwise wake-up is
// descriptor-based and delivered through an attached watcher.
func New(maxIOEvents int, signalAware bool) (*Reactor, error) {
	if maxIOEvents < 4 {
		maxIOEvents = 4
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Reactor{
		epfd:        epfd,
		maxIOEvents: maxIOEvents,
		signalAware: signalAware,
		byFD:        make(map[int]*entry),
		entries:     make(map[Watcher]*entry),
		events:      make([]unix.EpollEvent, maxIOEvents),
	}, nil
}

// SetHandlers installs the dispatch handler and the release callback.
// Both must be set before the first Poll.
func (r *Reactor) SetHandlers(handle Handler, release Releaser) {
	r.handle = handle
	r.release = release
}

func toEpoll(events uint32) uint32 {
	var e uint32 = unix.EPOLLET | unix.EPOLLRDHUP
	if events&IORead != 0 {
		e |= unix.EPOLLIN
	}
	if events&IOWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) uint32 {
	var events uint32
	if e&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		events |= IORead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= IOWrite
	}
	if e&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		events |= IOClose
	}
	return events
}

// Add registers a watcher's descriptor for edge-triggered readiness
// notification on the given event set.
func (r *Reactor) Add(w Watcher, events uint32) error {
	if w == nil {
		return fmt.Errorf("nil watcher")
	}
	if _, found := r.entries[w]; found {
		return fmt.Errorf("watcher %d already registered", w.UID())
	}
	fd := w.FD()
	if fd >= 0 {
		ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
		}
	}
	e := &entry{w: w}
	r.entries[w] = e
	if fd >= 0 {
		r.byFD[fd] = e
	}
	return nil
}

// Contains reports whether the watcher is registered.
func (r *Reactor) Contains(w Watcher) bool {
	_, found := r.entries[w]
	return found
}

// Retain marks a watcher for re-examination in the current or next
// dispatch cycle.
func (r *Reactor) Retain(w Watcher) {
	e, found := r.entries[w]
	if !found || e.ready {
		return
	}
	e.ready = true
	r.ready = append(r.ready, e)
}

// Disable transitions a watcher to the closing state. Its descriptor is
// dropped from the epoll set immediately; the watcher itself is handed
// to the release callback during the next dispatch pass.
func (r *Reactor) Disable(w Watcher) bool {
	e, found := r.entries[w]
	if !found || e.closed {
		return false
	}
	e.closed = true
	if fd := w.FD(); fd >= 0 {
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	w.SetEvents(w.Events() | IOClose)
	if !e.ready {
		e.ready = true
		r.ready = append(r.ready, e)
	}
	return false
}

// Poll drains up to maxIOEvents readiness notifications into the
// watcher event masks. It blocks only when asked to and when no watcher
// is already awaiting dispatch.
func (r *Reactor) Poll(blockIfIdle bool) error {
	timeout := 0
	if blockIfIdle && len(r.ready) == 0 {
		timeout = -1
	}
	var n int
	for {
		var err error
		n, err = unix.EpollWait(r.epfd, r.events, timeout)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			if r.signalAware {
				// A signal is a legitimate wake-up request.
				return nil
			}
			// Wake-up is descriptor-based; keep waiting.
			continue
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		e, found := r.byFD[int(r.events[i].Fd)]
		if !found || e.closed {
			continue
		}
		// The mask is the last known readiness state: assigned, not
		// accumulated, so a stale write-readiness bit survives only
		// until the kernel reports otherwise.
		e.w.SetEvents(fromEpoll(r.events[i].Events))
		if !e.ready {
			e.ready = true
			r.ready = append(r.ready, e)
		}
	}
	return nil
}

// Dispatch delivers the pending readiness events. Watchers whose
// handler requests it are retained for the next cycle; watchers in the
// closing state are removed and released.
func (r *Reactor) Dispatch() {
	n := len(r.ready)
	for i := 0; i < n; i++ {
		e := r.ready[0]
		r.ready = r.ready[1:]
		e.ready = false
		w := e.w
		if e.closed {
			r.remove(e)
			if r.release != nil {
				r.release(w)
			}
			continue
		}
		keep := r.handle(w)
		if e.closed {
			r.remove(e)
			if r.release != nil {
				r.release(w)
			}
			continue
		}
		if keep {
			r.Retain(w)
		}
	}
}

func (r *Reactor) remove(e *entry) {
	delete(r.entries, e.w)
	if fd := e.w.FD(); fd >= 0 {
		if cur, found := r.byFD[fd]; found && cur == e {
			delete(r.byFD, fd)
		}
	}
}

// Pending returns the number of watchers awaiting dispatch.
func (r *Reactor) Pending() int { return len(r.ready) }

// Close releases the epoll instance. Registered watchers are left to
// their owner.
func (r *Reactor) Close() error {
	if r.epfd >= 0 {
		err := unix.Close(r.epfd)
		r.epfd = -1
		return err
	}
	return nil
}
