package watcher

import (
	"fmt"
	"io"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/wanhive/hub/internal/pool"
	"github.com/wanhive/hub/internal/protocol"
	"github.com/wanhive/hub/internal/ring"
)

// Socket type bits.
const (
	// TypeListener marks a listening socket.
	TypeListener uint32 = 1 << 0
	// TypeOverlay marks a connection to a peer hub.
	TypeOverlay uint32 = 1 << 1
	// TypePriority marks a connection with reserved-headroom rights.
	TypePriority uint32 = 1 << 2
)

// OutQueueSize is the array capacity of the per-socket output queue.
// The configurable limit is always below it.
const OutQueueSize = 1024

// stagingSize bounds the inbound staging buffer: enough for one maximal
// frame plus a partial successor.
const stagingSize = 2 * protocol.MTU

// Socket is a pooled stream endpoint: a listener accepting new
// connections or a data connection feeding decoded frames into the hub
// and draining its bounded output queue.
type Socket struct {
	Base
	types    uint32
	pooled   bool
	unixPath string

	in []byte

	out      *ring.Queue[*protocol.Message]
	outLimit int
	wip      *protocol.Message
	wipBuf   []byte
	wipOff   int
}

func (s *Socket) open(fd int, pooled bool) {
	s.init(fd)
	s.types = 0
	s.pooled = pooled
	s.unixPath = ""
	if s.in == nil {
		s.in = make([]byte, 0, stagingSize)
	} else {
		s.in = s.in[:0]
	}
	if s.out == nil {
		s.out = ring.NewQueue[*protocol.Message](OutQueueSize)
	} else {
		s.out.Clear()
	}
	s.outLimit = OutQueueSize - 1
	s.wip = nil
	s.wipBuf = nil
	s.wipOff = 0
}

// NewListener creates a listening socket on a TCP port or, when
// unixDomain is set, a Unix-domain path.
func NewListener(service string, backlog int, unixDomain bool) (*Socket, error) {
	if backlog <= 0 {
		backlog = 128
	}
	s := &Socket{}
	if unixDomain {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return nil, sysErr("socket", err)
		}
		_ = unix.Unlink(service)
		if err := unix.Bind(fd, &unix.SockaddrUnix{Name: service}); err != nil {
			_ = unix.Close(fd)
			return nil, sysErr("bind "+service, err)
		}
		if err := unix.Listen(fd, backlog); err != nil {
			_ = unix.Close(fd)
			return nil, sysErr("listen", err)
		}
		s.open(fd, false)
		s.unixPath = service
	} else {
		port, err := strconv.Atoi(service)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid service port %q", service)
		}
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return nil, sysErr("socket", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return nil, sysErr("setsockopt", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
			_ = unix.Close(fd)
			return nil, sysErr("bind :"+service, err)
		}
		if err := unix.Listen(fd, backlog); err != nil {
			_ = unix.Close(fd)
			return nil, sysErr("listen", err)
		}
		s.open(fd, false)
	}
	s.types = TypeListener
	return s, nil
}

// NewConnected wraps an already-connected descriptor, for outgoing
// overlay connections established by an external transport provider.
// The descriptor is switched to non-blocking mode.
func NewConnected(fd int, uid uint64) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, sysErr("set nonblock", err)
	}
	s := &Socket{}
	s.open(fd, false)
	s.SetUID(uid)
	return s, nil
}

// IsType reports whether any of the given type bits is set.
func (s *Socket) IsType(types uint32) bool { return s.types&types != 0 }

// SetType raises socket type bits. Overlay and priority promotions are
// mirrored into the watcher flag word, where the admission and throttle
// paths test them.
func (s *Socket) SetType(types uint32) {
	s.types |= types
	if types&TypeOverlay != 0 {
		s.SetFlags(FlagOverlay)
	}
	if types&TypePriority != 0 {
		s.SetFlags(FlagPriority)
	}
}

// Pooled reports whether the socket belongs to the connection pool.
func (s *Socket) Pooled() bool { return s.pooled }

// Accept takes one pending connection off a listening socket,
// allocating the endpoint from the connection pool. It returns
// (nil, nil) when the kernel reports no connection waiting.
func (s *Socket) Accept(sockets *pool.Pool[Socket]) (*Socket, error) {
	nfd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, sysErr("accept", err)
	}
	conn := sockets.Get()
	if conn == nil {
		_ = unix.Close(nfd)
		return nil, fmt.Errorf("connection pool exhausted")
	}
	conn.open(nfd, true)
	return conn, nil
}

// Read drains the kernel receive buffer into the staging area. It stops
// at the staging limit so decoded-frame backpressure propagates to the
// peer. io.EOF is returned when the peer has closed the stream.
func (s *Socket) Read() error {
	for len(s.in) < cap(s.in) {
		n, err := unix.Read(s.fd, s.in[len(s.in):cap(s.in)])
		if n > 0 {
			s.in = s.in[:len(s.in)+n]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return sysErr("read", err)
		}
		if n == 0 {
			return io.EOF
		}
	}
	return nil
}

// Fetch decodes the next complete frame from the staging area into a
// pooled message. It returns (nil, nil) when no complete frame is
// staged or the message pool is exhausted, and an error when the stream
// is corrupt.
func (s *Socket) Fetch(messages *pool.Pool[protocol.Message]) (*protocol.Message, error) {
	length, ok, err := protocol.PeekLength(s.in)
	if err != nil {
		return nil, err
	}
	if !ok || len(s.in) < int(length) {
		return nil, nil
	}
	m := messages.Get()
	if m == nil {
		return nil, nil
	}
	m.Reset()
	if err := m.Unpack(s.in[:length]); err != nil {
		messages.Put(m)
		return nil, err
	}
	s.in = append(s.in[:0], s.in[length:]...)
	return m, nil
}

// IsReady reports whether a complete frame is staged for decoding.
func (s *Socket) IsReady() bool {
	length, ok, err := protocol.PeekLength(s.in)
	return err == nil && ok && len(s.in) >= int(length)
}

// SetOutputQueueLimit caps the output queue below its array capacity.
func (s *Socket) SetOutputQueueLimit(limit int) {
	if limit >= OutQueueSize {
		limit = OutQueueSize - 1
	}
	if limit < 0 {
		limit = 0
	}
	s.outLimit = limit
}

// OutputQueueLimit returns the effective queue cap.
func (s *Socket) OutputQueueLimit() int { return s.outLimit }

// Publish appends a message to the output queue, reporting false when
// the queue has reached its limit.
func (s *Socket) Publish(m *protocol.Message) bool {
	if s.out == nil || m == nil {
		return false
	}
	queued := s.out.ReadSpace()
	if s.wip != nil {
		queued++
	}
	if queued >= s.outLimit || !s.out.Put(m) {
		return false
	}
	s.SetFlags(FlagOut)
	return true
}

// Flush writes queued frames to the socket. Partial writes keep their
// position; fully-written messages are handed to recycle. The out flag
// is lowered once the queue is empty.
func (s *Socket) Flush(recycle func(*protocol.Message)) error {
	for {
		if s.wip == nil {
			m, ok := s.out.Get()
			if !ok {
				break
			}
			s.wip = m
			s.wipBuf = m.Pack()
			s.wipOff = 0
		}
		n, err := unix.Write(s.fd, s.wipBuf[s.wipOff:])
		if n > 0 {
			s.wipOff += n
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return sysErr("write", err)
		}
		if s.wipOff == len(s.wipBuf) {
			done := s.wip
			s.wip = nil
			s.wipBuf = nil
			s.wipOff = 0
			recycle(done)
		}
	}
	if s.wip == nil && s.out.IsEmpty() {
		s.ClearFlags(FlagOut)
	}
	return nil
}

// HasOutput reports undelivered outbound frames.
func (s *Socket) HasOutput() bool {
	return s.wip != nil || (s.out != nil && !s.out.IsEmpty())
}

// DrainOutput discards all queued frames through recycle without
// writing them. Used on the destruction path.
func (s *Socket) DrainOutput(recycle func(*protocol.Message)) {
	if s.wip != nil {
		recycle(s.wip)
		s.wip = nil
		s.wipBuf = nil
		s.wipOff = 0
	}
	if s.out != nil {
		for {
			m, ok := s.out.Get()
			if !ok {
				break
			}
			recycle(m)
		}
	}
	s.ClearFlags(FlagOut)
}

// Stop closes the descriptor, removing the bound path for Unix-domain
// listeners.
func (s *Socket) Stop() error {
	if s.unixPath != "" {
		_ = unix.Unlink(s.unixPath)
		s.unixPath = ""
	}
	return s.closeFD()
}
