package hub

import (
	"github.com/wanhive/hub/internal/watcher"
)

// Context carries the hub parameters, immutable after configure.
type Context struct {
	// Listener
	Listen      bool
	Backlog     int
	ServiceName string
	ServiceType string

	// Reactor and notifiers
	MaxIOEvents     int
	TimerExpiration uint // ms; zero disables the alarm singleton
	TimerInterval   uint // ms
	Semaphore       bool
	Signal          bool

	// Pools and queues
	ConnectionPoolSize int
	MessagePoolSize    int
	MaxNewConnections  int
	ConnectionTimeOut  uint // ms
	CycleInputLimit    int
	OutputQueueLimit   int

	// Admission control
	Throttle         bool
	ReservedMessages int
	AllowPacketDrop  bool
	MessageTTL       uint32
	AnswerRatio      float64
	ForwardRatio     float64

	Verbosity int
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// normalize applies the documented parameter adjustments: the message
// pool keeps room for a sentinel slot, the temporary-connection window
// collapses when not listening, and the per-socket queue limit stays
// below the queue's array capacity.
func (c *Context) normalize() {
	if c.MaxIOEvents < 4 {
		c.MaxIOEvents = 4
	}
	if c.MessagePoolSize == 1 || c.MessagePoolSize == 2 {
		c.MessagePoolSize = 3
	} else if isPowerOfTwo(c.MessagePoolSize) {
		c.MessagePoolSize--
	}
	if c.Listen {
		if c.MaxNewConnections > c.ConnectionPoolSize {
			c.MaxNewConnections = c.ConnectionPoolSize
		}
	} else {
		c.MaxNewConnections = 0
	}
	if c.OutputQueueLimit > watcher.OutQueueSize-1 {
		c.OutputQueueLimit = watcher.OutQueueSize - 1
	}
	if c.ReservedMessages > c.MessagePoolSize {
		c.ReservedMessages = c.MessagePoolSize
	}
	if c.MaxNewConnections < 0 {
		c.MaxNewConnections = 0
	}
	if c.ConnectionPoolSize < 0 {
		c.ConnectionPoolSize = 0
	}
	if c.MessagePoolSize < 0 {
		c.MessagePoolSize = 0
	}
}
