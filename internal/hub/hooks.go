package hub

import (
	"github.com/wanhive/hub/internal/protocol"
	"github.com/wanhive/hub/internal/watcher"
)

// Handler is the pluggable behavior a hub application provides. The
// hub core invokes these hooks from the reactor goroutine; apart from
// DoWork, implementations must not block.
type Handler interface {
	// Trap decides whether a trap-flagged message is terminal at this
	// hub. A true return consumes the message.
	Trap(m *protocol.Message) bool
	// Route stamps the destination (and any flags) on a message pulled
	// off the inbound queue.
	Route(m *protocol.Message)
	// Maintain runs once per loop iteration after message processing.
	Maintain()
	// ProcessAlarm receives timer ticks. The uid is zero for the hub's
	// own alarm singleton.
	ProcessAlarm(uid uint64, ticks uint64)
	// ProcessEvent receives event-counter values. The uid is zero for
	// the hub's own event singleton.
	ProcessEvent(uid uint64, count uint64)
	// ProcessInotification receives one filesystem event. The uid is
	// zero for the hub's own inotifier singleton.
	ProcessInotification(uid uint64, event *watcher.InotifyEvent)
	// ProcessInterrupt receives a signal number.
	ProcessInterrupt(uid uint64, signum int)
	// ProcessLogic receives a non-spurious edge event.
	ProcessLogic(uid uint64, event watcher.LogicEvent)
	// EnableWorker requests the optional worker goroutine.
	EnableWorker() bool
	// DoWork is the worker body; it runs outside the reactor goroutine
	// and may interact with the hub only through ReportEvents.
	DoWork(arg any)
	// StopWork runs after the worker goroutine has finished.
	StopWork()
}

// NopHandler provides the do-nothing defaults; applications embed it
// and override what they need.
type NopHandler struct{}

func (NopHandler) Trap(m *protocol.Message) bool { return false }
func (NopHandler) Route(m *protocol.Message) {}
func (NopHandler) Maintain() {}
func (NopHandler) ProcessAlarm(uid uint64, ticks uint64) {}
func (NopHandler) ProcessEvent(uid uint64, count uint64) {}
func (NopHandler) ProcessInotification(uid uint64, ev *watcher.InotifyEvent) {}
func (NopHandler) ProcessInterrupt(uid uint64, signum int) {}
func (NopHandler) ProcessLogic(uid uint64, event watcher.LogicEvent) {}
func (NopHandler) EnableWorker() bool { return false }
func (NopHandler) DoWork(arg any) {}
func (NopHandler) StopWork() {}
