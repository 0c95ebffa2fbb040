package hub

import (
	"time"

	"github.com/wanhive/hub/internal/protocol"
	"github.com/wanhive/hub/internal/reactor"
	"github.com/wanhive/hub/internal/watcher"
)

// dispatchWatcher is the reactor's delivery entry point. Handler
// failures never propagate into the loop: the offending watcher is
// disabled and the cycle continues.
func (h *Hub) dispatchWatcher(rw reactor.Watcher) bool {
	w, ok := rw.(watcher.Watcher)
	if !ok {
		return false
	}
	return h.dispatchVariant(w)
}

func (h *Hub) dispatchVariant(w watcher.Watcher) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("watcher handler failed", "uid", w.UID(), "panic", r)
			h.Disable(w)
			keep = false
		}
	}()
	switch v := w.(type) {
	case *watcher.Socket:
		return h.handleSocket(v)
	case *watcher.Alarm:
		return h.handleAlarm(v)
	case *watcher.Event:
		return h.handleEvent(v)
	case *watcher.Inotifier:
		return h.handleInotifier(v)
	case *watcher.Interrupt:
		return h.handleInterrupt(v)
	case *watcher.Logic:
		return h.handleLogic(v)
	default:
		// A foreign watcher attached through Adapt; bounce through its
		// own callback.
		if w.TestEvents(reactor.IOClose) {
			return h.Disable(w)
		}
		return w.Callback(nil)
	}
}

func (h *Hub) handleAlarm(alarm *watcher.Alarm) bool {
	if alarm.TestEvents(reactor.IOClose) {
		return h.Disable(alarm)
	}
	var count uint64
	if alarm.TestEvents(reactor.IORead) {
		var err error
		count, err = alarm.Read()
		if err != nil {
			h.logger.Warn("alarm read failed", "uid", alarm.UID(), "error", err)
			return h.Disable(alarm)
		}
	}
	if count != 0 {
		uid := alarm.UID()
		if alarm == h.notifiers.alarm {
			uid = 0
		}
		h.handler.ProcessAlarm(uid, count)
	}
	return alarm.IsReady()
}

func (h *Hub) handleEvent(event *watcher.Event) bool {
	if event.TestEvents(reactor.IOClose) {
		return h.Disable(event)
	}
	var count uint64
	if event.TestEvents(reactor.IORead) {
		var err error
		count, err = event.Read()
		if err != nil {
			h.logger.Warn("event read failed", "uid", event.UID(), "error", err)
			return h.Disable(event)
		}
	}
	if count != 0 {
		uid := event.UID()
		if event == h.notifiers.event {
			uid = 0
		}
		h.handler.ProcessEvent(uid, count)
	}
	return event.IsReady()
}

func (h *Hub) handleInotifier(inotifier *watcher.Inotifier) bool {
	if inotifier.TestEvents(reactor.IOClose) {
		return h.Disable(inotifier)
	}
	if inotifier.TestEvents(reactor.IORead) {
		if err := inotifier.Read(); err != nil {
			h.logger.Warn("inotify read failed", "uid", inotifier.UID(), "error", err)
			return h.Disable(inotifier)
		}
	}
	for {
		event := inotifier.Next()
		if event == nil {
			break
		}
		uid := inotifier.UID()
		if inotifier == h.notifiers.inotifier {
			uid = 0
		}
		h.handler.ProcessInotification(uid, event)
	}
	return inotifier.IsReady()
}

func (h *Hub) handleInterrupt(interrupt *watcher.Interrupt) bool {
	if interrupt.TestEvents(reactor.IOClose) {
		return h.Disable(interrupt)
	}
	var signum int
	if interrupt.TestEvents(reactor.IORead) {
		var err error
		signum, err = interrupt.Read()
		if err != nil {
			h.logger.Warn("interrupt read failed", "uid", interrupt.UID(), "error", err)
			return h.Disable(interrupt)
		}
	}
	if signum > 0 {
		uid := interrupt.UID()
		if interrupt == h.notifiers.interrupt {
			uid = 0
		}
		h.handler.ProcessInterrupt(uid, signum)
	}
	return interrupt.IsReady()
}

func (h *Hub) handleLogic(logic *watcher.Logic) bool {
	if logic.TestEvents(reactor.IOClose) {
		return h.Disable(logic)
	}
	var event watcher.LogicEvent
	if logic.TestEvents(reactor.IORead) {
		var err error
		event, err = logic.Update()
		if err != nil {
			h.logger.Warn("logic read failed", "uid", logic.UID(), "error", err)
			return h.Disable(logic)
		}
	}
	if event.Type != watcher.EdgeNone {
		h.handler.ProcessLogic(logic.UID(), event)
	}
	return logic.IsReady()
}

func (h *Hub) handleSocket(socket *watcher.Socket) bool {
	if socket.TestEvents(reactor.IOClose) {
		return h.Disable(socket)
	}
	if socket.IsType(watcher.TypeListener) {
		return h.acceptConnection(socket)
	}
	return h.processConnection(socket)
}

// acceptConnection takes one pending connection off the listener,
// sweeping the temporary window first when it is full. It reports true
// while the kernel may be holding more connections.
func (h *Hub) acceptConnection(listener *watcher.Socket) bool {
	if !h.temporary.HasSpace() {
		h.PurgeTemporaryConnections(0, false)
	}
	conn, err := listener.Accept(h.sockets)
	if err != nil {
		h.logger.Warn("connection admission failed", "error", err)
		return true
	}
	if conn == nil {
		// No more connections waiting.
		return false
	}
	h.logger.Debug("new connection arrived", "uid", conn.UID())
	if !h.temporary.Put(conn.UID()) {
		h.logger.Warn("connection admission failed", "uid", conn.UID(), "error", ErrOverflow)
		h.destroyConnection(conn)
		return true
	}
	if err := h.Attach(conn, reactor.IOWR, 0); err != nil {
		// The window keeps a dangling UID; the sweep skips it.
		h.logger.Warn("connection admission failed", "uid", conn.UID(), "error", err)
		h.destroyConnection(conn)
		return true
	}
	conn.SetOutputQueueLimit(h.ctx.OutputQueueLimit)
	return true
}

func (h *Hub) destroyConnection(conn *watcher.Socket) {
	conn.DrainOutput(h.recycleMessage)
	_ = conn.Stop()
	if conn.Pooled() {
		h.sockets.Put(conn)
	}
}

// PurgeTemporaryConnections sweeps the temporary-connection window in
// chronological order, disabling entries that have outlived the grace
// period (every entry, under force). Timestamps are monotone with
// insertion order, so the first survivor halts the scan. When target is
// nonzero, the sweep stops after that many disables. Returns the
// number of connections disabled.
func (h *Hub) PurgeTemporaryConnections(target uint, force bool) uint {
	h.temporary.Rewind()
	timeout := time.Duration(h.ctx.ConnectionTimeOut) * time.Millisecond
	if force {
		timeout = 0
	}
	var count uint
	for {
		id, ok := h.temporary.Get()
		if !ok {
			break
		}
		conn := h.Fetch(id)
		if conn == nil {
			// Promoted or already recycled.
			continue
		}
		if conn.HasTimedOut(timeout) {
			h.Disable(conn)
			count++
			if target != 0 && count >= target {
				break
			}
		} else {
			// Step back over the survivor; younger entries follow it.
			h.temporary.SetIndex(h.temporary.Index() - 1)
			break
		}
	}
	h.temporary.Pack()
	return count
}

// processConnection drains writable output, reads fresh bytes, and
// pulls up to the cycle limit of decoded frames onto the inbound
// queue. It reports whether the connection wants another cycle.
func (h *Hub) processConnection(conn *watcher.Socket) bool {
	if conn.TestEvents(reactor.IOWrite) && conn.TestFlags(watcher.FlagOut) {
		if err := conn.Flush(h.recycleMessage); err != nil {
			h.logger.Debug("connection write failed", "uid", conn.UID(), "error", err)
			return h.Disable(conn)
		}
	}
	if conn.TestEvents(reactor.IORead) {
		if err := conn.Read(); err != nil {
			h.logger.Debug("connection read failed", "uid", conn.UID(), "error", err)
			return h.Disable(conn)
		}
	}

	var cycleLimit int
	if h.ctx.Throttle {
		cycleLimit = h.throttle(conn)
	} else {
		cycleLimit = min(h.ctx.CycleInputLimit, h.messages.Unallocated())
	}

	count := 0
	for count < cycleLimit {
		m, err := conn.Fetch(h.messages)
		if err != nil {
			h.logger.Debug("corrupt frame stream", "uid", conn.UID(), "error", err)
			return h.Disable(conn)
		}
		if m == nil {
			break
		}
		m.SetFlags(protocol.FlagWaitProcessing)
		m.SetMarked()
		if !h.incoming.Put(m) {
			h.recycleMessage(m)
			break
		}
		h.countReceived(m.Length())
		count++
	}
	return conn.IsReady() || (h.ctx.CycleInputLimit > 0 && count == cycleLimit)
}

// throttle computes the per-connection cycle limit from the free
// message count, reserving headroom for overlay control traffic and
// proportionally squeezing ordinary clients as the headroom shrinks.
func (h *Hub) throttle(conn *watcher.Socket) int {
	available := h.messages.Unallocated()
	if available > h.ctx.ReservedMessages {
		available -= h.ctx.ReservedMessages
		if !conn.TestFlags(watcher.FlagOverlay | watcher.FlagPriority) {
			ratio := float64(available) / float64(h.messages.Size())
			limit := int(float64(h.ctx.CycleInputLimit) * ratio)
			return min(limit, available)
		}
		return min(h.ctx.CycleInputLimit, available)
	}
	if conn.TestFlags(watcher.FlagPriority) {
		return min(h.ctx.ReservedMessages, available)
	}
	return 0
}

func (h *Hub) dropMessage(m *protocol.Message) bool {
	return h.ctx.AllowPacketDrop && !m.TestFlags(protocol.FlagPriority) &&
		m.AddHopCount() > h.ctx.MessageTTL
}

// publish drains the outbound queue through the admission controller
// and hands admitted messages to their destination watchers.
func (h *Hub) publish() {
	// Incoming allocation strategy: split the remaining capacity
	// between answers and forwards before the drain begins.
	capacity := h.messages.Unallocated() + h.outgoing.ReadSpace()
	answerCapacity := int(float64(capacity) * h.ctx.AnswerRatio)
	forwardCapacity := int(float64(capacity) * h.ctx.ForwardRatio)

	for {
		m, ok := h.outgoing.Get()
		if !ok {
			break
		}

		if !m.Validate() {
			h.recycleMessage(m)
			continue
		}

		// Trap the message (e.g. a registration request).
		if m.TestFlags(protocol.FlagTrap) && h.handler.Trap(m) {
			h.recycleMessage(m)
			continue
		}

		// Verify the destination.
		dst := h.Fetch(m.Destination())
		if m.Destination() == h.uid || dst == nil || dst.TestGroup(m.Group()) {
			// Sink, unknown destination, or group conflict.
			h.recycleMessage(m)
			continue
		}

		// Answer-first priority and random drop.
		if !dst.TestFlags(watcher.FlagOverlay) && answerCapacity > 0 {
			answerCapacity--
		} else if forwardCapacity > 0 {
			forwardCapacity--
		} else if h.dropMessage(m) {
			h.countDropped(m.Length())
			h.recycleMessage(m)
			continue
		}

		if !dst.Publish(m) {
			// The recipient's queue is full; retry in a later cycle.
			h.incoming.Put(m)
		} else if dst.TestEvents(reactor.IOWrite) {
			h.reactor.Retain(dst)
		}
	}
}

// processMessages runs the routing hook over the inbound queue and
// moves everything to the outbound queue. Messages already processed
// (backpressure retries) pass through untouched.
func (h *Hub) processMessages() {
	for {
		m, ok := h.incoming.Get()
		if !ok {
			break
		}
		if !m.TestFlags(protocol.FlagProcessed) {
			// All the other flags are cleared.
			m.PutFlags(protocol.FlagProcessed)
			h.handler.Route(m)
		}
		h.outgoing.Put(m)
	}
}
