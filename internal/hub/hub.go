// Package hub implements the core of a messaging hub: a single-process
// event-driven node that accepts client connections, ingests message
// frames, routes them to local or peer destinations, and emits them on
// outbound sockets under flow-control and admission-control discipline.
//
// Exactly one goroutine, the reactor goroutine, drives the loop. An
// optional worker goroutine may run alongside it and interacts with the
// hub only through ReportEvents.
package hub

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wanhive/hub/internal/pool"
	"github.com/wanhive/hub/internal/protocol"
	"github.com/wanhive/hub/internal/reactor"
	"github.com/wanhive/hub/internal/ring"
	"github.com/wanhive/hub/internal/watcher"
)

// Identity supplies the hub's numeric UID, its keyed configuration,
// and the resolver mapping UIDs to transport endpoints.
type Identity interface {
	UID() uint64
	Context() (Context, error)
	Address(uid uint64) (host string, service string, err error)
}

// notifiers holds non-owning references to the five distinguished
// watchers; the registry owns them like any other watcher.
type notifiers struct {
	listener  *watcher.Socket
	alarm     *watcher.Alarm
	event     *watcher.Event
	inotifier *watcher.Inotifier
	interrupt *watcher.Interrupt
}

// Hub is the reactor-loop host.
type Hub struct {
	uid      uint64
	identity Identity
	handler  Handler
	logger   *slog.Logger

	ctx      Context
	reactor  *reactor.Reactor
	watchers *registry

	sockets  *pool.Pool[watcher.Socket]
	messages *pool.Pool[protocol.Message]

	incoming  *ring.Queue[*protocol.Message]
	outgoing  *ring.Queue[*protocol.Message]
	temporary *ring.Buffer[uint64]

	notifiers notifiers

	traffic       traffic
	metrics       *metrics
	connPoolSize  atomic.Int64
	msgPoolSize   atomic.Int64
	connAllocated atomic.Int64
	msgAllocated  atomic.Int64

	uptime  atomic.Int64 // unix nanoseconds at configure
	running atomic.Bool
	healthy atomic.Bool

	workerDone chan struct{}

	// fatal terminates the process on unrecoverable failures; tests
	// inject their own.
	fatal func(msg string, args ...any)
}

// New creates a hub in the created state. The handler may be nil, in
// which case the no-op hooks apply.
func New(identity Identity, handler Handler, logger *slog.Logger) *Hub {
	if handler == nil {
		handler = NopHandler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		uid:      identity.UID(),
		identity: identity,
		handler:  handler,
	}
	h.uptime.Store(time.Now().UnixNano())
	h.healthy.Store(true)
	h.logger = logger.With("hub", h.uid)
	h.metrics = newMetrics(h.uptimeSeconds)
	h.fatal = func(msg string, args ...any) {
		h.logger.Error(msg, args...)
		os.Exit(1)
	}
	return h
}

// UID returns the hub's identity.
func (h *Hub) UID() uint64 { return h.uid }

// Healthy reports whether the hub is running cleanly; it turns false
// when the loop terminates on an error.
func (h *Hub) Healthy() bool { return h.healthy.Load() }

func (h *Hub) uptimeSeconds() float64 {
	return time.Since(time.Unix(0, h.uptime.Load())).Seconds()
}

// Execute runs the hub to completion: setup, loop, cleanup. It returns
// true when the hub terminated without error.
func (h *Hub) Execute(arg any) bool {
	h.running.Store(true)
	h.run(arg)
	return h.healthy.Load()
}

// Cancel requests a cooperative loop exit at the next iteration
// boundary. Callers outside the reactor goroutine should follow it
// with ReportEvents to wake a blocked poll.
func (h *Hub) Cancel() {
	h.running.Store(false)
}

func (h *Hub) run(arg any) {
	err := h.setup(arg)
	if err == nil {
		err = h.loop()
	}
	h.healthy.Store(err == nil)
	if err != nil {
		h.logger.Error("hub terminated", "error", err)
	}
	h.cleanup()
}

func (h *Hub) setup(arg any) error {
	h.logger.Info("starting")
	if err := h.configure(arg); err != nil {
		return err
	}
	h.startWorker(arg)
	h.logger.Info("hub started", "pid", os.Getpid(), "seconds", h.uptimeSeconds())
	return nil
}

func (h *Hub) loop() error {
	for h.running.Load() {
		if err := h.reactor.Poll(h.outgoing.IsEmpty()); err != nil {
			return err
		}
		h.publish()
		h.reactor.Dispatch()
		h.processMessages()
		h.syncMetrics()
		h.handler.Maintain()
	}
	return nil
}

// configure initializes pools, queues, the reactor, and the notifier
// singletons, in fixed order. Any failure is fatal to startup.
func (h *Hub) configure(arg any) error {
	h.uptime.Store(time.Now().UnixNano())
	ctx, err := h.identity.Context()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	ctx.normalize()
	h.ctx = ctx
	h.logger.Debug("hub settings",
		"listen", ctx.Listen, "backlog", ctx.Backlog,
		"serviceName", ctx.ServiceName, "serviceType", ctx.ServiceType,
		"maxIOEvents", ctx.MaxIOEvents,
		"timerExpiration", ctx.TimerExpiration, "timerInterval", ctx.TimerInterval,
		"semaphore", ctx.Semaphore, "signal", ctx.Signal,
		"connectionPoolSize", ctx.ConnectionPoolSize,
		"messagePoolSize", ctx.MessagePoolSize,
		"maxNewConnections", ctx.MaxNewConnections,
		"connectionTimeOut", ctx.ConnectionTimeOut,
		"cycleInputLimit", ctx.CycleInputLimit,
		"outputQueueLimit", ctx.OutputQueueLimit,
		"throttle", ctx.Throttle, "reservedMessages", ctx.ReservedMessages,
		"allowPacketDrop", ctx.AllowPacketDrop, "messageTTL", ctx.MessageTTL,
		"answerRatio", ctx.AnswerRatio, "forwardRatio", ctx.ForwardRatio)

	h.initBuffers()
	if err := h.initReactor(); err != nil {
		return err
	}
	if err := h.initListener(); err != nil {
		return err
	}
	if err := h.initAlarm(); err != nil {
		return err
	}
	if err := h.initEvent(); err != nil {
		return err
	}
	if err := h.initInotifier(); err != nil {
		return err
	}
	return h.initInterrupt()
}

func (h *Hub) initBuffers() {
	h.watchers = newRegistry()
	h.sockets = pool.New[watcher.Socket](h.ctx.ConnectionPoolSize)
	h.messages = pool.New[protocol.Message](h.ctx.MessagePoolSize)
	h.incoming = ring.NewQueue[*protocol.Message](h.ctx.MessagePoolSize)
	h.outgoing = ring.NewQueue[*protocol.Message](h.ctx.MessagePoolSize)
	h.temporary = ring.NewBuffer[uint64](h.ctx.MaxNewConnections)
	h.connPoolSize.Store(int64(h.sockets.Size()))
	h.msgPoolSize.Store(int64(h.messages.Size()))
}

func (h *Hub) initReactor() error {
	r, err := reactor.New(h.ctx.MaxIOEvents, !h.ctx.Signal)
	if err != nil {
		return fmt.Errorf("reactor: %w", err)
	}
	r.SetHandlers(h.dispatchWatcher, h.releaseWatcher)
	h.reactor = r
	return nil
}

func (h *Hub) initListener() error {
	if !h.ctx.Listen {
		return nil
	}
	serviceName := h.ctx.ServiceName
	unixDomain := false
	if serviceName == "" {
		host, service, err := h.identity.Address(h.uid)
		if err != nil {
			return fmt.Errorf("listener address: %w", err)
		}
		unixDomain = strings.EqualFold(service, "unix")
		if unixDomain {
			serviceName = host
		} else {
			serviceName = service
		}
	} else {
		unixDomain = strings.EqualFold(h.ctx.ServiceType, "unix")
	}
	listener, err := watcher.NewListener(serviceName, h.ctx.Backlog, unixDomain)
	if err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	listener.SetUID(h.uid)
	if err := h.Attach(listener, reactor.IORead, watcher.FlagActive); err != nil {
		_ = listener.Stop()
		return fmt.Errorf("listener: %w", err)
	}
	h.notifiers.listener = listener
	h.logger.Info("hub listening", "service", serviceName, "unix", unixDomain)
	return nil
}

func (h *Hub) initAlarm() error {
	if h.ctx.TimerExpiration == 0 {
		h.logger.Debug("internal alarm disabled")
		return nil
	}
	alarm, err := watcher.NewAlarm(h.ctx.TimerExpiration, h.ctx.TimerInterval)
	if err != nil {
		return fmt.Errorf("alarm: %w", err)
	}
	if err := h.Attach(alarm, reactor.IORead, watcher.FlagActive); err != nil {
		_ = alarm.Stop()
		return fmt.Errorf("alarm: %w", err)
	}
	h.notifiers.alarm = alarm
	return nil
}

func (h *Hub) initEvent() error {
	event, err := watcher.NewEvent(h.ctx.Semaphore)
	if err != nil {
		return fmt.Errorf("event: %w", err)
	}
	if err := h.Attach(event, reactor.IORead, watcher.FlagActive); err != nil {
		_ = event.Stop()
		return fmt.Errorf("event: %w", err)
	}
	h.notifiers.event = event
	return nil
}

func (h *Hub) initInotifier() error {
	inotifier, err := watcher.NewInotifier()
	if err != nil {
		return fmt.Errorf("inotifier: %w", err)
	}
	if err := h.Attach(inotifier, reactor.IORead, watcher.FlagActive); err != nil {
		_ = inotifier.Stop()
		return fmt.Errorf("inotifier: %w", err)
	}
	h.notifiers.inotifier = inotifier
	return nil
}

func (h *Hub) initInterrupt() error {
	if !h.ctx.Signal {
		h.logger.Debug("synchronous signal disabled")
		return nil
	}
	interrupt, err := watcher.NewInterrupt()
	if err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	if err := h.Attach(interrupt, reactor.IORead, watcher.FlagActive); err != nil {
		_ = interrupt.Stop()
		return fmt.Errorf("interrupt: %w", err)
	}
	h.notifiers.interrupt = interrupt
	return nil
}

func (h *Hub) startWorker(arg any) {
	if !h.handler.EnableWorker() || h.workerDone != nil {
		h.logger.Debug("no worker")
		return
	}
	done := make(chan struct{})
	h.workerDone = done
	go func() {
		defer close(done)
		h.handler.DoWork(arg)
	}()
	h.logger.Info("worker started")
}

func (h *Hub) stopWorker() {
	if h.workerDone == nil {
		return
	}
	h.logger.Info("waiting for the worker to finish")
	<-h.workerDone
	h.workerDone = nil
	h.handler.StopWork()
	h.logger.Info("worker stopped")
}

// cleanup tears the hub down and resets it for reuse. A failure here
// means a resource leak, which aborts the process.
func (h *Hub) cleanup() {
	defer func() {
		if r := recover(); r != nil {
			h.fatal("resource leaked, aborting", "panic", r)
		}
	}()
	h.logger.Info("shutdown initiated")
	h.stopWorker()
	if h.watchers != nil {
		h.watchers.iterate(func(w watcher.Watcher) bool {
			if s, ok := w.(*watcher.Socket); ok {
				s.DrainOutput(h.recycleMessage)
			}
			_ = w.Stop()
			return true
		})
	}
	if h.temporary != nil {
		h.temporary.Clear()
	}
	h.drainQueues()
	if h.reactor != nil {
		_ = h.reactor.Close()
		h.reactor = nil
	}
	h.sockets = nil
	h.messages = nil
	h.incoming = nil
	h.outgoing = nil
	h.temporary = nil
	h.watchers = nil
	h.notifiers = notifiers{}
	h.ctx = Context{}
	h.logger.Info("shutdown completed")
}

func (h *Hub) drainQueues() {
	if h.outgoing != nil {
		for {
			m, ok := h.outgoing.Get()
			if !ok {
				break
			}
			h.recycleMessage(m)
		}
	}
	if h.incoming != nil {
		for {
			m, ok := h.incoming.Get()
			if !ok {
				break
			}
			h.recycleMessage(m)
		}
	}
}

// Attach registers a watcher with the reactor under its UID and stores
// it in the registry.
func (h *Hub) Attach(w watcher.Watcher, events uint32, flags uint32) error {
	if w == nil {
		return ErrInvalidParam
	}
	if h.watchers.contains(w.UID()) {
		return fmt.Errorf("%w: uid %d already attached", ErrInvalidOperation, w.UID())
	}
	if err := h.reactor.Add(w, events); err != nil {
		return err
	}
	h.watchers.put(w)
	w.SetFlags(flags)
	return nil
}

// Detach removes a watcher from the registry by UID without stopping it.
func (h *Hub) Detach(uid uint64) {
	h.watchers.remove(uid)
}

// Attached reports whether a watcher is registered under the UID.
func (h *Hub) Attached(uid uint64) bool {
	return h.watchers != nil && h.watchers.contains(uid)
}

// Fetch returns the watcher registered under the UID, nil when absent.
func (h *Hub) Fetch(uid uint64) watcher.Watcher {
	if h.watchers == nil {
		return nil
	}
	return h.watchers.get(uid)
}

// Iterate visits every registered watcher; a true return removes the
// entry from the registry.
func (h *Hub) Iterate(fn func(w watcher.Watcher) bool) {
	h.watchers.iterate(fn)
}

// Shift relocates the watcher registered at from under the UID to. A
// conflicting occupant is disabled when replace is set; without
// replace the conflict disables the moving watcher instead. The
// promoted watcher is marked active.
func (h *Hub) Shift(from, to uint64, replace bool) watcher.Watcher {
	if !h.watchers.contains(from) {
		return nil
	}
	moved, evicted, ok := h.watchers.move(from, to, replace)
	if !ok {
		h.Disable(moved)
		return nil
	}
	if evicted != nil && evicted != moved {
		h.Disable(evicted)
	}
	moved.SetFlags(watcher.FlagActive)
	return moved
}

// Disable transitions a watcher to the closing state; the reactor's
// next cleanup pass reclaims it.
func (h *Hub) Disable(w watcher.Watcher) bool {
	if w == nil {
		return false
	}
	return h.reactor.Disable(w)
}

// Stop is the only path to watcher destruction. Stopping one of the
// notifier singletons is an unrecoverable component failure.
func (h *Hub) Stop(w watcher.Watcher) {
	if h.isNotifier(w) {
		h.fatal("fatal component failure, exiting")
		return
	}
	uid := w.UID()
	h.Detach(uid)
	if s, ok := w.(*watcher.Socket); ok {
		s.DrainOutput(h.recycleMessage)
	}
	_ = w.Stop()
	if s, ok := w.(*watcher.Socket); ok && s.Pooled() {
		h.sockets.Put(s)
	}
	h.logger.Debug("watcher recycled", "uid", uid)
}

func (h *Hub) isNotifier(w watcher.Watcher) bool {
	n := &h.notifiers
	return (n.listener != nil && w == watcher.Watcher(n.listener)) ||
		(n.alarm != nil && w == watcher.Watcher(n.alarm)) ||
		(n.event != nil && w == watcher.Watcher(n.event)) ||
		(n.inotifier != nil && w == watcher.Watcher(n.inotifier)) ||
		(n.interrupt != nil && w == watcher.Watcher(n.interrupt))
}

func (h *Hub) releaseWatcher(rw reactor.Watcher) {
	if w, ok := rw.(watcher.Watcher); ok {
		h.Stop(w)
	}
}

// Adapt starts a user-supplied watcher and binds its back-reference to
// the hub, once.
func (h *Hub) Adapt(w watcher.Watcher) error {
	if w == nil {
		return ErrInvalidParam
	}
	if w.Reference() != nil {
		return fmt.Errorf("%w: watcher already adapted", ErrInvalidParam)
	}
	if err := w.Start(); err != nil {
		return err
	}
	w.SetReference(h)
	return nil
}

// React fires a watcher's callback iff its back-reference names this
// hub.
func (h *Hub) React(w watcher.Watcher) bool {
	if ref, ok := w.Reference().(*Hub); ok && ref == h {
		return w.Callback(nil)
	}
	return false
}

// RetainMessage places an unmarked, valid message on the inbound queue
// for processing.
func (h *Hub) RetainMessage(m *protocol.Message) bool {
	if m == nil || m.Marked() || !m.Validate() || !h.incoming.Put(m) {
		return false
	}
	m.PutFlags(protocol.FlagWaitProcessing)
	m.SetMarked()
	return true
}

// SendMessage places an unmarked message directly on the outbound
// queue, bypassing the routing hook.
func (h *Hub) SendMessage(m *protocol.Message) bool {
	if m == nil || m.Marked() || !h.outgoing.Put(m) {
		return false
	}
	m.PutFlags(protocol.FlagProcessed)
	m.SetMarked()
	return true
}

// AcquireMessage takes a fresh message from the pool, nil on
// exhaustion. Reactor goroutine only.
func (h *Hub) AcquireMessage() *protocol.Message {
	m := h.messages.Get()
	if m != nil {
		m.Reset()
	}
	return m
}

// ReleaseMessage returns an unqueued message to the pool. Reactor
// goroutine only.
func (h *Hub) ReleaseMessage(m *protocol.Message) {
	h.recycleMessage(m)
}

func (h *Hub) recycleMessage(m *protocol.Message) {
	if m == nil {
		return
	}
	m.Reset()
	h.messages.Put(m)
}

// GetAlarmSettings returns the singleton alarm schedule, zeros when it
// is disabled.
func (h *Hub) GetAlarmSettings() (expiration, interval uint) {
	if h.notifiers.alarm == nil {
		return 0, 0
	}
	return h.notifiers.alarm.Expiration(), h.notifiers.alarm.Interval()
}

// ReportEvents adds to the hub's event counter, waking the reactor.
// This is the one entry point safe to call from the worker.
func (h *Hub) ReportEvents(events uint64) error {
	if h.notifiers.event == nil {
		return ErrResource
	}
	return h.notifiers.event.Write(events)
}

// AddToInotifier registers a filesystem path on the hub's inotifier.
func (h *Hub) AddToInotifier(path string, mask uint32) (int, error) {
	if h.notifiers.inotifier == nil {
		return -1, ErrResource
	}
	return h.notifiers.inotifier.Add(path, mask)
}

// RemoveFromInotifier drops a watch identifier, absorbing errors.
func (h *Hub) RemoveFromInotifier(identifier int) {
	if h.notifiers.inotifier == nil {
		return
	}
	if err := h.notifiers.inotifier.Remove(identifier); err != nil {
		h.logger.Warn("inotify watch removal failed", "error", err)
	}
}

