// Package watcher implements the polymorphic I/O handles attached to
// the hub's reactor: data and listener sockets, the periodic alarm, the
// event counter, the filesystem notifier, the signal interrupt bridge,
// and the edge-triggered logic input. All variants are descriptor-based
// and target Linux.
package watcher

import (
	"sync/atomic"
	"time"

	"github.com/wanhive/hub/internal/protocol"
)

// Watchers are numbered from the top half of the UID space at
// creation so they can never collide with assigned hub identities;
// promotion assigns the real UID through the registry.
const autoUIDBase = uint64(1) << 63

var autoUID atomic.Uint64

func nextAutoUID() uint64 {
	return autoUIDBase + autoUID.Add(1)
}

// Watcher flag bits.
const (
	// FlagActive marks a promoted, fully-registered watcher.
	FlagActive uint32 = 1 << 0
	// FlagOut marks a watcher holding undelivered outbound data.
	FlagOut uint32 = 1 << 1
	// FlagPriority marks a connection whose traffic bypasses the
	// proportional throttle squeeze.
	FlagPriority uint32 = 1 << 2
	// FlagOverlay marks a connection to a peer hub.
	FlagOverlay uint32 = 1 << 3
)

// Watcher is the shared capability set over all variants.
type Watcher interface {
	UID() uint64
	SetUID(uid uint64)
	FD() int
	Events() uint32
	SetEvents(events uint32)
	TestEvents(events uint32) bool
	Flags() uint32
	SetFlags(flags uint32)
	ClearFlags(flags uint32)
	TestFlags(flags uint32) bool
	Group() uint8
	SetGroup(group uint8)
	TestGroup(group uint8) bool
	Reference() any
	SetReference(ref any)
	Start() error
	Stop() error
	Callback(arg any) bool
	IsReady() bool
	HasTimedOut(timeout time.Duration) bool
	Publish(m *protocol.Message) bool
}

// Base carries the state common to all watcher variants.
type Base struct {
	uid       uint64
	fd        int
	events    uint32
	flags     uint32
	group     uint8
	reference any
	created   time.Time
}

func (b *Base) init(fd int) {
	b.uid = nextAutoUID()
	b.fd = fd
	b.events = 0
	b.flags = 0
	b.group = 0
	b.reference = nil
	b.created = time.Now()
}

func (b *Base) UID() uint64       { return b.uid }
func (b *Base) SetUID(uid uint64) { b.uid = uid }
func (b *Base) FD() int           { return b.fd }

func (b *Base) Events() uint32                { return b.events }
func (b *Base) SetEvents(events uint32)       { b.events = events }
func (b *Base) TestEvents(events uint32) bool { return b.events&events != 0 }

func (b *Base) Flags() uint32               { return b.flags }
func (b *Base) SetFlags(flags uint32)       { b.flags |= flags }
func (b *Base) ClearFlags(flags uint32)     { b.flags &^= flags }
func (b *Base) TestFlags(flags uint32) bool { return b.flags&flags != 0 }

func (b *Base) Group() uint8         { return b.group }
func (b *Base) SetGroup(group uint8) { b.group = group }

// TestGroup reports a group conflict: the watcher belongs to the same
// nonzero group as the message, so delivery would echo back into the
// group it came from.
func (b *Base) TestGroup(group uint8) bool {
	return group != 0 && b.group == group
}

func (b *Base) Reference() any       { return b.reference }
func (b *Base) SetReference(ref any) { b.reference = ref }

// Start is a no-op for variants without deferred setup.
func (b *Base) Start() error { return nil }

// Callback is the hook point for user-attached watchers; the built-in
// variants are dispatched by type and leave it inert.
func (b *Base) Callback(arg any) bool {
	return false
}

// IsReady reports pending work that would cause immediate re-delivery.
// Variants with internal buffering override it.
func (b *Base) IsReady() bool { return false }

// HasTimedOut reports whether the watcher has existed for longer than
// the given grace period. A zero timeout always reports true.
func (b *Base) HasTimedOut(timeout time.Duration) bool {
	return time.Since(b.created) > timeout
}

// ResetTimer restarts the timeout clock, e.g. on promotion.
func (b *Base) ResetTimer() {
	b.created = time.Now()
}

// Publish rejects messages; only data sockets accept them.
func (b *Base) Publish(m *protocol.Message) bool { return false }

func (b *Base) closeFD() error {
	if b.fd <= 0 {
		return nil
	}
	err := closeDescriptor(b.fd)
	b.fd = -1
	return err
}

// Stop releases the underlying descriptor.
func (b *Base) Stop() error { return b.closeFD() }
