package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanhive/hub/internal/pool"
	"github.com/wanhive/hub/internal/protocol"
	"github.com/wanhive/hub/internal/watcher"
)

// throttleHub builds the minimal state the congestion control reads.
func throttleHub(poolSize, allocated, cycleInputLimit, reserved int) *Hub {
	h := &Hub{
		ctx: Context{
			CycleInputLimit:  cycleInputLimit,
			ReservedMessages: reserved,
		},
		messages: pool.New[protocol.Message](poolSize),
	}
	for i := 0; i < allocated; i++ {
		h.messages.Get()
	}
	return h
}

func TestThrottleNormalConnection(t *testing.T) {
	h := throttleHub(10, 0, 8, 2)
	conn := &watcher.Socket{}

	// avail'=8 of 10: limit = 8 * 8/10 = 6.
	assert.Equal(t, 6, h.throttle(conn))

	// Half the pool gone: avail'=3, limit = 8 * 3/10 = 2.
	h = throttleHub(10, 5, 8, 2)
	assert.Equal(t, 2, h.throttle(conn))

	// Headroom exhausted: ordinary clients are shut out.
	h = throttleHub(10, 8, 8, 2)
	assert.Equal(t, 0, h.throttle(conn))
}

func TestThrottleOverlayConnection(t *testing.T) {
	h := throttleHub(10, 0, 8, 2)
	conn := &watcher.Socket{}
	conn.SetType(watcher.TypeOverlay)

	// Important connections skip the proportional squeeze.
	assert.Equal(t, 8, h.throttle(conn))

	// Still capped by the remaining headroom.
	h = throttleHub(10, 5, 8, 2)
	assert.Equal(t, 3, h.throttle(conn))

	// Overlay without priority gets nothing out of the reserve.
	h = throttleHub(10, 8, 8, 2)
	assert.Equal(t, 0, h.throttle(conn))
}

func TestThrottlePriorityConnection(t *testing.T) {
	conn := &watcher.Socket{}
	conn.SetType(watcher.TypePriority)

	// Priority connections may eat into the reserve.
	h := throttleHub(10, 8, 8, 2)
	assert.Equal(t, 2, h.throttle(conn))

	h = throttleHub(10, 9, 8, 2)
	assert.Equal(t, 1, h.throttle(conn))

	h = throttleHub(10, 10, 8, 2)
	assert.Equal(t, 0, h.throttle(conn))
}

func TestDropMessagePredicate(t *testing.T) {
	h := &Hub{ctx: Context{AllowPacketDrop: true, MessageTTL: 2}}

	m := protocol.NewMessage()
	assert.False(t, h.dropMessage(m), "hop 1 of 2")
	assert.False(t, h.dropMessage(m), "hop 2 of 2")
	assert.True(t, h.dropMessage(m), "budget exceeded")

	m = protocol.NewMessage()
	m.SetFlags(protocol.FlagPriority)
	for i := 0; i < 5; i++ {
		assert.False(t, h.dropMessage(m), "priority exempt")
	}
	assert.Equal(t, uint32(0), m.HopCount(), "exempt messages never age")

	h.ctx.AllowPacketDrop = false
	m = protocol.NewMessage()
	for i := 0; i < 5; i++ {
		assert.False(t, h.dropMessage(m), "dropping disabled")
	}
}

func TestPublishAdmissionSplit(t *testing.T) {
	// No admission slots at all (both ratios zero): a message to a leaf
	// falls through to the drop branch.
	ctx := testContext()
	ctx.AnswerRatio = 0
	ctx.ForwardRatio = 0
	ctx.AllowPacketDrop = true
	ctx.MessageTTL = 0
	h := newTestHub(t, ctx, nil)
	sink := attachSink(t, h, 42)

	m := h.AcquireMessage()
	m.SetDestination(42)
	require.True(t, h.SendMessage(m))
	h.publish()

	assert.Empty(t, sink.delivered)
	assert.Equal(t, uint64(1), h.Metrics().Dropped.Units)
}

func TestPublishGrandfathersUndroppable(t *testing.T) {
	// Capacities exhausted but dropping forbidden: the message is
	// still offered to its destination.
	ctx := testContext()
	ctx.AnswerRatio = 0
	ctx.ForwardRatio = 0
	ctx.AllowPacketDrop = false
	h := newTestHub(t, ctx, nil)
	sink := attachSink(t, h, 42)

	m := h.AcquireMessage()
	m.SetDestination(42)
	require.True(t, h.SendMessage(m))
	h.publish()

	require.Len(t, sink.delivered, 1)
	assert.Equal(t, uint64(0), h.Metrics().Dropped.Units)
}

func TestTrapConsumesMessage(t *testing.T) {
	handler := &trapHandler{}
	h := newTestHub(t, testContext(), handler)
	sink := attachSink(t, h, 42)

	m := h.AcquireMessage()
	m.SetDestination(42)
	require.True(t, h.SendMessage(m))
	m.SetFlags(protocol.FlagTrap)

	h.publish()
	assert.Equal(t, 1, handler.trapped)
	assert.Empty(t, sink.delivered, "trapped messages are never forwarded")
	assert.Equal(t, h.messages.Size(), h.messages.Unallocated())
}

type trapHandler struct {
	NopHandler
	trapped int
}

func (th *trapHandler) Trap(m *protocol.Message) bool {
	th.trapped++
	return true
}
