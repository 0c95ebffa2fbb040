package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wanhive/hub/internal/watcher"
)

func TestNormalizeMessagePoolSize(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 0},
		{1, 3},
		{2, 3},
		{3, 3},
		{4, 3},
		{8, 7},
		{9, 9},
		{16, 15},
		{100, 100},
		{1024, 1023},
	}
	for _, tc := range cases {
		ctx := Context{MessagePoolSize: tc.in, MaxIOEvents: 4}
		ctx.normalize()
		assert.Equal(t, tc.want, ctx.MessagePoolSize, "pool size %d", tc.in)
	}
}

func TestNormalizeTemporaryWindow(t *testing.T) {
	ctx := Context{Listen: true, ConnectionPoolSize: 8, MaxNewConnections: 100}
	ctx.normalize()
	assert.Equal(t, 8, ctx.MaxNewConnections, "window clamps to the connection pool")

	ctx = Context{Listen: false, ConnectionPoolSize: 8, MaxNewConnections: 100}
	ctx.normalize()
	assert.Equal(t, 0, ctx.MaxNewConnections, "no window without a listener")
}

func TestNormalizeOutputQueueLimit(t *testing.T) {
	ctx := Context{OutputQueueLimit: watcher.OutQueueSize + 10}
	ctx.normalize()
	assert.Equal(t, watcher.OutQueueSize-1, ctx.OutputQueueLimit)

	ctx = Context{OutputQueueLimit: 5}
	ctx.normalize()
	assert.Equal(t, 5, ctx.OutputQueueLimit)
}

func TestNormalizeReservedMessages(t *testing.T) {
	ctx := Context{MessagePoolSize: 10, ReservedMessages: 50}
	ctx.normalize()
	assert.Equal(t, ctx.MessagePoolSize, ctx.ReservedMessages)
}

func TestNormalizeMaxIOEvents(t *testing.T) {
	ctx := Context{MaxIOEvents: 1}
	ctx.normalize()
	assert.Equal(t, 4, ctx.MaxIOEvents)
}
