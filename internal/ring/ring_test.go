package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int](3)
	assert.True(t, q.IsEmpty())
	assert.True(t, q.Put(1))
	assert.True(t, q.Put(2))
	assert.True(t, q.Put(3))
	assert.False(t, q.Put(4))
	assert.False(t, q.HasSpace())
	assert.Equal(t, 3, q.ReadSpace())

	v, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, q.Put(4))

	want := []int{2, 3, 4}
	for _, expected := range want {
		v, ok := q.Get()
		require.True(t, ok)
		assert.Equal(t, expected, v)
	}
	_, ok = q.Get()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestQueueClear(t *testing.T) {
	q := NewQueue[int](2)
	q.Put(1)
	q.Put(2)
	q.Clear()
	assert.True(t, q.IsEmpty())
	assert.True(t, q.Put(9))
	v, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestBufferWriteRewindRead(t *testing.T) {
	b := NewBuffer[uint64](4)
	assert.True(t, b.Put(10))
	assert.True(t, b.Put(11))
	assert.True(t, b.HasSpace())

	b.Rewind()
	v, ok := b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(10), v)
	v, ok = b.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(11), v)
	_, ok = b.Get()
	assert.False(t, ok)
}

// The sweep discipline: consume a prefix, step back over the first
// survivor, pack, and keep appending behind it.
func TestBufferCursorSweep(t *testing.T) {
	b := NewBuffer[uint64](4)
	for _, v := range []uint64{1, 2, 3} {
		require.True(t, b.Put(v))
	}

	b.Rewind()
	v, _ := b.Get() // 1: swept
	assert.Equal(t, uint64(1), v)
	v, _ = b.Get() // 2: survivor, step back
	assert.Equal(t, uint64(2), v)
	b.SetIndex(b.Index() - 1)
	b.Pack()

	// Survivors moved to the front, room for more behind them.
	assert.True(t, b.Put(4))
	assert.True(t, b.Put(5))
	assert.False(t, b.Put(6))

	b.Rewind()
	var got []uint64
	for {
		v, ok := b.Get()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []uint64{2, 3, 4, 5}, got)
}

func TestBufferSetIndexBounds(t *testing.T) {
	b := NewBuffer[int](2)
	b.Put(1)
	b.Rewind()
	b.SetIndex(-1) // ignored
	assert.Equal(t, 0, b.Index())
	b.SetIndex(5) // beyond limit, ignored
	assert.Equal(t, 0, b.Index())
}
