package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAccounting(t *testing.T) {
	p := New[int](4)
	assert.Equal(t, 4, p.Size())
	assert.Equal(t, 0, p.Allocated())
	assert.Equal(t, 4, p.Unallocated())

	var held []*int
	for i := 0; i < 4; i++ {
		v := p.Get()
		require.NotNil(t, v)
		held = append(held, v)
		assert.Equal(t, p.Size(), p.Allocated()+p.Unallocated())
	}

	// Exhaustion is a nil handle, not a panic.
	assert.Nil(t, p.Get())
	assert.Equal(t, 4, p.Allocated())

	for _, v := range held {
		p.Put(v)
		assert.Equal(t, p.Size(), p.Allocated()+p.Unallocated())
	}
	assert.Equal(t, 4, p.Unallocated())
}

func TestPoolObjectsAreDistinct(t *testing.T) {
	p := New[int](3)
	a, b := p.Get(), p.Get()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotSame(t, a, b)
	*a = 1
	*b = 2
	assert.Equal(t, 1, *a)
}

func TestPoolIgnoresBadReleases(t *testing.T) {
	p := New[int](2)
	p.Put(nil)
	assert.Equal(t, 2, p.Unallocated())

	v := p.Get()
	p.Put(v)
	// A double release must not inflate the free list.
	p.Put(v)
	assert.Equal(t, 2, p.Unallocated())
	assert.Equal(t, 0, p.Allocated())
}

func TestZeroSizedPool(t *testing.T) {
	p := New[int](0)
	assert.Nil(t, p.Get())
	assert.Equal(t, 0, p.Size())
}
