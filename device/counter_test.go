package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_Capacity(t *testing.T) {
	c := NewCounter(15, 128)
	for i := 0; i < 15; i++ {
		require.True(t, c.CanPush(0), "line %d", i)
		require.NoError(t, c.Push([]byte("")))
	}
	assert.False(t, c.CanPush(0), "line limit")
	assert.ErrorIs(t, c.Push(nil), ErrCounterFull)
	assert.Equal(t, 15, c.Lines())
	assert.Equal(t, 15, c.Bytes())

	c.Reset()
	assert.Equal(t, 0, c.Lines())
	assert.Equal(t, 0, c.Bytes())

	assert.True(t, c.CanPush(127))
	assert.False(t, c.CanPush(128), "terminator counts")
	require.NoError(t, c.Push(make([]byte, 100)))
	assert.True(t, c.CanPush(26))
	assert.False(t, c.CanPush(27))
	assert.Equal(t, 27, c.FreeBytes())
	assert.Equal(t, 14, c.FreeLines())
}

func TestCounter_FIFO(t *testing.T) {
	c := NewCounter(4, 128)
	sizes := []int{3, 1, 7, 2, 5, 4, 9, 1, 6}

	// wrap the ring a couple of times
	var pending []int
	for _, n := range sizes {
		if !c.CanPush(n) {
			got, err := c.Pop()
			require.NoError(t, err)
			assert.Equal(t, pending[0]+1, got)
			pending = pending[1:]
		}
		require.NoError(t, c.Push(make([]byte, n)))
		pending = append(pending, n)
	}
	for _, n := range pending {
		got, err := c.Pop()
		require.NoError(t, err)
		assert.Equal(t, n+1, got)
	}

	assert.Equal(t, 0, c.Lines())
	assert.Equal(t, 0, c.Bytes())
	_, err := c.Pop()
	assert.ErrorIs(t, err, ErrCounterEmpty)
}

func TestCounter_Invariant(t *testing.T) {
	c := NewCounter(15, 128)
	for i := 0; i < 200; i++ {
		n := (i * 37) % 40
		if c.CanPush(n) {
			require.NoError(t, c.Push(make([]byte, n)))
		} else {
			_, err := c.Pop()
			require.NoError(t, err)
		}
		require.LessOrEqual(t, c.Lines(), 15)
		require.LessOrEqual(t, c.Bytes(), 128)
		require.GreaterOrEqual(t, c.Bytes(), c.Lines())
	}
}
