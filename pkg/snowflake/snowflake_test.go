package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_Bounds(t *testing.T) {
	_, err := NewNode(-1)
	assert.ErrorIs(t, err, ErrInvalidNode)
	_, err = NewNode(1024)
	assert.ErrorIs(t, err, ErrInvalidNode)
	_, err = NewNode(1023)
	assert.NoError(t, err)
}

func TestNode_GenerateIsMonotonic(t *testing.T) {
	n, err := NewNode(7)
	require.NoError(t, err)

	prev := n.Generate()
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNode_ClockBackwardsStaysMonotonic(t *testing.T) {
	n, err := NewNode(1)
	require.NoError(t, err)
	ms := int64(1717200000000)
	n.clock = func() int64 { return ms }

	a := n.Generate()
	ms -= 5000
	b := n.Generate()
	assert.Greater(t, b, a)
}

func TestTime_DecodesCreation(t *testing.T) {
	n, err := NewNode(3)
	require.NoError(t, err)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n.clock = func() int64 { return at.UnixMilli() }

	assert.True(t, at.Equal(Time(n.Generate())))
}
