package amqpcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdAllocatorMonotonic(t *testing.T) {
	a := newIdAllocator(3)
	id1, err := a.allocate()
	require.NoError(t, err)
	id2, err := a.allocate()
	require.NoError(t, err)
	id3, err := a.allocate()
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3}, []uint16{id1, id2, id3})

	_, err = a.allocate()
	require.Error(t, err)
	var outOfIds *OutOfChannelIdsError
	assert.ErrorAs(t, err, &outOfIds)
}

func TestIdAllocatorReleaseThenAllocateReusesId(t *testing.T) {
	a := newIdAllocator(2)
	id1, err := a.allocate()
	require.NoError(t, err)

	a.release(id1)
	id2, err := a.allocate()
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "allocate;release;allocate must yield the same id before any new one is issued")
}

func TestIdAllocatorReleaseUnallocatedIsNoop(t *testing.T) {
	a := newIdAllocator(2)
	a.release(5)
	id, err := a.allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}
