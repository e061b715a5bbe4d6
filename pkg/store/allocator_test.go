package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorBestFit(t *testing.T) {
	a := newAllocator(0, 100)

	off, err := a.alloc(30)
	require.NoError(t, err)
	assert.EqualValues(t, 0, off)

	off2, err := a.alloc(20)
	require.NoError(t, err)
	assert.EqualValues(t, 30, off2)
}

func TestAllocatorExhaustion(t *testing.T) {
	a := newAllocator(0, 10)

	_, err := a.alloc(5)
	require.NoError(t, err)

	_, err = a.alloc(100)
	require.Error(t, err)
}

func TestAllocatorFreeMergesAdjacent(t *testing.T) {
	a := newAllocator(0, 100)

	off1, err := a.alloc(10)
	require.NoError(t, err)
	off2, err := a.alloc(10)
	require.NoError(t, err)

	a.free(off1, 10)
	a.free(off2, 10)

	// The two freed extents plus the remaining 80-byte tail should have
	// merged back into a single 100-byte free extent.
	free := a.snapshot()
	require.Len(t, free, 1)
	assert.EqualValues(t, 100, free[0].Size)
}
