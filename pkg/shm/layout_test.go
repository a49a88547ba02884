package shm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRegionSize(t *testing.T) {
	n, ok := RingRegionSize(4, 16)
	require.True(t, ok)
	assert.Equal(t, 24+4*8+16, n)

	n, ok = RingRegionSize(1, 1)
	require.True(t, ok)
	assert.Equal(t, 33, n)

	if math.MaxInt == math.MaxInt32 {
		_, ok = RingRegionSize(math.MaxUint32, math.MaxUint32)
		assert.False(t, ok)
	}
}

func TestLayout_DescriptorRoundTrip(t *testing.T) {
	size, _ := RingRegionSize(8, 64)
	mem := alignedBytes(size)

	writeDescriptor(mem, 8, 64)
	capacity, bufferSize := readDescriptor(mem)
	assert.Equal(t, uint32(8), capacity)
	assert.Equal(t, uint32(64), bufferSize)

	l := newLayout(mem, capacity, bufferSize)
	assert.Len(t, l.arena, 64)
	assert.Equal(t, 64, cap(l.arena))

	// The arena is the tail of the region.
	l.arena[0] = 0xAB
	assert.Equal(t, byte(0xAB), mem[descriptorSize+8*slotSize])
	l.arena[63] = 0xCD
	assert.Equal(t, byte(0xCD), mem[size-1])
}

func TestLayout_SlotsWrapByCapacity(t *testing.T) {
	size, _ := RingRegionSize(4, 16)
	mem := alignedBytes(size)
	writeDescriptor(mem, 4, 16)
	l := newLayout(mem, 4, 16)

	l.slot(1).set(3, 5)
	assert.Equal(t, uint32(3), l.slot(5).start())
	assert.Equal(t, uint32(5), l.slot(5).size())
	assert.Equal(t, uint32(3), l.slot(9).start())

	// Slot 1 sits right after slot 0 behind the descriptor.
	assert.Equal(t, byte(3), mem[descriptorSize+slotSize+slotDataStartOffset])
	assert.Equal(t, byte(5), mem[descriptorSize+slotSize+slotDataSizeOffset])

	l.slot(5).clear()
	assert.Zero(t, l.slot(1).start())
	assert.Zero(t, l.slot(1).size())
}
