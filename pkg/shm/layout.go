package shm

import (
	"math"
	"unsafe"

	internalshm "github.com/srediag/shmring/internal/shm"
)

// Ring region layout, native byte order:
//
//	descriptor | capacity u32 | buffer_size u32 | read_idx i64 | write_idx i64 |
//	slot table | capacity × { data_start u32 | data_size u32 }              |
//	arena      | buffer_size bytes                                          |
const (
	descriptorSize   = 4 + 4 + 8 + 8
	capacityOffset   = 0
	bufferSizeOffset = capacityOffset + 4
	readIdxOffset    = bufferSizeOffset + 4
	writeIdxOffset   = readIdxOffset + 8

	slotSize            = 4 + 4
	slotDataStartOffset = 0
	slotDataSizeOffset  = slotDataStartOffset + 4
)

// RingRegionSize returns the bytes a ring with the given capacity and arena
// size occupies, or false when it does not fit in an int.
func RingRegionSize(capacity, bufferSize uint32) (int, bool) {
	n := uint64(descriptorSize) + uint64(capacity)*slotSize + uint64(bufferSize)
	if n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

// layout is a view of a ring region. Every pointer it hands out is derived
// from offsets, never from Go struct layout.
type layout struct {
	base       unsafe.Pointer
	capacity   uint32
	bufferSize uint32
	arena      []byte
}

func newLayout(mem []byte, capacity, bufferSize uint32) layout {
	arenaStart := descriptorSize + int(capacity)*slotSize
	return layout{
		base:       unsafe.Pointer(&mem[0]),
		capacity:   capacity,
		bufferSize: bufferSize,
		arena:      mem[arenaStart : arenaStart+int(bufferSize) : arenaStart+int(bufferSize)],
	}
}

// writeDescriptor initializes a zeroed region. Only the owner calls it,
// before the region is visible to anyone else.
func writeDescriptor(mem []byte, capacity, bufferSize uint32) {
	base := unsafe.Pointer(&mem[0])
	internalshm.Store32(unsafe.Add(base, capacityOffset), capacity)
	internalshm.Store32(unsafe.Add(base, bufferSizeOffset), bufferSize)
	internalshm.StoreRelaxed64(unsafe.Add(base, readIdxOffset), 0)
	internalshm.StoreRelaxed64(unsafe.Add(base, writeIdxOffset), 0)
}

// readDescriptor returns the stored capacity and arena size.
func readDescriptor(mem []byte) (capacity, bufferSize uint32) {
	base := unsafe.Pointer(&mem[0])
	return internalshm.Load32(unsafe.Add(base, capacityOffset)),
		internalshm.Load32(unsafe.Add(base, bufferSizeOffset))
}

func (l layout) readIdx() unsafe.Pointer {
	return unsafe.Add(l.base, readIdxOffset)
}

func (l layout) writeIdx() unsafe.Pointer {
	return unsafe.Add(l.base, writeIdxOffset)
}

// slot returns the metadata record of cursor value idx.
func (l layout) slot(idx int64) slot {
	i := uint64(idx) % uint64(l.capacity)
	return slot{p: unsafe.Add(l.base, descriptorSize+uintptr(i)*slotSize)}
}

type slot struct {
	p unsafe.Pointer
}

func (s slot) start() uint32 {
	return internalshm.Load32(unsafe.Add(s.p, slotDataStartOffset))
}

func (s slot) size() uint32 {
	return internalshm.Load32(unsafe.Add(s.p, slotDataSizeOffset))
}

func (s slot) set(start, size uint32) {
	internalshm.Store32(unsafe.Add(s.p, slotDataStartOffset), start)
	internalshm.Store32(unsafe.Add(s.p, slotDataSizeOffset), size)
}

// clear releases the slot. The size goes first: a producer that reads a
// zero start followed by a non-zero size knows the start was genuine.
func (s slot) clear() {
	internalshm.Store32(unsafe.Add(s.p, slotDataSizeOffset), 0)
	internalshm.Store32(unsafe.Add(s.p, slotDataStartOffset), 0)
}
