package shm

import (
	"sync/atomic"
	"unsafe"
)

// The helpers below name the ordering each call site relies on. Go's
// sync/atomic operations are sequentially consistent, which is at least as
// strong as every ordering requested here, on memory shared with other
// processes as well as within one.
//
// addr must point into a mapped region and be aligned to the operand size.

// LoadRelaxed64 loads a cursor that only the calling side ever writes.
func LoadRelaxed64(addr unsafe.Pointer) int64 {
	return atomic.LoadInt64((*int64)(addr))
}

// LoadAcquire64 loads a cursor published by the other side. Writes made by
// the other side before its release store are visible after this load.
func LoadAcquire64(addr unsafe.Pointer) int64 {
	return atomic.LoadInt64((*int64)(addr))
}

// StoreRelaxed64 stores a cursor without publishing anything with it.
func StoreRelaxed64(addr unsafe.Pointer, val int64) {
	atomic.StoreInt64((*int64)(addr), val)
}

// StoreRelease64 publishes a cursor. Writes made before the store are
// visible to a side that observes val through LoadAcquire64.
func StoreRelease64(addr unsafe.Pointer, val int64) {
	atomic.StoreInt64((*int64)(addr), val)
}

// Load32 loads a 32-bit field of shared metadata.
func Load32(addr unsafe.Pointer) uint32 {
	return atomic.LoadUint32((*uint32)(addr))
}

// Store32 stores a 32-bit field of shared metadata.
func Store32(addr unsafe.Pointer, val uint32) {
	atomic.StoreUint32((*uint32)(addr), val)
}
