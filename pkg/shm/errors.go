package shm

import (
	"errors"
	"fmt"

	internalshm "github.com/srediag/shmring/internal/shm"
)

var (
	// ErrResourceCreation reports that the OS object backing a region could
	// not be created or opened (permissions, exhaustion, missing region on
	// attach-only).
	ErrResourceCreation = internalshm.ErrResourceCreation
	// ErrResourceMapping reports that the object exists but could not be
	// mapped into the address space.
	ErrResourceMapping = internalshm.ErrResourceMapping
	// ErrInvalidName reports a region name that cannot name an OS object.
	ErrInvalidName = internalshm.ErrInvalidName

	// ErrDescriptorMismatch reports that an existing ring was created with a
	// different capacity or arena size than the attacher expects.
	ErrDescriptorMismatch = errors.New("shm: ring descriptor mismatch")
	// ErrMessageTooLarge reports a message longer than the payload arena.
	ErrMessageTooLarge = errors.New("shm: message larger than payload arena")
	// ErrInvalidConfig reports a zero capacity, zero arena or a layout that
	// does not fit the address space.
	ErrInvalidConfig = errors.New("shm: invalid config")
	// ErrClosed reports use of a closed handle.
	ErrClosed = errors.New("shm: use of closed handle")
	// ErrCorrupt reports a ring whose shared state breaks its invariants,
	// typically because a second producer or consumer wrote to it.
	ErrCorrupt = errors.New("shm: ring state corrupt")
)

// DescriptorMismatchError details an ErrDescriptorMismatch.
type DescriptorMismatchError struct {
	Name           string
	WantCapacity   uint32
	GotCapacity    uint32
	WantBufferSize uint32
	GotBufferSize  uint32
	// RegionSize is the size of the existing region, which may be too small
	// for the descriptor it holds.
	RegionSize int
}

func (e *DescriptorMismatchError) Error() string {
	return fmt.Sprintf("shm: ring %q descriptor mismatch: capacity %d (want %d), buffer size %d (want %d), region size %d",
		e.Name, e.GotCapacity, e.WantCapacity, e.GotBufferSize, e.WantBufferSize, e.RegionSize)
}

func (e *DescriptorMismatchError) Unwrap() error {
	return ErrDescriptorMismatch
}
