// Package shm contains the platform-specific mapping of named shared memory
// regions and the atomic helpers used on them.
package shm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrResourceCreation reports that the named OS object backing a region
	// could not be created or opened.
	ErrResourceCreation = errors.New("shm: resource creation failed")
	// ErrResourceMapping reports that the object exists but could not be
	// mapped into the address space.
	ErrResourceMapping = errors.New("shm: resource mapping failed")
	// ErrInvalidName reports a region name that cannot be used as an OS
	// object name.
	ErrInvalidName = errors.New("shm: invalid region name")

	// errRegionBusy marks a transient state worth retrying: another handle
	// is closing the region, or an orphan was just removed.
	errRegionBusy = errors.New("shm: region busy")
)

// namePrefix keeps regions of this module apart from other users of the
// shared memory namespace.
const namePrefix = "shmring."

// maxNameLen leaves room under NAME_MAX for the suffix of the private file
// a region is built in.
const maxNameLen = 200

// DefaultAttachTimeout bounds the retries of MapRegion unless
// MapOptions.AttachTimeout says otherwise.
const DefaultAttachTimeout = 5 * time.Second

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Data  []byte
	Name  string
	Owner bool

	handle platformHandle
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	// Size is the size requested when the region has to be created. Zero
	// attaches only.
	Size int
	// Init runs on the creating side after zero-fill and before any other
	// handle can observe the region.
	Init func(mem []byte) error
	// AttachTimeout bounds retries of transient states. Zero means
	// DefaultAttachTimeout.
	AttachTimeout time.Duration
}

// ValidateName reports whether name can be used for a region.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if len(namePrefix)+len(name) > maxNameLen {
		return fmt.Errorf("%w: %q is too long", ErrInvalidName, name)
	}
	return nil
}

func (o MapOptions) attachTimeout() time.Duration {
	if o.AttachTimeout > 0 {
		return o.AttachTimeout
	}
	return DefaultAttachTimeout
}

// Function implementations are provided in platform-specific files
// (platform_unix.go, platform_windows.go).
