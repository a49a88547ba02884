package shm

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	internalshm "github.com/srediag/shmring/internal/shm"
)

// Region is a handle to a named block of memory shared between processes.
//
// The handle that caused the region to be created is its owner; every other
// handle is an attacher. The OS object stays alive while any handle in any
// process references it.
type Region struct {
	name   string
	mapped *internalshm.MappedRegion
	closed atomic.Bool
}

// OpenOrCreateRegion attaches to the region called name or creates it with
// size bytes, zero-filled. A size of zero only attaches and fails with
// ErrResourceCreation when no region exists. An existing region keeps its
// own size whatever size is requested.
func OpenOrCreateRegion(ctx context.Context, name string, size int) (*Region, error) {
	return OpenRegion(ctx, RegionConfig{Name: name, Size: size})
}

// OpenRegion is OpenOrCreateRegion with the full set of options.
func OpenRegion(ctx context.Context, cfg RegionConfig) (_ *Region, err error) {
	ctx, span := startSpan(ctx, cfg.Tracer, "shm.OpenRegion",
		attribute.String("shm.region.name", cfg.Name),
		attribute.Int("shm.region.requested_size", cfg.Size))
	defer func() { endSpan(span, err) }()

	mapped, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name:          cfg.Name,
		Size:          cfg.Size,
		Init:          cfg.Init,
		AttachTimeout: cfg.AttachTimeout,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("shm.region.owner", mapped.Owner),
		attribute.Int("shm.region.size", len(mapped.Data)))

	trackRegion(cfg.Name)
	return &Region{name: cfg.Name, mapped: mapped}, nil
}

// Name returns the region name.
func (r *Region) Name() string {
	return r.name
}

// Bytes returns the mapped memory. It must not be used after Close.
func (r *Region) Bytes() []byte {
	if r.closed.Load() {
		return nil
	}
	return r.mapped.Data
}

// Size returns the region size, fixed for the region's lifetime.
func (r *Region) Size() int {
	return len(r.Bytes())
}

// IsOwner reports whether this handle created the region.
func (r *Region) IsOwner() bool {
	return r.mapped.Owner
}

// Close unmaps the region and releases this handle's reference. Closing a
// closed Region does nothing.
func (r *Region) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	untrackRegion(r.name)
	return internalshm.UnmapRegion(r.mapped)
}
