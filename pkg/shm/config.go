package shm

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalshm "github.com/srediag/shmring/internal/shm"
)

const (
	defaultRingCapacity   = 1024
	defaultRingBufferSize = 1 << 20
)

// Config holds ring creation parameters.
type Config struct {
	// Name identifies the shared memory region.
	Name string
	// Capacity is the maximum number of messages in flight.
	Capacity uint32
	// BufferSize is the payload arena size in bytes. No single message may
	// exceed it.
	BufferSize uint32
	// AttachTimeout bounds how long opening retries transient states such
	// as a concurrent close. Zero uses the package default.
	AttachTimeout time.Duration
	// Meter and Tracer are optional; nil disables instrumentation.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig returns a Config with a 1024-slot, 1 MiB ring. Name must
// still be set.
func DefaultConfig() *Config {
	return &Config{
		Capacity:      defaultRingCapacity,
		BufferSize:    defaultRingBufferSize,
		AttachTimeout: internalshm.DefaultAttachTimeout,
	}
}

// VerifyConfig reports whether config describes a ring that can be created.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := internalshm.ValidateName(config.Name); err != nil {
		return err
	}
	if config.Capacity == 0 {
		return fmt.Errorf("%w: capacity must be greater than zero", ErrInvalidConfig)
	}
	if config.BufferSize == 0 {
		return fmt.Errorf("%w: buffer size must be greater than zero", ErrInvalidConfig)
	}
	if config.AttachTimeout < 0 {
		return fmt.Errorf("%w: negative attach timeout", ErrInvalidConfig)
	}
	if _, ok := RingRegionSize(config.Capacity, config.BufferSize); !ok {
		return fmt.Errorf("%w: capacity %d with buffer size %d does not fit in memory",
			ErrInvalidConfig, config.Capacity, config.BufferSize)
	}
	return nil
}

// RegionConfig holds region creation parameters.
type RegionConfig struct {
	Name string
	// Size is used only when the region has to be created. Zero attaches
	// to an existing region and fails when there is none.
	Size int
	// Init runs on the creating handle, after zero-fill and before any
	// other handle can observe the region.
	Init          func(mem []byte) error
	AttachTimeout time.Duration
	Tracer        trace.Tracer
}
