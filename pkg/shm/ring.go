package shm

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/shmring/internal/logging"
	internalshm "github.com/srediag/shmring/internal/shm"
)

const (
	rejectFull  = "full"
	rejectArena = "arena"
)

var ringLogger = logging.New("ring", nil)

// Ring is a single-producer, single-consumer queue of variable-length
// messages in a shared Region.
//
// Exactly one handle, in any process, may call Enqueue and exactly one may
// call Dequeue over the lifetime of the ring. Each cursor then has a single
// writer, which is all the synchronization the ring needs. A second
// producer or consumer is not detected and its behavior is undefined.
//
// Enqueue and Dequeue never block. A caller that wants to wait polls; see
// package transport for helpers that do it with backoff.
type Ring struct {
	region     *Region
	l          layout
	capacity   uint32
	bufferSize uint32
	closed     atomic.Bool
	// inUse counts calls currently touching the mapping; Close waits for
	// it to drain before unmapping.
	inUse atomic.Int64

	instr *ringInstruments
	stats ringCounters
}

type ringCounters struct {
	enqueued      atomic.Uint64
	dequeued      atomic.Uint64
	rejectedFull  atomic.Uint64
	rejectedArena atomic.Uint64
}

// RingStats is a snapshot of a ring. The cursors are shared by both sides;
// the counters only cover calls made through this handle.
type RingStats struct {
	ReadIndex  int64
	WriteIndex int64
	Size       int
	Capacity   int
	BufferSize int

	Enqueued      uint64
	Dequeued      uint64
	RejectedFull  uint64
	RejectedArena uint64
}

// OpenOrCreateRing attaches to the ring called name or creates it with room
// for capacity messages and bufferSize payload bytes. Attaching to a ring
// created with other parameters fails with ErrDescriptorMismatch.
func OpenOrCreateRing(ctx context.Context, name string, capacity, bufferSize uint32) (*Ring, error) {
	config := DefaultConfig()
	config.Name = name
	config.Capacity = capacity
	config.BufferSize = bufferSize
	return NewRing(ctx, config)
}

// NewRing is OpenOrCreateRing with the full set of options.
func NewRing(ctx context.Context, config *Config) (_ *Ring, err error) {
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	size, _ := RingRegionSize(config.Capacity, config.BufferSize)

	ctx, span := startSpan(ctx, config.Tracer, "shm.NewRing",
		attribute.String("shm.ring.name", config.Name),
		attribute.Int64("shm.ring.capacity", int64(config.Capacity)),
		attribute.Int64("shm.ring.buffer_size", int64(config.BufferSize)))
	defer func() { endSpan(span, err) }()

	region, err := OpenRegion(ctx, RegionConfig{
		Name:          config.Name,
		Size:          size,
		AttachTimeout: config.AttachTimeout,
		Tracer:        config.Tracer,
		Init: func(mem []byte) error {
			writeDescriptor(mem, config.Capacity, config.BufferSize)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if !region.IsOwner() {
		if err := checkDescriptor(region, config.Capacity, config.BufferSize); err != nil {
			_ = region.Close()
			return nil, err
		}
	}
	return newRing(region, config.Capacity, config.BufferSize, config.Meter)
}

// AttachRing attaches to an existing ring and adopts its stored capacity
// and arena size. It fails with ErrResourceCreation when there is no ring
// called name.
func AttachRing(ctx context.Context, name string) (*Ring, error) {
	region, err := OpenRegion(ctx, RegionConfig{Name: name})
	if err != nil {
		return nil, err
	}
	var capacity, bufferSize uint32
	if region.Size() >= descriptorSize {
		capacity, bufferSize = readDescriptor(region.Bytes())
	}
	if capacity == 0 || bufferSize == 0 {
		_ = region.Close()
		return nil, &DescriptorMismatchError{Name: name, RegionSize: region.Size()}
	}
	if err := checkDescriptor(region, capacity, bufferSize); err != nil {
		_ = region.Close()
		return nil, err
	}
	return newRing(region, capacity, bufferSize, nil)
}

// checkDescriptor verifies that the region holds a ring with the expected
// parameters and is large enough for it.
func checkDescriptor(region *Region, capacity, bufferSize uint32) error {
	mem := region.Bytes()
	mismatch := &DescriptorMismatchError{
		Name:           region.Name(),
		WantCapacity:   capacity,
		WantBufferSize: bufferSize,
		RegionSize:     len(mem),
	}
	if len(mem) < descriptorSize {
		return mismatch
	}
	mismatch.GotCapacity, mismatch.GotBufferSize = readDescriptor(mem)
	if mismatch.GotCapacity != capacity || mismatch.GotBufferSize != bufferSize {
		return mismatch
	}
	if need, ok := RingRegionSize(capacity, bufferSize); !ok || need > len(mem) {
		return mismatch
	}
	return nil
}

func newRing(region *Region, capacity, bufferSize uint32, meter metric.Meter) (*Ring, error) {
	r := &Ring{
		region:     region,
		l:          newLayout(region.Bytes(), capacity, bufferSize),
		capacity:   capacity,
		bufferSize: bufferSize,
	}
	if meter != nil {
		instr, err := newRingInstruments(meter, r)
		if err != nil {
			_ = region.Close()
			return nil, fmt.Errorf("shm: ring instruments: %w", err)
		}
		r.instr = instr
	}
	ringLogger.Debugf("ring %s ready owner:%t capacity:%d buffer size:%d",
		region.Name(), region.IsOwner(), capacity, bufferSize)
	return r, nil
}

// Enqueue copies data into the ring. It returns false, with no effect, when
// the ring already holds Capacity messages or the arena has no room for
// data next to the unconsumed payloads; the caller may retry later.
// Messages longer than BufferSize fail with ErrMessageTooLarge.
//
// Only the producer may call Enqueue.
func (r *Ring) Enqueue(data []byte) (bool, error) {
	if !r.acquire() {
		return false, ErrClosed
	}
	defer r.release()
	if uint64(len(data)) > uint64(r.bufferSize) {
		return false, fmt.Errorf("%w: %d bytes, arena holds %d", ErrMessageTooLarge, len(data), r.bufferSize)
	}
	size := uint32(len(data))

	// The producer is the only writer of write_idx.
	w := internalshm.LoadRelaxed64(r.l.writeIdx())
	// Pairs with the consumer's release: its slot clears are visible.
	rd := internalshm.LoadAcquire64(r.l.readIdx())
	if w-rd >= int64(r.capacity) {
		r.reject(rejectFull)
		return false, nil
	}

	start, ok := r.place(w, rd, size)
	if !ok {
		r.reject(rejectArena)
		return false, nil
	}
	r.l.slot(w).set(start, size)
	copy(r.l.arena[start:start+size], data)

	// Publish only after the slot and payload are written.
	internalshm.StoreRelease64(r.l.writeIdx(), w+1)

	r.stats.enqueued.Add(1)
	if r.instr != nil {
		r.instr.enqueue()
	}
	return true, nil
}

// place picks the arena offset for a size-byte message at cursor w, or
// reports that it would overwrite an unconsumed payload.
//
// Payloads are packed in arrival order right behind the previous one. The
// unconsumed ones occupy a single run starting at the oldest payload or,
// once placement has restarted at offset 0, a run from the oldest payload
// towards the arena tail plus a run from offset 0. Placement never searches
// for other gaps.
func (r *Ring) place(w, rd int64, size uint32) (uint32, bool) {
	if w == rd {
		// Everything has been consumed.
		return 0, true
	}

	// A slot reading (0,0) is an empty payload at offset 0 or a slot the
	// consumer is clearing. Neither owns arena bytes, so the oldest payload
	// that does is further on. Size is cleared before start, so a zero start
	// read after a non-zero size is genuine.
	var frontStart uint32
	front := rd
	for ; front < w; front++ {
		s := r.l.slot(front)
		frontStart = s.start()
		if frontStart != 0 || s.size() != 0 {
			break
		}
	}
	if front == w {
		return 0, true
	}

	back := r.l.slot(w - 1)
	backStart := back.start()
	end := uint64(backStart) + uint64(back.size())
	n := uint64(size)
	if uint64(frontStart) > uint64(r.bufferSize) || end > uint64(r.bufferSize) {
		return 0, false
	}

	if backStart < frontStart {
		// Already restarted: the free gap is [end, frontStart).
		if end < uint64(frontStart) && end+n <= uint64(frontStart) {
			return uint32(end), true
		}
		return 0, false
	}
	if end+n <= uint64(r.bufferSize) {
		return uint32(end), true
	}
	// Restart at offset 0, ending no later than the oldest payload starts.
	if n > 0 && n <= uint64(frontStart) {
		return 0, true
	}
	return 0, false
}

// acquire pins the mapping for one call. It fails once Close has started.
func (r *Ring) acquire() bool {
	r.inUse.Add(1)
	if r.closed.Load() {
		r.inUse.Add(-1)
		return false
	}
	return true
}

func (r *Ring) release() {
	r.inUse.Add(-1)
}

func (r *Ring) reject(reason string) {
	if reason == rejectFull {
		r.stats.rejectedFull.Add(1)
	} else {
		r.stats.rejectedArena.Add(1)
	}
	if r.instr != nil {
		r.instr.reject(reason)
	}
}

// Dequeue removes the oldest message and returns a copy of it. It returns
// false when the ring is empty.
//
// Only the consumer may call Dequeue.
func (r *Ring) Dequeue() ([]byte, bool) {
	var out []byte
	ok := r.dequeue(func(payload []byte) {
		out = make([]byte, len(payload))
		copy(out, payload)
	})
	return out, ok
}

// dequeue hands the oldest payload to read, then releases its slot. read
// must not retain payload.
func (r *Ring) dequeue(read func(payload []byte)) bool {
	if !r.acquire() {
		return false
	}
	defer r.release()
	for {
		// The consumer is the only writer of read_idx.
		rd := internalshm.LoadRelaxed64(r.l.readIdx())
		// Pairs with the producer's release: slot and payload are visible.
		w := internalshm.LoadAcquire64(r.l.writeIdx())
		if rd >= w {
			return false
		}

		s := r.l.slot(rd)
		start, size := s.start(), s.size()
		end := uint64(start) + uint64(size)
		if end > uint64(r.bufferSize) {
			ringLogger.Errorf("ring %s: slot %d points outside the arena (start:%d size:%d), dropping it",
				r.Name(), rd, start, size)
			s.clear()
			internalshm.StoreRelease64(r.l.readIdx(), rd+1)
			continue
		}

		read(r.l.arena[start:end])
		s.clear()

		// Publish only after the payload is copied and the slot cleared.
		internalshm.StoreRelease64(r.l.readIdx(), rd+1)

		r.stats.dequeued.Add(1)
		if r.instr != nil {
			r.instr.dequeue()
		}
		return true
	}
}

// Size returns the number of messages in flight. Both sides keep moving,
// so the value is a snapshot, clamped to [0, Capacity].
func (r *Ring) Size() int {
	if !r.acquire() {
		return 0
	}
	defer r.release()
	rd := internalshm.LoadAcquire64(r.l.readIdx())
	w := internalshm.LoadAcquire64(r.l.writeIdx())
	n := w - rd
	switch {
	case n < 0:
		return 0
	case n > int64(r.capacity):
		return int(r.capacity)
	}
	return int(n)
}

// Empty reports whether the consumer has caught up with the producer.
func (r *Ring) Empty() bool {
	return r.Size() == 0
}

// Capacity returns the maximum number of messages in flight.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// BufferSize returns the payload arena size, the largest accepted message.
func (r *Ring) BufferSize() int {
	return int(r.bufferSize)
}

// Name returns the name of the underlying region.
func (r *Ring) Name() string {
	return r.region.Name()
}

// IsOwner reports whether this handle created the ring.
func (r *Ring) IsOwner() bool {
	return r.region.IsOwner()
}

// Closed reports whether Close has been called on this handle.
func (r *Ring) Closed() bool {
	return r.closed.Load()
}

// Stats returns a snapshot of the cursors and of this handle's counters.
func (r *Ring) Stats() RingStats {
	st := RingStats{
		Capacity:      int(r.capacity),
		BufferSize:    int(r.bufferSize),
		Enqueued:      r.stats.enqueued.Load(),
		Dequeued:      r.stats.dequeued.Load(),
		RejectedFull:  r.stats.rejectedFull.Load(),
		RejectedArena: r.stats.rejectedArena.Load(),
	}
	if !r.acquire() {
		return st
	}
	defer r.release()
	st.ReadIndex = internalshm.LoadAcquire64(r.l.readIdx())
	st.WriteIndex = internalshm.LoadAcquire64(r.l.writeIdx())
	st.Size = r.Size()
	return st
}

// Check verifies that the handle is open, that the descriptor still holds
// the parameters the ring was opened with, and that the cursors respect
// 0 <= write_idx - read_idx <= capacity.
func (r *Ring) Check() error {
	if !r.acquire() {
		return ErrClosed
	}
	defer r.release()
	capacity, bufferSize := readDescriptor(r.region.Bytes())
	if capacity != r.capacity || bufferSize != r.bufferSize {
		return fmt.Errorf("%w: ring %s descriptor changed to capacity %d buffer size %d",
			ErrCorrupt, r.Name(), capacity, bufferSize)
	}
	// write_idx is read between two loads of read_idx so that each bound is
	// checked against values that cannot have crossed.
	before := internalshm.LoadAcquire64(r.l.readIdx())
	w := internalshm.LoadAcquire64(r.l.writeIdx())
	after := internalshm.LoadAcquire64(r.l.readIdx())
	if before < 0 || w < before || w-after > int64(r.capacity) {
		return fmt.Errorf("%w: ring %s cursors read:%d..%d write:%d capacity:%d",
			ErrCorrupt, r.Name(), before, after, w, r.capacity)
	}
	return nil
}

// Close unmaps the ring. Calls already running on this handle finish
// first; later ones fail with ErrClosed or report an empty ring. The ring
// survives while another handle, in this or another process, still has it
// open. Closing a closed Ring does nothing.
func (r *Ring) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	for r.inUse.Load() != 0 {
		runtime.Gosched()
	}
	var instrErr error
	if r.instr != nil {
		instrErr = r.instr.close()
	}
	if err := r.region.Close(); err != nil {
		return err
	}
	return instrErr
}
