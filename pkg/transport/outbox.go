package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

const outboxPollInterval = 10 * time.Millisecond

// Outbox stages messages in process memory and feeds them to a Producer
// from a single goroutine, so any number of goroutines may post to one
// ring. Messages reach the ring in the order they were staged.
type Outbox struct {
	producer *Producer
	staged   *queue.RingBuffer

	mu      sync.RWMutex
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	failed atomic.Uint64
}

// NewOutbox starts an outbox holding up to size staged messages. size is
// rounded up to a power of two.
func NewOutbox(producer *Producer, size uint64) *Outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		producer: producer,
		staged:   queue.NewRingBuffer(size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go o.pump()
	return o
}

// Post stages a copy of data. It returns false when the outbox is full or
// closing.
func (o *Outbox) Post(data []byte) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closing {
		return false
	}
	ok, err := o.staged.Offer(append([]byte(nil), data...))
	return ok && err == nil
}

// Len returns the number of staged messages.
func (o *Outbox) Len() int {
	return int(o.staged.Len())
}

// Failed returns the number of staged messages the ring refused for good,
// such as messages larger than its arena.
func (o *Outbox) Failed() uint64 {
	return o.failed.Load()
}

// Close stops accepting messages and waits until the staged ones are in
// the ring. If ctx ends first, the rest are dropped and ctx's error is
// returned.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	already := o.closing
	o.closing = true
	o.mu.Unlock()

	if !already {
		select {
		case <-o.done:
		case <-ctx.Done():
			o.shutdown()
			if n := o.Len(); n > 0 {
				log.Warnf("outbox on %s closed with %d messages staged", o.producer.Ring().Name(), n)
			}
			return ctx.Err()
		}
	}
	o.shutdown()
	return nil
}

func (o *Outbox) shutdown() {
	o.cancel()
	o.staged.Dispose()
	<-o.done
}

func (o *Outbox) isClosing() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closing
}

func (o *Outbox) pump() {
	defer close(o.done)
	for {
		item, err := o.staged.Poll(outboxPollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				if o.isClosing() && o.staged.Len() == 0 {
					return
				}
				continue
			}
			// Disposed.
			return
		}

		msg := item.([]byte)
		if err := o.producer.Send(o.ctx, msg); err != nil {
			if o.ctx.Err() != nil {
				return
			}
			o.failed.Add(1)
			log.Errorf("outbox on %s dropped a %d byte message: %v", o.producer.Ring().Name(), len(msg), err)
		}
		if o.isClosing() && o.staged.Len() == 0 {
			return
		}
	}
}
