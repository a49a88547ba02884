// Package transport turns the non-blocking ring operations into blocking
// sends and receives and adds in-process helpers around them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shmring/api"
	"github.com/srediag/shmring/internal/logging"
	"github.com/srediag/shmring/pkg/shm"
)

var log = logging.New("transport", nil)

// ErrInvalidOptions reports Options that cannot drive a wait loop.
var ErrInvalidOptions = errors.New("transport: invalid options")

// errNotReady makes backoff retry a ring that is full or empty.
var errNotReady = errors.New("transport: ring not ready")

var (
	_ api.Sender   = (*Producer)(nil)
	_ api.Receiver = (*Consumer)(nil)
)

// Options controls how Send and Receive wait.
type Options struct {
	// SpinCount is the number of immediate retries, yielding the processor
	// between them, before falling back to sleeping.
	SpinCount int
	// InitialInterval and MaxInterval bound the exponential sleep between
	// later retries.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions returns the Options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		SpinCount:       64,
		InitialInterval: 50 * time.Microsecond,
		MaxInterval:     10 * time.Millisecond,
	}
}

// VerifyOptions reports whether opts is usable.
func VerifyOptions(opts *Options) error {
	if opts == nil {
		return fmt.Errorf("%w: nil options", ErrInvalidOptions)
	}
	if opts.SpinCount < 0 {
		return fmt.Errorf("%w: negative spin count", ErrInvalidOptions)
	}
	if opts.InitialInterval <= 0 || opts.MaxInterval < opts.InitialInterval {
		return fmt.Errorf("%w: intervals %v..%v", ErrInvalidOptions, opts.InitialInterval, opts.MaxInterval)
	}
	return nil
}

func resolveOptions(opts *Options) (Options, error) {
	if opts == nil {
		return *DefaultOptions(), nil
	}
	if err := VerifyOptions(opts); err != nil {
		return Options{}, err
	}
	return *opts, nil
}

// wait calls attempt until it reports success, fails, or ctx ends.
func wait(ctx context.Context, opts Options, attempt func() (bool, error)) error {
	for i := 0; i < opts.SpinCount; i++ {
		ok, err := attempt()
		if err != nil || ok {
			return err
		}
		runtime.Gosched()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		ok, err := attempt()
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case !ok:
			return errNotReady
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// Producer is the sending side of a ring.
type Producer struct {
	ring *shm.Ring
	opts Options
}

// NewProducer wraps ring, which must not have another producer. A nil
// opts uses DefaultOptions.
func NewProducer(ring *shm.Ring, opts *Options) (*Producer, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Producer{ring: ring, opts: o}, nil
}

// TrySend is Enqueue: it reports false when the ring has no room now.
func (p *Producer) TrySend(data []byte) (bool, error) {
	return p.ring.Enqueue(data)
}

// Send enqueues data, waiting while the ring is full. It returns ctx's
// error when ctx ends first.
func (p *Producer) Send(ctx context.Context, data []byte) error {
	err := wait(ctx, p.opts, func() (bool, error) {
		return p.ring.Enqueue(data)
	})
	if err != nil && ctx.Err() != nil {
		log.Debugf("send on %s abandoned: %v", p.ring.Name(), err)
	}
	return err
}

// Ring returns the wrapped ring.
func (p *Producer) Ring() *shm.Ring {
	return p.ring
}

// Consumer is the receiving side of a ring.
type Consumer struct {
	ring *shm.Ring
	opts Options
}

// NewConsumer wraps ring, which must not have another consumer. A nil
// opts uses DefaultOptions.
func NewConsumer(ring *shm.Ring, opts *Options) (*Consumer, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Consumer{ring: ring, opts: o}, nil
}

// TryReceive is Dequeue.
func (c *Consumer) TryReceive() ([]byte, bool) {
	return c.ring.Dequeue()
}

// Receive dequeues the next message, waiting while the ring is empty. It
// returns shm.ErrClosed once the ring has been closed.
func (c *Consumer) Receive(ctx context.Context) ([]byte, error) {
	var msg []byte
	err := wait(ctx, c.opts, func() (bool, error) {
		var ok bool
		msg, ok = c.ring.Dequeue()
		return c.result(ok)
	})
	return msg, err
}

// ReceiveTo is Receive appending into buf instead of allocating.
func (c *Consumer) ReceiveTo(ctx context.Context, buf *bytebufferpool.ByteBuffer) error {
	return wait(ctx, c.opts, func() (bool, error) {
		return c.result(c.ring.DequeueTo(buf))
	})
}

func (c *Consumer) result(ok bool) (bool, error) {
	if !ok && c.ring.Closed() {
		return false, shm.ErrClosed
	}
	return ok, nil
}

// Ring returns the wrapped ring.
func (c *Consumer) Ring() *shm.Ring {
	return c.ring
}
