package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Handler processes one received message. It owns msg.
type Handler func(msg []byte)

// Dispatcher receives from a Consumer and runs a Handler per message on a
// bounded worker pool. Handlers run concurrently, so ordering only holds
// with a single worker. When every worker is busy the receive loop waits,
// which leaves the backlog in the ring.
type Dispatcher struct {
	consumer *Consumer
	handler  Handler
	pool     *ants.Pool
	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given number of workers.
// A panicking handler is logged and does not stop the dispatcher.
func NewDispatcher(consumer *Consumer, workers int, handler Handler) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("transport: nil handler")
	}
	pool, err := ants.NewPool(workers,
		ants.WithLogger(log),
		ants.WithPanicHandler(func(p any) {
			log.Errorf("dispatcher on %s: handler panic: %v", consumer.Ring().Name(), p)
		}))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{consumer: consumer, handler: handler, pool: pool}, nil
}

// Run dispatches messages until ctx ends, returning nil, or until
// receiving or scheduling fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.inflight.Add(1)
		if err := d.pool.Submit(func() {
			defer d.inflight.Done()
			d.handler(msg)
		}); err != nil {
			d.inflight.Done()
			return err
		}
	}
}

// Running returns the number of handlers currently executing.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close waits for running handlers and releases the workers. Run must
// have returned.
func (d *Dispatcher) Close() {
	d.inflight.Wait()
	d.pool.Release()
}
