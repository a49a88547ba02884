package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_HandlesEveryMessage(t *testing.T) {
	r := testRing(t, 32, 1024)
	p, err := NewProducer(r, fastOptions())
	require.NoError(t, err)
	c, err := NewConsumer(r, fastOptions())
	require.NoError(t, err)

	const n = 200
	var sum atomic.Int64
	var handled sync.WaitGroup
	handled.Add(n)
	d, err := NewDispatcher(c, 4, func(msg []byte) {
		defer handled.Done()
		sum.Add(int64(msg[0]))
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	want := int64(0)
	for i := 0; i < n; i++ {
		require.NoError(t, p.Send(context.Background(), []byte{byte(i)}))
		want += int64(byte(i))
	}
	handled.Wait()
	cancel()
	require.NoError(t, <-runErr)
	d.Close()
	assert.Equal(t, want, sum.Load())
}

func TestDispatcher_SingleWorkerKeepsOrder(t *testing.T) {
	r := testRing(t, 8, 256)
	p, err := NewProducer(r, fastOptions())
	require.NoError(t, err)
	c, err := NewConsumer(r, fastOptions())
	require.NoError(t, err)

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	d, err := NewDispatcher(c, 1, func(msg []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg[0])
		if len(got) == 50 {
			close(done)
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	for i := 0; i < 50; i++ {
		require.NoError(t, p.Send(context.Background(), []byte{byte(i)}))
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("handlers did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, b := range got {
		require.Equal(t, byte(i), b)
	}
}

func TestDispatcher_SurvivesHandlerPanic(t *testing.T) {
	r := testRing(t, 8, 256)
	p, err := NewProducer(r, fastOptions())
	require.NoError(t, err)
	c, err := NewConsumer(r, fastOptions())
	require.NoError(t, err)

	var handled atomic.Int32
	d, err := NewDispatcher(c, 2, func(msg []byte) {
		handled.Add(1)
		if msg[0] == 0 {
			panic("boom")
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	require.NoError(t, p.Send(context.Background(), []byte{0}))
	require.NoError(t, p.Send(context.Background(), []byte{1}))
	assert.Eventually(t, func() bool { return handled.Load() == 2 }, 10*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)
	d.Close()
}

func TestDispatcher_NilHandler(t *testing.T) {
	r := testRing(t, 4, 64)
	c, err := NewConsumer(r, nil)
	require.NoError(t, err)
	_, err = NewDispatcher(c, 1, nil)
	assert.Error(t, err)
}
