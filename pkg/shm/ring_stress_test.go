package shm

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stressMessages = 100000

// TestRing_ProducerConsumerStress moves a hundred thousand integers
// through a ring whose arena holds exactly capacity of them, with the
// producer and the consumer on separate handles and goroutines.
func TestRing_ProducerConsumerStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	ctx := context.Background()
	producer := newTestRing(t, 101, 808)
	consumer, err := AttachRing(ctx, producer.Name())
	require.NoError(t, err)
	defer consumer.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		msg := make([]byte, 8)
		for i := uint64(0); i < stressMessages; i++ {
			binary.LittleEndian.PutUint64(msg, i)
			for {
				ok, err := producer.Enqueue(msg)
				if err != nil {
					t.Errorf("enqueue %d: %v", i, err)
					return
				}
				if ok {
					break
				}
				runtime.Gosched()
			}
		}
	}()

	var sum, next uint64
	for received := 0; received < stressMessages; {
		msg, ok := consumer.Dequeue()
		if !ok {
			runtime.Gosched()
			continue
		}
		require.Len(t, msg, 8)
		v := binary.LittleEndian.Uint64(msg)
		require.Equal(t, next, v)
		next++
		sum += v
		received++
	}
	wg.Wait()

	assert.Equal(t, uint64(stressMessages*(stressMessages-1)/2), sum)
	assert.True(t, consumer.Empty())
	assert.NoError(t, consumer.Check())
}

func BenchmarkRingEnqueueDequeue(b *testing.B) {
	r := newTestRing(b, 1024, 1<<20)
	msg := make([]byte, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if ok, _ := r.Enqueue(msg); !ok {
			b.Fatal("enqueue rejected")
		}
		buf := AcquireBuffer()
		r.DequeueTo(buf)
		ReleaseBuffer(buf)
	}
}
