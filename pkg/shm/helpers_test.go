package shm

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// testName derives a region name unique to the test and process.
func testName(t testing.TB) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	return fmt.Sprintf("t%d.%s", os.Getpid(), name)
}

// alignedBytes returns n zeroed bytes aligned for 64-bit atomics.
func alignedBytes(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

func newTestRing(t testing.TB, capacity, bufferSize uint32) *Ring {
	t.Helper()
	r, err := OpenOrCreateRing(t.Context(), testName(t), capacity, bufferSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func mustEnqueue(t testing.TB, r *Ring, data []byte) {
	t.Helper()
	ok, err := r.Enqueue(data)
	require.NoError(t, err)
	require.True(t, ok, "enqueue of %d bytes rejected", len(data))
}
