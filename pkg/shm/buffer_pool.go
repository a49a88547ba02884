package shm

import (
	"github.com/valyala/bytebufferpool"
)

// DequeueTo removes the oldest message and appends it to buf. It returns
// false, leaving buf untouched, when the ring is empty.
//
// Only the consumer may call DequeueTo.
func (r *Ring) DequeueTo(buf *bytebufferpool.ByteBuffer) bool {
	return r.dequeue(func(payload []byte) {
		buf.B = append(buf.B, payload...)
	})
}

// AcquireBuffer returns an empty buffer from the shared pool, sized by the
// payloads recently released to it.
func AcquireBuffer() *bytebufferpool.ByteBuffer {
	return bytebufferpool.Get()
}

// ReleaseBuffer returns buf to the pool. buf must not be used afterwards.
func ReleaseBuffer(buf *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(buf)
}
