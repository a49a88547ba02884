// Package shm provides named shared memory regions and a lock-free,
// single-producer single-consumer ring of variable-length messages stored
// in one.
//
// A ring region holds a small descriptor with the two cursors, a table of
// per-message slots and a payload arena. The producer copies a payload into
// the arena, records it in the slot at write_idx and publishes it by
// advancing write_idx with release ordering; the consumer does the mirror
// image with read_idx. Processes on the same host share a ring by opening
// it under the same name:
//
//	ring, err := shm.OpenOrCreateRing(ctx, "orders", 1024, 1<<20)
//	if err != nil {
//		return err
//	}
//	defer ring.Close()
//	if ok, err := ring.Enqueue(msg); err != nil || !ok {
//		// too large, or full: retry later
//	}
//
// On Linux and macOS a region is a file under /dev/shm (or the temporary
// directory) whose lifetime is reference counted with advisory locks; on
// Windows it is a named, pagefile-backed file mapping. Either way the
// region disappears once the last handle in any process is closed.
//
// Rings can record OpenTelemetry metrics and spans when Config carries a
// Meter or Tracer.
package shm
