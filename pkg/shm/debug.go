/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"fmt"
	"io"

	internalshm "github.com/srediag/shmring/internal/shm"
)

// maxDebugSlots caps the slot lines DebugRingDetail prints.
const maxDebugSlots = 16

// DebugRingDetail prints the descriptor and the in-flight slots of the ring
// called name. It reads a copy of the region, so it takes no reference and
// works on a ring nobody has mapped.
func DebugRingDetail(w io.Writer, name string) error {
	mem, err := internalshm.Snapshot(name)
	if err != nil {
		return err
	}
	if len(mem) < descriptorSize {
		return &DescriptorMismatchError{Name: name, RegionSize: len(mem)}
	}
	capacity, bufferSize := readDescriptor(mem)
	need, ok := RingRegionSize(capacity, bufferSize)
	if capacity == 0 || !ok || need > len(mem) {
		return &DescriptorMismatchError{Name: name, GotCapacity: capacity, GotBufferSize: bufferSize, RegionSize: len(mem)}
	}

	l := newLayout(mem, capacity, bufferSize)
	rd := internalshm.LoadAcquire64(l.readIdx())
	wr := internalshm.LoadAcquire64(l.writeIdx())
	if _, err := fmt.Fprintf(w, "name:%s region:%d cap:%d buffer:%d read:%d write:%d size:%d\n",
		name, len(mem), capacity, bufferSize, rd, wr, wr-rd); err != nil {
		return err
	}
	for i := rd; i < wr && i-rd < maxDebugSlots; i++ {
		s := l.slot(i)
		if _, err := fmt.Fprintf(w, "  slot %d: start:%d size:%d\n", i, s.start(), s.size()); err != nil {
			return err
		}
	}
	if wr-rd > maxDebugSlots {
		if _, err := fmt.Fprintf(w, "  ... %d more\n", wr-rd-maxDebugSlots); err != nil {
			return err
		}
	}
	return nil
}
