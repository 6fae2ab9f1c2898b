// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package granule

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a test-and-test-and-set spinlock over a single word. The real
// monitor never sleeps ("only the per-granule spinlock blocks;
// no I/O blocking"); a futex-backed mutex would let the Go scheduler park
// the goroutine, which is a fair enough approximation of "blocks" in a
// hosted process, but a tight spin loop is closer to the bare-metal source's
// actual busy-wait and is what we use here.
type spinlock struct {
	state uint32
}

func (s *spinlock) lock() {
	for {
		if atomic.CompareAndSwapUint32(&s.state, 0, 1) {
			return
		}
		for atomic.LoadUint32(&s.state) != 0 {
			runtime.Gosched()
		}
	}
}

func (s *spinlock) unlock() {
	atomic.StoreUint32(&s.state, 0)
}
