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
	"fmt"

	"github.com/edsrzf/mmap-go"

	"github.com/arm-cca/rmm/internal/rmmlog"
)

// GranuleSize is the fixed confidential-memory page size, 4 KiB.
const GranuleSize = 4096

type entry struct {
	lock  spinlock
	state State
}

// Table is the Granule Status Table: a dense array of entries indexed by
// (PA - base)/4KiB, covering every confidential-memory granule named by the
// boot manifest's DRAM bank list. Granule content itself is backed by a
// single mmap-ed anonymous region sized to the same range, so Delegate's
// "zeroise" and every typed read/write touch real memory rather than a
// simulated byte slice.
type Table struct {
	base    uint64
	entries []entry
	mem     mmap.MMap
}

// NewTable builds a GST covering the half-open physical address range
// [base, base+size), size a multiple of GranuleSize. Allocation failure
// here is the monitor's one boot-time panic: without a GST there is no
// monitor to return an error through.
func NewTable(base, size uint64) *Table {
	if size%GranuleSize != 0 || base%GranuleSize != 0 {
		rmmlog.Fatal("granule: DRAM range not granule-aligned", "base", base, "size", size)
	}
	mem, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		rmmlog.Fatal("granule: failed to reserve backing memory", "size", size, "err", err)
	}
	n := size / GranuleSize
	return &Table{
		base:    base,
		entries: make([]entry, n),
		mem:     mem,
	}
}

// Close releases the backing mmap region.
func (t *Table) Close() error {
	return t.mem.Unmap()
}

// index validates pa is granule-aligned and covered by the table.
func (t *Table) index(pa uint64) (int, error) {
	if pa%GranuleSize != 0 {
		return 0, fmt.Errorf("granule: %#x is not granule-aligned", pa)
	}
	if pa < t.base {
		return 0, fmt.Errorf("granule: %#x below DRAM base %#x", pa, t.base)
	}
	idx := (pa - t.base) / GranuleSize
	if idx >= uint64(len(t.entries)) {
		return 0, fmt.Errorf("granule: %#x out of range", pa)
	}
	return int(idx), nil
}

// Contains reports whether pa names a granule covered by this table.
func (t *Table) Contains(pa uint64) bool {
	_, err := t.index(pa)
	return err == nil
}

// Lock validates pa and blocks until the granule's spinlock is acquired,
// returning a Handle that owns mutable access to its typed content for as
// long as the caller holds it.
func (t *Table) Lock(pa uint64) (*Handle, error) {
	idx, err := t.index(pa)
	if err != nil {
		return nil, err
	}
	e := &t.entries[idx]
	e.lock.lock()
	return &Handle{table: t, idx: idx, pa: pa}, nil
}

// LockIf behaves like Lock but additionally requires the granule's current
// state equal expected, unlocking and returning a StateError otherwise.
func (t *Table) LockIf(pa uint64, expected State) (*Handle, error) {
	h, err := t.Lock(pa)
	if err != nil {
		return nil, err
	}
	if h.State() != expected {
		got := h.State()
		h.Unlock()
		return nil, &StateError{PA: pa, Want: expected, Got: got}
	}
	return h, nil
}

// StateError reports a granule was not in the state a caller required.
type StateError struct {
	PA       uint64
	Want, Got State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("granule %#x: want state %s, got %s", e.PA, e.Want, e.Got)
}

// IsNotInRealm reports whether pa's granule is Undelegated, i.e. the host
// may freely read/write it. Takes and
// releases the lock internally; callers needing a stable view across
// multiple checks should Lock explicitly instead.
func (t *Table) IsNotInRealm(pa uint64) bool {
	h, err := t.Lock(pa)
	if err != nil {
		return false
	}
	defer h.Unlock()
	return h.State() == Undelegated
}

// PAOf returns the physical address a Handle's index corresponds to.
func (t *Table) paOf(idx int) uint64 {
	return t.base + uint64(idx)*GranuleSize
}

// Visit calls fn once per granule with its current state, taking and
// releasing each entry's lock in turn. The view is per-entry consistent
// only; concurrent RMI traffic may change earlier entries while later ones
// are still being read.
func (t *Table) Visit(fn func(pa uint64, s State)) {
	for i := range t.entries {
		e := &t.entries[i]
		e.lock.lock()
		s := e.state
		e.lock.unlock()
		fn(t.paOf(i), s)
	}
}
