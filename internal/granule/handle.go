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
	"sync"

	"github.com/arm-cca/rmm/internal/rmmlog"
)

// Handle owns mutable access to one granule's typed content for as long as
// the caller holds it; it is acquired via Table.Lock/LockIf and must be
// released with Unlock. Mapping (internal/mm), lifetime (Handle) and
// validation (State/StateError) are deliberately separate concerns.
type Handle struct {
	table *Table
	idx   int
	pa    uint64

	unlocked bool
}

// PA returns the physical address this handle covers.
func (h *Handle) PA() uint64 { return h.pa }

// State returns the granule's current state.
func (h *Handle) State() State {
	return h.table.entries[h.idx].state
}

// Unlock releases the granule's spinlock. Safe to call at most once;
// calling it twice indicates a handler bug and panics immediately rather
// than silently double-unlocking the word.
func (h *Handle) Unlock() {
	if h.unlocked {
		rmmlog.Fatal("granule: double unlock", "pa", h.pa)
	}
	h.unlocked = true
	h.table.entries[h.idx].lock.unlock()
}

// SetState validates and performs the transition, zeroising the granule's
// backing memory when the new state is Delegated and dropping any typed
// content previously attached to it.
func (h *Handle) SetState(to State) error {
	from := h.State()
	if err := checkTransition(from, to); err != nil {
		return err
	}
	if to == Delegated {
		zero(h.Bytes())
		deleteTyped(h.pa)
		pin(h.Bytes())
	}
	if from == Delegated && to == Undelegated {
		unpin(h.Bytes())
	}
	h.table.entries[h.idx].state = to
	return nil
}

// Bytes returns the raw 4 KiB content window backing this granule. Used
// directly by internal/rtt (RTT tables are literally an array of 512
// S2TTEs stored in granule memory) and internal/mm/internal/rec for the
// host-visible, bit-exact wire structures (Realm Params, REC Params, REC
// Run, Data pages), where the layout must match fixed byte
// offsets rather than a Go struct's field layout.
func (h *Handle) Bytes() []byte {
	off := h.pa - h.table.base
	return h.table.mem[off : off+GranuleSize]
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// --- Typed content registry ---
//
// RD and REC are rich monitor-internal objects (mutexes, journals, slices)
// that do not need a bit-exact wire layout — only their *existence*, bound
// to a specific granule in a specific state, needs to be enforced under the
// lock: obtaining the object
// requires both the lock and the state check. We implement it as a small
// side table keyed by PA, guarded by its own mutex (never the per-granule
// spinlock, which only protects the state word) since different goroutines
// may touch unrelated entries of this table concurrently.

// Typed is implemented by monitor content types (RD, REC) that can be
// attached to a granule.
type Typed interface {
	// ExpectedState is the granule state this type requires to be valid.
	ExpectedState() State
}

var (
	registryMu sync.Mutex
	registry   = map[uint64]Typed{}
)

// Attach binds content to the granule h covers. The granule must already be
// in content.ExpectedState(); Attach does not itself transition state.
func Attach(h *Handle, content Typed) error {
	if h.State() != content.ExpectedState() {
		return &StateError{PA: h.pa, Want: content.ExpectedState(), Got: h.State()}
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[h.pa] = content
	return nil
}

// As retrieves content previously Attach-ed to h's granule, type-asserting
// it to T and verifying the granule is still in T's expected state.
func As[T Typed](h *Handle) (T, error) {
	var zero T
	registryMu.Lock()
	v, ok := registry[h.pa]
	registryMu.Unlock()
	if !ok {
		return zero, &StateError{PA: h.pa, Want: zero.ExpectedState(), Got: h.State()}
	}
	t, ok := v.(T)
	if !ok {
		return zero, &StateError{PA: h.pa, Want: zero.ExpectedState(), Got: h.State()}
	}
	if h.State() != t.ExpectedState() {
		return zero, &StateError{PA: h.pa, Want: t.ExpectedState(), Got: h.State()}
	}
	return t, nil
}

func deleteTyped(pa uint64) {
	registryMu.Lock()
	delete(registry, pa)
	registryMu.Unlock()
}
