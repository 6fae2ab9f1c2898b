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
	"testing"
)

const testBase = uint64(0x4000_0000)

func newTestTable(t *testing.T, granules int) *Table {
	t.Helper()
	tab := NewTable(testBase, uint64(granules)*GranuleSize)
	t.Cleanup(func() { tab.Close() })
	return tab
}

func TestLockRejectsBadPA(t *testing.T) {
	tab := newTestTable(t, 4)
	for _, pa := range []uint64{
		testBase + 1,                 // misaligned
		testBase - GranuleSize,       // below base
		testBase + 4*GranuleSize,     // one past the end
		testBase + 10000*GranuleSize, // far out of range
	} {
		if _, err := tab.Lock(pa); err == nil {
			t.Errorf("Lock(%#x) succeeded", pa)
		}
	}
}

func TestDelegateZeroises(t *testing.T) {
	tab := newTestTable(t, 1)
	h, err := tab.Lock(testBase)
	if err != nil {
		t.Fatal(err)
	}
	for i := range h.Bytes() {
		h.Bytes()[i] = 0xaa
	}
	if err := h.SetState(Delegated); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	for i, b := range h.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %#x after delegate, want 0", i, b)
		}
	}
	h.Unlock()
}

func TestTransitionTable(t *testing.T) {
	// Every typed state is reachable only from Delegated and folds back
	// only to Delegated.
	for _, typed := range []State{StateRD, StateRec, StateRecAux, StateData, StateRTT} {
		if err := checkTransition(Delegated, typed); err != nil {
			t.Errorf("Delegated -> %s rejected: %v", typed, err)
		}
		if err := checkTransition(typed, Delegated); err != nil {
			t.Errorf("%s -> Delegated rejected: %v", typed, err)
		}
		if err := checkTransition(Undelegated, typed); err == nil {
			t.Errorf("Undelegated -> %s accepted", typed)
		}
		if err := checkTransition(typed, Undelegated); err == nil {
			t.Errorf("%s -> Undelegated accepted", typed)
		}
	}
	if err := checkTransition(StateRD, StateRec); err == nil {
		t.Error("RD -> Rec accepted")
	}
}

func TestFailedTransitionLeavesState(t *testing.T) {
	tab := newTestTable(t, 1)
	h, err := tab.Lock(testBase)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Unlock()
	if err := h.SetState(StateRD); err == nil {
		t.Fatal("Undelegated -> RD accepted")
	}
	if h.State() != Undelegated {
		t.Fatalf("state = %s after failed transition, want Undelegated", h.State())
	}
}

func TestLockIf(t *testing.T) {
	tab := newTestTable(t, 1)
	h, err := tab.LockIf(testBase, Undelegated)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetState(Delegated); err != nil {
		t.Fatal(err)
	}
	h.Unlock()

	if _, err := tab.LockIf(testBase, Undelegated); err == nil {
		t.Fatal("LockIf(Undelegated) accepted a Delegated granule")
	}
	// The failed LockIf must have released the lock.
	h, err = tab.LockIf(testBase, Delegated)
	if err != nil {
		t.Fatal(err)
	}
	h.Unlock()
}

func TestIsNotInRealm(t *testing.T) {
	tab := newTestTable(t, 2)
	if !tab.IsNotInRealm(testBase) {
		t.Fatal("fresh granule not visible to host")
	}
	h, err := tab.Lock(testBase)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetState(Delegated); err != nil {
		t.Fatal(err)
	}
	h.Unlock()
	if tab.IsNotInRealm(testBase) {
		t.Fatal("Delegated granule still visible to host")
	}
	if tab.IsNotInRealm(testBase - GranuleSize) {
		t.Fatal("out-of-range PA visible to host")
	}
}

func TestLockOrdering(t *testing.T) {
	// The canonical kind-class order from the two-granule lock rule.
	order := []State{StateRD, StateRTT, StateRec, StateData, StateRecAux, Delegated, Undelegated}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if !Less(order[i], order[j]) {
				t.Errorf("Less(%s, %s) = false", order[i], order[j])
			}
			if Less(order[j], order[i]) {
				t.Errorf("Less(%s, %s) = true", order[j], order[i])
			}
		}
	}
}

type testContent struct{ v int }

func (*testContent) ExpectedState() State { return StateRD }

func TestTypedRegistry(t *testing.T) {
	tab := newTestTable(t, 1)
	h, err := tab.Lock(testBase)
	if err != nil {
		t.Fatal(err)
	}

	if err := Attach(h, &testContent{v: 7}); err == nil {
		t.Fatal("Attach accepted a granule not in the content's state")
	}

	if err := h.SetState(Delegated); err != nil {
		t.Fatal(err)
	}
	if err := h.SetState(StateRD); err != nil {
		t.Fatal(err)
	}
	if err := Attach(h, &testContent{v: 7}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	c, err := As[*testContent](h)
	if err != nil {
		t.Fatalf("as: %v", err)
	}
	if c.v != 7 {
		t.Fatalf("content v = %d", c.v)
	}

	// Folding back to Delegated drops the typed binding.
	if err := h.SetState(Delegated); err != nil {
		t.Fatal(err)
	}
	if _, err := As[*testContent](h); err == nil {
		t.Fatal("As succeeded after the granule left the typed state")
	}
	h.Unlock()
}

func TestLockMutualExclusion(t *testing.T) {
	tab := newTestTable(t, 1)

	const workers = 8
	const iters = 200
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				h, err := tab.Lock(testBase)
				if err != nil {
					t.Error(err)
					return
				}
				counter++
				h.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != workers*iters {
		t.Fatalf("counter = %d, want %d (lock not mutually exclusive)", counter, workers*iters)
	}
}

func TestVisit(t *testing.T) {
	tab := newTestTable(t, 3)
	h, err := tab.Lock(testBase + GranuleSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetState(Delegated); err != nil {
		t.Fatal(err)
	}
	h.Unlock()

	seen := map[uint64]State{}
	tab.Visit(func(pa uint64, s State) { seen[pa] = s })
	if len(seen) != 3 {
		t.Fatalf("visited %d granules, want 3", len(seen))
	}
	if seen[testBase] != Undelegated || seen[testBase+GranuleSize] != Delegated {
		t.Fatalf("unexpected states: %v", seen)
	}
}
