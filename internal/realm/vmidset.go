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

package realm

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
)

// VMIDSet is the global set of live realm VMIDs ("Global vmid
// set: guarded by a single spinlock, held only across insert/remove").
// Modeled on the ancestor/family/uncle mapset.Set fields miner/worker.go
// keeps for block validation, here holding uint16 VMIDs instead of block
// hashes.
type VMIDSet struct {
	mu  sync.Mutex
	set mapset.Set
}

// NewVMIDSet returns an empty VMID set.
func NewVMIDSet() *VMIDSet {
	return &VMIDSet{set: mapset.NewSet()}
}

// Insert adds vmid, failing if it is already live.
func (v *VMIDSet) Insert(vmid uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.set.Contains(vmid) {
		return fmt.Errorf("realm: vmid %d already in use", vmid)
	}
	v.set.Add(vmid)
	return nil
}

// Remove releases vmid back to the pool.
func (v *VMIDSet) Remove(vmid uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set.Remove(vmid)
}

// Contains reports whether vmid is currently live.
func (v *VMIDSet) Contains(vmid uint16) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.Contains(vmid)
}

// Cardinality returns the number of live VMIDs.
func (v *VMIDSet) Cardinality() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.Cardinality()
}
