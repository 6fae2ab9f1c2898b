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

// Package realm implements the Realm Descriptor: the per-realm root
// object reached through a locked granule.Handle.
package realm

import (
	"fmt"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/rtt"
)

// State is the realm lifecycle state.
type State int

const (
	StateNew State = iota
	StateActive
	StateSystemOff
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateActive:
		return "Active"
	case StateSystemOff:
		return "SystemOff"
	default:
		return "?"
	}
}

// RD is the Realm Descriptor: the realm's root object. Measurements and
// the vCPU table are guarded by nothing finer-grained than the owning
// granule's lock ("RD and its vCPU vector: guarded by the RD
// granule's lock; no finer-grained locking").
type RD struct {
	VMID          uint16
	St            State
	IPAWidth      int
	RTTBase       uint64
	RTTLevelStart int64
	RTTNumStart   int
	HashAlgo      measurement.Algo
	Measurements  [measurement.NumSlots][]byte
	RPV           [64]byte
	Features0     uint64

	// Recs is the vCPU table: Recs[i] is the PA of vcpu i's REC granule,
	// once created.
	Recs []uint64

	j *journal
}

// ExpectedState implements granule.Typed: RD content is only valid while
// its granule is in StateRD.
func (r *RD) ExpectedState() granule.State { return granule.StateRD }

// newRD builds a fresh, unmeasured RD in state New.
func newRD(p Params, algo measurement.Algo) *RD {
	rd := &RD{
		VMID:          p.VMID,
		St:            StateNew,
		IPAWidth:      int(p.IPAWidth()),
		RTTBase:       p.RTTBase,
		RTTLevelStart: p.RTTLevelStart,
		RTTNumStart:   int(p.RTTNumStart),
		HashAlgo:      algo,
		RPV:           p.RPV,
		Features0:     p.Features0,
		j:             newJournal(),
	}
	for i := range rd.Measurements {
		rd.Measurements[i] = make([]byte, algo.Size())
	}
	return rd
}

// Root builds the rtt.Root the stage-2 engine needs to walk this realm's
// translation tables: a start level of -1 (one level of concatenation
// above level 0) folds into Level0 with RTTNumStart root pages, per
// internal/rtt's documented convention.
func (r *RD) Root() rtt.Root {
	level := rtt.Level0
	if r.RTTLevelStart >= 0 {
		level = rtt.Level(r.RTTLevelStart)
	}
	pages := make([]uint64, r.RTTNumStart)
	for i := range pages {
		pages[i] = r.RTTBase + uint64(i)*granule.GranuleSize
	}
	return rtt.Root{Pages: pages, StartLevel: level, IPAWidth: r.IPAWidth}
}

// RIM returns the frozen (or still-mutable, pre-activate) slot 0
// measurement.
func (r *RD) RIM() []byte { return r.Measurements[0] }

// PMUEnabled reports whether this realm was configured with PMU access.
func (r *RD) PMUEnabled() bool {
	return (r.Features0>>features0PMUShift)&1 != 0
}

// SVEVectorLength returns the configured SVE vector length, in multiples
// of 128 bits; zero means SVE is not configured.
func (r *RD) SVEVectorLength() uint8 {
	return uint8(r.Features0>>features0SVEVLShift) & features0SVEVLMask
}

// ExtendREM extends measurement slot idx (1..4) by buf.
// RIM (slot 0) cannot be extended this way once Active: REALM_ACTIVATE
// freezes it while REMs stay extensible.
func (r *RD) ExtendREM(idx int, buf []byte) error {
	if idx < 1 || idx >= measurement.NumSlots {
		return fmt.Errorf("realm: measurement slot %d out of range", idx)
	}
	prev := append([]byte(nil), r.Measurements[idx]...)
	r.j.append(journalEntry{revert: func(rd *RD) { rd.Measurements[idx] = prev }})
	r.Measurements[idx] = measurement.Extend(r.HashAlgo, prev, buf)
	return nil
}

// ExtendRIM extends slot 0 from a DATA_CREATE descriptor event, the one
// caller outside this package allowed to touch RIM: only while the realm
// is still New, mirroring REALM_CREATE's own direct call to extendRIM
// ("RIM cannot change after REALM_ACTIVATE").
func (r *RD) ExtendRIM(buf []byte) error {
	if r.St != StateNew {
		return fmt.Errorf("realm: vmid %d RIM is frozen past New", r.VMID)
	}
	r.extendRIM(buf)
	return nil
}

// extendRIM extends slot 0; only called internally, before activation.
func (r *RD) extendRIM(buf []byte) {
	r.Measurements[0] = measurement.Extend(r.HashAlgo, r.Measurements[0], buf)
}

// NextRecIndex is the vcpu index REC_CREATE must be given next; any other
// index is an Input error.
func (r *RD) NextRecIndex() int { return len(r.Recs) }

// bindRec journals and records a new REC's granule PA at the next vcpu
// index.
func (r *RD) bindRec(pa uint64) {
	r.j.append(journalEntry{revert: func(rd *RD) { rd.Recs = rd.Recs[:len(rd.Recs)-1] }})
	r.Recs = append(r.Recs, pa)
}

// unbindRec removes the last vcpu's REC binding, used by REC_DESTROY.
func (r *RD) unbindRec(idx int) error {
	if idx != len(r.Recs)-1 {
		return fmt.Errorf("realm: rec %d is not the last bound vcpu", idx)
	}
	r.Recs = r.Recs[:idx]
	return nil
}

// BindRec is bindRec's exported form, used by internal/rec's REC_CREATE to
// record a newly created REC's granule PA against this RD without that
// package reaching into realm-private fields.
func (r *RD) BindRec(pa uint64) { r.bindRec(pa) }

// UnbindRec is unbindRec's exported form, used by internal/rec's
// REC_DESTROY.
func (r *RD) UnbindRec(idx int) error { return r.unbindRec(idx) }

// RecAt returns the PA bound to vcpu index idx, or ok=false if none.
func (r *RD) RecAt(idx int) (uint64, bool) {
	if idx < 0 || idx >= len(r.Recs) {
		return 0, false
	}
	return r.Recs[idx], true
}

// IsSystemOff reports whether the realm has reached SystemOff, after which
// REC_ENTER fails with a realm-state error.
func (r *RD) IsSystemOff() bool { return r.St == StateSystemOff }

// SetSystemOff transitions the realm to SystemOff, reached via the
// realm-issued PSCI_SYSTEM_OFF call.
func (r *RD) SetSystemOff() { r.St = StateSystemOff }

// childless reports whether every REC has been released, the precondition
// REALM_DESTROY checks; the RTT root granules are not checked here, since
// Destroy releases them itself.
func (r *RD) childless() bool {
	return len(r.Recs) == 0
}

// snapshot/revert take a journal mark and roll this RD's journalled field
// mutations back to it. They are unexported and nothing calls them, so no
// handler currently rolls RD fields back through the journal.
func (r *RD) snapshot() int   { return r.j.snapshot() }
func (r *RD) revert(mark int) { r.j.revert(r, mark) }
