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

package rtt

import (
	"fmt"

	"github.com/arm-cca/rmm/internal/granule"
)

// Create installs table as a new sub-table one level below the entry
// covering ipa, at level. table must be a Delegated granule the caller
// already holds no other reference to; Create takes it to StateRTT and
// fills it via InitChildTable. Mirrors RTT_CREATE.
func Create(gst *granule.Table, root Root, table *granule.Handle, ipa uint64, level Level) error {
	pl, err := parentLevel(root, level)
	if err != nil {
		return err
	}
	if table.State() != granule.Delegated {
		return &granule.StateError{PA: table.PA(), Want: granule.Delegated, Got: table.State()}
	}

	parent, idx, reached, err := walk(gst, root, ipa, pl)
	if err != nil {
		return err
	}
	defer parent.Unlock()
	if reached != pl {
		return fmt.Errorf("rtt: walk stopped at level %d short of parent level %d", reached, pl)
	}

	parentEntry := ReadRaw(parent.Bytes(), idx)
	if err := InitChildTable(table.Bytes(), parentEntry, level); err != nil {
		return err
	}
	if err := table.SetState(granule.StateRTT); err != nil {
		return err
	}

	parentEntry.Desc = DescTable
	parentEntry.OA = table.PA()
	WriteRaw(parent.Bytes(), idx, parentEntry)
	return nil
}

// Destroy removes the childless table one level below the entry covering
// ipa, restoring the parent entry to Unassigned/Empty, folding the freed
// table granule back to Delegated at the GST level and returning its PA.
// Mirrors RTT_DESTROY: "table must be
// childless", i.e. every entry still Unassigned-Empty.
func Destroy(gst *granule.Table, root Root, ipa uint64, level Level, inv Invalidator) (uint64, error) {
	pl, err := parentLevel(root, level)
	if err != nil {
		return 0, err
	}
	parent, idx, reached, err := walk(gst, root, ipa, pl)
	if err != nil {
		return 0, err
	}
	defer parent.Unlock()
	if reached != pl {
		return 0, fmt.Errorf("rtt: walk stopped at level %d short of parent level %d", reached, pl)
	}

	parentEntry := ReadRaw(parent.Bytes(), idx)
	if parentEntry.Desc != DescTable {
		return 0, fmt.Errorf("rtt: entry at level %d is not a table", pl)
	}
	childPA := parentEntry.OA

	child, err := gst.LockIf(childPA, granule.StateRTT)
	if err != nil {
		return 0, err
	}
	for i := 0; i < entriesPerTable; i++ {
		if ReadRaw(child.Bytes(), i).Live() {
			child.Unlock()
			return 0, fmt.Errorf("rtt: table at %#x still has live entries", childPA)
		}
	}
	if err := child.SetState(granule.Delegated); err != nil {
		child.Unlock()
		return 0, err
	}
	child.Unlock()

	WriteRaw(parent.Bytes(), idx, S2TTE{Desc: DescInvalid, Hipas: HIPASUnassigned, Ripas: RIPASEmpty})
	inv.InvalidateIPA(0, level.AlignedIPA(ipa), level)
	return childPA, nil
}

// InitRIPAS sets the initial RIPAS of every protected leaf entry covering
// [base, top) to ripas, prior to realm activation. Every touched entry must still be Unassigned: init_ripas
// only ever runs single-threaded, during realm build, over entries the
// mirror rules left at their Table-inherited default.
func InitRIPAS(gst *granule.Table, root Root, base, top uint64, ripas RIPAS) error {
	step := MaxLevel.Span()
	for ipa := base; ipa < top; ipa += step {
		if !root.IsProtected(ipa) {
			return fmt.Errorf("rtt: init_ripas ipa %#x is not protected", ipa)
		}
		h, idx, reached, err := walk(gst, root, ipa, MaxLevel)
		if err != nil {
			return err
		}
		if reached != MaxLevel {
			h.Unlock()
			return fmt.Errorf("rtt: walk stopped at level %d, expected a table at level %d", reached, MaxLevel)
		}
		e := ReadRaw(h.Bytes(), idx)
		if e.Hipas != HIPASUnassigned {
			h.Unlock()
			return fmt.Errorf("rtt: ipa %#x is already assigned", ipa)
		}
		e.Ripas = ripas
		WriteRaw(h.Bytes(), idx, e)
		h.Unlock()
	}
	return nil
}

// SetRIPAS updates the RIPAS of every protected leaf entry covering
// [base, top), after realm activation. Entries are updated whether or not
// they are assigned.
func SetRIPAS(gst *granule.Table, root Root, base, top uint64, ripas RIPAS, inv Invalidator) error {
	step := MaxLevel.Span()
	for ipa := base; ipa < top; ipa += step {
		if !root.IsProtected(ipa) {
			return fmt.Errorf("rtt: set_ripas ipa %#x is not protected", ipa)
		}
		h, idx, reached, err := walk(gst, root, ipa, MaxLevel)
		if err != nil {
			return err
		}
		if reached != MaxLevel {
			h.Unlock()
			return fmt.Errorf("rtt: walk stopped at level %d short of leaf level", reached)
		}
		e := ReadRaw(h.Bytes(), idx)
		e.Ripas = ripas
		WriteRaw(h.Bytes(), idx, e)
		h.Unlock()
		inv.InvalidateIPA(0, ipa, MaxLevel)
	}
	return nil
}

// DataCreate assigns data to the leaf entry covering ipa. data must be a
// Delegated granule already holding the host-provided page content; it is
// taken to StateData without being re-zeroed. When unknown is false the
// entry's current RIPAS must already be RAM (set by a prior InitRIPAS, the
// DATA_CREATE path that also feeds a measurement); when unknown is true
// and the RIPAS is not RAM, the PA is recorded but the descriptor stays
// invalid (HIPAS Assigned, RIPAS unchanged) until the realm asks for the
// range with a later RIPAS change.
func DataCreate(gst *granule.Table, root Root, data *granule.Handle, ipa uint64, unknown bool) error {
	if !root.IsProtected(ipa) {
		return fmt.Errorf("rtt: data_create ipa %#x is not protected", ipa)
	}
	if data.State() != granule.Delegated {
		return &granule.StateError{PA: data.PA(), Want: granule.Delegated, Got: data.State()}
	}
	h, idx, reached, err := walk(gst, root, ipa, MaxLevel)
	if err != nil {
		return err
	}
	defer h.Unlock()
	if reached != MaxLevel {
		return fmt.Errorf("rtt: walk stopped at level %d short of leaf level", reached)
	}
	e := ReadRaw(h.Bytes(), idx)
	if e.Hipas != HIPASUnassigned {
		return fmt.Errorf("rtt: ipa %#x is already assigned", ipa)
	}
	if !unknown && e.Ripas != RIPASRAM {
		return fmt.Errorf("rtt: ipa %#x is not marked RAM", ipa)
	}
	if err := data.SetState(granule.StateData); err != nil {
		return err
	}
	e.Hipas = HIPASAssigned
	e.OA = data.PA()
	if unknown && e.Ripas != RIPASRAM {
		e.Desc = DescInvalid
	} else {
		e.Ripas = RIPASRAM
		e.Desc = DescPage
		e.Attrs = CanonicalDataAttrs
	}
	WriteRaw(h.Bytes(), idx, e)
	return nil
}

// DataDestroy unassigns the leaf entry covering ipa, folds the data
// granule back to Delegated (zeroising it) and returns its former PA plus
// the top IPA of the now non-live region containing ipa. Mirrors
// RTT_DATA_DESTROY.
func DataDestroy(gst *granule.Table, root Root, ipa uint64) (pa, top uint64, err error) {
	h, idx, reached, err := walk(gst, root, ipa, MaxLevel)
	if err != nil {
		return 0, 0, err
	}
	defer h.Unlock()
	if reached != MaxLevel {
		return 0, 0, fmt.Errorf("rtt: walk stopped at level %d short of leaf level", reached)
	}
	e := ReadRaw(h.Bytes(), idx)
	if e.Hipas != HIPASAssigned {
		return 0, 0, fmt.Errorf("rtt: ipa %#x is not an assigned page", ipa)
	}
	pa = e.OA

	data, err := gst.LockIf(pa, granule.StateData)
	if err != nil {
		return 0, 0, err
	}
	if err := data.SetState(granule.Delegated); err != nil {
		data.Unlock()
		return 0, 0, err
	}
	data.Unlock()

	// A page the realm saw as RAM comes back Destroyed; an
	// Assigned-invalid page (DATA_CREATE_UNKNOWN over Empty/Destroyed)
	// keeps its RIPAS.
	if e.Ripas == RIPASRAM {
		e.Ripas = RIPASDestroyed
	}
	e.Hipas = HIPASUnassigned
	e.Desc = DescInvalid
	e.OA = 0
	WriteRaw(h.Bytes(), idx, e)
	return pa, MaxLevel.AlignedIPA(ipa) + MaxLevel.Span(), nil
}

// MapUnprotected installs a host-owned NS page at ipa, which must lie in
// the unprotected half of the IPA space. Mirrors RTT_MAP_UNPROTECTED;
// unlike data_create there is no granule state transition,
// since an unprotected page is never delegated into the realm.
func MapUnprotected(gst *granule.Table, root Root, ipa, pa uint64, attrs Attrs) error {
	if root.IsProtected(ipa) {
		return fmt.Errorf("rtt: map_unprotected ipa %#x is protected", ipa)
	}
	h, idx, reached, err := walk(gst, root, ipa, MaxLevel)
	if err != nil {
		return err
	}
	defer h.Unlock()
	if reached != MaxLevel {
		return fmt.Errorf("rtt: walk stopped at level %d short of leaf level", reached)
	}
	e := ReadRaw(h.Bytes(), idx)
	if e.Hipas != HIPASUnassigned {
		return fmt.Errorf("rtt: ipa %#x is already mapped", ipa)
	}
	attrs.NS = true
	e.Hipas = HIPASAssigned
	e.Desc = DescPage
	e.OA = pa
	e.Attrs = attrs
	WriteRaw(h.Bytes(), idx, e)
	return nil
}

// UnmapUnprotected removes an unprotected mapping at ipa. Mirrors
// RTT_UNMAP_UNPROTECTED.
func UnmapUnprotected(gst *granule.Table, root Root, ipa uint64, inv Invalidator) error {
	if root.IsProtected(ipa) {
		return fmt.Errorf("rtt: unmap_unprotected ipa %#x is protected", ipa)
	}
	h, idx, reached, err := walk(gst, root, ipa, MaxLevel)
	if err != nil {
		return err
	}
	defer h.Unlock()
	if reached != MaxLevel {
		return fmt.Errorf("rtt: walk stopped at level %d short of leaf level", reached)
	}
	e := ReadRaw(h.Bytes(), idx)
	if e.Hipas != HIPASAssigned {
		return fmt.Errorf("rtt: ipa %#x is not mapped", ipa)
	}
	WriteRaw(h.Bytes(), idx, S2TTE{Desc: DescInvalid, Hipas: HIPASUnassigned, Ripas: RIPASEmpty})
	inv.InvalidateIPA(0, ipa, MaxLevel)
	return nil
}

// ReadEntry walks toward level and returns the deepest entry actually
// found and the level it lives at, which may be shallower than requested
// if the walk meets a block/page/invalid entry first. Mirrors
// RTT_READ_ENTRY; the caller reports "walk stopped at level L" upward.
func ReadEntry(gst *granule.Table, root Root, ipa uint64, level Level) (Level, S2TTE, error) {
	if !level.Valid() || level < root.StartLevel {
		return 0, S2TTE{}, fmt.Errorf("rtt: read_entry level %d out of range", level)
	}
	h, idx, reached, err := walk(gst, root, ipa, level)
	if err != nil {
		return 0, S2TTE{}, err
	}
	defer h.Unlock()
	return reached, ReadRaw(h.Bytes(), idx), nil
}
