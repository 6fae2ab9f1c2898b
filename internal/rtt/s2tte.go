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

// Package rtt implements the Stage-2 Page Table Engine: a two-stage
// Realm Translation Table with explicit HIPAS/RIPAS semantics.
package rtt

// DescType is the S2TTE descriptor type ("Invariants").
type DescType uint8

const (
	DescInvalid DescType = iota
	DescTable
	DescBlock
	DescPage
)

// HIPAS is the Host IPA State: whether the host has assigned a physical
// page to this IPA.
type HIPAS uint8

const (
	HIPASUnassigned HIPAS = iota
	HIPASAssigned
	HIPASTable
)

// RIPAS is the Realm IPA State: whether the realm considers the IPA Empty,
// RAM, or Destroyed. Only meaningful for protected IPA.
type RIPAS uint8

const (
	RIPASEmpty RIPAS = iota
	RIPASRAM
	RIPASDestroyed
)

func (r RIPAS) String() string {
	switch r {
	case RIPASEmpty:
		return "Empty"
	case RIPASRAM:
		return "RAM"
	case RIPASDestroyed:
		return "Destroyed"
	default:
		return "?"
	}
}

// MemAttr is the stage-2 memory attribute index. NormalFWB is the only
// attribute combination a protected data page ever uses.
type MemAttr uint8

const (
	MemAttrNormalFWB MemAttr = iota
	MemAttrDevice
)

// AP is the stage-2 access permission.
type AP uint8

const (
	APReadWrite AP = iota
	APReadOnly
)

// SH is the stage-2 shareability attribute.
type SH uint8

const (
	SHNonShareable SH = iota
	SHOuterShareable
	SHInnerShareable
)

// Attrs bundles the non-address, non-state descriptor attributes.
type Attrs struct {
	MemAttr MemAttr
	AP      AP
	SH      SH
	NS      bool
	AF      bool
}

// CanonicalDataAttrs are the fixed attributes DATA_CREATE installs for a
// valid RAM page: NormalFWB, AP=RW, SH=Inner, AF=1.
var CanonicalDataAttrs = Attrs{MemAttr: MemAttrNormalFWB, AP: APReadWrite, SH: SHInnerShareable, AF: true}

// S2TTE is the in-memory (decoded) form of a 64-bit stage-2 descriptor
// ("RTT Entry"). Encode/Decode convert to/from the raw bit
// pattern actually stored in granule memory (rtt/encoding.go).
type S2TTE struct {
	Desc  DescType
	Hipas HIPAS
	Ripas RIPAS
	OA    uint64 // output address (PA), meaningful for DescBlock/DescPage/DescTable
	Attrs Attrs
}

// IsUnassignedEmpty reports the "Unassigned" + RIPAS Empty combination
// init_ripas looks for.
func (e S2TTE) IsUnassignedEmpty() bool {
	return e.Hipas == HIPASUnassigned && e.Ripas == RIPASEmpty
}

// IsAssignedRAM reports the live-mapping combination data_destroy looks
// for: a valid page/block backed by RAM.
func (e S2TTE) IsAssignedRAM() bool {
	return e.Hipas == HIPASAssigned && e.Ripas == RIPASRAM && (e.Desc == DescPage || e.Desc == DescBlock)
}

// Live reports whether the entry still carries a meaningful HIPAS/RIPAS
// combination a destroy operation must account for (used by rtt_destroy's
// "table must be childless" and data_destroy's "top IPA up to which entries
// are non-live").
func (e S2TTE) Live() bool {
	return !(e.Hipas == HIPASUnassigned && e.Ripas == RIPASEmpty)
}
