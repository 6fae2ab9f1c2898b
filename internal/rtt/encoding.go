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

// Bit layout of a raw 64-bit stage-2 descriptor. Bits 51:12 carry the
// output address (4 KiB aligned, large enough for a 1 GiB block's address
// too since the low bits of a block-aligned address are simply zero); the
// remaining fields live in the tag bits above and below it.
const (
	oaShift = 12
	oaMask  = uint64(0x000f_ffff_ffff_f000)

	descShift  = 0
	descMask   = 0x3
	hipasShift = 2
	hipasMask  = 0x3
	ripasShift = 4
	ripasMask  = 0x3
	nsShift    = 6
	afShift    = 7
	shShift    = 8
	shMask     = 0x3
	apShift    = 10
	apMask     = 0x3

	// memShift sits above the output-address field (bits 12:51) rather
	// than below it: packing it at bit 12 would overlap oaMask's low bit.
	memShift = 52
	memMask  = 0x3
)

// Encode packs e into the raw descriptor bit pattern stored in granule
// memory.
func Encode(e S2TTE) uint64 {
	var v uint64
	v |= uint64(e.Desc&descMask) << descShift
	v |= uint64(e.Hipas&hipasMask) << hipasShift
	v |= uint64(e.Ripas&ripasMask) << ripasShift
	if e.Attrs.NS {
		v |= 1 << nsShift
	}
	if e.Attrs.AF {
		v |= 1 << afShift
	}
	v |= uint64(e.Attrs.SH&shMask) << shShift
	v |= uint64(e.Attrs.AP&apMask) << apShift
	v |= uint64(e.Attrs.MemAttr&memMask) << memShift
	v |= e.OA & oaMask
	return v
}

// Decode unpacks a raw descriptor bit pattern.
func Decode(v uint64) S2TTE {
	return S2TTE{
		Desc:  DescType((v >> descShift) & descMask),
		Hipas: HIPAS((v >> hipasShift) & hipasMask),
		Ripas: RIPAS((v >> ripasShift) & ripasMask),
		OA:    v & oaMask,
		Attrs: Attrs{
			NS:      (v>>nsShift)&1 != 0,
			AF:      (v>>afShift)&1 != 0,
			SH:      SH((v >> shShift) & shMask),
			AP:      AP((v >> apShift) & apMask),
			MemAttr: MemAttr((v >> memShift) & memMask),
		},
	}
}
