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

import "fmt"

// Root describes the RTT roots of a single realm: enough information for
// the engine to walk without importing the realm package (which itself
// depends on this one for S2TTE types), keeping RD and its children free
// of owning cycles.
type Root struct {
	// Pages are the (up to 16) concatenated root granule PAs, in order.
	Pages []uint64
	// StartLevel is the level the roots begin at, 0..3: a start level of
	// -1 is only meaningful as "one level of concatenation above Level0"
	// and is folded into len(Pages) instead.
	StartLevel Level
	// IPAWidth is the realm's configured IPA width in bits.
	IPAWidth int
}

// protectedBound is the first unprotected IPA: bit (IPAWidth-1) selects
// protected (0) vs unprotected/NS (1) address space.
func (r Root) protectedBound() uint64 {
	return uint64(1) << (r.IPAWidth - 1)
}

// IsProtected reports whether ipa lies in the realm's protected range.
func (r Root) IsProtected(ipa uint64) bool {
	return ipa < r.protectedBound()
}

// ValidateIPA checks ipa is within the realm's configured width; an IPA
// with bit ipa_width set is out of range.
func (r Root) ValidateIPA(ipa uint64) error {
	if ipa>>uint(r.IPAWidth) != 0 {
		return fmt.Errorf("rtt: ipa %#x exceeds configured width %d", ipa, r.IPAWidth)
	}
	return nil
}

// rootLocate returns which root page index and which entry within it
// covers ipa at r.StartLevel, treating the concatenated roots as one
// virtual table of len(Pages)*512 entries.
func (r Root) rootLocate(ipa uint64) (pageIdx, entryIdx int) {
	span := r.StartLevel.Span()
	total := ipa / span
	virtual := total % uint64(len(r.Pages)*entriesPerTable)
	return int(virtual / entriesPerTable), int(virtual % entriesPerTable)
}
