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
	"encoding/binary"
	"fmt"
)

// ErrAlreadyTable is returned when rtt_create targets an entry that is
// already a table descriptor ("create" edge case).
var ErrAlreadyTable = fmt.Errorf("rtt: entry is already a table at this level")

// InitChildTable fills a freshly delegated 4 KiB granule (childBuf, zeroed
// on entry by granule.Handle.SetState) with the 512 entries a new sub-table
// one level below parent must start with, so that splitting a block/page
// descriptor into a table never changes what address range resolves to
// ("Mirror rules for create of a new sub-table under a
// parent entry P"):
//
//   - P Unassigned-Empty: every child entry is Unassigned, inheriting P's
//     NS attribute and RIPAS (Empty, the only RIPAS value Unassigned takes).
//   - P Assigned, not live (Desc Invalid, a placeholder HIPAS/RIPAS pair
//     with no backing page): every child inherits HIPAS/RIPAS from P, OA
//     stepped by the child level's span so a later real mapping lands on
//     the right sub-range.
//   - P Assigned-RAM (a live Block/Page): every child becomes a live
//     descriptor of its own at childLevel, OA stepped from P.OA, carrying
//     P's attributes. The caller must invalidate any TLB entries for this
//     IPA range after committing the new table, since a cached block
//     translation at the old level must not survive the split.
//   - P already Table: programmer error, not mirrored; callers check this
//     before ever calling InitChildTable.
func InitChildTable(childBuf []byte, parent S2TTE, childLevel Level) error {
	if parent.Desc == DescTable {
		return ErrAlreadyTable
	}
	if !childLevel.Valid() {
		return fmt.Errorf("rtt: invalid child level %d", childLevel)
	}
	step := childLevel.Span()
	leaf := childLevel.CanBeLeaf() && parent.Desc != DescInvalid

	for i := 0; i < entriesPerTable; i++ {
		e := S2TTE{
			Hipas: parent.Hipas,
			Ripas: parent.Ripas,
			Attrs: parent.Attrs,
		}
		switch {
		case parent.Hipas == HIPASUnassigned:
			e.Desc = DescInvalid
		case parent.Desc == DescInvalid:
			e.Desc = DescInvalid
			e.OA = parent.OA + uint64(i)*step
		case leaf:
			e.Desc = descForLevel(childLevel)
			e.OA = parent.OA + uint64(i)*step
		default:
			e.Desc = DescInvalid
			e.OA = parent.OA + uint64(i)*step
		}
		binary.LittleEndian.PutUint64(childBuf[i*8:i*8+8], Encode(e))
	}
	return nil
}

// descForLevel picks the leaf descriptor tag ("page sizes of
// 4 KiB (L3), 2 MiB (L2), 1 GiB (L1)" — L3 is always Page, L1/L2 Block).
func descForLevel(l Level) DescType {
	if l == Level3 {
		return DescPage
	}
	return DescBlock
}

// ReadRaw reads the raw entry at idx out of a table buffer.
func ReadRaw(buf []byte, idx int) S2TTE {
	return Decode(binary.LittleEndian.Uint64(buf[idx*8 : idx*8+8]))
}

// WriteRaw writes e into the entry at idx of a table buffer.
func WriteRaw(buf []byte, idx int, e S2TTE) {
	binary.LittleEndian.PutUint64(buf[idx*8:idx*8+8], Encode(e))
}
