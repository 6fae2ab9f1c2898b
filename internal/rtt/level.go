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

// Level is the RTT walk depth. A realm's starting level may be -1..3; -1
// only ever appears as RD.StartLevel (a root one level "above" L0, reached
// by concatenating up to 16 root pages). Per-entry walk levels handled by
// this package are always 0..3.
//
// Each level's behavior (entries per table, span, whether it can be a
// leaf) is a case in the methods below rather than a generic parameter.
type Level int8

const (
	Level0 Level = 0
	Level1 Level = 1
	Level2 Level = 2
	Level3 Level = 3

	// entriesPerTable is 512 for every level: a 4 KiB table of 64-bit
	// descriptors.
	entriesPerTable = 512
)

// MaxLevel is the deepest (leaf page, 4 KiB) walk level.
const MaxLevel = Level3

// Valid reports whether l is a legal per-entry walk level.
func (l Level) Valid() bool { return l >= Level0 && l <= Level3 }

// CanBeLeaf reports whether a descriptor at this level may be a block/page
// rather than a table ("page sizes of 4 KiB (L3), 2 MiB (L2),
// 1 GiB (L1)" — L0 can only be a table).
func (l Level) CanBeLeaf() bool { return l >= Level1 && l <= Level3 }

// Span is the IPA range, in bytes, one entry at this level covers.
func (l Level) Span() uint64 {
	switch l {
	case Level3:
		return 4 * 1024
	case Level2:
		return 2 * 1024 * 1024
	case Level1:
		return 1024 * 1024 * 1024
	case Level0:
		return 512 * 1024 * 1024 * 1024
	default:
		return 0
	}
}

// Index returns the index into this level's 512-entry table that covers
// ipa.
func (l Level) Index(ipa uint64) int {
	return int((ipa / l.Span()) % entriesPerTable)
}

// Descend returns the next (deeper) level, or an error at MaxLevel.
func (l Level) Descend() (Level, error) {
	if l >= Level3 {
		return 0, fmt.Errorf("rtt: cannot descend past level %d", l)
	}
	return l + 1, nil
}

// AlignedIPA returns the base IPA of the Span()-sized region containing ipa
// at this level.
func (l Level) AlignedIPA(ipa uint64) uint64 {
	span := l.Span()
	return ipa - (ipa % span)
}
