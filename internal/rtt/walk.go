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

// walk descends from root toward target, one table granule at a time,
// hand-over-hand: it never holds more than one table's spinlock at once,
// since only the granule an operation touches needs its lock held for the
// duration, not the whole path down to
// it. It stops early, before reaching target, when it finds a non-table
// (leaf or invalid) entry first — the caller distinguishes "reached
// target" from "walk stopped at level L" by comparing the returned level.
//
// The returned handle is the table the returned index lives in, still
// locked; the caller must Unlock it.
func walk(gst *granule.Table, root Root, ipa uint64, target Level) (h *granule.Handle, idx int, reached Level, err error) {
	if err := root.ValidateIPA(ipa); err != nil {
		return nil, 0, 0, err
	}
	if len(root.Pages) == 0 {
		return nil, 0, 0, fmt.Errorf("rtt: realm has no root pages")
	}
	pageIdx, entryIdx := root.rootLocate(ipa)
	if pageIdx >= len(root.Pages) {
		return nil, 0, 0, fmt.Errorf("rtt: ipa %#x maps outside the concatenated roots", ipa)
	}

	h, err = gst.LockIf(root.Pages[pageIdx], granule.StateRTT)
	if err != nil {
		return nil, 0, 0, err
	}
	level := root.StartLevel
	curIdx := entryIdx

	for level < target {
		e := ReadRaw(h.Bytes(), curIdx)
		if e.Desc != DescTable {
			return h, curIdx, level, nil
		}
		nextLevel, derr := level.Descend()
		if derr != nil {
			return h, curIdx, level, nil
		}
		childH, lerr := gst.LockIf(e.OA, granule.StateRTT)
		if lerr != nil {
			h.Unlock()
			return nil, 0, 0, lerr
		}
		h.Unlock()
		h = childH
		curIdx = nextLevel.Index(ipa)
		level = nextLevel
	}
	return h, curIdx, level, nil
}

// parentLevel is level-1, validated against the realm's configured start
// level (a new table can never be created above where the roots begin).
func parentLevel(root Root, level Level) (Level, error) {
	if level <= root.StartLevel || !level.Valid() {
		return 0, fmt.Errorf("rtt: cannot create a table at level %d", level)
	}
	return level - 1, nil
}
