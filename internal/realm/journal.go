// Copyright 2016 The go-probeum Authors
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

// journalEntry is a single undoable mutation applied to an RD. A realm
// handler only ever rolls back a handful of
// plain field writes, so one closure-shaped entry covers every case rather
// than a type per mutation.
type journalEntry struct {
	revert func(*RD)
}

// journal tracks mutations applied to one RD since the last snapshot (REM
// extensions and REC bindings), so they can be rolled back to a snapshot
// mark. REALM_CREATE does not use it: it undoes its own root RTT granule
// transitions directly.
type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

// append records entry, to be undone by a revert back to an earlier
// snapshot.
func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// snapshot returns a mark revert can return to.
func (j *journal) snapshot() int {
	return len(j.entries)
}

// revert undoes every entry appended since snapshot, in reverse order.
func (j *journal) revert(rd *RD, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(rd)
	}
	j.entries = j.entries[:snapshot]
}
