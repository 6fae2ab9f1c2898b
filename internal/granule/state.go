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

// Package granule implements the Granule Status Table: one entry per
// 4 KiB of confidential-memory-capable RAM, each guarded by its own lock,
// enforcing the granule state machine.
package granule

import "fmt"

// State is one of the granule lifecycle states.
type State int

const (
	Undelegated State = iota
	Delegated
	StateRD
	StateRec
	StateRecAux
	StateData
	StateRTT
)

func (s State) String() string {
	switch s {
	case Undelegated:
		return "Undelegated"
	case Delegated:
		return "Delegated"
	case StateRD:
		return "RD"
	case StateRec:
		return "Rec"
	case StateRecAux:
		return "RecAux"
	case StateData:
		return "Data"
	case StateRTT:
		return "RTT"
	default:
		return "Invalid"
	}
}

// kindClass orders states for the canonical two-granule lock order:
// RD < RTT < Rec < Data < RecAux < Delegated < Undelegated.
// Handles are always acquired in ascending kindClass order when a handler
// needs more than one at a time.
func (s State) kindClass() int {
	switch s {
	case StateRD:
		return 0
	case StateRTT:
		return 1
	case StateRec:
		return 2
	case StateData:
		return 3
	case StateRecAux:
		return 4
	case Delegated:
		return 5
	case Undelegated:
		return 6
	default:
		return 7
	}
}

// Less reports whether a must be locked before b under the canonical order.
func Less(a, b State) bool { return a.kindClass() < b.kindClass() }

// validTransitions enumerates the legal direct state
// transitions. RD/Rec/Data/RTT can only be reached from Delegated, and only
// return to Delegated.
var validTransitions = map[State]map[State]bool{
	Undelegated: {Delegated: true},
	Delegated:   {Undelegated: true, StateRD: true, StateRec: true, StateRecAux: true, StateData: true, StateRTT: true},
	StateRD:     {Delegated: true},
	StateRec:    {Delegated: true},
	StateRecAux: {Delegated: true},
	StateData:   {Delegated: true},
	StateRTT:    {Delegated: true},
}

// checkTransition reports whether from->to is a legal granule transition.
func checkTransition(from, to State) error {
	if validTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("granule: illegal transition %s -> %s", from, to)
}
