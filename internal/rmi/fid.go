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

// Package rmi implements the RMI Dispatcher: the host-facing command set,
// indexed by a stable numeric FID. Dispatch is a static switch on the FID
// rather than a registration/callback table, keeping the command set
// closed and auditable.
package rmi

// FID values are this monitor's own numbering, following the SMC64 Fast
// Call convention's high bits without claiming bit-exact
// parity with any real platform's allocation — no external caller ever
// needs these numbers to match real firmware, only to be stable within
// this monitor.
const (
	Version = 0xc4000150 + iota
	Features
	GranuleDelegate
	GranuleUndelegate
	RealmCreate
	RealmActivate
	RealmDestroy
	RecCreate
	RecDestroy
	RecEnter
	RecAuxCount
	DataCreate
	DataCreateUnknown
	DataDestroy
	RttCreate
	RttDestroy
	RttInitRipas
	RttSetRipas
	RttMapUnprotected
	RttUnmapUnprotected
	RttReadEntry
	PsciComplete
)

// constraint records the fixed argument/return register count the
// dispatcher validates before invoking any handler.
type constraint struct {
	nargs int
	nret  int
}

var constraints = map[uint32]constraint{
	Version:             {0, 1},
	Features:            {0, 1},
	GranuleDelegate:     {1, 0},
	GranuleUndelegate:   {1, 0},
	RealmCreate:         {2, 0},
	RealmActivate:       {1, 0},
	RealmDestroy:        {1, 0},
	RecCreate:           {4, 0},
	RecDestroy:          {2, 0},
	RecEnter:            {2, 0},
	RecAuxCount:         {1, 1},
	DataCreate:          {4, 0},
	DataCreateUnknown:   {3, 0},
	DataDestroy:         {2, 2},
	RttCreate:           {4, 0},
	RttDestroy:          {3, 1},
	RttInitRipas:        {3, 0},
	RttSetRipas:         {4, 0},
	RttMapUnprotected:   {3, 0},
	RttUnmapUnprotected: {2, 0},
	RttReadEntry:        {3, 3},
	PsciComplete:        {4, 0},
}

// RMMVersion is the value VERSION reports in x1 (major<<16|minor), an
// internal convention since no real ABI revision applies here.
const RMMVersion uint64 = 1<<16 | 0

// FeatureMask is the bitmap FEATURES reports available in x1: bit 0 PMU,
// bit 1 SVE, matching the features_0 sub-fields internal/realm decodes.
const FeatureMask uint64 = 0x3
