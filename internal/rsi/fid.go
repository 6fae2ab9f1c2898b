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

// Package rsi implements the RSI Dispatcher: the realm-facing command
// set a REC's SMC traps route to once internal/exitclass identifies the
// FID as falling in the RSI range. Like internal/rmi, this
// is a static switch-on-FID table, not a registration mechanism.
package rsi

// FID values occupy exitclass.RSIRangeLo..RSIRangeHi; PSCI_*
// calls use the real PSCI SMC FIDs from internal/rec and are recognised by
// internal/rmi separately before reaching this dispatcher, since they fall
// outside this monitor's own RSI sub-range.
const (
	ABIVersion uint32 = 0xc400_0190 + iota
	Features
	MeasurementRead
	MeasurementExtend
	AttestTokenInit
	AttestTokenContinue
	RealmConfig
	IPAStateGet
	IPAStateSet
	HostCall
)

// RSIVersion is the value ABI_VERSION reports, this monitor's own
// revision counter.
const RSIVersion uint64 = 1<<16 | 0

// RSIFeatureMask is the bitmap FEATURES reports: bit 0 measurement
// extend, bit 1 attestation, bit 2 RIPAS query/set, bit 3 host call.
const RSIFeatureMask uint64 = 0xf
