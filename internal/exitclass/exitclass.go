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

// Package exitclass implements the Exit Classifier: given the ESR/FAR/
// HPFAR a realm exit to EL2 carries, decides whether it is an emulatable
// abort, a non-emulatable abort (SEA), an RSI call, a WFx trap, an IRQ, or
// a raw synchronous exit.
package exitclass

import "github.com/arm-cca/rmm/internal/rec"

// ESR exception-class field (bits [31:26]) values this monitor cares
// about. Values match the real AArch64 ESR_EL2.EC encoding.
const (
	ecDataAbortLowerEL uint64 = 0x24
	ecSMC64            uint64 = 0x17
	ecWFxTrap          uint64 = 0x01
)

const (
	escShift = 26
	escMask  = 0x3f

	// ESR Data Abort: ISV (bit 24), SAS (bits 23:22), SRT (bits 20:16),
	// SSE sign-extend (bit 21), DFSC (bits 5:0).
	daISVBit   = 1 << 24
	daSASShift = 22
	daSASMask  = 0x3
	daSSEBit   = 1 << 21
	daSRTShift = 16
	daSRTMask  = 0x1f
	daDFSCMask = 0x3f

	// The one Data Fault Status Code this monitor singles out as
	// non-emulatable: synchronous external abort, DFSC 0x10. Any other data
	// abort with ISV set is treated as emulatable; one with ISV clear is
	// non-emulatable.
	dfscSEA = 0x10
)

// ec extracts the ESR exception class.
func ec(esr uint64) uint64 { return (esr >> escShift) & escMask }

// RSIRangeLo/Hi bound the SMC FID range the realm uses to call RSI
// commands.
const (
	RSIRangeLo uint32 = 0xc400_0190
	RSIRangeHi uint32 = 0xc400_01ff
)

// Result is the normalised classification of one realm exit.
type Result struct {
	Reason rec.Reason
	ESR    uint64
	FAR    uint64
	HPFAR  uint64

	// Emulatable is set when Reason==Sync and the abort is a data abort
	// internal/monitor should forward to host with a masked ESR and later
	// apply the emulated read result from Run.entry.GPRs[0].
	Emulatable bool
	// SRT is the target/source register index for an emulatable access
	// ("sign-extended loads propagate to the target GPR per
	// SAS"; SRT==31 is the zero register).
	SRT int
	// SAS is the access size field (0=byte,1=halfword,2=word,3=doubleword).
	SAS int
	// SignExtend reports whether a load's result must be sign-extended
	// into the target GPR.
	SignExtend bool
	// IsWrite reports whether the faulting access was a store (no target
	// GPR to fill on return) vs a load.
	IsWrite bool

	// RSIFid is populated when Reason==Sync and the SMC FID fell in the
	// RSI range, the dispatch boundary into internal/rsi.
	RSIFid uint32
}

// Classify decides the normalised exit reason for one realm exit, given
// the raw syndrome registers and, for an SMC exit, the FID the realm
// placed in x0. irqPending/wfxTrapConfigured are monitor-maintained booleans reflecting
// whatever pending-interrupt and trap-configuration state the REC/GIC
// carry; this package has no hardware access of its own.
func Classify(esr, far, hpfar uint64, smcFID uint32, irqPending, wfxTrapConfigured bool) Result {
	if irqPending {
		return Result{Reason: rec.ReasonIRQ, ESR: esr, FAR: far, HPFAR: hpfar}
	}

	class := ec(esr)
	switch class {
	case ecDataAbortLowerEL:
		r := Result{Reason: rec.ReasonSync, ESR: esr, FAR: far, HPFAR: hpfar}
		dfsc := esr & daDFSCMask
		if dfsc == dfscSEA {
			// Non-emulatable: masked ESR only, no GPR write.
			r.ESR = maskNonEmulatable(esr)
			return r
		}
		if esr&daISVBit != 0 {
			r.Emulatable = true
			r.SRT = int((esr >> daSRTShift) & daSRTMask)
			r.SAS = int((esr >> daSASShift) & daSASMask)
			r.SignExtend = esr&daSSEBit != 0
			r.IsWrite = esr&(1<<6) != 0
			r.ESR = maskEmulatable(esr)
		} else {
			r.ESR = maskNonEmulatable(esr)
		}
		return r
	case ecSMC64:
		if smcFID >= RSIRangeLo && smcFID <= RSIRangeHi {
			return Result{Reason: rec.ReasonSync, ESR: esr, FAR: far, HPFAR: hpfar, RSIFid: smcFID}
		}
		return Result{Reason: rec.ReasonSync, ESR: esr, FAR: far, HPFAR: hpfar}
	case ecWFxTrap:
		if wfxTrapConfigured {
			return Result{Reason: rec.ReasonWFx, ESR: esr, FAR: far, HPFAR: hpfar}
		}
		return Result{Reason: rec.ReasonSync, ESR: esr, FAR: far, HPFAR: hpfar}
	default:
		return Result{Reason: rec.ReasonSync, ESR: esr, FAR: far, HPFAR: hpfar}
	}
}

// maskEmulatable/maskNonEmulatable apply the host-visible ESR masks:
// the host must learn an abort happened without learning realm-private
// register contents. maskEmulatable clears only the SRT (target register)
// field; maskNonEmulatable keeps only the exception class and clears the
// whole ISS, DFSC included.
func maskEmulatable(esr uint64) uint64 {
	return esr &^ (uint64(daSRTMask) << daSRTShift)
}

func maskNonEmulatable(esr uint64) uint64 {
	return (esr >> escShift) << escShift // keep only the exception class
}

// IsRSI reports whether an SMC FID falls in the RSI dispatch range.
func IsRSI(fid uint32) bool { return fid >= RSIRangeLo && fid <= RSIRangeHi }
