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

// Package rec implements the REC (Realm Execution Context), the per-vCPU
// saved state and exception-return path. Register/GIC save-restore keeps
// the register-kind-map shape hypervisor vCPU wrappers use for their
// SetRegisters/GetRegisters pairs, applied to AArch64 GPRs, system
// registers and GIC state.
package rec

import (
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rtt"
)

// NumGPRs is the number of general-purpose registers a REC saves; GPR 31
// is architecturally the zero register and is never stored.
const NumGPRs = 31

// State is the REC lifecycle state ("New -> Ready via
// REC_CREATE ... Running only while EL drops to the realm").
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	default:
		return "?"
	}
}

// GICState is the subset of GIC virtualization state a REC saves/restores
// across a run ("GIC LRs+APRs+HCR+VMCR").
type GICState struct {
	HCR  uint64
	VMCR uint64
	MISR uint64
	LRs  [16]uint64
	APRs [4]uint64
}

// TimerState is the virtual/physical timer state a REC saves/restores
// ("timer CNTV/CNTP+offsets").
type TimerState struct {
	PCtl    uint64
	PCval   uint64
	VCtl    uint64
	VCval   uint64
	VOffset uint64
}

// PSCIPending is set when the realm issued a PSCI call this REC is blocked
// on, cleared by the paired PSCI_COMPLETE RMI.
type PSCIPending struct {
	Active      bool
	Function    uint32
	TargetMPIDR uint64
	// ContextID/Entry are the arguments a CPU_ON carries for the target
	// vCPU; AffinityInfo/Suspend/Off/SystemOff leave them zero.
	ContextID uint64
	Entry     uint64
}

// HostCallPending is set by the realm's RSI_HOST_CALL, cleared by the next
// REC_ENTER.
type HostCallPending struct {
	Active bool
	Imm    uint16
	GPRs   [7]uint64
}

// RIPASPending is set by the realm's RSI_IPA_STATE_SET, cleared by the
// host's RIPAS_RESPONSE in Run.entry.
type RIPASPending struct {
	Active  bool
	Base    uint64
	End     uint64
	Desired rtt.RIPAS
}

// MMIOPending records an emulatable data abort forwarded to host. For a
// load, the next REC_ENTER applies the host's emulated read result from
// Run.entry's first GPR into the trapped target register; for a store
// there is nothing to write back and the flag only pairs the exit with
// its re-entry.
type MMIOPending struct {
	Active     bool
	Write      bool
	SRT        int
	SAS        int
	SignExtend bool
}

// AttestState tracks ATTEST_TOKEN_INIT/CONTINUE sequencing; INIT must
// precede CONTINUE. The signed token bytes themselves are
// cached per-REC in internal/attestation, not held here, so this package
// never needs to import the crypto-adjacent attestation package.
type AttestState struct {
	ChallengeSet bool
	Challenge    [64]byte
	// TokenOffset is how many bytes of the signed token have already been
	// streamed out by ATTEST_TOKEN_CONTINUE calls.
	TokenOffset int
}

// REC is the per-vCPU Realm Execution Context.
type REC struct {
	OwnerRD    uint64 // PA of the owning RD granule, set once at REC_CREATE
	VCPUIndex  int
	St         State
	Runnable   bool

	GPRs   [NumGPRs]uint64
	PC     uint64
	PSTATE uint64

	// SysRegs holds AArch64 system registers not otherwise modeled as a
	// dedicated field (SCTLR_EL1, TCR_EL1, and similar), keyed by name the
	// way tinyrange-cc's kvm package keys register maps by hv.Register.
	SysRegs map[string]uint64

	GIC   GICState
	Timer TimerState

	// SIMD/SVE/PMU sub-contexts are opaque save areas: their internal
	// layout is architecture detail outside this component's scope.
	SIMD []byte
	SVE  []byte
	PMU  []byte

	VTCR uint64

	PendingPSCI     PSCIPending
	PendingHostCall HostCallPending
	PendingRIPAS    RIPASPending
	PendingMMIO     MMIOPending
	Attest          AttestState

	// NumAux is the auxiliary-granule count REC_AUX_COUNT reported for
	// this REC's owning RD at the time it was queried; REC_CREATE's Params.NumAux must match it.
	NumAux int
}

// ExpectedState implements granule.Typed: REC content is only valid while
// its granule is in StateRec.
func (r *REC) ExpectedState() granule.State { return granule.StateRec }

// AuxCount returns the fixed number of auxiliary (SIMD/SVE/PMU spill)
// granules a REC needs for rd's feature configuration, the RMI
// REC_AUX_COUNT command's return value: a fixed constant derived from the
// RD's feature flags (PMU present, SVE vector length).
func AuxCount(rd *realm.RD) int {
	n := 0
	if rd.PMUEnabled() {
		n++
	}
	if vl := rd.SVEVectorLength(); vl > 0 {
		// One granule per 4KiB (granule.GranuleSize) of Z-register state at this vector length,
		// rounded up; SVE_VL is stored in 128-bit units.
		bytesPerZ := int(vl) * 16
		total := bytesPerZ * 32 // 32 Z registers
		n += (total + granule.GranuleSize - 1) / granule.GranuleSize
	}
	return n
}

// ComputeVTCR derives the VTCR_EL2 value REC_CREATE installs from rd's
// configured IPA width and starting RTT level ("computes
// VTCR from the RD"). Bit positions follow the real AArch64 VTCR_EL2
// layout: T0SZ[5:0], SL0[7:6], and a concatenation marker above it this
// monitor keeps private (no hardware ever reads this encoding directly;
// only internal/rec.ComputeVTCR and its tests agree on it).
func ComputeVTCR(rd *realm.RD) uint64 {
	t0sz := uint64(64 - rd.IPAWidth)
	sl0 := uint64(0)
	if rd.RTTLevelStart >= 0 {
		sl0 = uint64(rd.RTTLevelStart)
	}
	concat := uint64(rd.RTTNumStart)
	var v uint64
	v |= t0sz & 0x3f
	v |= (sl0 & 0x3) << 6
	v |= (concat & 0x1f) << 16
	return v
}
