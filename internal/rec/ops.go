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

package rec

import (
	"fmt"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rtt"
)

// Create implements REC_CREATE: verifies the vcpu index is RD.next,
// verifies MPIDR uniqueness among already-bound RECs, installs the initial
// GPRs and PC, computes VTCR from rd, and binds the REC to rd as a
// child. recHandle must already be a Delegated granule; on
// success it is left in StateRec with the new *REC attached.
func Create(rdPA uint64, rd *realm.RD, recHandle *granule.Handle, vcpuIndex int, paramsBuf []byte, mpidrs map[uint64]bool) (*REC, error) {
	if recHandle.State() != granule.Delegated {
		return nil, &granule.StateError{PA: recHandle.PA(), Want: granule.Delegated, Got: recHandle.State()}
	}
	if vcpuIndex != rd.NextRecIndex() {
		return nil, fmt.Errorf("rec: vcpu index %d != expected next index %d", vcpuIndex, rd.NextRecIndex())
	}
	p, err := DecodeParams(paramsBuf)
	if err != nil {
		return nil, err
	}
	if mpidrs[p.MPIDR] {
		return nil, fmt.Errorf("rec: mpidr %#x already bound to another vcpu", p.MPIDR)
	}
	wantAux := AuxCount(rd)
	if int(p.NumAux) != wantAux {
		return nil, fmt.Errorf("rec: num_aux %d does not match required %d", p.NumAux, wantAux)
	}

	r := &REC{
		OwnerRD:   rdPA,
		VCPUIndex: vcpuIndex,
		St:        StateReady,
		PC:        p.PC,
		NumAux:    wantAux,
		VTCR:      ComputeVTCR(rd),
		SysRegs:   map[string]uint64{"MPIDR_EL1": p.MPIDR},
	}
	for i := 0; i < numInitGPR; i++ {
		r.GPRs[i] = p.GPRs[i]
	}

	if err := recHandle.SetState(granule.StateRec); err != nil {
		return nil, err
	}
	if err := granule.Attach(recHandle, r); err != nil {
		return nil, err
	}
	rd.BindRec(recHandle.PA())
	return r, nil
}

// Destroy implements REC_DESTROY: requires the REC not be Running.
func Destroy(handle *granule.Handle, rd *realm.RD) error {
	r, err := granule.As[*REC](handle)
	if err != nil {
		return err
	}
	if r.St == StateRunning {
		return fmt.Errorf("rec: vcpu %d is running", r.VCPUIndex)
	}
	if err := rd.UnbindRec(r.VCPUIndex); err != nil {
		return err
	}
	return handle.SetState(granule.Delegated)
}

// PSCI function identifiers the realm may invoke: the
// 64-bit SMC calling convention FIDs a realm vCPU issues to request a
// target vCPU be started, queried, or powered down.
const (
	PSCICPUSuspend   uint32 = 0xc4000001
	PSCICPUOff       uint32 = 0x84000002
	PSCICPUOn        uint32 = 0xc4000003
	PSCIAffinityInfo uint32 = 0xc4000004
	PSCISystemOff    uint32 = 0x84000008
)

// SetPendingPSCI records a PSCI call the realm issued on this REC, blocking it
// until the host replies with PSCI_COMPLETE.
func (r *REC) SetPendingPSCI(fn uint32, targetMPIDR, contextID, entry uint64) {
	r.PendingPSCI = PSCIPending{Active: true, Function: fn, TargetMPIDR: targetMPIDR, ContextID: contextID, Entry: entry}
}

// CompletePSCI implements the target-REC side of PSCI_COMPLETE:
// the target REC becomes Runnable with x0=context_id
// and PC=entry, for a CPU_ON completion; AffinityInfo/Suspend/Off
// completions only clear the caller's pending state and carry no target
// register writes.
func CompletePSCI(caller, target *REC, fn uint32, success bool) error {
	if !caller.PendingPSCI.Active {
		return fmt.Errorf("rec: vcpu %d has no pending PSCI call", caller.VCPUIndex)
	}
	if caller.PendingPSCI.Function != fn {
		return fmt.Errorf("rec: psci_complete fid %#x does not match pending %#x", fn, caller.PendingPSCI.Function)
	}
	pending := caller.PendingPSCI
	caller.PendingPSCI = PSCIPending{}

	if !success {
		return nil
	}
	switch pending.Function {
	case PSCICPUOn:
		if target == nil {
			return fmt.Errorf("rec: psci_complete cpu_on with no target rec")
		}
		target.Runnable = true
		target.St = StateReady
		target.PC = pending.Entry
		SetGPR(&target.GPRs, 0, pending.ContextID)
	case PSCISystemOff:
		// Realm-wide transition; the RD-level flip is performed by the
		// dispatcher, which owns the RD lock this package does not take.
	}
	return nil
}

// SetPendingHostCall records RSI_HOST_CALL's exit-to-host state.
func (r *REC) SetPendingHostCall(imm uint16, gprs [7]uint64) {
	r.PendingHostCall = HostCallPending{Active: true, Imm: imm, GPRs: gprs}
}

// ClearHostCall clears host-call-pending, called on the next REC_ENTER.
func (r *REC) ClearHostCall() { r.PendingHostCall = HostCallPending{} }

// SetPendingMMIO records an emulatable data abort forwarded to host, so
// the next REC_ENTER knows which register the emulated result lands in.
func (r *REC) SetPendingMMIO(write bool, srt, sas int, signExtend bool) {
	r.PendingMMIO = MMIOPending{Active: true, Write: write, SRT: srt, SAS: sas, SignExtend: signExtend}
}

// ApplyMMIOResult consumes a pending emulated access, writing val (the
// host's emulated read result) into the trapped target register after
// truncating to the access size and sign-extending when the trapped load
// asked for it. Stores have no result to apply; register 31 stays zero.
func (r *REC) ApplyMMIOResult(val uint64) {
	p := r.PendingMMIO
	r.PendingMMIO = MMIOPending{}
	if !p.Active || p.Write {
		return
	}
	bits := uint(8) << uint(p.SAS)
	if bits < 64 {
		val &= 1<<bits - 1
		if p.SignExtend && val&(1<<(bits-1)) != 0 {
			val |= ^uint64(0) << bits
		}
	}
	SetGPR(&r.GPRs, p.SRT, val)
}

// SetPendingRIPAS records RSI_IPA_STATE_SET's pending range.
func (r *REC) SetPendingRIPAS(base, end uint64, desired rtt.RIPAS) {
	r.PendingRIPAS = RIPASPending{Active: true, Base: base, End: end, Desired: desired}
}

// ApplyRIPASResponse implements the host's RIPAS_RESPONSE handling in
// Run.entry: "applying SetRIPAS to every page
// in [addr, end)" when the host accepts the pending range, then clearing
// the REC's pending state either way.
func ApplyRIPASResponse(gst *granule.Table, root rtt.Root, r *REC, accept bool, inv rtt.Invalidator) error {
	if !r.PendingRIPAS.Active {
		return fmt.Errorf("rec: vcpu %d has no pending RIPAS change", r.VCPUIndex)
	}
	pending := r.PendingRIPAS
	r.PendingRIPAS = RIPASPending{}
	if !accept {
		return nil
	}
	return rtt.SetRIPAS(gst, root, pending.Base, pending.End, pending.Desired, inv)
}
