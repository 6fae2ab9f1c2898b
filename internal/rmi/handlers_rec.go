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

package rmi

import (
	"github.com/arm-cca/rmm/internal/exitclass"
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmerr"
	"github.com/arm-cca/rmm/internal/smc"
)

// recEnter implements REC_ENTER: copies Run.entry into r under validation,
// applies any host RIPAS_RESPONSE left pending from a prior RIPAS_CHANGE
// exit, then classifies and serves whatever the simulated trap carries.
// args are (recPA, runPA): the Run block's physical
// address is a second pointer argument since, unlike RD/RTT/Data, a Run
// block is host-owned scratch memory rather than a granule the GST tracks
// by state.
func (d *Dispatcher) recEnter(recPA, runPA uint64) smc.Args {
	rdPA, e := d.peekOwner(recPA)
	if e != nil {
		return reply(e)
	}

	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()
	if rd.IsSystemOff() {
		return reply(rmerr.Realm(int(rd.VMID), "rec_enter: vmid %d is SystemOff", rd.VMID))
	}

	recHandle, err := d.GST.LockIf(recPA, granule.StateRec)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer recHandle.Unlock()
	r, err := granule.As[*rec.REC](recHandle)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	if r.OwnerRD != rdPA {
		return reply(rmerr.Rec("rec_enter: vcpu %d is not owned by rd %#x", r.VCPUIndex, rdPA))
	}

	runHandle, err := d.GST.Lock(runPA)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	buf := d.MM.Map(runHandle)
	defer func() {
		d.MM.Unmap(runPA)
		runHandle.Unlock()
	}()

	entry, err := rec.DecodeEntry(buf)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}

	if r.PendingRIPAS.Active {
		accept := entry.Flags&rec.FlagRIPASAccept != 0
		if err := rec.ApplyRIPASResponse(d.GST, rd.Root(), r, accept, d.Inv); err != nil {
			return reply(rmerr.Input("%v", err))
		}
	}

	if err := rec.Enter(r, entry); err != nil {
		return reply(rmerr.Input("%v", err))
	}
	if r.PendingMMIO.Active {
		r.ApplyMMIOResult(entry.GPRs[0])
	}

	exit := d.serve(rd, r, entry)
	if err := rec.EncodeExit(buf, exit); err != nil {
		return reply(rmerr.Input("%v", err))
	}
	return reply(nil)
}

// peekOwner takes and immediately releases recPA's lock to learn its
// owning RD's physical address, so the canonical RD-before-REC lock order
// can be honored even though REC_ENTER's host-visible
// argument list carries only the REC pointer.
func (d *Dispatcher) peekOwner(recPA uint64) (uint64, *rmerr.Error) {
	h, err := d.GST.LockIf(recPA, granule.StateRec)
	if err != nil {
		return 0, rmerr.Input("%v", err)
	}
	defer h.Unlock()
	r, err := granule.As[*rec.REC](h)
	if err != nil {
		return 0, rmerr.Input("%v", err)
	}
	return r.OwnerRD, nil
}

// serve runs the classify/dispatch portion of REC_ENTER: the simulated
// trap syndrome entry carries is classified once (this monitor has no real
// EL1 to re-trap from); an RSI call that leaves no pending PSCI, RIPAS or
// host-call state is served within this REC_ENTER and reported as a plain
// Sync exit carrying the RSI results in its GPRs.
func (d *Dispatcher) serve(rd *realm.RD, r *rec.REC, entry rec.Entry) rec.Exit {
	fid := uint32(r.GPRs[0])
	res := exitclass.Classify(entry.SimESR, entry.SimFAR, entry.SimHPFAR, fid, entry.SimIRQPending, entry.SimWFxTrap)

	switch {
	case res.Reason == rec.ReasonIRQ:
		r.Leave()
		return d.baseExit(r, rec.ReasonIRQ, res)

	case res.Reason == rec.ReasonWFx:
		r.Leave()
		return d.baseExit(r, rec.ReasonWFx, res)

	case res.Reason == rec.ReasonSync && res.RSIFid != 0:
		var args [7]uint64
		copy(args[:], r.GPRs[1:])
		out := d.RSI.Dispatch(rd, r, res.RSIFid, args)
		for i := 0; i < rec.NumGPRs && i < len(out); i++ {
			rec.SetGPR(&r.GPRs, i, out[i])
		}

		if r.PendingRIPAS.Active {
			r.Leave()
			x := d.baseExit(r, rec.ReasonRIPASChange, res)
			x.RIPASBase = r.PendingRIPAS.Base
			x.RIPASTop = r.PendingRIPAS.End
			x.RIPASValue = uint8(r.PendingRIPAS.Desired)
			return x
		}
		if r.PendingPSCI.Active {
			r.Leave()
			return d.baseExit(r, rec.ReasonPSCI, res)
		}
		if r.PendingHostCall.Active {
			r.Leave()
			x := d.baseExit(r, rec.ReasonHostCall, res)
			copy(x.GPRs[:7], r.PendingHostCall.GPRs[:])
			x.HostCallImm = r.PendingHostCall.Imm
			return x
		}
		// No pending state: the RSI call is complete. r leaves Running so
		// a subsequent REC_ENTER call can enter it again.
		r.Leave()
		return d.baseExit(r, rec.ReasonSync, res)

	case res.Reason == rec.ReasonSync && isPSCIFid(fid):
		setPendingPSCI(r, fid)
		r.Leave()
		return d.baseExit(r, rec.ReasonPSCI, res)

	default:
		r.Leave()
		x := d.baseExit(r, rec.ReasonSync, res)
		if res.Emulatable {
			r.SetPendingMMIO(res.IsWrite, res.SRT, res.SAS, res.SignExtend)
			if res.IsWrite {
				x.GPRs[0] = rec.GPRValue(r.GPRs, res.SRT)
			}
		}
		return x
	}
}

// baseExit fills the register/GIC/timer portion of an Exit common to every
// reason, leaving reason-specific fields (RIPAS, host-call imm) to the
// caller.
func (d *Dispatcher) baseExit(r *rec.REC, reason rec.Reason, res exitclass.Result) rec.Exit {
	return rec.Exit{
		Reason: reason,
		ESR:    res.ESR,
		FAR:    res.FAR,
		HPFAR:  res.HPFAR,
		GPRs:   r.GPRs,
		GIC:    r.GIC,
		Timer:  r.Timer,
	}
}

// isPSCIFid reports whether fid is one of the PSCI functions a realm vCPU
// may issue directly as an SMC, outside the RSI FID range; these are
// delegated to the host via an exit.
func isPSCIFid(fid uint32) bool {
	switch fid {
	case rec.PSCICPUSuspend, rec.PSCICPUOff, rec.PSCICPUOn, rec.PSCIAffinityInfo, rec.PSCISystemOff:
		return true
	default:
		return false
	}
}

// setPendingPSCI records the realm's PSCI request on r, pulling the
// target/context/entry arguments out of the standard PSCI register
// convention (x1=target_cpu, x2=entry_point or context_id depending on the
// call).
func setPendingPSCI(r *rec.REC, fid uint32) {
	switch fid {
	case rec.PSCICPUOn:
		r.SetPendingPSCI(fid, r.GPRs[1], r.GPRs[3], r.GPRs[2])
	default:
		r.SetPendingPSCI(fid, r.GPRs[1], 0, 0)
	}
}

// psciComplete implements PSCI_COMPLETE: pairs a caller REC's pending PSCI
// call with its outcome and, for CPU_ON, wakes the target REC.
// Lock order is caller-before-target, a fixed
// convention rather than a PA comparison: a REC with an active pending
// PSCI call is never itself the target of another pending call, so this
// pairing can never deadlock against its own inverse.
func (d *Dispatcher) psciComplete(callerPA, targetPA, fn, success uint64) smc.Args {
	callerRDPA, e := d.peekOwner(callerPA)
	if e != nil {
		return reply(e)
	}
	rdHandle, rd, e := d.lockRD(callerRDPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	callerHandle, err := d.GST.LockIf(callerPA, granule.StateRec)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer callerHandle.Unlock()
	caller, err := granule.As[*rec.REC](callerHandle)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}

	var target *rec.REC
	if targetPA != 0 {
		targetHandle, err := d.GST.LockIf(targetPA, granule.StateRec)
		if err != nil {
			return reply(rmerr.Input("%v", err))
		}
		defer targetHandle.Unlock()
		target, err = granule.As[*rec.REC](targetHandle)
		if err != nil {
			return reply(rmerr.Input("%v", err))
		}
	}

	if err := rec.CompletePSCI(caller, target, uint32(fn), success != 0); err != nil {
		return reply(asRmerr(err))
	}
	if uint32(fn) == rec.PSCISystemOff && success != 0 {
		rd.SetSystemOff()
	}
	return reply(nil)
}
