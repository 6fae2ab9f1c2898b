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
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/mm"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmerr"
	"github.com/arm-cca/rmm/internal/rsi"
	"github.com/arm-cca/rmm/internal/rtt"
	"github.com/arm-cca/rmm/internal/smc"
)

// Dispatcher holds every collaborator the host-facing command set needs:
// the GST (every command ultimately locks some granule out of it), the
// global vmid set REALM_CREATE/DESTROY mutate, a TLB Invalidator, the
// mapping window RTT/REC commands borrow to read/write granule content,
// and the RSI sub-dispatcher REC_ENTER hands realm-side SMC traps to
// without ever returning to host.
type Dispatcher struct {
	GST   *granule.Table
	VMIDs *realm.VMIDSet
	Inv   rtt.Invalidator
	MM    *mm.Window
	RSI   *rsi.Dispatcher
}

// Dispatch answers one host-issued SMC call: validates
// the FID's argument/return constraint, then switches on FID. Canonical
// granule lock order (RD -> RTT root -> RTT child -> REC -> Data/RecAux)
// is obtained by each handler always locking in that sequence;
// no handler here ever takes more than two levels at once.
func (d *Dispatcher) Dispatch(args smc.Args) smc.Args {
	fid := args.FID()
	c, known := constraints[fid]
	if !known {
		return reply(rmerr.Input("rmi: unknown fid %#x", fid))
	}
	// The register file always carries eight slots, so an under-supplied
	// call shows up as nonzero garbage in registers past the declared
	// count, never as a shorter array. Reject that here so every handler
	// sees exactly the registers its constraint names.
	for i := c.nargs + 1; i < smc.NumArgs; i++ {
		if args[i] != 0 {
			return reply(rmerr.Input("rmi: fid %#x takes %d args, register x%d is set", fid, c.nargs, i))
		}
	}

	switch fid {
	case Version:
		return replyVal(RMMVersion)
	case Features:
		return replyVal(FeatureMask)
	case GranuleDelegate:
		return d.granuleDelegate(args[1])
	case GranuleUndelegate:
		return d.granuleUndelegate(args[1])
	case RealmCreate:
		return d.realmCreate(args[1], args[2])
	case RealmActivate:
		return d.realmActivate(args[1])
	case RealmDestroy:
		return d.realmDestroy(args[1])
	case RecCreate:
		return d.recCreate(args[1], args[2], args[3], args[4])
	case RecDestroy:
		return d.recDestroy(args[1], args[2])
	case RecEnter:
		return d.recEnter(args[1], args[2])
	case RecAuxCount:
		return d.recAuxCount(args[1])
	case DataCreate:
		return d.dataCreate(args[1], args[2], args[3], args[4])
	case DataCreateUnknown:
		return d.dataCreateUnknown(args[1], args[2], args[3])
	case DataDestroy:
		return d.dataDestroy(args[1], args[2])
	case RttCreate:
		return d.rttCreate(args[1], args[2], args[3], args[4])
	case RttDestroy:
		return d.rttDestroy(args[1], args[2], args[3])
	case RttInitRipas:
		return d.rttInitRipas(args[1], args[2], args[3])
	case RttSetRipas:
		return d.rttSetRipas(args[1], args[2], args[3], args[4])
	case RttMapUnprotected:
		return d.rttMapUnprotected(args[1], args[2], args[3])
	case RttUnmapUnprotected:
		return d.rttUnmapUnprotected(args[1], args[2])
	case RttReadEntry:
		return d.rttReadEntry(args[1], args[2], args[3])
	case PsciComplete:
		return d.psciComplete(args[1], args[2], args[3], args[4])
	default:
		return reply(rmerr.Input("rmi: unhandled fid %#x", fid))
	}
}

func reply(e *rmerr.Error) smc.Args {
	var a smc.Args
	a[0] = rmerr.StatusCode(e)
	return a
}

func replyVal(v uint64) smc.Args {
	return smc.Args{0, v}
}

func (d *Dispatcher) lockRD(pa uint64) (*granule.Handle, *realm.RD, *rmerr.Error) {
	h, err := d.GST.LockIf(pa, granule.StateRD)
	if err != nil {
		return nil, nil, rmerr.Input("%v", err)
	}
	rd, err := granule.As[*realm.RD](h)
	if err != nil {
		h.Unlock()
		return nil, nil, rmerr.Input("%v", err)
	}
	return h, rd, nil
}

func (d *Dispatcher) granuleDelegate(pa uint64) smc.Args {
	h, err := d.GST.LockIf(pa, granule.Undelegated)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer h.Unlock()
	if err := h.SetState(granule.Delegated); err != nil {
		return reply(rmerr.Input("%v", err))
	}
	return reply(nil)
}

func (d *Dispatcher) granuleUndelegate(pa uint64) smc.Args {
	h, err := d.GST.LockIf(pa, granule.Delegated)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer h.Unlock()
	if err := h.SetState(granule.Undelegated); err != nil {
		return reply(rmerr.Input("%v", err))
	}
	return reply(nil)
}

func (d *Dispatcher) realmCreate(rdPA, paramsPA uint64) smc.Args {
	rdHandle, err := d.GST.LockIf(rdPA, granule.Delegated)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer rdHandle.Unlock()

	paramsH, err := d.GST.Lock(paramsPA)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	buf := append([]byte(nil), d.MM.Map(paramsH)...)
	d.MM.Unmap(paramsPA)
	paramsH.Unlock()

	if _, err := realm.Create(d.GST, rdHandle, buf, d.VMIDs); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) realmActivate(rdPA uint64) smc.Args {
	h, _, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer h.Unlock()
	if _, err := realm.Activate(h); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) realmDestroy(rdPA uint64) smc.Args {
	h, err := d.GST.LockIf(rdPA, granule.StateRD)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer h.Unlock()
	if err := realm.Destroy(d.GST, h, d.VMIDs); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) recCreate(rdPA, recPA, paramsPA, vcpuIndex uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	recHandle, err := d.GST.LockIf(recPA, granule.Delegated)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer recHandle.Unlock()

	paramsH, err := d.GST.Lock(paramsPA)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	buf := append([]byte(nil), d.MM.Map(paramsH)...)
	d.MM.Unmap(paramsPA)
	paramsH.Unlock()

	mpidrs := map[uint64]bool{}
	for i := 0; i < len(rd.Recs); i++ {
		pa, ok := rd.RecAt(i)
		if !ok {
			continue
		}
		h, err := d.GST.LockIf(pa, granule.StateRec)
		if err != nil {
			continue
		}
		if existing, err := granule.As[*rec.REC](h); err == nil {
			if mpidr, ok := existing.SysRegs["MPIDR_EL1"]; ok {
				mpidrs[mpidr] = true
			}
		}
		h.Unlock()
	}

	if _, err := rec.Create(rdPA, rd, recHandle, int(vcpuIndex), buf, mpidrs); err != nil {
		return reply(asRmerr(err))
	}
	// A vCPU created during realm build is part of the realm's initial
	// identity; one hot-plugged after activation is not.
	if rd.St == realm.StateNew {
		event := measurement.EncodeRecCreate(rd.RIM(), rd.HashAlgo, buf)
		if err := rd.ExtendRIM(event); err != nil {
			return reply(rmerr.Input("%v", err))
		}
	}
	return reply(nil)
}

func (d *Dispatcher) recDestroy(rdPA, recPA uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	recHandle, err := d.GST.LockIf(recPA, granule.StateRec)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer recHandle.Unlock()

	if err := rec.Destroy(recHandle, rd); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) recAuxCount(rdPA uint64) smc.Args {
	h, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer h.Unlock()
	return smc.Args{0, uint64(rec.AuxCount(rd))}
}

func asRmerr(err error) *rmerr.Error {
	if e, ok := err.(*rmerr.Error); ok {
		return e
	}
	return rmerr.Input("%v", err)
}
