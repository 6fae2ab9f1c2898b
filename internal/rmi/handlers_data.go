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
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rmerr"
	"github.com/arm-cca/rmm/internal/rtt"
	"github.com/arm-cca/rmm/internal/smc"
)

// flagsUnknown is the flags byte measured for DATA_CREATE_UNKNOWN, where
// the content hash is zeroed instead of computed.
const flagsUnknown uint64 = 1

func (d *Dispatcher) dataCreateCommon(rdPA, ipa, dataPA, flags uint64, unknown bool) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	// Gate on realm state before any granule mutation: a failed command
	// must leave every state equal to its prior value, and the RIM
	// extension below can only fail this way.
	if rd.St != realm.StateNew {
		return reply(rmerr.Realm(int(realm.StateNew), "rmi: data_create on vmid %d in state %s", rd.VMID, rd.St))
	}

	dataHandle, err := d.GST.LockIf(dataPA, granule.Delegated)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer dataHandle.Unlock()

	content := d.MM.Map(dataHandle)
	defer d.MM.Unmap(dataPA)

	var hash []byte
	if !unknown {
		hash = measurement.Extend(rd.HashAlgo, nil, content)
	}
	event := measurement.EncodeDataCreate(rd.RIM(), ipa, flags, hash)

	if err := rtt.DataCreate(d.GST, rd.Root(), dataHandle, ipa, unknown); err != nil {
		return reply(asRmerr(err))
	}
	if err := rd.ExtendRIM(event); err != nil {
		return reply(rmerr.Input("%v", err))
	}
	return reply(nil)
}

func (d *Dispatcher) dataCreate(rdPA, ipa, dataPA, flags uint64) smc.Args {
	return d.dataCreateCommon(rdPA, ipa, dataPA, flags, false)
}

func (d *Dispatcher) dataCreateUnknown(rdPA, ipa, dataPA uint64) smc.Args {
	return d.dataCreateCommon(rdPA, ipa, dataPA, flagsUnknown, true)
}

func (d *Dispatcher) dataDestroy(rdPA, ipa uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	pa, top, err := rtt.DataDestroy(d.GST, rd.Root(), ipa)
	if err != nil {
		return reply(asRmerr(err))
	}
	return smc.Args{0, pa, top}
}

func (d *Dispatcher) rttCreate(rdPA, tablePA, ipa, level uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	tableHandle, err := d.GST.LockIf(tablePA, granule.Delegated)
	if err != nil {
		return reply(rmerr.Input("%v", err))
	}
	defer tableHandle.Unlock()

	if err := rtt.Create(d.GST, rd.Root(), tableHandle, ipa, rtt.Level(level)); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) rttDestroy(rdPA, ipa, level uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()

	pa, err := rtt.Destroy(d.GST, rd.Root(), ipa, rtt.Level(level), d.Inv)
	if err != nil {
		return reply(asRmerr(err))
	}
	// rtt.Destroy has already folded the freed table back to Delegated.
	return smc.Args{0, pa}
}

func (d *Dispatcher) rttInitRipas(rdPA, base, top uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()
	if rd.St != realm.StateNew {
		return reply(rmerr.Realm(int(realm.StateNew), "rmi: init_ripas on vmid %d in state %s", rd.VMID, rd.St))
	}
	if err := rtt.InitRIPAS(d.GST, rd.Root(), base, top, rtt.RIPASRAM); err != nil {
		return reply(asRmerr(err))
	}
	event := measurement.EncodeRIPAS(rd.RIM(), base, top)
	if err := rd.ExtendRIM(event); err != nil {
		return reply(rmerr.Input("%v", err))
	}
	return reply(nil)
}

func (d *Dispatcher) rttSetRipas(rdPA, base, top, ripas uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()
	if err := rtt.SetRIPAS(d.GST, rd.Root(), base, top, rtt.RIPAS(ripas), d.Inv); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) rttMapUnprotected(rdPA, ipa, pa uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()
	if err := rtt.MapUnprotected(d.GST, rd.Root(), ipa, pa, rtt.CanonicalDataAttrs); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) rttUnmapUnprotected(rdPA, ipa uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()
	if err := rtt.UnmapUnprotected(d.GST, rd.Root(), ipa, d.Inv); err != nil {
		return reply(asRmerr(err))
	}
	return reply(nil)
}

func (d *Dispatcher) rttReadEntry(rdPA, ipa, level uint64) smc.Args {
	rdHandle, rd, e := d.lockRD(rdPA)
	if e != nil {
		return reply(e)
	}
	defer rdHandle.Unlock()
	reached, entry, err := rtt.ReadEntry(d.GST, rd.Root(), ipa, rtt.Level(level))
	if err != nil {
		return reply(asRmerr(err))
	}
	var desc uint64
	desc |= uint64(entry.Desc)
	desc |= uint64(entry.Hipas) << 8
	desc |= uint64(entry.Ripas) << 16
	return smc.Args{0, uint64(reached), desc, entry.OA}
}
