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

package rsi

import (
	"encoding/binary"

	"github.com/arm-cca/rmm/internal/attestation"
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/mm"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmerr"
	"github.com/arm-cca/rmm/internal/rtt"
)

// Dispatcher holds the collaborators every RSI handler needs. Unlike
// internal/rmi, RSI handlers never take the RD's own lock themselves —
// internal/rmi's REC_ENTER path already holds both the RD and REC locks
// for the whole trap, in the canonical RD-then-REC order.
type Dispatcher struct {
	GST        *granule.Table
	MM         *mm.Window
	Keys       *attestation.Keys
	Cache      *attestation.Cache
	InstanceID []byte
}

// Dispatch answers one realm-issued RSI SMC call. a holds x1..x7 (a[0] is
// x1); the returned array is x0..x7. Realms observe RSI success/failure in
// x0 only: x0 is always the status code and any
// result data for query commands follows in x1 onward.
func (d *Dispatcher) Dispatch(rd *realm.RD, r *rec.REC, fid uint32, a [7]uint64) [8]uint64 {
	switch fid {
	case ABIVersion:
		return ok1(RSIVersion)
	case Features:
		return ok1(RSIFeatureMask)
	case MeasurementRead:
		return d.measurementRead(rd, a)
	case MeasurementExtend:
		return d.measurementExtend(rd, a)
	case AttestTokenInit:
		return d.attestInit(rd, r, a)
	case AttestTokenContinue:
		return d.attestContinue(rd, r)
	case RealmConfig:
		return d.realmConfig(rd, a)
	case IPAStateGet:
		return d.ipaStateGet(rd, a)
	case IPAStateSet:
		return d.ipaStateSet(r, a)
	case HostCall:
		return d.hostCall(r, a)
	default:
		return errStatus(rmerr.Input("rsi: unknown fid %#x", fid))
	}
}

func ok1(v uint64) [8]uint64 {
	return [8]uint64{0, v}
}

func errStatus(e *rmerr.Error) [8]uint64 {
	return [8]uint64{rmerr.StatusCode(e)}
}

// measurementRead implements RSI_MEASUREMENT_READ(index): returns up to 56
// bytes of the slot's current hash packed into x1..x7. A SHA-512 slot (64
// bytes) does not fit the seven remaining registers; this monitor returns
// the first 56 bytes rather than inventing a continuation protocol the
// ABI does not have.
func (d *Dispatcher) measurementRead(rd *realm.RD, a [7]uint64) [8]uint64 {
	idx := int(a[0])
	if idx < 0 || idx >= measurement.NumSlots {
		return errStatus(rmerr.Input("rsi: measurement index %d out of range", idx))
	}
	var out [8]uint64
	hash := rd.Measurements[idx]
	n := len(hash)
	if n > 56 {
		n = 56
	}
	for i := 0; i < n; i++ {
		reg := 1 + i/8
		shift := uint(i%8) * 8
		out[reg] |= uint64(hash[i]) << shift
	}
	return out
}

// measurementExtend implements RSI_MEASUREMENT_EXTEND(index, len, data):
// data is packed into a[2..6], so at most 40 bytes per call.
func (d *Dispatcher) measurementExtend(rd *realm.RD, a [7]uint64) [8]uint64 {
	idx := int(a[0])
	n := int(a[1])
	if n < 0 || n > 40 {
		return errStatus(rmerr.Input("rsi: measurement_extend length %d out of range", n))
	}
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		reg := 2 + i/8
		shift := uint(i%8) * 8
		buf[i] = byte(a[reg] >> shift)
	}
	if err := rd.ExtendREM(idx, buf); err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	return [8]uint64{0}
}

// attestInit implements RSI_ATTEST_TOKEN_INIT(challenge...): the 64-byte
// challenge is packed across a[0..6] (56 bytes) zero-padded to 64, the
// same register-budget simplification measurementRead documents. The
// signed token is assembled immediately so a later CONTINUE never has to
// decide whether a cached token is stale for this challenge; INIT must
// precede CONTINUE, and pinning the token at INIT keeps CONTINUE's source
// unambiguous.
func (d *Dispatcher) attestInit(rd *realm.RD, r *rec.REC, a [7]uint64) [8]uint64 {
	var challenge [64]byte
	for i := 0; i < 56; i++ {
		reg := i / 8
		shift := uint(i%8) * 8
		challenge[i] = byte(a[reg] >> shift)
	}
	if err := d.Cache.Init(d.Keys, rd, d.InstanceID, r, challenge); err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	return [8]uint64{0}
}

// attestContinue implements RSI_ATTEST_TOKEN_CONTINUE: advances this REC's
// streaming offset over the token INIT already built, returning how many
// bytes the chunk holds in x1 and whether the stream is exhausted in x2
// (chunks are at most GRANULE_SIZE bytes). The chunk bytes themselves are
// not copied into realm memory or registers by this handler or any other;
// only the length and the done flag reach the realm.
func (d *Dispatcher) attestContinue(rd *realm.RD, r *rec.REC) [8]uint64 {
	chunk, done, err := d.Cache.Continue(r, rd.VMID)
	if err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	doneFlag := uint64(0)
	if done {
		doneFlag = 1
	}
	return [8]uint64{0, uint64(len(chunk)), doneFlag}
}

// realmConfig implements RSI_REALM_CONFIG: copies ipa_width and hash_algo
// into a granule-aligned page the realm names by IPA. The IPA must be
// protected, in range, and resolve through the realm's own stage-2 tables
// to an assigned data page — a realm never gets to name a raw physical
// address.
func (d *Dispatcher) realmConfig(rd *realm.RD, a [7]uint64) [8]uint64 {
	ipa := a[0]
	root := rd.Root()
	if ipa%granule.GranuleSize != 0 {
		return errStatus(rmerr.Input("rsi: config ipa %#x is not granule-aligned", ipa))
	}
	if err := root.ValidateIPA(ipa); err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	if !root.IsProtected(ipa) {
		return errStatus(rmerr.Input("rsi: config ipa %#x is not protected", ipa))
	}
	level, entry, err := rtt.ReadEntry(d.GST, root, ipa, rtt.Level3)
	if err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	if level != rtt.Level3 || !entry.IsAssignedRAM() {
		return errStatus(rmerr.Input("rsi: config ipa %#x is not mapped", ipa))
	}

	h, err := d.GST.LockIf(entry.OA, granule.StateData)
	if err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	defer h.Unlock()
	buf := d.MM.Map(h)
	defer d.MM.Unmap(entry.OA)
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf, uint64(rd.IPAWidth))
	buf[8] = uint8(rd.HashAlgo)
	return [8]uint64{0}
}

// ipaStateGet implements RSI_IPA_STATE_GET(ipa): reads the current RIPAS
// value for ipa from the realm's own stage-2 tables.
func (d *Dispatcher) ipaStateGet(rd *realm.RD, a [7]uint64) [8]uint64 {
	ipa := a[0]
	_, entry, err := rtt.ReadEntry(d.GST, rd.Root(), ipa, rtt.Level3)
	if err != nil {
		return errStatus(rmerr.Input("%v", err))
	}
	return ok1(uint64(entry.Ripas))
}

// ipaStateSet implements RSI_IPA_STATE_SET(base, end, ripas): records a
// pending RIPAS change on the REC; internal/rmi's REC_ENTER path notices
// PendingRIPAS.Active and produces a RIPAS_CHANGE exit to host.
// The actual stage-2 mutation happens later, when the
// host's RIPAS_RESPONSE reaches the next REC_ENTER.
func (d *Dispatcher) ipaStateSet(r *rec.REC, a [7]uint64) [8]uint64 {
	base, end, ripas := a[0], a[1], rtt.RIPAS(a[2])
	r.SetPendingRIPAS(base, end, ripas)
	return [8]uint64{0}
}

// hostCall implements RSI_HOST_CALL(imm): forwards the REC's own GPRs to
// host via a HOST_CALL exit ("exits to host carrying 7 GPRs
// + immediate").
func (d *Dispatcher) hostCall(r *rec.REC, a [7]uint64) [8]uint64 {
	var gprs [7]uint64
	copy(gprs[:], r.GPRs[:7])
	r.SetPendingHostCall(uint16(a[0]), gprs)
	return [8]uint64{0}
}
