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

package realm

import (
	"fmt"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/rtt"
)

// Create implements REALM_CREATE: validates paramsBuf, allocates the vmid,
// transitions the host-provided root RTT granules to RTT state, and
// measures the params into RIM. rdHandle must already be a Delegated
// granule the caller holds; on success it is left in StateRD with the new
// *RD attached via granule.Attach. gst is used to take the root RTT
// granule locks.
func Create(gst *granule.Table, rdHandle *granule.Handle, paramsBuf []byte, vmids *VMIDSet) (*RD, error) {
	if rdHandle.State() != granule.Delegated {
		return nil, &granule.StateError{PA: rdHandle.PA(), Want: granule.Delegated, Got: rdHandle.State()}
	}
	p, err := DecodeParams(paramsBuf)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	algo, err := measurement.ParseAlgo(p.HashAlgo)
	if err != nil {
		return nil, err
	}

	if err := vmids.Insert(p.VMID); err != nil {
		return nil, err
	}

	roots := make([]*granule.Handle, 0, int(p.RTTNumStart))
	rollback := func() {
		for _, h := range roots {
			_ = h.SetState(granule.Delegated)
			h.Unlock()
		}
		vmids.Remove(p.VMID)
	}
	for i := uint64(0); i < p.RTTNumStart; i++ {
		pa := p.RTTBase + i*granule.GranuleSize
		h, err := gst.LockIf(pa, granule.Delegated)
		if err != nil {
			rollback()
			return nil, err
		}
		buf := h.Bytes()
		blank := rtt.S2TTE{Desc: rtt.DescInvalid, Hipas: rtt.HIPASUnassigned, Ripas: rtt.RIPASEmpty}
		for e := 0; e*8 < len(buf); e++ {
			rtt.WriteRaw(buf, e, blank)
		}
		if err := h.SetState(granule.StateRTT); err != nil {
			h.Unlock()
			rollback()
			return nil, err
		}
		roots = append(roots, h)
	}
	for _, h := range roots {
		h.Unlock()
	}

	rd := newRD(p, algo)
	event, err := measurement.EncodeRealmCreate(p.Features0, p.HashAlgo, p.RPV[:], p.IPAWidth(), uint8(p.RTTNumStart))
	if err != nil {
		rollback()
		return nil, err
	}
	rd.extendRIM(event)

	if err := rdHandle.SetState(granule.StateRD); err != nil {
		rollback()
		return nil, err
	}
	if err := granule.Attach(rdHandle, rd); err != nil {
		rollback()
		return nil, err
	}
	return rd, nil
}

// Activate implements REALM_ACTIVATE: a pure New->Active state flip,
// performed after every DATA_CREATE call for the realm's initial image.
// Freezes RIM.
func Activate(handle *granule.Handle) (*RD, error) {
	rd, err := granule.As[*RD](handle)
	if err != nil {
		return nil, err
	}
	if rd.St != StateNew {
		return nil, fmt.Errorf("realm: vmid %d not in state New", rd.VMID)
	}
	rd.St = StateActive
	return rd, nil
}

// Destroy implements REALM_DESTROY: verifies the realm is childless,
// transitions the RTT root granules back to Delegated, and releases the
// vmid.
func Destroy(gst *granule.Table, handle *granule.Handle, vmids *VMIDSet) error {
	rd, err := granule.As[*RD](handle)
	if err != nil {
		return err
	}
	if !rd.childless() {
		return fmt.Errorf("realm: vmid %d still has bound RECs", rd.VMID)
	}

	roots := make([]*granule.Handle, 0, rd.RTTNumStart)
	for i := 0; i < rd.RTTNumStart; i++ {
		pa := rd.RTTBase + uint64(i)*granule.GranuleSize
		h, err := gst.LockIf(pa, granule.StateRTT)
		if err != nil {
			for _, rh := range roots {
				rh.Unlock()
			}
			return err
		}
		roots = append(roots, h)
	}
	for _, h := range roots {
		if err := h.SetState(granule.Delegated); err != nil {
			h.Unlock()
			return err
		}
		h.Unlock()
	}

	if err := handle.SetState(granule.Delegated); err != nil {
		return err
	}
	vmids.Remove(rd.VMID)
	return nil
}
