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
	"testing"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/mm"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rtt"
)

const testDRAMBase = uint64(0x4000_0000)

func delegated(t *testing.T, gst *granule.Table, pa uint64) *granule.Handle {
	t.Helper()
	h, err := gst.Lock(pa)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetState(granule.Delegated); err != nil {
		t.Fatal(err)
	}
	return h
}

// newConfigRealm assembles a Dispatcher plus an Active realm whose stage-2
// tables map one data page at IPA 0x1000, built directly against the rtt
// engine the way its own tests do.
func newConfigRealm(t *testing.T) (*Dispatcher, *realm.RD, uint64) {
	t.Helper()
	gst := granule.NewTable(testDRAMBase, 32*granule.GranuleSize)
	t.Cleanup(func() { gst.Close() })

	rootPA := testDRAMBase
	rootH := delegated(t, gst, rootPA)
	if err := rootH.SetState(granule.StateRTT); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 512; i++ {
		rtt.WriteRaw(rootH.Bytes(), i, rtt.S2TTE{Desc: rtt.DescInvalid, Hipas: rtt.HIPASUnassigned, Ripas: rtt.RIPASEmpty})
	}
	rootH.Unlock()

	rd := &realm.RD{
		VMID:          3,
		St:            realm.StateActive,
		IPAWidth:      33,
		RTTBase:       rootPA,
		RTTLevelStart: 2,
		RTTNumStart:   1,
		HashAlgo:      measurement.SHA256,
	}
	root := rd.Root()

	l3H := delegated(t, gst, testDRAMBase+granule.GranuleSize)
	if err := rtt.Create(gst, root, l3H, 0x1000, rtt.Level3); err != nil {
		t.Fatalf("rtt create: %v", err)
	}
	l3H.Unlock()
	if err := rtt.InitRIPAS(gst, root, 0x1000, 0x2000, rtt.RIPASRAM); err != nil {
		t.Fatalf("init_ripas: %v", err)
	}

	dataPA := testDRAMBase + 2*granule.GranuleSize
	dataH := delegated(t, gst, dataPA)
	if err := rtt.DataCreate(gst, root, dataH, 0x1000, false); err != nil {
		t.Fatalf("data_create: %v", err)
	}
	dataH.Unlock()

	d := &Dispatcher{GST: gst, MM: mm.NewWindow(gst, 32)}
	return d, rd, dataPA
}

// REALM_CONFIG's destination is an IPA resolved through the realm's own
// stage-2 tables; anything out of range, misaligned, unprotected, unmapped
// — including a raw monitor physical address — must be rejected without
// touching any granule.
func TestRealmConfigRejectsBadIPA(t *testing.T) {
	d, rd, dataPA := newConfigRealm(t)

	cases := []struct {
		name string
		ipa  uint64
	}{
		{"past ipa_width", 1 << 33},
		{"misaligned", 0x1008},
		{"unprotected half", 1 << 32},
		{"in range but unmapped", 0x3000},
		{"physical address as ipa", dataPA},
	}
	for _, tc := range cases {
		out := d.Dispatch(rd, nil, RealmConfig, [7]uint64{tc.ipa})
		if out[0] == 0 {
			t.Errorf("%s: REALM_CONFIG(%#x) accepted", tc.name, tc.ipa)
		}
	}

	// Nothing above may have written into the realm's data page.
	h, err := d.GST.LockIf(dataPA, granule.StateData)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range h.Bytes() {
		if b != 0 {
			t.Fatalf("data page byte %d = %#x after rejected configs", i, b)
		}
	}
	h.Unlock()
}

func TestRealmConfigWritesConfig(t *testing.T) {
	d, rd, dataPA := newConfigRealm(t)

	out := d.Dispatch(rd, nil, RealmConfig, [7]uint64{0x1000})
	if out[0] != 0 {
		t.Fatalf("REALM_CONFIG: status %d", out[0])
	}

	h, err := d.GST.LockIf(dataPA, granule.StateData)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Unlock()
	buf := h.Bytes()
	if got := binary.LittleEndian.Uint64(buf); got != 33 {
		t.Fatalf("ipa_width field = %d, want 33", got)
	}
	if buf[8] != 0 {
		t.Fatalf("hash_algo field = %d, want 0 (SHA-256)", buf[8])
	}
	for _, b := range buf[9:] {
		if b != 0 {
			t.Fatal("config page not zero padded past hash_algo")
		}
	}
}
