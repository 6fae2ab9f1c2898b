package realm

import (
	"bytes"
	"testing"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
)

func newParamsBuf(t *testing.T, vmid uint16, ipaWidth uint8, rttBase uint64, levelStart int64, numStart uint64) []byte {
	t.Helper()
	buf := make([]byte, ParamsSize)
	p := Params{
		Features0:     uint64(ipaWidth),
		HashAlgo:      0,
		VMID:          vmid,
		RTTBase:       rttBase,
		RTTLevelStart: levelStart,
		RTTNumStart:   numStart,
	}
	if err := p.Encode(buf); err != nil {
		t.Fatalf("encode params: %v", err)
	}
	return buf
}

func TestCreateActivateDestroy(t *testing.T) {
	gst := granule.NewTable(0, 8*granule.GranuleSize)
	t.Cleanup(func() { gst.Close() })

	rootPA := uint64(granule.GranuleSize)
	root, err := gst.LockIf(rootPA, granule.Undelegated)
	if err != nil {
		t.Fatalf("lock root: %v", err)
	}
	if err := root.SetState(granule.Delegated); err != nil {
		t.Fatalf("delegate root: %v", err)
	}
	root.Unlock()

	rdPA := uint64(0)
	rdHandle, err := gst.LockIf(rdPA, granule.Undelegated)
	if err != nil {
		t.Fatalf("lock rd: %v", err)
	}
	if err := rdHandle.SetState(granule.Delegated); err != nil {
		t.Fatalf("delegate rd: %v", err)
	}

	vmids := NewVMIDSet()
	paramsBuf := newParamsBuf(t, 1, 33, rootPA, 1, 1)
	rd, err := Create(gst, rdHandle, paramsBuf, vmids)
	if err != nil {
		t.Fatalf("realm_create: %v", err)
	}
	rdHandle.Unlock()

	if !vmids.Contains(1) {
		t.Fatalf("expected vmid 1 to be live")
	}

	p, _ := DecodeParams(paramsBuf)
	wantEvent, err := measurement.EncodeRealmCreate(p.Features0, p.HashAlgo, p.RPV[:], p.IPAWidth(), uint8(p.RTTNumStart))
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	wantRIM := measurement.Extend(measurement.SHA256, make([]byte, measurement.SHA256.Size()), wantEvent)
	if !bytes.Equal(rd.RIM(), wantRIM) {
		t.Fatalf("RIM mismatch: got %x, want %x", rd.RIM(), wantRIM)
	}
	if rd.St != StateNew {
		t.Fatalf("expected state New, got %s", rd.St)
	}

	rdHandle, err = gst.LockIf(rdPA, granule.StateRD)
	if err != nil {
		t.Fatalf("relock rd: %v", err)
	}
	if _, err := Activate(rdHandle); err != nil {
		t.Fatalf("realm_activate: %v", err)
	}
	if rd.St != StateActive {
		t.Fatalf("expected state Active after activate, got %s", rd.St)
	}
	rimBefore := append([]byte(nil), rd.RIM()...)
	if err := rd.ExtendREM(0, []byte("attempt to mutate rim")); err == nil {
		t.Fatalf("expected extending slot 0 to be refused")
	}
	if !bytes.Equal(rd.RIM(), rimBefore) {
		t.Fatalf("RIM changed after refused extend")
	}
	rdHandle.Unlock()

	rdHandle, err = gst.LockIf(rdPA, granule.StateRD)
	if err != nil {
		t.Fatalf("relock rd for destroy: %v", err)
	}
	if err := Destroy(gst, rdHandle, vmids); err != nil {
		t.Fatalf("realm_destroy: %v", err)
	}
	rdHandle.Unlock()

	if vmids.Contains(1) {
		t.Fatalf("expected vmid 1 to be released")
	}
	freedRoot, err := gst.LockIf(rootPA, granule.Delegated)
	if err != nil {
		t.Fatalf("expected root granule back to Delegated: %v", err)
	}
	freedRoot.Unlock()
	freedRD, err := gst.LockIf(rdPA, granule.Delegated)
	if err != nil {
		t.Fatalf("expected rd granule back to Delegated: %v", err)
	}
	freedRD.Unlock()
}

func TestCreateRejectsDuplicateVMID(t *testing.T) {
	gst := granule.NewTable(0, 8*granule.GranuleSize)
	t.Cleanup(func() { gst.Close() })

	for _, pa := range []uint64{0, granule.GranuleSize, 2 * granule.GranuleSize, 3 * granule.GranuleSize} {
		h, err := gst.LockIf(pa, granule.Undelegated)
		if err != nil {
			t.Fatalf("lock %#x: %v", pa, err)
		}
		if err := h.SetState(granule.Delegated); err != nil {
			t.Fatalf("delegate %#x: %v", pa, err)
		}
		h.Unlock()
	}

	vmids := NewVMIDSet()
	rd1, err := gst.LockIf(0, granule.Delegated)
	if err != nil {
		t.Fatalf("lock rd1: %v", err)
	}
	if _, err := Create(gst, rd1, newParamsBuf(t, 7, 33, granule.GranuleSize, 1, 1), vmids); err != nil {
		t.Fatalf("first realm_create: %v", err)
	}
	rd1.Unlock()

	rd2, err := gst.LockIf(2*granule.GranuleSize, granule.Delegated)
	if err != nil {
		t.Fatalf("lock rd2: %v", err)
	}
	if _, err := Create(gst, rd2, newParamsBuf(t, 7, 33, 3*granule.GranuleSize, 1, 1), vmids); err == nil {
		t.Fatalf("expected second realm_create with duplicate vmid to fail")
	}
	rd2.Unlock()

	still, err := gst.LockIf(3*granule.GranuleSize, granule.Delegated)
	if err != nil {
		t.Fatalf("expected second realm's root to remain Delegated after rollback: %v", err)
	}
	still.Unlock()
}
