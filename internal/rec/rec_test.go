package rec

import (
	"testing"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/realm"
)

func newActiveRD(t *testing.T, vmid uint16) (*granule.Table, *granule.Handle, *realm.RD) {
	t.Helper()
	gst := granule.NewTable(0, 4*granule.GranuleSize)
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

	buf := make([]byte, realm.ParamsSize)
	p := realm.Params{Features0: 33, VMID: vmid, RTTBase: rootPA, RTTLevelStart: 1, RTTNumStart: 1}
	if err := p.Encode(buf); err != nil {
		t.Fatalf("encode params: %v", err)
	}
	rd, err := realm.Create(gst, rdHandle, buf, realm.NewVMIDSet())
	if err != nil {
		t.Fatalf("realm_create: %v", err)
	}
	rdHandle.Unlock()

	rdHandle, err = gst.LockIf(rdPA, granule.StateRD)
	if err != nil {
		t.Fatalf("relock rd: %v", err)
	}
	if _, err := realm.Activate(rdHandle); err != nil {
		t.Fatalf("realm_activate: %v", err)
	}
	return gst, rdHandle, rd
}

func TestCreateDestroy(t *testing.T) {
	gst, rdHandle, rd := newActiveRD(t, 5)
	defer rdHandle.Unlock()

	recPA := uint64(2 * granule.GranuleSize)
	recHandle, err := gst.LockIf(recPA, granule.Undelegated)
	if err != nil {
		t.Fatalf("lock rec granule: %v", err)
	}
	if err := recHandle.SetState(granule.Delegated); err != nil {
		t.Fatalf("delegate rec granule: %v", err)
	}

	paramsBuf := make([]byte, ParamsSize)
	p := Params{PC: 0x80000000, MPIDR: 0}
	if err := p.Encode(paramsBuf); err != nil {
		t.Fatalf("encode rec params: %v", err)
	}

	r, err := Create(rdHandle.PA(), rd, recHandle, 0, paramsBuf, map[uint64]bool{})
	if err != nil {
		t.Fatalf("rec_create: %v", err)
	}
	if r.PC != 0x80000000 {
		t.Fatalf("pc mismatch: got %#x", r.PC)
	}
	if r.St != StateReady {
		t.Fatalf("expected state Ready, got %s", r.St)
	}

	if err := Destroy(recHandle, rd); err != nil {
		t.Fatalf("rec_destroy: %v", err)
	}
	recHandle.Unlock()

	freed, err := gst.LockIf(recPA, granule.Delegated)
	if err != nil {
		t.Fatalf("expected rec granule back to Delegated: %v", err)
	}
	freed.Unlock()
}

func TestCreateRejectsWrongVCPUIndex(t *testing.T) {
	gst, rdHandle, rd := newActiveRD(t, 6)
	defer rdHandle.Unlock()

	recPA := uint64(2 * granule.GranuleSize)
	recHandle, err := gst.LockIf(recPA, granule.Undelegated)
	if err != nil {
		t.Fatalf("lock rec granule: %v", err)
	}
	if err := recHandle.SetState(granule.Delegated); err != nil {
		t.Fatalf("delegate rec granule: %v", err)
	}
	defer recHandle.Unlock()

	paramsBuf := make([]byte, ParamsSize)
	p := Params{PC: 0x80000000}
	if err := p.Encode(paramsBuf); err != nil {
		t.Fatalf("encode rec params: %v", err)
	}

	if _, err := Create(rdHandle.PA(), rd, recHandle, 1, paramsBuf, map[uint64]bool{}); err == nil {
		t.Fatalf("expected vcpu index 1 (want 0) to be rejected")
	}
}

func TestPSCICompleteCPUOn(t *testing.T) {
	caller := &REC{VCPUIndex: 0}
	caller.SetPendingPSCI(PSCICPUOn, 1, 0xcafe, 0x80001000)
	target := &REC{VCPUIndex: 1, St: StateReady}

	if err := CompletePSCI(caller, target, PSCICPUOn, true); err != nil {
		t.Fatalf("psci_complete: %v", err)
	}
	if caller.PendingPSCI.Active {
		t.Fatalf("expected caller's pending PSCI cleared")
	}
	if !target.Runnable {
		t.Fatalf("expected target to become runnable")
	}
	if target.PC != 0x80001000 {
		t.Fatalf("target pc mismatch: got %#x", target.PC)
	}
	if target.GPRs[0] != 0xcafe {
		t.Fatalf("target x0 mismatch: got %#x", target.GPRs[0])
	}
}

func TestEnterRejectsDuplicateVINTID(t *testing.T) {
	r := &REC{St: StateReady}
	e := Entry{GIC: GICState{LRs: [16]uint64{1, 1}}}
	if err := Enter(r, e); err == nil {
		t.Fatalf("expected duplicate vINTID to be rejected")
	}
}

func TestEnterRejectsHWBit(t *testing.T) {
	r := &REC{St: StateReady}
	e := Entry{GIC: GICState{LRs: [16]uint64{1 << 31}}}
	if err := Enter(r, e); err == nil {
		t.Fatalf("expected HW=1 list register to be rejected")
	}
}
