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

package monitor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/arm-cca/rmm/internal/bootmanifest"
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmi"
	"github.com/arm-cca/rmm/internal/rsi"
	"github.com/arm-cca/rmm/internal/rtt"
	"github.com/arm-cca/rmm/internal/smc"
)

// ecSMC64 is the ESR exception class a realm's SMC64 trap carries, mirrored
// here since internal/exitclass keeps its class constants unexported. The
// scenarios below build Run.entry.SimESR by hand in place of a real EL1
// trap (internal/smc's package doc: "Go cannot execute at EL2").
const ecSMC64 = uint64(0x17) << 26

// newScenarioMonitor boots a Monitor over a single 16 MiB DRAM bank, ample
// for the handful of RD/REC/RTT/data granules any one scenario below needs.
func newScenarioMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := Boot(&bootmanifest.Manifest{
		Version: bootmanifest.SupportedVersion,
		Banks:   []bootmanifest.Bank{{Base: 0x4000_0000, Size: 16 * 1024 * 1024}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// allocDelegated hands out a fresh granule and delegates it, the state
// every RD/REC/RTT-table/data granule must be in before an RMI create call
// will accept it.
func allocDelegated(t *testing.T, m *Monitor) uint64 {
	t.Helper()
	pa, err := m.AllocGranule()
	require.NoError(t, err)
	out := m.Dispatch(smc.Args{rmi.GranuleDelegate, pa})
	require.Equal(t, uint64(0), out[0])
	return pa
}

// writeBlock locks pa (no state requirement) and copies buf into its
// backing granule memory, standing in for the host filling a Params/Run
// block before the matching RMI call.
func writeBlock(t *testing.T, m *Monitor, pa uint64, buf []byte) {
	t.Helper()
	h, err := m.GST.Lock(pa)
	require.NoError(t, err)
	copy(h.Bytes(), buf)
	h.Unlock()
}

func readBlock(t *testing.T, m *Monitor, pa uint64) []byte {
	t.Helper()
	h, err := m.GST.Lock(pa)
	require.NoError(t, err)
	out := append([]byte(nil), h.Bytes()...)
	h.Unlock()
	return out
}

func realmParamsBuf(t *testing.T, vmid uint16, rttBase uint64, levelStart int64, numStart uint64, ipaWidth uint8) []byte {
	t.Helper()
	p := realm.Params{
		Features0:     uint64(ipaWidth),
		HashAlgo:      0,
		VMID:          vmid,
		RTTBase:       rttBase,
		RTTLevelStart: levelStart,
		RTTNumStart:   numStart,
	}
	buf := make([]byte, realm.ParamsSize)
	require.NoError(t, p.Encode(buf))
	return buf
}

func recParamsBuf(t *testing.T, pc, mpidr uint64, numAux int) []byte {
	t.Helper()
	p := rec.Params{PC: pc, MPIDR: mpidr, NumAux: uint64(numAux)}
	buf := make([]byte, rec.ParamsSize)
	require.NoError(t, p.Encode(buf))
	return buf
}

// createRealm drives REALM_CREATE (not REALM_ACTIVATE) for a realm whose
// RTT root starts at levelStart and returns the RD granule's PA plus the
// RIM measured at creation time.
func createRealm(t *testing.T, m *Monitor, vmid uint16, levelStart int64) (rdPA uint64, rim []byte) {
	t.Helper()
	rdPA = allocDelegated(t, m)
	rttRootPA := allocDelegated(t, m)
	paramsPA, err := m.AllocGranule()
	require.NoError(t, err)
	writeBlock(t, m, paramsPA, realmParamsBuf(t, vmid, rttRootPA, levelStart, 1, 33))

	out := m.Dispatch(smc.Args{rmi.RealmCreate, rdPA, paramsPA})
	require.Equal(t, uint64(0), out[0])

	h, err := m.GST.LockIf(rdPA, granule.StateRD)
	require.NoError(t, err)
	rd, err := granule.As[*realm.RD](h)
	require.NoError(t, err)
	rim = append([]byte(nil), rd.RIM()...)
	h.Unlock()
	return rdPA, rim
}

func activateRealm(t *testing.T, m *Monitor, rdPA uint64) {
	t.Helper()
	out := m.Dispatch(smc.Args{rmi.RealmActivate, rdPA})
	require.Equal(t, uint64(0), out[0])
}

func createRec(t *testing.T, m *Monitor, rdPA uint64, vcpu int, pc, mpidr uint64, numAux int) (recPA uint64) {
	t.Helper()
	recPA = allocDelegated(t, m)
	paramsPA, err := m.AllocGranule()
	require.NoError(t, err)
	writeBlock(t, m, paramsPA, recParamsBuf(t, pc, mpidr, numAux))
	out := m.Dispatch(smc.Args{rmi.RecCreate, rdPA, recPA, paramsPA, uint64(vcpu)})
	require.Equal(t, uint64(0), out[0])
	return recPA
}

// decodeReadEntry unpacks the (reached, desc, oa) triple RTT_READ_ENTRY
// returns in x1..x3 (internal/rmi/handlers_data.go's rttReadEntry).
func decodeReadEntry(out smc.Args) (reached rtt.Level, hipas rtt.HIPAS, ripas rtt.RIPAS, oa uint64) {
	desc := out[2]
	return rtt.Level(out[1]), rtt.HIPAS((desc >> 8) & 0xff), rtt.RIPAS((desc >> 16) & 0xff), out[3]
}

// Scenario 1: create a realm, verify the vmid set and RIM,
// activate, and verify RIM is frozen thereafter.
func TestScenarioRealmCreateAndActivate(t *testing.T) {
	m := newScenarioMonitor(t)

	rdPA, rim := createRealm(t, m, 1, 1)
	require.True(t, m.VMIDs.Contains(uint16(1)))

	event, err := measurement.EncodeRealmCreate(33, 0, make([]byte, 64), 33, 1)
	require.NoError(t, err)
	want := measurement.Extend(measurement.SHA256, make([]byte, measurement.SHA256.Size()), event)
	require.Equal(t, want, rim)

	activateRealm(t, m, rdPA)

	h, err := m.GST.LockIf(rdPA, granule.StateRD)
	require.NoError(t, err)
	rd, err := granule.As[*realm.RD](h)
	require.NoError(t, err)
	require.Equal(t, realm.StateActive, rd.St)
	err = rd.ExtendRIM([]byte("late"))
	require.Error(t, err)
	h.Unlock()
}

// Scenarios 2 and 6: DATA_CREATE a protected page, read it
// back, then DATA_DESTROY it and confirm the mapping and granule state
// unwind.
func TestScenarioDataCreateAndDestroy(t *testing.T) {
	m := newScenarioMonitor(t)
	rdPA, rimAfterCreate := createRealm(t, m, 5, 2)

	l3TablePA := allocDelegated(t, m)
	out := m.Dispatch(smc.Args{rmi.RttCreate, rdPA, l3TablePA, 0x1000, uint64(rtt.Level3)})
	require.Equal(t, uint64(0), out[0])

	out = m.Dispatch(smc.Args{rmi.RttInitRipas, rdPA, 0x1000, 0x2000})
	require.Equal(t, uint64(0), out[0])

	dataPA := allocDelegated(t, m)
	content := make([]byte, granule.GranuleSize)
	for i := range content {
		content[i] = 0x11
	}
	writeBlock(t, m, dataPA, content)

	out = m.Dispatch(smc.Args{rmi.DataCreate, rdPA, 0x1000, dataPA, 0})
	require.Equal(t, uint64(0), out[0])

	out = m.Dispatch(smc.Args{rmi.RttReadEntry, rdPA, 0x1000, uint64(rtt.Level3)})
	require.Equal(t, uint64(0), out[0])
	reached, hipas, ripas, oa := decodeReadEntry(out)
	require.Equal(t, rtt.Level3, reached)
	require.Equal(t, rtt.HIPASAssigned, hipas)
	require.Equal(t, rtt.RIPASRAM, ripas)
	require.Equal(t, dataPA, oa)

	ripasEvent := measurement.EncodeRIPAS(rimAfterCreate, 0x1000, 0x2000)
	wantRIM := measurement.Extend(measurement.SHA256, rimAfterCreate, ripasEvent)

	hash := measurement.Extend(measurement.SHA256, nil, content)
	event := measurement.EncodeDataCreate(wantRIM, 0x1000, 0, hash)
	wantRIM = measurement.Extend(measurement.SHA256, wantRIM, event)

	h, err := m.GST.LockIf(rdPA, granule.StateRD)
	require.NoError(t, err)
	rd, err := granule.As[*realm.RD](h)
	require.NoError(t, err)
	require.Equal(t, wantRIM, rd.RIM())
	h.Unlock()

	// Scenario 6: tear the mapping back down.
	out = m.Dispatch(smc.Args{rmi.DataDestroy, rdPA, 0x1000})
	require.Equal(t, uint64(0), out[0])
	require.Equal(t, dataPA, out[1])
	require.Equal(t, uint64(0x2000), out[2])

	out = m.Dispatch(smc.Args{rmi.RttReadEntry, rdPA, 0x1000, uint64(rtt.Level3)})
	require.Equal(t, uint64(0), out[0])
	reached, hipas, ripas, _ = decodeReadEntry(out)
	require.Equal(t, rtt.Level3, reached)
	require.Equal(t, rtt.HIPASUnassigned, hipas)
	require.Equal(t, rtt.RIPASDestroyed, ripas)

	dh, err := m.GST.Lock(dataPA)
	require.NoError(t, err)
	require.Equal(t, granule.Delegated, dh.State())
	dh.Unlock()
}

// Scenario 3: a REC issues RSI_ABI_VERSION as its first
// synchronous exit; the monitor serves it within the same REC_ENTER and
// returns a plain Sync exit (no PSCI, RIPAS or host-call exit).
func TestScenarioRecEnterServesRSIInline(t *testing.T) {
	m := newScenarioMonitor(t)
	rdPA, _ := createRealm(t, m, 7, 0)
	activateRealm(t, m, rdPA)

	recPA := createRec(t, m, rdPA, 0, 0x8000_0000, 0, 0)

	runPA, err := m.AllocGranule()
	require.NoError(t, err)
	var entry rec.Entry
	entry.GPRs[0] = uint64(rsi.ABIVersion)
	entry.SimESR = ecSMC64
	buf := make([]byte, rec.RunSize)
	require.NoError(t, rec.EncodeEntry(buf, entry))
	writeBlock(t, m, runPA, buf)

	out := m.Dispatch(smc.Args{rmi.RecEnter, recPA, runPA})
	require.Equal(t, uint64(0), out[0])

	exit, err := rec.DecodeExit(readBlock(t, m, runPA))
	require.NoError(t, err)
	require.Equal(t, rec.ReasonSync, exit.Reason)
	// Realms observe RSI success/failure in x0 only; the version value
	// itself lands in x1.
	require.Equal(t, uint64(0), exit.GPRs[0])
	require.Equal(t, rsi.RSIVersion, exit.GPRs[1])
}

// Scenario 4: a realm requests RIPAS_CHANGE to Empty, the
// monitor exits to host with the pending range, and the host's accept
// response is applied on the following REC_ENTER.
func TestScenarioRIPASChangeRoundTrip(t *testing.T) {
	m := newScenarioMonitor(t)
	rdPA, _ := createRealm(t, m, 9, 2)

	l3TablePA := allocDelegated(t, m)
	out := m.Dispatch(smc.Args{rmi.RttCreate, rdPA, l3TablePA, 0x1000, uint64(rtt.Level3)})
	require.Equal(t, uint64(0), out[0])
	out = m.Dispatch(smc.Args{rmi.RttSetRipas, rdPA, 0x1000, 0x2000, uint64(rtt.RIPASRAM)})
	require.Equal(t, uint64(0), out[0])

	activateRealm(t, m, rdPA)
	recPA := createRec(t, m, rdPA, 0, 0x8000_0000, 0, 0)
	runPA, err := m.AllocGranule()
	require.NoError(t, err)

	var req rec.Entry
	req.GPRs[0] = uint64(rsi.IPAStateSet)
	req.GPRs[1] = 0x1000
	req.GPRs[2] = 0x2000
	req.GPRs[3] = uint64(rtt.RIPASEmpty)
	req.SimESR = ecSMC64
	buf := make([]byte, rec.RunSize)
	require.NoError(t, rec.EncodeEntry(buf, req))
	writeBlock(t, m, runPA, buf)

	out = m.Dispatch(smc.Args{rmi.RecEnter, recPA, runPA})
	require.Equal(t, uint64(0), out[0])

	exit, err := rec.DecodeExit(readBlock(t, m, runPA))
	require.NoError(t, err)
	require.Equal(t, rec.ReasonRIPASChange, exit.Reason)
	require.Equal(t, uint64(0x1000), exit.RIPASBase)
	require.Equal(t, uint64(0x2000), exit.RIPASTop)
	require.Equal(t, uint8(rtt.RIPASEmpty), exit.RIPASValue)

	var accept rec.Entry
	accept.Flags = rec.FlagRIPASAccept
	buf2 := make([]byte, rec.RunSize)
	require.NoError(t, rec.EncodeEntry(buf2, accept))
	writeBlock(t, m, runPA, buf2)

	out = m.Dispatch(smc.Args{rmi.RecEnter, recPA, runPA})
	require.Equal(t, uint64(0), out[0])

	out = m.Dispatch(smc.Args{rmi.RttReadEntry, rdPA, 0x1000, uint64(rtt.Level3)})
	require.Equal(t, uint64(0), out[0])
	_, _, ripas, _ := decodeReadEntry(out)
	require.Equal(t, rtt.RIPASEmpty, ripas)
}

// Scenario 5: a caller REC issues PSCI_CPU_ON; the target vCPU
// wakes once host answers PSCI_COMPLETE.
func TestScenarioPSCICPUOn(t *testing.T) {
	m := newScenarioMonitor(t)
	rdPA, _ := createRealm(t, m, 11, 0)
	activateRealm(t, m, rdPA)

	callerPA := createRec(t, m, rdPA, 0, 0x8000_0000, 0, 0)
	targetPA := createRec(t, m, rdPA, 1, 0, 1, 0)

	runPA, err := m.AllocGranule()
	require.NoError(t, err)
	const targetMPIDR, entryPoint, contextID = uint64(1), uint64(0x8800_0000), uint64(0x1234)
	var req rec.Entry
	req.GPRs[0] = uint64(rec.PSCICPUOn)
	req.GPRs[1] = targetMPIDR
	req.GPRs[2] = entryPoint
	req.GPRs[3] = contextID
	req.SimESR = ecSMC64
	buf := make([]byte, rec.RunSize)
	require.NoError(t, rec.EncodeEntry(buf, req))
	writeBlock(t, m, runPA, buf)

	out := m.Dispatch(smc.Args{rmi.RecEnter, callerPA, runPA})
	require.Equal(t, uint64(0), out[0])

	exit, err := rec.DecodeExit(readBlock(t, m, runPA))
	require.NoError(t, err)
	require.Equal(t, rec.ReasonPSCI, exit.Reason)
	require.Equal(t, uint64(rec.PSCICPUOn), exit.GPRs[0])
	require.Equal(t, targetMPIDR, exit.GPRs[1])

	ch, err := m.GST.LockIf(callerPA, granule.StateRec)
	require.NoError(t, err)
	caller, err := granule.As[*rec.REC](ch)
	require.NoError(t, err)
	require.True(t, caller.PendingPSCI.Active)
	require.Equal(t, uint32(rec.PSCICPUOn), caller.PendingPSCI.Function)
	require.Equal(t, targetMPIDR, caller.PendingPSCI.TargetMPIDR)
	require.Equal(t, contextID, caller.PendingPSCI.ContextID)
	require.Equal(t, entryPoint, caller.PendingPSCI.Entry)
	ch.Unlock()

	out = m.Dispatch(smc.Args{rmi.PsciComplete, callerPA, targetPA, uint64(rec.PSCICPUOn), 1})
	require.Equal(t, uint64(0), out[0])

	th, err := m.GST.LockIf(targetPA, granule.StateRec)
	require.NoError(t, err)
	target, err := granule.As[*rec.REC](th)
	require.NoError(t, err)
	require.True(t, target.Runnable)
	require.Equal(t, rec.StateReady, target.St)
	require.Equal(t, entryPoint, target.PC)
	require.Equal(t, contextID, target.GPRs[0])
	th.Unlock()
}

// TestScenarioEmulatedMMIORoundTrip: the realm traps on a 32-bit
// sign-extending load (ISV=1), the abort is forwarded as a Sync exit with
// a masked ESR, and the next REC_ENTER applies the host's emulated read
// result from the first entry GPR into the trapped target register.
func TestScenarioEmulatedMMIORoundTrip(t *testing.T) {
	m := newScenarioMonitor(t)
	rdPA, _ := createRealm(t, m, 17, 2)
	activateRealm(t, m, rdPA)
	recPA := createRec(t, m, rdPA, 0, 0x8000_0000, 0, 0)
	runPA, err := m.AllocGranule()
	require.NoError(t, err)

	// EC=DataAbortLowerEL, ISV=1, SAS=2 (word), SSE=1, SRT=3, DFSC=
	// translation fault level 3.
	abortESR := uint64(0x24)<<26 | 1<<24 | 2<<22 | 1<<21 | 3<<16 | 0x07

	var trap rec.Entry
	trap.SimESR = abortESR
	trap.SimFAR = 0x9000_0000
	buf := make([]byte, rec.RunSize)
	require.NoError(t, rec.EncodeEntry(buf, trap))
	writeBlock(t, m, runPA, buf)

	out := m.Dispatch(smc.Args{rmi.RecEnter, recPA, runPA})
	require.Equal(t, uint64(0), out[0])
	exit, err := rec.DecodeExit(readBlock(t, m, runPA))
	require.NoError(t, err)
	require.Equal(t, rec.ReasonSync, exit.Reason)

	// Host emulates the read: 0x8000_0001, which the 32-bit
	// sign-extending load must widen to 0xffff_ffff_8000_0001.
	var resume rec.Entry
	resume.GPRs[0] = 0x8000_0001
	buf2 := make([]byte, rec.RunSize)
	require.NoError(t, rec.EncodeEntry(buf2, resume))
	writeBlock(t, m, runPA, buf2)

	out = m.Dispatch(smc.Args{rmi.RecEnter, recPA, runPA})
	require.Equal(t, uint64(0), out[0])
	exit, err = rec.DecodeExit(readBlock(t, m, runPA))
	require.NoError(t, err)
	require.Equal(t, uint64(0xffff_ffff_8000_0001), exit.GPRs[3])
}

// TestDispatchArgBoundaries covers the register-count and unknown-FID
// boundary cases the dispatcher itself owns, before any handler runs.
func TestDispatchArgBoundaries(t *testing.T) {
	m := newScenarioMonitor(t)

	// Unknown FID.
	out := m.Dispatch(smc.Args{0xdead_beef})
	require.Equal(t, uint64(1), out[0])

	// REALM_ACTIVATE takes one argument; x7 set means the caller built
	// the call for some other command's signature.
	out = m.Dispatch(smc.Args{rmi.RealmActivate, 0x4000_0000, 0, 0, 0, 0, 0, 1})
	require.Equal(t, uint64(1), out[0])

	// RTT operation above the deepest level.
	rdPA, _ := createRealm(t, m, 21, 2)
	out = m.Dispatch(smc.Args{rmi.RttReadEntry, rdPA, 0x1000, 4})
	require.Equal(t, uint64(1), out[0])
}

// TestEntryRoundTrip fuzzes Run.entry encode/decode: every field a host can
// set must survive the 4 KiB wire layout unchanged.
func TestEntryRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(1, 1)
	for i := 0; i < 25; i++ {
		var e rec.Entry
		f.Fuzz(&e.Flags)
		f.Fuzz(&e.GPRs)
		f.Fuzz(&e.GIC.HCR)
		f.Fuzz(&e.SimESR)
		f.Fuzz(&e.SimFAR)
		f.Fuzz(&e.SimHPFAR)

		buf := make([]byte, rec.RunSize)
		require.NoError(t, rec.EncodeEntry(buf, e))
		got, err := rec.DecodeEntry(buf)
		require.NoError(t, err)
		if diff := cmp.Diff(e, got); diff != "" {
			t.Fatalf("entry round trip mismatch (-want +got):\n%s", diff)
		}
	}
}
