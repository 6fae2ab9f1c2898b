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

// Package monitor implements the Main loop: the top-level Monitor
// handle that owns every other component's collaborators and answers SMC
// calls handed to it by an internal/smc.Transport. Collaborators are
// threaded through a single *Monitor value rather than package-level
// globals, so a test or a second instance never share state by accident.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/arm-cca/rmm/internal/attestation"
	"github.com/arm-cca/rmm/internal/bootmanifest"
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/mm"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rmi"
	"github.com/arm-cca/rmm/internal/rmmlog"
	"github.com/arm-cca/rmm/internal/rsi"
	"github.com/arm-cca/rmm/internal/rtt"
	"github.com/arm-cca/rmm/internal/smc"
)

// attestCacheSize is the fixed number of in-flight attestation tokens, one
// per (vmid, vCPU), kept resident.
const attestCacheSize = 64

// Monitor is the top-level handle: one GST, one VMID set, one mapping
// window, one set of attestation keys, and the RMI/RSI dispatchers built
// over them.
type Monitor struct {
	Manifest *bootmanifest.Manifest

	GST   *granule.Table
	VMIDs *realm.VMIDSet
	Inv   *rtt.CountingInvalidator
	MM    *mm.Window
	Keys  *attestation.Keys
	Cache *attestation.Cache

	InstanceID []byte

	RSI *rsi.Dispatcher
	RMI *rmi.Dispatcher

	allocMu sync.Mutex
	nextPA  uint64
}

// Boot constructs a Monitor from a validated boot manifest: sizes the GST
// from the DRAM bank list, generates fresh attestation key material, and
// wires the RSI/RMI dispatchers together.
//
// internal/granule.Table only covers one contiguous physical range, so a
// manifest with multiple banks is folded into a single table spanning from
// the first bank's base to the last bank's end. Any gap between
// non-adjacent banks is included in the table and treated like bank
// memory: AllocGranule and GRANULE_DELEGATE do not tell gap granules apart
// from granules inside a bank.
func Boot(manifest *bootmanifest.Manifest) (*Monitor, error) {
	if manifest == nil {
		return nil, fmt.Errorf("monitor: nil boot manifest")
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	first := manifest.Banks[0]
	last := manifest.Banks[len(manifest.Banks)-1]
	base := first.Base
	size := (last.Base + last.Size) - base

	gst := granule.NewTable(base, size)

	vmids := realm.NewVMIDSet()
	inv := &rtt.CountingInvalidator{}
	window := mm.NewWindow(gst, int(manifest.TotalGranules()))

	keys, err := attestation.NewKeys()
	if err != nil {
		gst.Close()
		return nil, err
	}
	cache, err := attestation.NewCache(attestCacheSize)
	if err != nil {
		gst.Close()
		return nil, err
	}
	instanceID := uuid.New()

	rsiDispatcher := &rsi.Dispatcher{
		GST:        gst,
		MM:         window,
		Keys:       keys,
		Cache:      cache,
		InstanceID: instanceID[:],
	}
	rmiDispatcher := &rmi.Dispatcher{
		GST:   gst,
		VMIDs: vmids,
		Inv:   inv,
		MM:    window,
		RSI:   rsiDispatcher,
	}

	m := &Monitor{
		Manifest:   manifest,
		GST:        gst,
		VMIDs:      vmids,
		Inv:        inv,
		MM:         window,
		Keys:       keys,
		Cache:      cache,
		InstanceID: instanceID[:],
		RSI:        rsiDispatcher,
		RMI:        rmiDispatcher,
		nextPA:     base,
	}
	rmmlog.Info("monitor: booted", "banks", len(manifest.Banks), "granules", manifest.TotalGranules(), "instance", instanceID.String())
	return m, nil
}

// Close releases the GST's backing mmap region. Safe to call once, at
// process shutdown or at the end of a self-test run.
func (m *Monitor) Close() error {
	return m.GST.Close()
}

// Dispatch answers one host-issued SMC call by handing it to the RMI
// dispatcher, logging at trace level only when tracing is enabled. This is the
// Handler internal/smc.Dispatcher/Looptest invoke.
func (m *Monitor) Dispatch(args smc.Args) smc.Args {
	rmmlog.Trace("monitor: dispatch", "fid", fmt.Sprintf("%#x", args.FID()))
	out := m.RMI.Dispatch(args)
	rmmlog.Trace("monitor: dispatch done", "fid", fmt.Sprintf("%#x", args.FID()), "status", out[0])
	return out
}

// Transport builds a Looptest transport wired to this Monitor's Dispatch
// method, the shape every scenario test and the CLI's serve/selftest modes
// drive calls through in place of a real SMC trap.
func (m *Monitor) Transport() *smc.Looptest {
	return smc.NewLooptest(m.Dispatch)
}

// Loop blocks until ctx is cancelled. A real monitor's main loop waits on
// the next EL1->EL2 trap a hardware conduit delivers; nothing in this
// hosted monitor ever generates one (Go cannot execute at EL2), so
// there is no polling work to do
// here — Loop only gives cmd/rmm's serve subcommand something to block on
// while t accumulates whatever test traffic is driven through it
// concurrently.
func (m *Monitor) Loop(ctx context.Context, t *smc.Looptest) {
	rmmlog.Info("monitor: loop running", "calls", len(t.Log()))
	<-ctx.Done()
	rmmlog.Info("monitor: loop stopped", "calls", len(t.Log()))
}

// AllocGranule hands out the next granule-aligned physical address in this
// Monitor's DRAM range, a bump allocator standing in for the host's own PA
// bookkeeping, never this monitor's concern in production. Used by the CLI's selftest
// mode and by scenario_test.go to get distinct PAs for RD/REC/RTT/Data
// granules without re-deriving a free list from GST state.
func (m *Monitor) AllocGranule() (uint64, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	pa := m.nextPA
	if !m.GST.Contains(pa) {
		return 0, fmt.Errorf("monitor: DRAM range exhausted at %#x", pa)
	}
	m.nextPA += granule.GranuleSize
	return pa, nil
}
