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

package main

import (
	"fmt"

	"gopkg.in/urfave/cli.v1"

	"github.com/arm-cca/rmm/internal/bootmanifest"
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/monitor"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmi"
	"github.com/arm-cca/rmm/internal/rmmlog"
	"github.com/arm-cca/rmm/internal/rsi"
	"github.com/arm-cca/rmm/internal/smc"
)

// ecSMC64 is the ESR exception class a realm's SMC64 trap carries (ESR_EL2.EC
// == 0x17), mirrored here the same way internal/monitor's scenario tests do
// since this monitor never generates a real trap to read the class from.
const ecSMC64 = uint64(0x17) << 26

// selftestCommand drives realm creation and a first realm-issued RSI call
// end to end over a fresh Monitor, as internal/monitor's scenario tests do,
// but against a real process's stdout instead of testify assertions. It
// exists so a reader can see the RMI/RSI call sequence a host driver would
// issue without needing a go test invocation.
var selftestCommand = cli.Command{
	Name:   "selftest",
	Usage:  "boot an in-process monitor and drive a realm through create/activate/rec-enter",
	Action: runSelftest,
}

func runSelftest(ctx *cli.Context) error {
	m, err := monitor.Boot(&bootmanifest.Manifest{
		Version: bootmanifest.SupportedVersion,
		Banks:   []bootmanifest.Bank{{Base: 0x4000_0000, Size: 16 * 1024 * 1024}},
	})
	if err != nil {
		return fmt.Errorf("selftest: boot: %w", err)
	}
	defer m.Close()

	rdPA, err := m.AllocGranule()
	if err != nil {
		return err
	}
	rttRootPA, err := m.AllocGranule()
	if err != nil {
		return err
	}
	paramsPA, err := m.AllocGranule()
	if err != nil {
		return err
	}

	if out := m.Dispatch(smc.Args{rmi.GranuleDelegate, rdPA}); out[0] != 0 {
		return fmt.Errorf("selftest: delegate rd: status %d", out[0])
	}
	if out := m.Dispatch(smc.Args{rmi.GranuleDelegate, rttRootPA}); out[0] != 0 {
		return fmt.Errorf("selftest: delegate rtt root: status %d", out[0])
	}

	params := realm.Params{
		Features0:     33, // ipa_width=33
		HashAlgo:      0,  // SHA-256
		VMID:          1,
		RTTBase:       rttRootPA,
		RTTLevelStart: 1,
		RTTNumStart:   1,
	}
	buf := make([]byte, realm.ParamsSize)
	if err := params.Encode(buf); err != nil {
		return err
	}
	if err := writeGranule(m, paramsPA, buf); err != nil {
		return err
	}

	if out := m.Dispatch(smc.Args{rmi.RealmCreate, rdPA, paramsPA}); out[0] != 0 {
		return fmt.Errorf("selftest: REALM_CREATE: status %d", out[0])
	}
	rmmlog.Info("selftest: realm created", "vmid", params.VMID)

	if out := m.Dispatch(smc.Args{rmi.RealmActivate, rdPA}); out[0] != 0 {
		return fmt.Errorf("selftest: REALM_ACTIVATE: status %d", out[0])
	}
	rmmlog.Info("selftest: realm activated")

	recPA, err := m.AllocGranule()
	if err != nil {
		return err
	}
	recParamsPA, err := m.AllocGranule()
	if err != nil {
		return err
	}
	if out := m.Dispatch(smc.Args{rmi.GranuleDelegate, recPA}); out[0] != 0 {
		return fmt.Errorf("selftest: delegate rec: status %d", out[0])
	}

	recParams := rec.Params{PC: 0x8000_0000}
	recBuf := make([]byte, rec.ParamsSize)
	if err := recParams.Encode(recBuf); err != nil {
		return err
	}
	if err := writeGranule(m, recParamsPA, recBuf); err != nil {
		return err
	}
	if out := m.Dispatch(smc.Args{rmi.RecCreate, rdPA, recPA, recParamsPA, 0}); out[0] != 0 {
		return fmt.Errorf("selftest: REC_CREATE: status %d", out[0])
	}
	rmmlog.Info("selftest: rec created", "vcpu", 0)

	runPA, err := m.AllocGranule()
	if err != nil {
		return err
	}
	entry := rec.Entry{
		GPRs:   [rec.NumGPRs]uint64{uint64(rsi.ABIVersion)},
		SimESR: ecSMC64,
	}
	runBuf := make([]byte, granule.GranuleSize)
	if err := rec.EncodeEntry(runBuf, entry); err != nil {
		return err
	}
	if err := writeGranule(m, runPA, runBuf); err != nil {
		return err
	}

	if out := m.Dispatch(smc.Args{rmi.RecEnter, recPA, runPA}); out[0] != 0 {
		return fmt.Errorf("selftest: REC_ENTER: status %d", out[0])
	}
	exitBuf, err := readGranule(m, runPA)
	if err != nil {
		return err
	}
	exit, err := rec.DecodeExit(exitBuf)
	if err != nil {
		return err
	}
	rmmlog.Info("selftest: rec entered and returned", "reason", exit.Reason.String(), "x0", exit.GPRs[0])
	fmt.Println("selftest: ok")
	return nil
}

func writeGranule(m *monitor.Monitor, pa uint64, buf []byte) error {
	h, err := m.GST.Lock(pa)
	if err != nil {
		return err
	}
	defer h.Unlock()
	copy(h.Bytes(), buf)
	return nil
}

func readGranule(m *monitor.Monitor, pa uint64) ([]byte, error) {
	h, err := m.GST.Lock(pa)
	if err != nil {
		return nil, err
	}
	defer h.Unlock()
	return append([]byte(nil), h.Bytes()...), nil
}
