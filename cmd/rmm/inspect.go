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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/fjl/memsize"
	"github.com/imroc/biu"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/arm-cca/rmm/internal/bootmanifest"
	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/monitor"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmi"
	"github.com/arm-cca/rmm/internal/rtt"
	"github.com/arm-cca/rmm/internal/smc"
)

// inspectCommand boots a Monitor, drives a small demo realm through the
// create/rtt/data/rec sequence, then pretty-prints the resulting GST, RD
// and REC tables plus the monitor's own memory footprint. It is the poking
// tool for a monitor that otherwise only talks in registers: the RMI
// return codes say nothing about the shape of the state they left behind.
var inspectCommand = cli.Command{
	Name:   "inspect",
	Usage:  "boot a monitor, populate a demo realm and dump the GST/RD/REC tables",
	Action: runInspect,
}

func runInspect(ctx *cli.Context) error {
	manifest := &bootmanifest.Manifest{
		Version: bootmanifest.SupportedVersion,
		Banks:   []bootmanifest.Bank{{Base: 0x4000_0000, Size: 16 * 1024 * 1024}},
	}
	if path := ctx.GlobalString(manifestFlag.Name); path != "" {
		cfg, err := bootmanifest.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("inspect: loading manifest config: %w", err)
		}
		manifest, err = cfg.ToManifest()
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
	}

	m, err := monitor.Boot(manifest)
	if err != nil {
		return fmt.Errorf("inspect: boot: %w", err)
	}
	defer m.Close()

	rdPA, err := populateDemoRealm(m)
	if err != nil {
		return fmt.Errorf("inspect: populating demo realm: %w", err)
	}

	printGranuleTable(m)
	printRealmTable(m)
	printRecTable(m)
	if err := printLeafEntry(m, rdPA, 0x1000); err != nil {
		return err
	}

	fmt.Println("memory footprint:")
	fmt.Println(memsize.Scan(m).Report())
	return nil
}

// populateDemoRealm drives one realm through the same RMI sequence a host
// would: delegate, REALM_CREATE, an RTT table chain down to level 3, a
// measured data page at IPA 0x1000, one vCPU, then REALM_ACTIVATE.
func populateDemoRealm(m *monitor.Monitor) (uint64, error) {
	delegate := func() (uint64, error) {
		pa, err := m.AllocGranule()
		if err != nil {
			return 0, err
		}
		if out := m.Dispatch(smc.Args{rmi.GranuleDelegate, pa}); out[0] != 0 {
			return 0, fmt.Errorf("GRANULE_DELEGATE(%#x): status %d", pa, out[0])
		}
		return pa, nil
	}

	rdPA, err := delegate()
	if err != nil {
		return 0, err
	}
	rttRootPA, err := delegate()
	if err != nil {
		return 0, err
	}
	paramsPA, err := m.AllocGranule()
	if err != nil {
		return 0, err
	}

	params := realm.Params{
		Features0:     33, // ipa_width=33
		HashAlgo:      0,
		VMID:          1,
		RTTBase:       rttRootPA,
		RTTLevelStart: 2,
		RTTNumStart:   1,
	}
	buf := make([]byte, realm.ParamsSize)
	if err := params.Encode(buf); err != nil {
		return 0, err
	}
	if err := writeGranule(m, paramsPA, buf); err != nil {
		return 0, err
	}
	if out := m.Dispatch(smc.Args{rmi.RealmCreate, rdPA, paramsPA}); out[0] != 0 {
		return 0, fmt.Errorf("REALM_CREATE: status %d", out[0])
	}

	l3TablePA, err := delegate()
	if err != nil {
		return 0, err
	}
	if out := m.Dispatch(smc.Args{rmi.RttCreate, rdPA, l3TablePA, 0x1000, uint64(rtt.Level3)}); out[0] != 0 {
		return 0, fmt.Errorf("RTT_CREATE: status %d", out[0])
	}
	if out := m.Dispatch(smc.Args{rmi.RttInitRipas, rdPA, 0x1000, 0x2000}); out[0] != 0 {
		return 0, fmt.Errorf("RTT_INIT_RIPAS: status %d", out[0])
	}

	dataPA, err := delegate()
	if err != nil {
		return 0, err
	}
	content := make([]byte, granule.GranuleSize)
	for i := range content {
		content[i] = 0x11
	}
	if err := writeGranule(m, dataPA, content); err != nil {
		return 0, err
	}
	if out := m.Dispatch(smc.Args{rmi.DataCreate, rdPA, 0x1000, dataPA, 0}); out[0] != 0 {
		return 0, fmt.Errorf("DATA_CREATE: status %d", out[0])
	}

	recPA, err := delegate()
	if err != nil {
		return 0, err
	}
	recParamsPA, err := m.AllocGranule()
	if err != nil {
		return 0, err
	}
	recParams := rec.Params{PC: 0x8000_0000}
	recBuf := make([]byte, rec.ParamsSize)
	if err := recParams.Encode(recBuf); err != nil {
		return 0, err
	}
	if err := writeGranule(m, recParamsPA, recBuf); err != nil {
		return 0, err
	}
	if out := m.Dispatch(smc.Args{rmi.RecCreate, rdPA, recPA, recParamsPA, 0}); out[0] != 0 {
		return 0, fmt.Errorf("REC_CREATE: status %d", out[0])
	}

	if out := m.Dispatch(smc.Args{rmi.RealmActivate, rdPA}); out[0] != 0 {
		return 0, fmt.Errorf("REALM_ACTIVATE: status %d", out[0])
	}
	return rdPA, nil
}

func printGranuleTable(m *monitor.Monitor) {
	counts := map[granule.State]uint64{}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"PA", "State"})
	m.GST.Visit(func(pa uint64, s granule.State) {
		counts[s]++
		if s != granule.Undelegated {
			table.Append([]string{fmt.Sprintf("%#x", pa), s.String()})
		}
	})
	fmt.Println("granules (non-Undelegated):")
	table.Render()

	summary := tablewriter.NewWriter(os.Stdout)
	summary.SetHeader([]string{"State", "Count"})
	for _, s := range []granule.State{
		granule.Undelegated, granule.Delegated, granule.StateRD,
		granule.StateRec, granule.StateRecAux, granule.StateData, granule.StateRTT,
	} {
		summary.Append([]string{s.String(), strconv.FormatUint(counts[s], 10)})
	}
	summary.Render()
}

func printRealmTable(m *monitor.Monitor) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"VMID", "State", "IPA bits", "Hash", "RIM"})
	m.GST.Visit(func(pa uint64, s granule.State) {
		if s != granule.StateRD {
			return
		}
		h, err := m.GST.LockIf(pa, granule.StateRD)
		if err != nil {
			return
		}
		defer h.Unlock()
		rd, err := granule.As[*realm.RD](h)
		if err != nil {
			return
		}
		algo := "SHA-256"
		if rd.HashAlgo == 1 {
			algo = "SHA-512"
		}
		table.Append([]string{
			strconv.Itoa(int(rd.VMID)),
			rd.St.String(),
			strconv.Itoa(rd.IPAWidth),
			algo,
			hex.EncodeToString(rd.RIM()[:8]) + "..",
		})
	})
	fmt.Println("realms:")
	table.Render()
}

func printRecTable(m *monitor.Monitor) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"PA", "vCPU", "State", "Runnable", "PC"})
	m.GST.Visit(func(pa uint64, s granule.State) {
		if s != granule.StateRec {
			return
		}
		h, err := m.GST.LockIf(pa, granule.StateRec)
		if err != nil {
			return
		}
		defer h.Unlock()
		r, err := granule.As[*rec.REC](h)
		if err != nil {
			return
		}
		table.Append([]string{
			fmt.Sprintf("%#x", pa),
			strconv.Itoa(r.VCPUIndex),
			r.St.String(),
			strconv.FormatBool(r.Runnable),
			fmt.Sprintf("%#x", r.PC),
		})
	})
	fmt.Println("recs:")
	table.Render()
}

// printLeafEntry walks to the leaf S2TTE covering ipa and dumps its raw
// 64-bit descriptor bit pattern, high byte first.
func printLeafEntry(m *monitor.Monitor, rdPA, ipa uint64) error {
	h, err := m.GST.LockIf(rdPA, granule.StateRD)
	if err != nil {
		return err
	}
	rd, err := granule.As[*realm.RD](h)
	if err != nil {
		h.Unlock()
		return err
	}
	root := rd.Root()
	h.Unlock()

	level, entry, err := rtt.ReadEntry(m.GST, root, ipa, rtt.Level3)
	if err != nil {
		return err
	}
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, rtt.Encode(entry))
	fmt.Printf("s2tte @ ipa %#x (level %d, hipas %d, ripas %s):\n  %s\n",
		ipa, level, entry.Hipas, entry.Ripas, biu.ToBinaryString(raw))
	return nil
}
