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

package rec

import (
	"encoding/binary"
	"fmt"
)

// RunSize, EntrySize and ExitSize are the fixed REC Run block layout:
// entry at 0..0x800, exit at 0x800..0x1000.
const (
	RunSize   = 4096
	EntrySize = 0x800
	ExitSize  = 0x800
)

// Offsets within the entry half: flags, 31 GPRs, GIC{HCR, LRs[16]}.
const (
	entryOffFlags  = 0x000
	entryOffGPRs   = 0x008
	entryOffGICHCR = 0x100
	entryOffGICLRs = 0x108

	// entryOffSim* carry the simulated trap syndrome a looptest harness
	// supplies in place of a real EL1->EL2 trap (this monitor cannot
	// execute realm code; see internal/smc's package doc). They are a
	// private convention of this Run block, not part of any real
	// hardware-visible layout.
	entryOffSimESR   = 0x188
	entryOffSimFAR   = 0x190
	entryOffSimHPFAR = 0x198
	entryOffSimFlags = 0x1a0
)

// Simulated-entry flag bits within entryOffSimFlags.
const (
	simFlagIRQPending = 1 << iota
	simFlagWFxTrap
)

// FlagRIPASAccept is Run.entry.flags bit 0: the host's RIPAS_RESPONSE
// accept/reject decision for a pending RSI_IPA_STATE_SET, applied on the
// next REC_ENTER.
const FlagRIPASAccept uint64 = 1 << 0

// Offsets within the exit half: exit-reason, ESR/FAR/HPFAR, GPRs,
// GIC{HCR,LRs,MISR,VMCR}, timer, RIPAS, host-call imm.
const (
	exitOffReason   = 0x000
	exitOffESR      = 0x008
	exitOffFAR      = 0x010
	exitOffHPFAR    = 0x018
	exitOffGPRs     = 0x020
	exitOffGICHCR   = 0x120
	exitOffGICLRs   = 0x128
	exitOffGICMISR  = 0x1a8
	exitOffGICVMCR  = 0x1b0
	exitOffTimerPC  = 0x1b8
	exitOffTimerPV  = 0x1c0
	exitOffTimerVC  = 0x1c8
	exitOffTimerVV  = 0x1d0
	exitOffRIPASBa  = 0x1d8
	exitOffRIPASTop = 0x1e0
	exitOffRIPASVal = 0x1e8
	exitOffHostImm  = 0x1f0
)

// Entry is the host-supplied half of a REC Run block, copied into REC
// state under validation before REC_ENTER drops to EL1.
type Entry struct {
	Flags uint64
	GPRs  [NumGPRs]uint64
	GIC   GICState

	// SimESR/SimFAR/SimHPFAR/SimIRQPending/SimWFxTrap simulate the
	// syndrome a real EL1->EL2 trap would have delivered, supplied by the
	// host side of the looptest transport standing in for hardware.
	SimESR        uint64
	SimFAR        uint64
	SimHPFAR      uint64
	SimIRQPending bool
	SimWFxTrap    bool
}

// DecodeEntry parses Run.entry out of a 4096-byte Run block.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) != RunSize {
		return Entry{}, fmt.Errorf("rec: run block must be %d bytes, got %d", RunSize, len(buf))
	}
	var e Entry
	e.Flags = binary.LittleEndian.Uint64(buf[entryOffFlags:])
	for i := 0; i < NumGPRs; i++ {
		e.GPRs[i] = binary.LittleEndian.Uint64(buf[entryOffGPRs+i*8:])
	}
	e.GIC.HCR = binary.LittleEndian.Uint64(buf[entryOffGICHCR:])
	for i := range e.GIC.LRs {
		e.GIC.LRs[i] = binary.LittleEndian.Uint64(buf[entryOffGICLRs+i*8:])
	}
	e.SimESR = binary.LittleEndian.Uint64(buf[entryOffSimESR:])
	e.SimFAR = binary.LittleEndian.Uint64(buf[entryOffSimFAR:])
	e.SimHPFAR = binary.LittleEndian.Uint64(buf[entryOffSimHPFAR:])
	simFlags := binary.LittleEndian.Uint64(buf[entryOffSimFlags:])
	e.SimIRQPending = simFlags&simFlagIRQPending != 0
	e.SimWFxTrap = simFlags&simFlagWFxTrap != 0
	return e, nil
}

// EncodeEntry writes e into the entry half of a 4096-byte Run block, the
// host side of REC_ENTER (and the looptest harness simulating it).
func EncodeEntry(buf []byte, e Entry) error {
	if len(buf) != RunSize {
		return fmt.Errorf("rec: run block must be %d bytes, got %d", RunSize, len(buf))
	}
	binary.LittleEndian.PutUint64(buf[entryOffFlags:], e.Flags)
	for i := 0; i < NumGPRs; i++ {
		binary.LittleEndian.PutUint64(buf[entryOffGPRs+i*8:], e.GPRs[i])
	}
	binary.LittleEndian.PutUint64(buf[entryOffGICHCR:], e.GIC.HCR)
	for i, lr := range e.GIC.LRs {
		binary.LittleEndian.PutUint64(buf[entryOffGICLRs+i*8:], lr)
	}
	binary.LittleEndian.PutUint64(buf[entryOffSimESR:], e.SimESR)
	binary.LittleEndian.PutUint64(buf[entryOffSimFAR:], e.SimFAR)
	binary.LittleEndian.PutUint64(buf[entryOffSimHPFAR:], e.SimHPFAR)
	var simFlags uint64
	if e.SimIRQPending {
		simFlags |= simFlagIRQPending
	}
	if e.SimWFxTrap {
		simFlags |= simFlagWFxTrap
	}
	binary.LittleEndian.PutUint64(buf[entryOffSimFlags:], simFlags)
	return nil
}

// lrHWBit and lrVINTIDMask pick apart a GIC list register the way real
// hardware does: bit 31 is HW (a hardware-backed mapped interrupt, which a
// realm vCPU may never install), bits [31:0) low 32 bits
// carry the virtual INTID in bits [9:0).
const (
	lrHWBit      = 1 << 31
	lrVINTIDMask = 0x3ff
)

// ValidateEntry enforces REC_ENTER's input checks: GIC LRs must have
// HW=0, no duplicate vINTIDs, reserved bits zero.
func ValidateEntry(e Entry) error {
	seen := map[uint64]bool{}
	for i, lr := range e.GIC.LRs {
		if lr == 0 {
			continue
		}
		if lr&lrHWBit != 0 {
			return fmt.Errorf("rec: entry GIC LR[%d] has HW=1, not permitted from a realm", i)
		}
		vintid := lr & lrVINTIDMask
		if seen[vintid] {
			return fmt.Errorf("rec: entry GIC LR[%d] duplicates vINTID %d", i, vintid)
		}
		seen[vintid] = true
	}
	return nil
}

// Exit is the monitor-filled half of a REC Run block, written before
// returning to host on any exit path.
type Exit struct {
	Reason Reason
	ESR    uint64
	FAR    uint64
	HPFAR  uint64
	GPRs   [NumGPRs]uint64
	GIC    GICState
	Timer  TimerState

	RIPASBase  uint64
	RIPASTop   uint64
	RIPASValue uint8

	HostCallImm uint16
}

// Reason is the normalised exit reason reported to host.
type Reason uint8

const (
	ReasonSync Reason = iota
	ReasonIRQ
	ReasonPSCI
	ReasonRIPASChange
	ReasonHostCall
	// ReasonWFx is produced when the realm traps on WFI/WFE with the trap
	// configured; it is written to the Run exit block as its own reason
	// value, distinct from Sync.
	ReasonWFx
	// ReasonLocalChannelSend is reserved for a future host<->realm fast
	// channel and is never produced by internal/exitclass today.
	ReasonLocalChannelSend
)

func (r Reason) String() string {
	switch r {
	case ReasonSync:
		return "Sync"
	case ReasonIRQ:
		return "IRQ"
	case ReasonPSCI:
		return "PSCI"
	case ReasonRIPASChange:
		return "RIPAS_CHANGE"
	case ReasonHostCall:
		return "HOST_CALL"
	case ReasonWFx:
		return "WFx"
	case ReasonLocalChannelSend:
		return "LOCAL_CHANNEL_SEND"
	default:
		return "?"
	}
}

// EncodeExit writes x into the exit half of a 4096-byte Run block,
// zeroising every byte not part of x's populated fields first, so no
// stale realm state ever leaks to the host through unused exit bytes.
func EncodeExit(buf []byte, x Exit) error {
	if len(buf) != RunSize {
		return fmt.Errorf("rec: run block must be %d bytes, got %d", RunSize, len(buf))
	}
	exit := buf[EntrySize:]
	for i := range exit {
		exit[i] = 0
	}
	exit[exitOffReason] = byte(x.Reason)
	binary.LittleEndian.PutUint64(exit[exitOffESR:], x.ESR)
	binary.LittleEndian.PutUint64(exit[exitOffFAR:], x.FAR)
	binary.LittleEndian.PutUint64(exit[exitOffHPFAR:], x.HPFAR)
	for i := 0; i < NumGPRs; i++ {
		binary.LittleEndian.PutUint64(exit[exitOffGPRs+i*8:], x.GPRs[i])
	}
	binary.LittleEndian.PutUint64(exit[exitOffGICHCR:], x.GIC.HCR)
	for i, lr := range x.GIC.LRs {
		binary.LittleEndian.PutUint64(exit[exitOffGICLRs+i*8:], lr)
	}
	binary.LittleEndian.PutUint64(exit[exitOffGICMISR:], x.GIC.MISR)
	binary.LittleEndian.PutUint64(exit[exitOffGICVMCR:], x.GIC.VMCR)
	binary.LittleEndian.PutUint64(exit[exitOffTimerPC:], x.Timer.PCtl)
	binary.LittleEndian.PutUint64(exit[exitOffTimerPV:], x.Timer.PCval)
	binary.LittleEndian.PutUint64(exit[exitOffTimerVC:], x.Timer.VCtl)
	binary.LittleEndian.PutUint64(exit[exitOffTimerVV:], x.Timer.VCval)
	binary.LittleEndian.PutUint64(exit[exitOffRIPASBa:], x.RIPASBase)
	binary.LittleEndian.PutUint64(exit[exitOffRIPASTop:], x.RIPASTop)
	exit[exitOffRIPASVal] = x.RIPASValue
	binary.LittleEndian.PutUint64(exit[exitOffHostImm:], uint64(x.HostCallImm))
	return nil
}

// DecodeExit parses Run.exit out of a 4096-byte Run block, the inverse of
// EncodeExit. Used by tests and by the CLI's inspect mode to read back what
// a REC_ENTER call wrote without re-deriving the byte layout.
func DecodeExit(buf []byte) (Exit, error) {
	if len(buf) != RunSize {
		return Exit{}, fmt.Errorf("rec: run block must be %d bytes, got %d", RunSize, len(buf))
	}
	exit := buf[EntrySize:]
	var x Exit
	x.Reason = Reason(exit[exitOffReason])
	x.ESR = binary.LittleEndian.Uint64(exit[exitOffESR:])
	x.FAR = binary.LittleEndian.Uint64(exit[exitOffFAR:])
	x.HPFAR = binary.LittleEndian.Uint64(exit[exitOffHPFAR:])
	for i := 0; i < NumGPRs; i++ {
		x.GPRs[i] = binary.LittleEndian.Uint64(exit[exitOffGPRs+i*8:])
	}
	x.GIC.HCR = binary.LittleEndian.Uint64(exit[exitOffGICHCR:])
	for i := range x.GIC.LRs {
		x.GIC.LRs[i] = binary.LittleEndian.Uint64(exit[exitOffGICLRs+i*8:])
	}
	x.GIC.MISR = binary.LittleEndian.Uint64(exit[exitOffGICMISR:])
	x.GIC.VMCR = binary.LittleEndian.Uint64(exit[exitOffGICVMCR:])
	x.Timer.PCtl = binary.LittleEndian.Uint64(exit[exitOffTimerPC:])
	x.Timer.PCval = binary.LittleEndian.Uint64(exit[exitOffTimerPV:])
	x.Timer.VCtl = binary.LittleEndian.Uint64(exit[exitOffTimerVC:])
	x.Timer.VCval = binary.LittleEndian.Uint64(exit[exitOffTimerVV:])
	x.RIPASBase = binary.LittleEndian.Uint64(exit[exitOffRIPASBa:])
	x.RIPASTop = binary.LittleEndian.Uint64(exit[exitOffRIPASTop:])
	x.RIPASValue = exit[exitOffRIPASVal]
	x.HostCallImm = uint16(binary.LittleEndian.Uint64(exit[exitOffHostImm:]))
	return x, nil
}

// GPRValue returns GPRs[rt], treating rt==31 as the zero register.
func GPRValue(gprs [NumGPRs]uint64, rt int) uint64 {
	if rt >= NumGPRs {
		return 0
	}
	return gprs[rt]
}

// SetGPR writes val into gprs[rt], discarding writes to rt==31: the zero
// register never holds a value.
func SetGPR(gprs *[NumGPRs]uint64, rt int, val uint64) {
	if rt >= NumGPRs {
		return
	}
	gprs[rt] = val
}
