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

// Fixed byte offsets of a 4096-byte REC Params block:
// flags @0x0, mpidr @0x100, pc @0x200, gprs[8] @0x300, num_aux @0x800,
// aux[16] @0x808. Only 8 GPRs are host-suppliable at create time (the
// initial argument registers); the rest start zeroed.
const (
	offFlags   = 0x000
	offMPIDR   = 0x100
	offPC      = 0x200
	offGPRs    = 0x300
	numInitGPR = 8
	offNumAux  = 0x800
	offAux     = 0x808
	maxAux     = 16

	ParamsSize = 4096
)

// Params is the decoded form of a host-supplied REC Params block.
type Params struct {
	Flags  uint64
	MPIDR  uint64
	PC     uint64
	GPRs   [numInitGPR]uint64
	NumAux uint64
	Aux    [maxAux]uint64
}

// DecodeParams parses a 4096-byte REC Params block.
func DecodeParams(buf []byte) (Params, error) {
	if len(buf) != ParamsSize {
		return Params{}, fmt.Errorf("rec: params block must be %d bytes, got %d", ParamsSize, len(buf))
	}
	var p Params
	p.Flags = binary.LittleEndian.Uint64(buf[offFlags:])
	p.MPIDR = binary.LittleEndian.Uint64(buf[offMPIDR:])
	p.PC = binary.LittleEndian.Uint64(buf[offPC:])
	for i := 0; i < numInitGPR; i++ {
		p.GPRs[i] = binary.LittleEndian.Uint64(buf[offGPRs+i*8:])
	}
	p.NumAux = binary.LittleEndian.Uint64(buf[offNumAux:])
	for i := 0; i < maxAux; i++ {
		p.Aux[i] = binary.LittleEndian.Uint64(buf[offAux+i*8:])
	}
	return p, nil
}

// Encode writes p back into a 4096-byte REC Params block, for tests and the
// CLI's inspect mode.
func (p Params) Encode(buf []byte) error {
	if len(buf) != ParamsSize {
		return fmt.Errorf("rec: params block must be %d bytes, got %d", ParamsSize, len(buf))
	}
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[offFlags:], p.Flags)
	binary.LittleEndian.PutUint64(buf[offMPIDR:], p.MPIDR)
	binary.LittleEndian.PutUint64(buf[offPC:], p.PC)
	for i := 0; i < numInitGPR; i++ {
		binary.LittleEndian.PutUint64(buf[offGPRs+i*8:], p.GPRs[i])
	}
	binary.LittleEndian.PutUint64(buf[offNumAux:], p.NumAux)
	for i := 0; i < maxAux; i++ {
		binary.LittleEndian.PutUint64(buf[offAux+i*8:], p.Aux[i])
	}
	return nil
}
