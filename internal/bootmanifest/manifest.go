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

// Package bootmanifest ingests the boot manifest secure firmware leaves at
// a well-known shared address. Producing and transporting the manifest is
// firmware's job; this package only validates and decodes the
// fixed layout the monitor receives at a well-known shared address, and
// sizes the granule table from the DRAM bank list.
package bootmanifest

import (
	"encoding/binary"
	"fmt"
)

// SupportedVersion is the only boot manifest version this monitor accepts.
const SupportedVersion = 3

// GranuleSize is the fixed confidential-memory page size, 4 KiB.
const GranuleSize = 4096

// Bank describes one contiguous DRAM region available to the monitor.
type Bank struct {
	Base uint64
	Size uint64
}

// Manifest is the decoded boot manifest.
type Manifest struct {
	Version  uint32
	Banks    []Bank
	Consoles []string
}

// TotalGranules returns the number of 4 KiB frames covered by all banks.
func (m *Manifest) TotalGranules() uint64 {
	var n uint64
	for _, b := range m.Banks {
		n += b.Size / GranuleSize
	}
	return n
}

// Validate enforces the handoff contract: version must equal 3, bank bases must be
// monotonically increasing, and every bank must be granule-aligned.
func (m *Manifest) Validate() error {
	if m.Version != SupportedVersion {
		return fmt.Errorf("bootmanifest: unsupported version %d, want %d", m.Version, SupportedVersion)
	}
	if len(m.Banks) == 0 {
		return fmt.Errorf("bootmanifest: no DRAM banks")
	}
	var prevEnd uint64
	for i, b := range m.Banks {
		if b.Base%GranuleSize != 0 || b.Size%GranuleSize != 0 {
			return fmt.Errorf("bootmanifest: bank %d not granule-aligned", i)
		}
		if b.Size == 0 {
			return fmt.Errorf("bootmanifest: bank %d has zero size", i)
		}
		if i > 0 && b.Base < prevEnd {
			return fmt.Errorf("bootmanifest: bank %d base %#x not monotonically increasing after %#x", i, b.Base, prevEnd)
		}
		prevEnd = b.Base + b.Size
	}
	return nil
}

// Decode parses the fixed binary layout of the boot manifest:
//
//	u32 version
//	u32 num_banks
//	repeated num_banks * (u64 base, u64 size)
//	u32 num_consoles
//	repeated num_consoles * (u32 len, len bytes, padded to 4)
//
// All multi-byte integers are little-endian, the same convention the
// measurement descriptors use, carried here for consistency across the
// monitor's wire structures.
func Decode(buf []byte) (*Manifest, error) {
	r := &reader{buf: buf}
	m := &Manifest{}
	m.Version = r.u32()
	numBanks := r.u32()
	for i := uint32(0); i < numBanks; i++ {
		base := r.u64()
		size := r.u64()
		m.Banks = append(m.Banks, Bank{Base: base, Size: size})
	}
	numConsoles := r.u32()
	for i := uint32(0); i < numConsoles; i++ {
		n := r.u32()
		s := r.bytes(int(n))
		m.Consoles = append(m.Consoles, string(s))
		if pad := n % 4; pad != 0 {
			r.bytes(int(4 - pad))
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("bootmanifest: truncated at offset %d wanting %d bytes", r.off, n)
		return false
	}
	return true
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}
