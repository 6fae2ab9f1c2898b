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

// Package measurement implements the Measurement Engine: a SHA-256/512
// hash chain over realm creation events, extending the Realm Descriptor's
// RIM/REM slots. REALM_CREATE measures a canonical CBOR view of its
// Params; every later event is a fixed 0x100-byte descriptor frame.
package measurement

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Algo identifies the realm's configured hash algorithm.
type Algo uint8

const (
	SHA256 Algo = iota
	SHA512
)

// Size returns the digest size, in bytes, for algo.
func (a Algo) Size() int {
	if a == SHA512 {
		return sha512.Size
	}
	return sha256.Size
}

func (a Algo) sum(b []byte) []byte {
	if a == SHA512 {
		s := sha512.Sum512(b)
		return s[:]
	}
	s := sha256.Sum256(b)
	return s[:]
}

// NumSlots is the fixed measurement vector size: slot 0 is RIM, slots 1..4
// are REMs.
const NumSlots = 5

// canonical returns v's canonical CBOR encoding: deterministic map key
// ordering and minimal integer/length forms, the property the hash chain's
// associativity property depends on.
func canonical(v interface{}) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	em, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(v)
}

// Extend computes slot <- H(slot || buf), the chain step every event type
// shares. slot is returned as a new digest-sized
// slice; the caller is responsible for writing it back into the RD.
func Extend(algo Algo, slot []byte, buf []byte) []byte {
	h := make([]byte, 0, len(slot)+len(buf))
	h = append(h, slot...)
	h = append(h, buf...)
	return algo.sum(h)
}

// realmCreateEvent is the canonical CBOR shape measured into RIM at
// REALM_CREATE: the Realm Params with rtt/aux/mpidr fields zeroised:
// those fields name the host's physical layout, not the realm's
// software identity.
type realmCreateEvent struct {
	Features0     uint64
	HashAlgo      uint8
	PersonalValue []byte
	IPAWidth      uint8
	RTTNumStart   uint8
}

// Creation events after REALM_CREATE are measured as fixed 0x100-byte
// descriptors, not CBOR: a one-byte type tag, seven bytes of padding, the
// descriptor size as a u64, the 64-byte RIM value being extended, the
// event's own fields, then zero padding out to 0x100. All multibyte
// integers are little-endian.
const (
	descSize    = 0x100
	descOffSize = 0x08
	descOffRIM  = 0x10
	descOffBody = 0x50

	// rimFieldSize is the full measurement buffer width; a SHA-256 RIM
	// occupies the first 32 bytes and the rest stays zero.
	rimFieldSize = 64
)

const (
	eventTagDataCreate uint8 = 0
	eventTagRecCreate  uint8 = 1
	eventTagRIPAS      uint8 = 2
)

// newDescriptor builds the shared frame head: tag, padding, size, old RIM.
func newDescriptor(tag uint8, oldRIM []byte) []byte {
	buf := make([]byte, descSize)
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[descOffSize:], descSize)
	copy(buf[descOffRIM:descOffRIM+rimFieldSize], oldRIM)
	return buf
}

// EncodeRealmCreate canonically encodes the RIM-measured view of a
// REALM_CREATE's params.
func EncodeRealmCreate(features0 uint64, hashAlgo uint8, rpv []byte, ipaWidth uint8, rttNumStart uint8) ([]byte, error) {
	return canonical(realmCreateEvent{
		Features0:     features0,
		HashAlgo:      hashAlgo,
		PersonalValue: rpv,
		IPAWidth:      ipaWidth,
		RTTNumStart:   rttNumStart,
	})
}

// EncodeDataCreate encodes a DATA_CREATE measurement descriptor: the IPA,
// the flags word, and the content hash at 0x60. dataHash is nil under
// DATA_CREATE_UNKNOWN, leaving the hash field zeroed ("data hash or zeros
// if flags=UNKNOWN").
func EncodeDataCreate(oldRIM []byte, ipa, flags uint64, dataHash []byte) []byte {
	buf := newDescriptor(eventTagDataCreate, oldRIM)
	binary.LittleEndian.PutUint64(buf[descOffBody:], ipa)
	binary.LittleEndian.PutUint64(buf[descOffBody+8:], flags)
	copy(buf[descOffBody+16:descOffBody+16+rimFieldSize], dataHash)
	return buf
}

// EncodeRecCreate encodes a REC_CREATE measurement descriptor: a hash of
// the REC Params at 0x50.
func EncodeRecCreate(oldRIM []byte, algo Algo, recParams []byte) []byte {
	buf := newDescriptor(eventTagRecCreate, oldRIM)
	copy(buf[descOffBody:descOffBody+rimFieldSize], algo.sum(recParams))
	return buf
}

// EncodeRIPAS encodes a RIPAS-change measurement descriptor: base and top
// IPA at 0x50.
func EncodeRIPAS(oldRIM []byte, base, top uint64) []byte {
	buf := newDescriptor(eventTagRIPAS, oldRIM)
	binary.LittleEndian.PutUint64(buf[descOffBody:], base)
	binary.LittleEndian.PutUint64(buf[descOffBody+8:], top)
	return buf
}

// ParseAlgo validates a wire hash_algo byte ("SHA-256 or
// SHA-512").
func ParseAlgo(v uint8) (Algo, error) {
	switch v {
	case 0:
		return SHA256, nil
	case 1:
		return SHA512, nil
	default:
		return 0, fmt.Errorf("measurement: unsupported hash_algo %d", v)
	}
}
