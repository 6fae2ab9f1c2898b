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

package measurement

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"testing"
)

func TestAlgoSize(t *testing.T) {
	if SHA256.Size() != sha256.Size {
		t.Fatalf("SHA256 size = %d", SHA256.Size())
	}
	if SHA512.Size() != sha512.Size {
		t.Fatalf("SHA512 size = %d", SHA512.Size())
	}
}

func TestParseAlgo(t *testing.T) {
	if a, err := ParseAlgo(0); err != nil || a != SHA256 {
		t.Fatalf("ParseAlgo(0) = %v, %v", a, err)
	}
	if a, err := ParseAlgo(1); err != nil || a != SHA512 {
		t.Fatalf("ParseAlgo(1) = %v, %v", a, err)
	}
	if _, err := ParseAlgo(2); err == nil {
		t.Fatal("ParseAlgo(2) accepted")
	}
}

func TestExtendIsChainStep(t *testing.T) {
	slot := make([]byte, sha256.Size)
	buf := []byte("event payload")

	want := sha256.Sum256(append(append([]byte(nil), slot...), buf...))
	got := Extend(SHA256, slot, buf)
	if !bytes.Equal(got, want[:]) {
		t.Fatalf("Extend = %x, want %x", got, want)
	}

	// A nil slot hashes the buffer alone, the form DATA_CREATE uses for
	// the content hash.
	alone := sha256.Sum256(buf)
	if !bytes.Equal(Extend(SHA256, nil, buf), alone[:]) {
		t.Fatalf("Extend(nil, buf) != H(buf)")
	}
}

func TestExtendChainOrderMatters(t *testing.T) {
	slot := make([]byte, sha256.Size)
	a := []byte("a")
	b := []byte("b")

	ab := Extend(SHA256, Extend(SHA256, slot, a), b)
	ba := Extend(SHA256, Extend(SHA256, slot, b), a)
	if bytes.Equal(ab, ba) {
		t.Fatal("hash chain is order-insensitive")
	}

	// Replaying the same events reproduces the same measurement: the
	// chain is a pure function of its event sequence.
	replay := Extend(SHA256, Extend(SHA256, slot, a), b)
	if !bytes.Equal(ab, replay) {
		t.Fatal("hash chain is not reproducible")
	}
}

func TestEventDescriptorLayout(t *testing.T) {
	rim := bytes.Repeat([]byte{0x5a}, sha256.Size)
	hash := bytes.Repeat([]byte{0xc3}, sha256.Size)

	desc := EncodeDataCreate(rim, 0x1000, 1, hash)
	if len(desc) != 0x100 {
		t.Fatalf("descriptor length = %#x, want 0x100", len(desc))
	}
	if desc[0] != 0 {
		t.Fatalf("data-create tag = %d", desc[0])
	}
	for i := 1; i < 8; i++ {
		if desc[i] != 0 {
			t.Fatalf("padding byte %d = %#x", i, desc[i])
		}
	}
	if got := binary.LittleEndian.Uint64(desc[0x08:]); got != 0x100 {
		t.Fatalf("descriptor size field = %#x", got)
	}
	if !bytes.Equal(desc[0x10:0x10+sha256.Size], rim) {
		t.Fatal("old RIM not embedded at 0x10")
	}
	for _, b := range desc[0x10+sha256.Size : 0x50] {
		if b != 0 {
			t.Fatal("RIM field not zero padded to 64 bytes")
		}
	}
	if got := binary.LittleEndian.Uint64(desc[0x50:]); got != 0x1000 {
		t.Fatalf("ipa field = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(desc[0x58:]); got != 1 {
		t.Fatalf("flags field = %#x", got)
	}
	if !bytes.Equal(desc[0x60:0x60+sha256.Size], hash) {
		t.Fatal("content hash not embedded at 0x60")
	}
	for _, b := range desc[0xa0:] {
		if b != 0 {
			t.Fatal("descriptor tail not zero padded")
		}
	}

	rec := EncodeRecCreate(rim, SHA256, []byte("rec params"))
	if rec[0] != 1 || len(rec) != 0x100 {
		t.Fatalf("rec-create frame: tag=%d len=%#x", rec[0], len(rec))
	}
	wantParamsHash := sha256.Sum256([]byte("rec params"))
	if !bytes.Equal(rec[0x50:0x50+sha256.Size], wantParamsHash[:]) {
		t.Fatal("rec params hash not embedded at 0x50")
	}

	rip := EncodeRIPAS(rim, 0x1000, 0x2000)
	if rip[0] != 2 || len(rip) != 0x100 {
		t.Fatalf("ripas frame: tag=%d len=%#x", rip[0], len(rip))
	}
	if binary.LittleEndian.Uint64(rip[0x50:]) != 0x1000 || binary.LittleEndian.Uint64(rip[0x58:]) != 0x2000 {
		t.Fatal("ripas base/top not embedded at 0x50/0x58")
	}
}

func TestDataCreateEventDistinguishesInputs(t *testing.T) {
	rim := make([]byte, sha256.Size)
	base := EncodeDataCreate(rim, 0x1000, 0, []byte{1})
	otherIPA := EncodeDataCreate(rim, 0x2000, 0, []byte{1})
	otherFlags := EncodeDataCreate(rim, 0x1000, 1, []byte{1})
	unknown := EncodeDataCreate(rim, 0x1000, 1, nil)
	otherRIM := EncodeDataCreate(bytes.Repeat([]byte{0xff}, sha256.Size), 0x1000, 0, []byte{1})
	if bytes.Equal(base, otherIPA) || bytes.Equal(base, otherFlags) || bytes.Equal(base, otherRIM) {
		t.Fatal("data-create events with different inputs encode identically")
	}
	if bytes.Equal(otherFlags, unknown) {
		t.Fatal("zeroed and non-zero content hashes encode identically")
	}
}

func TestRecCreateEventHashesParams(t *testing.T) {
	rim := make([]byte, sha256.Size)
	a := EncodeRecCreate(rim, SHA256, []byte("params a"))
	b := EncodeRecCreate(rim, SHA256, []byte("params b"))
	if bytes.Equal(a, b) {
		t.Fatal("different REC params encode identically")
	}
}
