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

package bootmanifest

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/cespare/cp"
	"github.com/kylelemons/godebug/pretty"
)

// encodeManifest builds the firmware-side binary layout Decode consumes.
func encodeManifest(m *Manifest) []byte {
	var buf []byte
	u32 := func(v uint32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		buf = append(buf, b...)
	}
	u64 := func(v uint64) {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		buf = append(buf, b...)
	}
	u32(m.Version)
	u32(uint32(len(m.Banks)))
	for _, bank := range m.Banks {
		u64(bank.Base)
		u64(bank.Size)
	}
	u32(uint32(len(m.Consoles)))
	for _, c := range m.Consoles {
		u32(uint32(len(c)))
		buf = append(buf, c...)
		if pad := len(c) % 4; pad != 0 {
			buf = append(buf, make([]byte, 4-pad)...)
		}
	}
	return buf
}

func TestDecodeRoundTrip(t *testing.T) {
	want := &Manifest{
		Version: SupportedVersion,
		Banks: []Bank{
			{Base: 0x4000_0000, Size: 16 * 1024 * 1024},
			{Base: 0x8000_0000, Size: 4 * 1024 * 1024},
		},
		Consoles: []string{"uart0", "pl011"},
	}
	got, err := Decode(encodeManifest(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Fatalf("decoded manifest mismatch (-got +want):\n%s", diff)
	}
	if got.TotalGranules() != (16*1024*1024+4*1024*1024)/GranuleSize {
		t.Fatalf("total granules = %d", got.TotalGranules())
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := encodeManifest(&Manifest{
		Version:  SupportedVersion,
		Banks:    []Bank{{Base: 0x4000_0000, Size: GranuleSize}},
		Consoles: []string{"uart0"},
	})
	for cut := 1; cut < len(full); cut++ {
		if _, err := Decode(full[:cut]); err == nil {
			t.Fatalf("decode of %d/%d bytes succeeded", cut, len(full))
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		m    Manifest
	}{
		{"wrong version", Manifest{Version: 2, Banks: []Bank{{Base: 0, Size: GranuleSize}}}},
		{"no banks", Manifest{Version: SupportedVersion}},
		{"misaligned base", Manifest{Version: SupportedVersion, Banks: []Bank{{Base: 0x100, Size: GranuleSize}}}},
		{"misaligned size", Manifest{Version: SupportedVersion, Banks: []Bank{{Base: 0, Size: 0x100}}}},
		{"zero size", Manifest{Version: SupportedVersion, Banks: []Bank{{Base: 0, Size: 0}}}},
		{"non-monotonic", Manifest{Version: SupportedVersion, Banks: []Bank{
			{Base: 0x8000_0000, Size: GranuleSize},
			{Base: 0x4000_0000, Size: GranuleSize},
		}}},
	}
	for _, tc := range cases {
		if err := tc.m.Validate(); err == nil {
			t.Errorf("%s: Validate accepted", tc.name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	// Work on a copy so a decode bug that scribbles on its input can never
	// corrupt the checked-in fixture.
	dir := t.TempDir()
	if err := cp.CopyAll(filepath.Join(dir, "testdata"), "testdata"); err != nil {
		t.Fatalf("copying fixtures: %v", err)
	}

	cfg, err := LoadConfig(filepath.Join(dir, "testdata", "manifest.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := &Config{
		Version:  SupportedVersion,
		Consoles: []string{"uart0", "uart1"},
		Banks: []Bank{
			{Base: 0x4000_0000, Size: 16 * 1024 * 1024},
			{Base: 0x8000_0000, Size: 4 * 1024 * 1024},
		},
	}
	if diff := pretty.Compare(cfg, want); diff != "" {
		t.Fatalf("config mismatch (-got +want):\n%s", diff)
	}

	m, err := cfg.ToManifest()
	if err != nil {
		t.Fatalf("to manifest: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
