// Copyright 2017 The go-probeum Authors
// This file is part of go-probeum.
//
// go-probeum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-probeum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-probeum. If not, see <http://www.gnu.org/licenses/>.

package bootmanifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings mirrors the upstream gprobe CLI's TOML decoder configuration:
// field names are taken verbatim, with no case folding, so a config file's
// keys must match the Go struct fields exactly.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s#%s", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Config is the monitor's local self-test/CLI configuration: a manifest
// described in TOML (rather than the raw firmware-supplied binary layout)
// plus a handful of monitor-wide toggles that have no analogue in real
// firmware but are needed to drive the monitor outside of actual hardware.
type Config struct {
	Version  uint32
	Banks    []Bank
	Consoles []string

	// Tracing enables internal/rmmlog's tracing feature gate.
	Tracing bool
}

// ToManifest converts a loaded Config into the Manifest the rest of the
// monitor consumes, validating it the same way Decode does.
func (c *Config) ToManifest() (*Manifest, error) {
	m := &Manifest{Version: c.Version, Banks: c.Banks, Consoles: c.Consoles}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadConfig reads and decodes a TOML boot-manifest configuration file.
func LoadConfig(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := &Config{Version: SupportedVersion}
	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return cfg, err
}
