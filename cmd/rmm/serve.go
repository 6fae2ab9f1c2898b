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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/arm-cca/rmm/internal/bootmanifest"
	"github.com/arm-cca/rmm/internal/monitor"
	"github.com/arm-cca/rmm/internal/rmmlog"
)

// serveCommand boots a Monitor from a TOML manifest config and blocks,
// serving whatever calls arrive on its Looptest transport until
// interrupted. There is no real SMC conduit behind this transport (no Go
// process traps to EL2), so "serving" here means the same thing
// internal/monitor.Loop's doc comment describes: giving host-side test
// traffic, driven concurrently through m.Transport(), somewhere to land.
var serveCommand = cli.Command{
	Name:   "serve",
	Usage:  "boot the monitor from a boot manifest config and block, accepting calls on its transport",
	Action: runServe,
}

func runServe(ctx *cli.Context) error {
	manifestPath := ctx.GlobalString(manifestFlag.Name)
	if manifestPath == "" {
		return fmt.Errorf("serve: --manifest is required")
	}

	cfg, err := bootmanifest.LoadConfig(manifestPath)
	if err != nil {
		return fmt.Errorf("serve: loading manifest config: %w", err)
	}
	manifest, err := cfg.ToManifest()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if cfg.Tracing {
		rmmlog.Root().SetTracing(true)
	}

	m, err := monitor.Boot(manifest)
	if err != nil {
		return fmt.Errorf("serve: boot: %w", err)
	}
	defer m.Close()

	transport := m.Transport()

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rmmlog.Info("serve: monitor up, waiting for interrupt")
	m.Loop(runCtx, transport)
	return nil
}
