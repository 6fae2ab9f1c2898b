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

// Command rmm is the monitor's local entry point. It owns none of the
// real boot path (that's secure firmware's job); it exists to drive
// internal/monitor outside of actual EL2 hardware, the same role a chain
// client's CLI plays for a node that would otherwise need live peers to
// exercise.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/arm-cca/rmm/internal/rmmlog"
)

var (
	gitCommit = ""
	gitDate   = ""

	manifestFlag = cli.StringFlag{
		Name:  "manifest",
		Usage: "TOML boot manifest file (DRAM banks + console list)",
		Value: "",
	}
	tracingFlag = cli.BoolFlag{
		Name:  "trace",
		Usage: "enable internal/rmmlog tracing",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "rmm"
	app.Usage = "Arm CCA Realm Management Monitor (hosted reference build)"
	app.Version = buildVersion()
	app.Flags = []cli.Flag{manifestFlag, tracingFlag}
	app.Commands = []cli.Command{
		selftestCommand,
		serveCommand,
		inspectCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		rmmlog.Root().SetTracing(ctx.GlobalBool(tracingFlag.Name))
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildVersion() string {
	if gitCommit == "" {
		return "dev"
	}
	v := gitCommit
	if gitDate != "" {
		v += "-" + gitDate
	}
	return v
}
