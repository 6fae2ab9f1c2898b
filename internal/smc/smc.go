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

// Package smc defines the boundary between this monitor and the SMC
// conduit that actually traps EL2/EL1 calls into it. That
// trampoline is out of scope: Go cannot execute at EL2. What this
// monitor owns is everything on its side of the call: given the eight
// argument registers an SMC or HVC trap would have delivered, dispatch and
// produce the eight return registers. Transport is just that function
// boundary: fixed argument list in, fixed result out, no hidden state.
package smc

// NumArgs is the number of general-purpose argument/return registers an
// SMC64 Fast Call carries per the SMC Calling Convention.
const NumArgs = 8

// Args is the X0..X7 register file of a single SMC call: X0 carries the
// function identifier, X1..X7 carry up to seven arguments.
type Args [NumArgs]uint64

// FID extracts the function identifier from X0.
func (a Args) FID() uint32 { return uint32(a[0]) }

// Transport delivers one SMC call to a handler and returns its result
// registers. Real firmware implements this by trapping to EL2 and handing
// control to the monitor's entry point; this package never does that
// itself, only defines the shape a caller and a handler agree on.
type Transport interface {
	Call(args Args) Args
}

// Handler answers one SMC call, the signature internal/monitor's dispatcher
// implements.
type Handler func(args Args) Args

// Dispatcher adapts a Handler into a Transport, the shape internal/monitor
// wires its RMI/RSI dispatch loop through.
type Dispatcher struct {
	Handle Handler
}

// Call implements Transport.
func (d Dispatcher) Call(args Args) Args {
	if d.Handle == nil {
		return Args{}
	}
	return d.Handle(args)
}
