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

package smc

import "sync"

// Looptest is an in-process Transport that calls straight into a Handler,
// used by internal/monitor's scenario tests and the CLI's selftest mode
// in place of a real SMC trap (Go cannot execute at EL2). It also
// records every call for
// assertions, the way an in-memory RPC test double keeps a call log
// instead of dialing a real peer.
type Looptest struct {
	mu      sync.Mutex
	handler Handler
	log     []Args
}

// NewLooptest builds a Looptest transport dispatching to handler.
func NewLooptest(handler Handler) *Looptest {
	return &Looptest{handler: handler}
}

// Call implements Transport.
func (l *Looptest) Call(args Args) Args {
	l.mu.Lock()
	l.log = append(l.log, args)
	l.mu.Unlock()
	if l.handler == nil {
		return Args{}
	}
	return l.handler(args)
}

// Log returns every call made through this transport so far, oldest first.
func (l *Looptest) Log() []Args {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Args, len(l.log))
	copy(out, l.log)
	return out
}
