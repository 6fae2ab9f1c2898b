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

package rtt

// Invalidator is the engine's collaborator boundary onto TLB maintenance.
// A hosted process has no TBI/DSB instructions of its own, so this package
// never issues them directly; it calls back through Invalidator at every
// point the ordering rules require a break-before-make or a
// post-unmap invalidation, and the monitor wires in whatever the actual
// target does.
type Invalidator interface {
	InvalidateIPA(vmid uint16, ipa uint64, level Level)
}

// NullInvalidator discards invalidation requests; used by tests and by the
// CLI's offline inspect mode where no real translation hardware exists.
type NullInvalidator struct{}

// InvalidateIPA implements Invalidator.
func (NullInvalidator) InvalidateIPA(uint16, uint64, Level) {}

// CountingInvalidator records how many invalidations it saw, for tests that
// assert the engine invalidates exactly where a mapping narrowed.
type CountingInvalidator struct {
	Calls []InvalidateCall
}

// InvalidateCall records one InvalidateIPA invocation.
type InvalidateCall struct {
	VMID  uint16
	IPA   uint64
	Level Level
}

// InvalidateIPA implements Invalidator.
func (c *CountingInvalidator) InvalidateIPA(vmid uint16, ipa uint64, level Level) {
	c.Calls = append(c.Calls, InvalidateCall{vmid, ipa, level})
}
