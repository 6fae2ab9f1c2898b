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

//go:build linux

package granule

import "golang.org/x/sys/unix"

// pin best-effort mlocks a granule's backing memory so the confidential
// page cannot be paged out from under the monitor, the closest a hosted
// process gets to owning physical memory.
// Failure is not fatal: on a constrained or unprivileged host mlock may be
// denied, and the granule state machine's correctness does not depend on
// it actually succeeding.
func pin(b []byte) {
	_ = unix.Mlock(b)
}

func unpin(b []byte) {
	_ = unix.Munlock(b)
}
