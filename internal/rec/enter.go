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

package rec

import "fmt"

// Enter applies the host-supplied Run.entry to r and marks it Running: it
// validates the entry, copies its GPRs and GIC state into r and clears any
// completed host call. No timer, SIMD or PMU state is restored and no VTCR
// is installed; this monitor has no EL1 to drop to, so the caller (the
// REC_ENTER handler in internal/rmi) classifies the entry's simulated trap
// syndrome right after Enter returns.
func Enter(r *REC, e Entry) error {
	if r.St == StateRunning {
		return fmt.Errorf("rec: vcpu %d is already running", r.VCPUIndex)
	}
	if err := ValidateEntry(e); err != nil {
		return err
	}
	if r.PendingPSCI.Active {
		return fmt.Errorf("rec: vcpu %d has a pending PSCI call", r.VCPUIndex)
	}
	if r.PendingRIPAS.Active {
		return fmt.Errorf("rec: vcpu %d has a pending RIPAS change", r.VCPUIndex)
	}
	r.GPRs = e.GPRs
	r.GIC = e.GIC
	r.St = StateRunning
	r.Runnable = true
	r.ClearHostCall()
	return nil
}

// Leave marks r no longer Running, the inverse half of the context switch,
// performed once exit classification (internal/exitclass) and any RSI
// handling have produced the Run.exit that REC_ENTER returns to the host.
func (r *REC) Leave() {
	r.St = StateReady
}
