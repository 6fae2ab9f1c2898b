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

// Package mm implements the RMM Mapping: the monitor's own
// private translation tables, and dynamic map/unmap of host/delegated
// granules into the monitor's VA space. A hosted Go process
// has no EL2 page tables of its own to program; granule content is already
// addressable through internal/granule's backing mmap region, so "mapping"
// here means tracking which granules the monitor currently holds a live
// view of and handing out that view, and "unmapping" means dropping the
// tracking entry — every exit path does so ("unmap is
// invoked on every exit path").
package mm

import (
	"fmt"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/arm-cca/rmm/internal/granule"
)

// mapped is the fixed-size presence marker stored per currently-mapped
// granule; its content is unused, only its presence/absence matters.
var mapped = []byte{1}

// Window is a bounded map/unmap tracker over a granule.Table, backed by
// github.com/VictoriaMetrics/fastcache. Stage-2 TLB/cache maintenance is
// not hidden here behind a generic commit helper; it stays explicit in
// internal/rtt and internal/rec, and this package only tracks which
// granules currently have a monitor-side view outstanding.
type Window struct {
	gst   *granule.Table
	cache *fastcache.Cache
}

// NewWindow builds a Window over gst with room for capacity concurrently
// mapped granules (each entry is a few bytes, so this is a small
// allocation even for a large capacity).
func NewWindow(gst *granule.Table, capacity int) *Window {
	return &Window{gst: gst, cache: fastcache.New(capacity * 64)}
}

// key packs pa into the fixed 8-byte form fastcache wants.
func key(pa uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(pa >> (8 * i))
	}
	return b
}

// Map records pa as mapped and returns a byte-slice view of its granule
// content. h must already be a locked handle over pa in a state the caller
// expects to read/write (internal/rtt and internal/rec hold the lock for
// the duration of the access, same as this package's caller does here).
func (w *Window) Map(h *granule.Handle) []byte {
	w.cache.Set(key(h.PA()), mapped)
	return h.Bytes()
}

// Unmap drops pa's mapped-tracking entry. Safe to call even if pa was
// never mapped.
func (w *Window) Unmap(pa uint64) {
	w.cache.Del(key(pa))
}

// IsMapped reports whether pa currently has an outstanding monitor-side
// view, used by tests and by the CLI's inspect mode to show live mapping
// pressure.
func (w *Window) IsMapped(pa uint64) bool {
	return w.cache.Has(key(pa))
}

// Reset drops every tracked mapping, used when a realm is torn down and
// every one of its granules' views must be considered stale.
func (w *Window) Reset() {
	w.cache.Reset()
}

// MapFor locks pa (requiring expected state), maps it, and returns both
// the view and the still-held handle so the caller can Unmap+Unlock in a
// single defer, the common shape every RTT/REC accessor in this monitor
// needs.
func (w *Window) MapFor(pa uint64, expected granule.State) ([]byte, *granule.Handle, error) {
	h, err := w.gst.LockIf(pa, expected)
	if err != nil {
		return nil, nil, fmt.Errorf("mm: map %#x: %w", pa, err)
	}
	return w.Map(h), h, nil
}
