package mm

import (
	"testing"

	"github.com/arm-cca/rmm/internal/granule"
)

func TestMapUnmap(t *testing.T) {
	gst := granule.NewTable(0, 4*granule.GranuleSize)
	t.Cleanup(func() { gst.Close() })

	pa := uint64(0)
	h, err := gst.LockIf(pa, granule.Undelegated)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	w := NewWindow(gst, 8)
	view := w.Map(h)
	if len(view) != granule.GranuleSize {
		t.Fatalf("expected a granule-sized view, got %d bytes", len(view))
	}
	if !w.IsMapped(pa) {
		t.Fatalf("expected pa to be tracked as mapped")
	}
	h.Unlock()

	w.Unmap(pa)
	if w.IsMapped(pa) {
		t.Fatalf("expected pa to be unmapped")
	}
}
