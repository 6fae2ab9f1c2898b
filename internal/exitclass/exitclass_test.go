package exitclass

import (
	"testing"

	"github.com/arm-cca/rmm/internal/rec"
)

func TestClassifyIRQTakesPriority(t *testing.T) {
	r := Classify(0, 0, 0, 0, true, false)
	if r.Reason != rec.ReasonIRQ {
		t.Fatalf("expected IRQ, got %s", r.Reason)
	}
}

func TestClassifyEmulatableDataAbort(t *testing.T) {
	esr := ecDataAbortLowerEL<<escShift | daISVBit | (2 << daSASShift) | (3 << daSRTShift)
	r := Classify(esr, 0x1000, 0, 0, false, false)
	if r.Reason != rec.ReasonSync || !r.Emulatable {
		t.Fatalf("expected emulatable sync abort, got %+v", r)
	}
	if r.SRT != 3 || r.SAS != 2 {
		t.Fatalf("unexpected srt/sas: %+v", r)
	}
}

func TestClassifyNonEmulatableSEA(t *testing.T) {
	esr := ecDataAbortLowerEL<<escShift | dfscSEA
	r := Classify(esr, 0, 0, 0, false, false)
	if r.Emulatable {
		t.Fatalf("expected SEA to be non-emulatable")
	}
}

func TestClassifyRSIRange(t *testing.T) {
	r := Classify(ecSMC64<<escShift, 0, 0, RSIRangeLo, false, false)
	if r.RSIFid != RSIRangeLo {
		t.Fatalf("expected RSI fid to be recognised, got %+v", r)
	}
}

func TestClassifyWFxTrap(t *testing.T) {
	r := Classify(ecWFxTrap<<escShift, 0, 0, 0, false, true)
	if r.Reason != rec.ReasonWFx {
		t.Fatalf("expected WFx, got %s", r.Reason)
	}
}
