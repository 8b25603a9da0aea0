package vmm

import (
	"testing"

	"github.com/NachaFrega/xv6-riscv/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   PageTableEntry
		flag1 = FlagRW
		flag2 = FlagProtected
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       PageTableEntry
		physFrame = mm.Frame(123)
	)

	pte.SetFlags(FlagPresent | FlagUserAccessible | FlagProtected)
	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}

	if exp, got := FlagPresent|FlagUserAccessible|FlagProtected, pte.Flags(); got != exp {
		t.Fatalf("expected pte.Flags() to return %b; got %b", exp, got)
	}
}
