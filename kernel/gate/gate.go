// Package gate describes the state captured when a memory access traps into
// the kernel and decodes it into the architecture-neutral FaultInfo consumed
// by the fault handler.
package gate

import (
	"io"

	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
)

// Page-fault error code bits stored in Registers.Info.
const (
	// FaultPresent is set when the fault was caused by a protection
	// violation on a present page and cleared for a non-present page.
	FaultPresent uint64 = 1 << iota

	// FaultWrite is set when the faulting access was a write.
	FaultWrite

	// FaultUser is set when the access originated in user mode.
	FaultUser
)

// Registers contains a snapshot of the trap state when a memory access
// cannot complete.
type Registers struct {
	// Info contains the page-fault error code (see the Fault* bits).
	Info uint64

	// Addr holds the virtual address whose access faulted.
	Addr uint64

	// CPU is the number of the CPU that took the trap.
	CPU int
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "INFO = %16x ADDR = %16x\n", r.Info, r.Addr)
	kfmt.Fprintf(w, "CPU  = %d\n", r.CPU)
}

// AccessKind describes the type of memory access that faulted.
type AccessKind uint8

const (
	// AccessRead is a load.
	AccessRead AccessKind = iota

	// AccessWrite is a store.
	AccessWrite
)

// String implements fmt.Stringer.
func (k AccessKind) String() string {
	if k == AccessWrite {
		return "write"
	}
	return "read"
}

// FaultInfo is the decoded form of a memory-access trap.
type FaultInfo struct {
	Address uintptr
	Access  AccessKind

	// PID identifies the faulting process.
	PID int
}

// DecodeFault converts the trap state captured for a page fault into a
// FaultInfo for the process identified by pid.
func DecodeFault(regs *Registers, pid int) FaultInfo {
	info := FaultInfo{
		Address: uintptr(regs.Addr),
		Access:  AccessRead,
		PID:     pid,
	}

	if regs.Info&FaultWrite != 0 {
		info.Access = AccessWrite
	}

	return info
}

// Reason returns a human readable description of a page-fault error code.
func Reason(info uint64) string {
	switch info &^ FaultUser {
	case 0:
		return "read from non-present page"
	case FaultPresent:
		return "page protection violation (read)"
	case FaultWrite:
		return "write to non-present page"
	case FaultPresent | FaultWrite:
		return "page protection violation (write)"
	default:
		return "unknown"
	}
}
