package vmm

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/gate"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
)

var errInactiveAddressSpace = &kernel.Error{Module: "mmu", Message: "user access through an inactive address space"}

// Load performs a user-mode read of the byte at vaddr on CPU c. If the access
// cannot complete, the trap state is returned instead.
func (as *AddressSpace) Load(c *cpu.CPU, vaddr uintptr) (byte, *gate.Registers) {
	frame, regs := as.access(c, vaddr, gate.AccessRead)
	if regs != nil {
		return 0, regs
	}

	return as.mem.FrameData(frame)[vaddr&(mm.PageSize-1)], nil
}

// Store performs a user-mode write of b to vaddr on CPU c. If the access
// cannot complete, nothing is written and the trap state is returned.
func (as *AddressSpace) Store(c *cpu.CPU, vaddr uintptr, b byte) *gate.Registers {
	frame, regs := as.access(c, vaddr, gate.AccessWrite)
	if regs != nil {
		return regs
	}

	as.mem.FrameData(frame)[vaddr&(mm.PageSize-1)] = b
	return nil
}

// access translates vaddr the way the MMU does: the TLB of c is consulted
// first and the page tables are walked on a miss. Permissions are checked
// against the (possibly cached) entry.
func (as *AddressSpace) access(c *cpu.CPU, vaddr uintptr, kind gate.AccessKind) (mm.Frame, *gate.Registers) {
	if c.ActiveRoot() != as.Root() {
		panicFn(errInactiveAddressSpace)
	}

	var (
		vpn       = uintptr(mm.PageFromAddress(vaddr))
		errorCode = gate.FaultUser
	)

	if kind == gate.AccessWrite {
		errorCode |= gate.FaultWrite
	}

	raw, hit := c.TLB().Lookup(vpn)
	pte := PageTableEntry(raw)
	if !hit {
		entry, err := as.pteForAddress(vaddr)
		if err != nil {
			return mm.InvalidFrame, &gate.Registers{Info: errorCode, Addr: uint64(vaddr), CPU: c.ID()}
		}

		pte = *entry
		c.TLB().Fill(vpn, uintptr(pte))
	}

	if !pte.HasFlags(FlagUserAccessible) || (kind == gate.AccessWrite && !pte.HasFlags(FlagRW)) {
		return mm.InvalidFrame, &gate.Registers{Info: errorCode | gate.FaultPresent, Addr: uint64(vaddr), CPU: c.ID()}
	}

	return pte.Frame(), nil
}

// DropTranslation removes the cached translation for vaddr from c's TLB. The
// fault path uses it before retrying an access that faulted on a stale entry.
func DropTranslation(c *cpu.CPU, vaddr uintptr) {
	flushTLBEntryFn(c, mm.PageFromAddress(vaddr))
}
