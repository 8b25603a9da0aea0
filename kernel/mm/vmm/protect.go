package vmm

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
)

var (
	// ErrBadRange is returned by SetWritable when the range is not page
	// aligned, is empty or contains a page that is not mapped for user
	// access.
	ErrBadRange = &kernel.Error{Module: "vmm", Message: "bad address range"}

	// flushTLBEntryFn is used by tests to observe local TLB invalidations.
	flushTLBEntryFn = func(c *cpu.CPU, page mm.Page) {
		c.TLB().Invalidate(uintptr(page))
	}
)

// SetWritable grants or revokes write access to every page in [vaddr,
// vaddr+length). The range must be page aligned, non-empty and fully mapped
// for user access; otherwise ErrBadRange is returned and no entry is
// modified. Revoking write access flags the entries with FlagProtected.
func (as *AddressSpace) SetWritable(c *cpu.CPU, vaddr, length uintptr, writable bool) *kernel.Error {
	end := vaddr + length
	if !mm.PageAligned(vaddr) || !mm.PageAligned(length) || length == 0 || end < vaddr || end > MaxUserAddr {
		return ErrBadRange
	}

	// Validate the whole range before touching any entry
	for addr := vaddr; addr < end; addr += mm.PageSize {
		pte, err := as.pteForAddress(addr)
		if err != nil || !pte.HasFlags(FlagUserAccessible) {
			return ErrBadRange
		}
	}

	for addr := vaddr; addr < end; addr += mm.PageSize {
		pte, _ := as.pteForAddress(addr)
		if writable {
			pte.SetFlags(FlagRW)
			pte.ClearFlags(FlagProtected)
		} else {
			pte.ClearFlags(FlagRW)
			pte.SetFlags(FlagProtected)
		}
		as.invalidate(c, mm.PageFromAddress(addr))
	}

	return nil
}

// invalidate removes any cached translation for page from c's TLB and, with
// shootdown enabled, from the TLB of every other CPU that currently runs on
// this address space.
func (as *AddressSpace) invalidate(c *cpu.CPU, page mm.Page) {
	root := as.Root()
	if c.ActiveRoot() == root {
		flushTLBEntryFn(c, page)
	}

	if !as.opts.Shootdown {
		return
	}

	for _, other := range as.opts.CPUs {
		if other != c && other.ActiveRoot() == root {
			other.TLB().Invalidate(uintptr(page))
		}
	}
}
