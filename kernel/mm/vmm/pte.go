package vmm

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// PageTableEntry describes a page table entry. These entries encode a
// physical frame address and a set of flags.
type PageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Flags returns the flags set on this entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) &^ ptePhysPageMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}
