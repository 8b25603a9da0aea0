package vmm

import (
	"unsafe"

	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
)

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers so
	// walk() can be properly tested.
	ptePtrFn = func(entryAddr unsafe.Pointer) unsafe.Pointer {
		return entryAddr
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// entryAt returns a pointer to the entry at index inside the page table
// stored in the supplied frame.
func (as *AddressSpace) entryAt(table mm.Frame, index uintptr) *PageTableEntry {
	data := as.mem.FrameData(table)
	return (*PageTableEntry)(ptePtrFn(unsafe.Pointer(&data[index<<mm.PointerShift])))
}

// walk performs a page table walk for the given virtual address. It calls the
// suppplied walkFn with the page table entry that corresponds to each page
// table level. If walkFn returns false then the walk is aborted. When walkFn
// returns true for an intermediate level, the entry must point to the table
// of the next level.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	table := as.root
	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)

		pte := as.entryAt(table, entryIndex)
		if !walkFn(level, pte) {
			return
		}

		table = pte.Frame()
	}
}

// pteForAddress returns the final page table entry that correspond to a
// particular virtual address. The function performs a page table walk till it
// reaches the final page table entry returning ErrInvalidMapping if the page
// is not present.
func (as *AddressSpace) pteForAddress(virtAddr uintptr) (*PageTableEntry, *kernel.Error) {
	if virtAddr >= MaxUserAddr {
		return nil, ErrInvalidMapping
	}

	var (
		err   *kernel.Error
		entry *PageTableEntry
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

// visitLeaves invokes visitFn for every present last-level entry together
// with the virtual page it maps.
func (as *AddressSpace) visitLeaves(visitFn func(page mm.Page, pte *PageTableEntry)) {
	const tableEntries = uintptr(mm.PageSize >> mm.PointerShift)

	for dirIndex := uintptr(0); dirIndex < tableEntries; dirIndex++ {
		dirEntry := as.entryAt(as.root, dirIndex)
		if !dirEntry.HasFlags(FlagPresent) {
			continue
		}

		for leafIndex := uintptr(0); leafIndex < tableEntries; leafIndex++ {
			leaf := as.entryAt(dirEntry.Frame(), leafIndex)
			if leaf.HasFlags(FlagPresent) {
				visitFn(mm.Page(dirIndex<<pageLevelBits[1]|leafIndex), leaf)
			}
		}
	}
}
