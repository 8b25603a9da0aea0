// Package vmm implements per-process virtual address spaces: page tables
// stored in physical frames, the permission changes applied to them, the MMU
// translating user accesses through them and the classification of the
// faults it raises.
package vmm

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/pmm"
)

var (
	// ErrInvalidAddress is returned when a mapping request falls outside
	// the user address space.
	ErrInvalidAddress = &kernel.Error{Module: "vmm", Message: "address outside the user address space"}

	errDoubleDestroy = &kernel.Error{Module: "vmm", Message: "address space destroyed twice"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Options configure how an AddressSpace keeps the TLBs of the machine
// consistent with its page tables.
type Options struct {
	// Shootdown enables cross-CPU invalidation: permission changes are
	// also removed from the TLB of every CPU in CPUs that has this address
	// space active. When disabled only the TLB of the CPU performing the
	// change is invalidated.
	Shootdown bool

	// CPUs lists the processors of the machine.
	CPUs []*cpu.CPU
}

// AddressSpace is the address-translation structure of a single process. It
// exclusively owns the frames of its page tables and of every mapped page.
//
// AddressSpace does not synchronize access to itself; callers serialize
// mutations with the page-table lock of the owning process.
type AddressSpace struct {
	mem  *pmm.Memory
	opts Options

	// root is the frame holding the top-level page table.
	root mm.Frame

	destroyed bool
}

// New allocates an empty address space.
func New(c *cpu.CPU, mem *pmm.Memory, opts Options) (*AddressSpace, *kernel.Error) {
	root, err := mem.AllocFrame(c)
	if err != nil {
		return nil, err
	}

	return &AddressSpace{mem: mem, opts: opts, root: root}, nil
}

// Root returns a non-zero identifier for this address space that can be
// passed to cpu.Activate.
func (as *AddressSpace) Root() uintptr { return uintptr(as.root) + 1 }

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing page tables are allocated on demand.
func (as *AddressSpace) Map(c *cpu.CPU, page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() >= MaxUserAddr {
		return ErrInvalidAddress
	}

	var err *kernel.Error

	as.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			as.invalidate(c, page)
			return true
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		// Next table does not yet exist; allocate a cleared frame for it
		var tableFrame mm.Frame
		if tableFrame, err = as.mem.AllocFrame(c); err != nil {
			return false
		}

		*pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		return true
	})

	return err
}

// Unmap removes the mapping for page and returns the frame it pointed to.
// The frame is not released.
func (as *AddressSpace) Unmap(c *cpu.CPU, page mm.Page) (mm.Frame, *kernel.Error) {
	pte, err := as.pteForAddress(page.Address())
	if err != nil {
		return mm.InvalidFrame, err
	}

	frame := pte.Frame()
	*pte = 0
	as.invalidate(c, page)
	return frame, nil
}

// Translate returns a copy of the page table entry that maps vaddr. The
// second value is false if no present entry maps the address.
func (as *AddressSpace) Translate(vaddr uintptr) (PageTableEntry, bool) {
	pte, err := as.pteForAddress(vaddr)
	if err != nil {
		return 0, false
	}
	return *pte, true
}

// Protected returns true if vaddr is mapped and its write access was revoked
// by SetWritable. Unmapped addresses are never reported as protected.
func (as *AddressSpace) Protected(vaddr uintptr) bool {
	pte, ok := as.Translate(vaddr)
	return ok && pte.HasFlags(FlagProtected)
}

// Grow maps zeroed, writable user pages so that the address space covers
// [0, newSize) given that it currently covers [0, oldSize). On failure every
// page mapped by this call is released again.
func (as *AddressSpace) Grow(c *cpu.CPU, oldSize, newSize uintptr) *kernel.Error {
	if newSize > MaxUserAddr {
		return ErrInvalidAddress
	}

	for addr := mm.PageRoundUp(oldSize); addr < newSize; addr += mm.PageSize {
		frame, err := as.mem.AllocFrame(c)
		if err == nil {
			if err = as.Map(c, mm.PageFromAddress(addr), frame, FlagPresent|FlagRW|FlagUserAccessible); err != nil {
				as.mem.FreeFrame(c, frame)
			}
		}

		if err != nil {
			as.Shrink(c, addr, oldSize)
			return err
		}
	}

	return nil
}

// Shrink unmaps and releases the pages covering [newSize, oldSize).
func (as *AddressSpace) Shrink(c *cpu.CPU, oldSize, newSize uintptr) {
	for addr := mm.PageRoundUp(newSize); addr < mm.PageRoundUp(oldSize); addr += mm.PageSize {
		if frame, err := as.Unmap(c, mm.PageFromAddress(addr)); err == nil {
			as.mem.FreeFrame(c, frame)
		}
	}
}

// Copy returns a new address space with a private copy of every mapped page.
// Page contents and all entry flags, including write protection, are
// preserved; no frame is shared between the two address spaces.
func (as *AddressSpace) Copy(c *cpu.CPU) (*AddressSpace, *kernel.Error) {
	child, err := New(c, as.mem, as.opts)
	if err != nil {
		return nil, err
	}

	as.visitLeaves(func(page mm.Page, pte *PageTableEntry) {
		if err != nil {
			return
		}

		var frame mm.Frame
		if frame, err = as.mem.AllocFrame(c); err != nil {
			return
		}

		copy(as.mem.FrameData(frame), as.mem.FrameData(pte.Frame()))
		if err = child.Map(c, page, frame, pte.Flags()); err != nil {
			as.mem.FreeFrame(c, frame)
		}
	})

	if err != nil {
		child.Destroy(c)
		return nil, err
	}

	return child, nil
}

// Destroy releases every frame owned by the address space. It must be called
// exactly once.
func (as *AddressSpace) Destroy(c *cpu.CPU) {
	if as.destroyed {
		panicFn(errDoubleDestroy)
		return
	}

	as.visitLeaves(func(_ mm.Page, pte *PageTableEntry) {
		as.mem.FreeFrame(c, pte.Frame())
		*pte = 0
	})

	const tableEntries = uintptr(mm.PageSize >> mm.PointerShift)
	for dirIndex := uintptr(0); dirIndex < tableEntries; dirIndex++ {
		if dirEntry := as.entryAt(as.root, dirIndex); dirEntry.HasFlags(FlagPresent) {
			as.mem.FreeFrame(c, dirEntry.Frame())
		}
	}

	as.mem.FreeFrame(c, as.root)
	as.destroyed = true
}
