package vmm

const (
	// pageLevels is the number of page table levels. Every level lives in a
	// physical frame holding 512 entries.
	pageLevels = 2

	// MaxUserAddr is the first virtual address past the user address space
	// that the page table can describe.
	MaxUserAddr = uintptr(1) << 30

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. Bits 12-51 contain the physical
	// memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

var (
	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. Each PageLevel uses 9 bits which amounts to 512 entries for each
	// page level.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is mapped.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagProtected marks a page whose write access was revoked by an
	// explicit protection request. It is cleared when write access is
	// restored. The flag is ignored by the MMU.
	FlagProtected PageTableEntryFlag = 1 << 9
)
