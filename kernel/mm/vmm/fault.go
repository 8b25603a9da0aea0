package vmm

import "github.com/NachaFrega/xv6-riscv/kernel/gate"

// FaultKind is the outcome of classifying a memory-access trap.
type FaultKind uint8

const (
	// FaultNone means the current mapping permits the access; the trap was
	// caused by stale cached state and the access can be retried.
	FaultNone FaultKind = iota

	// FaultSegfault is an access to a page that is not mapped for user
	// access.
	FaultSegfault

	// FaultProtection is a write to a mapped page without write access.
	FaultProtection
)

// String implements fmt.Stringer.
func (k FaultKind) String() string {
	switch k {
	case FaultSegfault:
		return "segmentation fault"
	case FaultProtection:
		return "protection violation"
	default:
		return "none"
	}
}

// Fatal returns true if the faulting process must be terminated.
func (k FaultKind) Fatal() bool { return k != FaultNone }

// Classify decides whether an access of the given kind is permitted by a
// snapshot of a page table entry, as returned by Translate. ok is false when
// no entry maps the address. Taking the snapshot under the page-table lock
// and classifying it afterwards lets the fault path hold the lock briefly.
func Classify(pte PageTableEntry, ok bool, access gate.AccessKind) FaultKind {
	switch {
	case !ok || !pte.HasFlags(FlagUserAccessible):
		return FaultSegfault
	case access == gate.AccessWrite && !pte.HasFlags(FlagRW):
		return FaultProtection
	default:
		return FaultNone
	}
}
