package cpu

import "sync/atomic"

// TLBEntries is the number of slots in the direct-mapped TLB.
const TLBEntries = 64

// tlbEntry caches the raw leaf page table entry for a virtual page number.
// Entries are immutable once published.
type tlbEntry struct {
	vpn uintptr
	pte uintptr
}

// TLB is a direct-mapped translation cache. Slots are updated atomically so
// that other CPUs can invalidate entries while the owner is translating.
type TLB struct {
	slots [TLBEntries]atomic.Pointer[tlbEntry]
}

// Lookup returns the cached entry for vpn.
func (t *TLB) Lookup(vpn uintptr) (uintptr, bool) {
	if e := t.slots[vpn%TLBEntries].Load(); e != nil && e.vpn == vpn {
		return e.pte, true
	}
	return 0, false
}

// Fill caches pte as the translation for vpn, evicting whatever occupied the
// slot.
func (t *TLB) Fill(vpn, pte uintptr) {
	t.slots[vpn%TLBEntries].Store(&tlbEntry{vpn: vpn, pte: pte})
}

// Invalidate drops the cached translation for vpn, if any.
func (t *TLB) Invalidate(vpn uintptr) {
	slot := &t.slots[vpn%TLBEntries]
	if e := slot.Load(); e != nil && e.vpn == vpn {
		slot.CompareAndSwap(e, nil)
	}
}

// Flush drops every cached translation.
func (t *TLB) Flush() {
	for i := range t.slots {
		t.slots[i].Store(nil)
	}
}
