// Package syscall implements the system calls that change the write
// protection of user memory and report system usage.
package syscall

import (
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/proc"
)

// Mprotect revokes write access to the pages covering [addr, addr+length) in
// the address space of p. addr must be page aligned and length positive; a
// partial trailing page is rounded up. It returns 0 on success and -1, with
// no page modified, if the range is invalid or not fully mapped.
func Mprotect(p *proc.Proc, addr uintptr, length int) int {
	return setWritable(p, addr, length, false)
}

// Munprotect restores write access to the pages covering [addr,
// addr+length). It validates its arguments exactly like Mprotect.
func Munprotect(p *proc.Proc, addr uintptr, length int) int {
	return setWritable(p, addr, length, true)
}

func setWritable(p *proc.Proc, addr uintptr, length int, writable bool) int {
	if !mm.PageAligned(addr) || length <= 0 {
		return -1
	}

	var (
		c    = p.CPU()
		lock = p.PageTableLock()
	)

	lock.Acquire(c)
	err := p.AddressSpace().SetWritable(c, addr, mm.PageRoundUp(uintptr(length)), writable)
	lock.Release(c)

	if err != nil {
		return -1
	}
	return 0
}

// Info describes the resource usage of the system.
type Info struct {
	// NProc is the number of process slots in use.
	NProc int

	// FreeFrames is the number of unallocated physical frames.
	FreeFrames uint32
}

// Sysinfo returns a snapshot of the system resource usage.
func Sysinfo(p *proc.Proc) Info {
	c := p.CPU()
	return Info{
		NProc:      p.Table().Occupancy(c),
		FreeFrames: p.Table().Memory().FreeFrames(c),
	}
}
