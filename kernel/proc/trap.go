package proc

import (
	"bytes"

	"github.com/NachaFrega/xv6-riscv/kernel/gate"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/vmm"
)

// InterruptPoint services the interrupts pending on the CPU of the calling
// process. A timer interrupt preempts the process. Once the machine halts the
// process goroutine exits here.
func (p *Proc) InterruptPoint() {
	if p.table.Halted() {
		p.halt()
		return
	}

	if p.table.serviceInterrupts(p.cpu) {
		p.Yield()
	}
}

// Load reads the byte at the user address vaddr. A faulting access terminates
// the process.
func (p *Proc) Load(vaddr uintptr) byte {
	for {
		p.InterruptPoint()

		b, regs := p.as.Load(p.cpu, vaddr)
		if regs == nil {
			return b
		}
		p.pageFault(regs)
	}
}

// Store writes b to the user address vaddr. A faulting access terminates the
// process before the write takes effect.
func (p *Proc) Store(vaddr uintptr, b byte) {
	for {
		p.InterruptPoint()

		regs := p.as.Store(p.cpu, vaddr, b)
		if regs == nil {
			return
		}
		p.pageFault(regs)
	}
}

// pageFault is the trap handler for memory faults raised while p executes.
// If the current mapping permits the access, the cached translation is
// dropped so the access can be retried. Otherwise the process is terminated
// with ExitFault.
func (p *Proc) pageFault(regs *gate.Registers) {
	info := gate.DecodeFault(regs, p.pid)

	// Snapshot the entry under the page-table lock and release it before
	// touching the process table.
	p.ptLock.Acquire(p.cpu)
	pte, mapped := p.as.Translate(info.Address)
	p.ptLock.Release(p.cpu)

	kind := vmm.Classify(pte, mapped, info.Access)
	if !kind.Fatal() {
		vmm.DropTranslation(p.cpu, info.Address)
		return
	}

	var dump bytes.Buffer
	regs.DumpTo(&dump)
	kfmt.Printf("pid %d: %s at 0x%x: %s\n%s", info.PID, kind, info.Address, gate.Reason(regs.Info), dump.String())

	p.Exit(ExitFault)
}
