// Package proc implements processes and their scheduling. Each process runs
// on its own goroutine and each CPU runs a scheduler loop; control is handed
// back and forth between the two so that at most one of them executes on a
// CPU at any time.
package proc

import (
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/vmm"
	"github.com/NachaFrega/xv6-riscv/kernel/sync"
)

// ExitFault is the exit status of a process terminated by a memory fault.
// It is reserved; a process exiting voluntarily with it is indistinguishable
// from a killed one.
const ExitFault = -1

// State describes the lifecycle state of a process slot.
type State uint8

const (
	// Unused slots are free for allocation by Fork.
	Unused State = iota

	// Embryo slots have been allocated but are not yet runnable.
	Embryo

	// Sleeping processes wait for a wakeup on their sleep channel.
	Sleeping

	// Runnable processes wait to be selected by a scheduler.
	Runnable

	// Running processes execute on a CPU.
	Running

	// Zombie processes have exited and wait to be reaped by their parent.
	Zombie
)

var stateNames = [...]string{"unused", "embryo", "sleep", "runble", "run", "zombie"}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "???"
}

// Entry is the code a process executes. It receives the process it runs in;
// returning from it is equivalent to calling Exit(0).
type Entry func(p *Proc)

// Proc describes a process slot.
type Proc struct {
	table *Table

	// The following fields are protected by the process-table lock.
	state      State
	pid        int
	priority   int
	age        int
	parent     *Proc
	exitStatus int
	channel    interface{}

	// cpu is the CPU the process currently runs on. It is written by the
	// scheduler that resumes the process and only read by the process
	// itself.
	cpu *cpu.CPU

	// ptLock serializes mutations of the address space and the heap size.
	ptLock sync.Spinlock
	as     *vmm.AddressSpace
	sz     uintptr

	entry Entry

	// resume receives a value when a scheduler hands a CPU to the
	// process. gone receives one if the goroutine exits without running
	// because the machine halted.
	resume chan struct{}
	gone   chan struct{}
}

// Pid returns the process id.
func (p *Proc) Pid() int { return p.pid }

// CPU returns the CPU the calling process executes on. It must only be
// called by the process itself.
func (p *Proc) CPU() *cpu.CPU { return p.cpu }

// Table returns the process table the process belongs to.
func (p *Proc) Table() *Table { return p.table }

// PageTableLock returns the lock that must be held while the address space of
// the process is mutated or inspected by another party.
func (p *Proc) PageTableLock() *sync.Spinlock { return &p.ptLock }

// AddressSpace returns the address space of the process.
func (p *Proc) AddressSpace() *vmm.AddressSpace { return p.as }

// Priority returns the scheduling priority of the process. Like CPU, it
// must only be called by the process itself since it locks the table on
// the CPU the process runs on.
func (p *Proc) Priority() int {
	p.table.lock.Acquire(p.cpu)
	prio := p.priority
	p.table.lock.Release(p.cpu)
	return prio
}

// SetPriority changes the scheduling priority of the process and returns the
// previous value. Higher values are scheduled first. It must only be called
// by the process itself.
func (p *Proc) SetPriority(priority int) int {
	p.table.lock.Acquire(p.cpu)
	old := p.priority
	p.priority = priority
	p.table.lock.Release(p.cpu)
	return old
}

// effectivePriority returns the priority used for selection. Every
// agingRounds scheduling decisions that pass the process over raise it by
// one. The caller must hold the process-table lock.
func (p *Proc) effectivePriority(agingRounds int) int {
	if agingRounds <= 0 {
		return p.priority
	}
	return p.priority + p.age/agingRounds
}
