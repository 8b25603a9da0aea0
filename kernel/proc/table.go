package proc

import (
	"sync/atomic"

	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/pmm"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/vmm"
	"github.com/NachaFrega/xv6-riscv/kernel/sync"
)

var (
	// ErrNoProcs is returned when every process slot is in use.
	ErrNoProcs = &kernel.Error{Module: "proc", Message: "no free process slot"}

	errInitExists  = &kernel.Error{Module: "proc", Message: "init process already created"}
	errNoCPUs      = &kernel.Error{Module: "proc", Message: "process table requires at least one CPU"}
	errUnknownCPU  = &kernel.Error{Module: "proc", Message: "scheduler started on a CPU that is not part of the table"}
	errInitExiting = &kernel.Error{Module: "proc", Message: "init exiting with live children"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Config tunes the process table.
type Config struct {
	// Procs is the number of process slots.
	Procs int

	// AgingRounds is the number of times a runnable process must be passed
	// over before its effective priority rises by one. Zero selects strict
	// priority scheduling.
	AgingRounds int

	// Shootdown enables cross-CPU TLB invalidation on permission changes.
	Shootdown bool
}

// cpuSlot holds the scheduler state of a single CPU.
type cpuSlot struct {
	// proc is the process running on the CPU or nil if the scheduler loop
	// is executing.
	proc *Proc

	// sched receives a value when the running process gives the CPU back
	// to the scheduler.
	sched chan struct{}
}

// Table is the state shared by every CPU: the process slots, the lock that
// serializes every scheduling and lifecycle transition, the tick counter and
// the physical memory processes allocate from. A Table is created once when
// the kernel starts and lives until the machine halts.
type Table struct {
	lock sync.Spinlock

	procs       []*Proc
	nextPID     int
	cursor      int
	agingRounds int
	ticks       uint64
	initProc    *Proc

	cpus  []*cpu.CPU
	slots []cpuSlot
	mem   *pmm.Memory
	vmOpt vmm.Options

	halting atomic.Bool
	halted  chan struct{}
	done    chan struct{}
}

// NewTable creates a process table for the supplied CPUs. CPU ids must match
// their index in cpus.
func NewTable(cpus []*cpu.CPU, mem *pmm.Memory, cfg Config) (*Table, *kernel.Error) {
	if len(cpus) == 0 {
		return nil, errNoCPUs
	}
	if cfg.Procs <= 0 {
		return nil, ErrNoProcs
	}

	t := &Table{
		procs:       make([]*Proc, cfg.Procs),
		nextPID:     1,
		agingRounds: cfg.AgingRounds,
		cpus:        cpus,
		slots:       make([]cpuSlot, len(cpus)),
		mem:         mem,
		vmOpt:       vmm.Options{Shootdown: cfg.Shootdown, CPUs: cpus},
		halted:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	t.lock.Init("proc")

	for i := range t.procs {
		t.procs[i] = &Proc{table: t}
		t.procs[i].ptLock.Init("pagetable")
	}
	for i := range t.slots {
		t.slots[i].sched = make(chan struct{}, 1)
	}

	return t, nil
}

// UserInit creates the first process. It starts executing entry once a
// scheduler picks it; orphaned processes are handed to it.
func (t *Table) UserInit(entry Entry) (*Proc, *kernel.Error) {
	c := t.cpus[0]

	t.lock.Acquire(c)
	if t.initProc != nil {
		t.lock.Release(c)
		return nil, errInitExists
	}
	p := t.allocProc()
	t.lock.Release(c)

	if p == nil {
		return nil, ErrNoProcs
	}

	as, err := vmm.New(c, t.mem, t.vmOpt)
	if err != nil {
		t.lock.Acquire(c)
		t.freeProc(p)
		t.lock.Release(c)
		return nil, err
	}

	// Page 0 stays unmapped so that nil dereferences fault.
	p.as, p.sz, p.entry = as, mm.PageSize, entry

	t.lock.Acquire(c)
	t.initProc = p
	p.state = Runnable
	t.lock.Release(c)

	go p.run()
	t.kick()

	return p, nil
}

// allocProc claims an unused slot and assigns it a pid. It returns nil if no
// slot is free. The caller must hold the process-table lock.
func (t *Table) allocProc() *Proc {
	for _, p := range t.procs {
		if p.state != Unused {
			continue
		}

		p.pid = t.nextPID
		t.nextPID++
		p.state = Embryo
		p.resume = make(chan struct{}, 1)
		p.gone = make(chan struct{}, 1)
		return p
	}

	return nil
}

// freeProc returns a slot to the unused pool. The caller must hold the
// process-table lock and have released the address space of the process.
func (t *Table) freeProc(p *Proc) {
	p.as = nil
	p.sz = 0
	p.pid = 0
	p.parent = nil
	p.channel = nil
	p.priority = 0
	p.age = 0
	p.exitStatus = 0
	p.entry = nil
	p.cpu = nil
	p.state = Unused
}

// Occupancy returns the number of slots that are not unused.
func (t *Table) Occupancy(c *cpu.CPU) int {
	t.lock.Acquire(c)
	defer t.lock.Release(c)

	var n int
	for _, p := range t.procs {
		if p.state != Unused {
			n++
		}
	}
	return n
}

// Ticks returns the number of clock ticks serviced so far.
func (t *Table) Ticks(c *cpu.CPU) uint64 {
	t.lock.Acquire(c)
	defer t.lock.Release(c)
	return t.ticks
}

// Memory returns the physical memory processes allocate from.
func (t *Table) Memory() *pmm.Memory { return t.mem }

// CPUs returns the processors of the machine.
func (t *Table) CPUs() []*cpu.CPU { return t.cpus }

// Done returns a channel that is closed once the init process has exited and
// its CPU has returned to the scheduler.
func (t *Table) Done() <-chan struct{} { return t.done }

// Halt stops the machine. Running processes give their CPU back at their
// next interrupt point, suspended processes never resume and scheduler loops
// return once their CPU is idle. It is safe to call more than once.
func (t *Table) Halt() {
	if t.halting.CompareAndSwap(false, true) {
		close(t.halted)
	}
}

// Halted returns true once Halt has been called or a kernel panic halted the
// CPUs.
func (t *Table) Halted() bool { return t.halting.Load() || cpu.Halted() }

// kick raises a wake interrupt on every CPU so idle schedulers rescan the
// table.
func (t *Table) kick() {
	for _, c := range t.cpus {
		c.Raise(cpu.IRQWake)
	}
}
