package proc

import (
	"runtime"

	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
)

var (
	errSchedLock          = &kernel.Error{Module: "proc", Message: "sched: process-table lock not held"}
	errSchedLocks         = &kernel.Error{Module: "proc", Message: "sched: holding locks"}
	errSchedRunning       = &kernel.Error{Module: "proc", Message: "sched: process is running"}
	errSchedInterruptible = &kernel.Error{Module: "proc", Message: "sched: interruptible"}

	// exitGoroutineFn terminates the goroutine of a process that will
	// never run again. It is mocked by tests.
	exitGoroutineFn = runtime.Goexit
)

// Scheduler runs the scheduling loop of CPU c until the machine halts. Each
// iteration services pending interrupts, selects a runnable process and hands
// the CPU to it until the process gives it back by calling sched.
func (t *Table) Scheduler(c *cpu.CPU) {
	if c.ID() < 0 || c.ID() >= len(t.cpus) || t.cpus[c.ID()] != c {
		panicFn(errUnknownCPU)
		return
	}
	slot := &t.slots[c.ID()]

	for {
		// Avoid deadlock by ensuring that devices can interrupt.
		c.EnableInterrupts()
		t.serviceInterrupts(c)

		if t.Halted() {
			return
		}

		t.lock.Acquire(c)
		p := t.pickNext()
		if p == nil {
			t.lock.Release(c)

			// Nothing to run; wait for an interrupt.
			select {
			case <-c.Interrupts():
			case <-t.halted:
				return
			}
			continue
		}

		// Switch to the chosen process. It is the job of the process
		// to release the table lock and then reacquire it before
		// giving the CPU back.
		p.state = Running
		p.cpu = c
		slot.proc = p
		c.Activate(p.as.Root())
		p.resume <- struct{}{}

		select {
		case <-slot.sched:
		case <-p.gone:
			// The machine halted before the process could resume.
		}

		// The process is done running for now.
		c.Activate(0)
		slot.proc = nil
		initExited := p == t.initProc && p.state == Zombie
		t.lock.Release(c)

		if initExited {
			close(t.done)
		}
	}
}

// pickNext selects the runnable process with the highest effective priority.
// Ties go to the first candidate at or after the rotating cursor so that
// processes of equal priority take turns. Passed-over candidates age by one.
// The caller must hold the process-table lock.
func (t *Table) pickNext() *Proc {
	var (
		best      *Proc
		bestScore int
		bestIndex int
		n         = len(t.procs)
	)

	for i := 0; i < n; i++ {
		index := (t.cursor + i) % n
		p := t.procs[index]
		if p.state != Runnable {
			continue
		}

		if score := p.effectivePriority(t.agingRounds); best == nil || score > bestScore {
			best, bestScore, bestIndex = p, score, index
		}
	}

	if best == nil {
		return nil
	}

	for _, p := range t.procs {
		if p.state == Runnable && p != best {
			p.age++
		}
	}
	best.age = 0
	t.cursor = (bestIndex + 1) % n

	return best
}

// sched gives the CPU back to the scheduler. The caller must hold the
// process-table lock and no other lock and must have changed the state of
// the process. When sched returns the process runs again, possibly on a
// different CPU, and still holds the process-table lock.
func (p *Proc) sched() {
	t, c := p.table, p.cpu

	switch {
	case !t.lock.Holding(c):
		panicFn(errSchedLock)
	case c.Depth() != 1:
		panicFn(errSchedLocks)
	case p.state == Running:
		panicFn(errSchedRunning)
	case c.IntrEnabled():
		panicFn(errSchedInterruptible)
	}

	// A zombie may be reaped as soon as its CPU is released, so the slot
	// must not be touched after handing the CPU back.
	exiting := p.state == Zombie
	t.slots[c.ID()].sched <- struct{}{}

	if exiting {
		exitGoroutineFn()
		return
	}

	p.awaitResume()
}

// awaitResume blocks until a scheduler hands a CPU to the process. If the
// machine halts first, the process goroutine exits; a scheduler that
// resumed it concurrently is notified through gone.
func (p *Proc) awaitResume() {
	select {
	case <-p.resume:
	case <-p.table.halted:
		p.gone <- struct{}{}
		exitGoroutineFn()
	}
}

// halt gives the CPU back to its scheduler for good. It is called by a
// running process that observes the machine halting.
func (p *Proc) halt() {
	t := p.table

	t.lock.Acquire(p.cpu)
	t.slots[p.cpu.ID()].sched <- struct{}{}
	exitGoroutineFn()
}

// run is the body of a process goroutine.
func (p *Proc) run() {
	t := p.table

	p.awaitResume()

	// Still holding the table lock from the scheduler.
	t.lock.Release(p.cpu)

	p.entry(p)
	p.Exit(0)
}

// Yield gives up the CPU for one scheduling round.
func (p *Proc) Yield() {
	t := p.table

	t.lock.Acquire(p.cpu)
	p.state = Runnable
	p.sched()
	t.lock.Release(p.cpu)
}

// sleepOn suspends the process until wakeup is called for channel. The
// caller must hold the process-table lock, which is still held on return.
func (p *Proc) sleepOn(channel interface{}) {
	p.channel = channel
	p.state = Sleeping

	p.sched()

	p.channel = nil
}

// wakeup makes every process sleeping on channel runnable. The caller must
// hold the process-table lock.
func (t *Table) wakeup(channel interface{}) {
	woken := false
	for _, p := range t.procs {
		if p.state == Sleeping && p.channel == channel {
			p.state = Runnable
			woken = true
		}
	}

	if woken {
		t.kick()
	}
}

// serviceInterrupts handles the interrupt lines pending on c and reports
// whether a timer interrupt was among them. Only CPU 0 advances the tick
// counter.
func (t *Table) serviceInterrupts(c *cpu.CPU) bool {
	lines := c.TakePending()
	if lines&cpu.IRQTimer == 0 {
		return false
	}

	if c.ID() == 0 {
		t.clockIntr(c)
	}
	return true
}

// clockIntr advances the tick counter and wakes the processes sleeping on it.
func (t *Table) clockIntr(c *cpu.CPU) {
	t.lock.Acquire(c)
	t.ticks++
	t.wakeup(&t.ticks)
	t.lock.Release(c)
}
