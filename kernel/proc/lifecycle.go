package proc

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/vmm"
)

var errZombieExit = &kernel.Error{Module: "proc", Message: "zombie exit"}

// Fork creates a child process with a private copy of the address space of p,
// including the write protection of every page, and the same priority and
// heap size. The child starts executing entry; the parent receives the child
// pid, or -1 if no slot or memory is available.
func (p *Proc) Fork(entry Entry) int {
	t, c := p.table, p.cpu

	t.lock.Acquire(c)
	np := t.allocProc()
	t.lock.Release(c)
	if np == nil {
		return -1
	}

	p.ptLock.Acquire(c)
	as, err := p.as.Copy(c)
	sz := p.sz
	p.ptLock.Release(c)

	if err != nil {
		t.lock.Acquire(c)
		t.freeProc(np)
		t.lock.Release(c)
		return -1
	}

	np.as, np.sz, np.entry = as, sz, entry
	go np.run()

	t.lock.Acquire(c)
	pid := np.pid
	np.parent = p
	np.priority = p.priority
	np.state = Runnable
	t.lock.Release(c)

	t.kick()
	return pid
}

// Exit terminates the calling process. Its children are handed to the init
// process and its parent is woken. The address space is released by the
// parent when it reaps the process. Exit does not return.
func (p *Proc) Exit(status int) {
	t := p.table

	t.lock.Acquire(p.cpu)

	if p == t.initProc {
		for _, q := range t.procs {
			if q.parent == p {
				t.lock.Release(p.cpu)
				panicFn(errInitExiting)
				return
			}
		}
	} else {
		t.reparent(p)
	}

	if p.parent != nil {
		t.wakeup(p.parent)
	}

	p.exitStatus = status
	p.state = Zombie

	// Jump into the scheduler, never to return.
	p.sched()
	panicFn(errZombieExit)
}

// reparent passes the children of p to the init process. The caller must
// hold the process-table lock.
func (t *Table) reparent(p *Proc) {
	for _, q := range t.procs {
		if q.parent != p {
			continue
		}

		q.parent = t.initProc
		if q.state == Zombie {
			t.wakeup(t.initProc)
		}
	}
}

// Wait blocks until a child of p exits, releases its resources and returns its
// pid and exit status. It returns -1 immediately if p has no children.
func (p *Proc) Wait() (int, int) {
	t := p.table

	t.lock.Acquire(p.cpu)
	for {
		haveKids := false
		for _, q := range t.procs {
			if q.parent != p {
				continue
			}
			haveKids = true

			if q.state != Zombie {
				continue
			}

			pid, status := q.pid, q.exitStatus
			q.ptLock.Acquire(p.cpu)
			q.as.Destroy(p.cpu)
			q.ptLock.Release(p.cpu)
			t.freeProc(q)
			t.lock.Release(p.cpu)
			return pid, status
		}

		if !haveKids {
			t.lock.Release(p.cpu)
			return -1, 0
		}

		// Wait for a child to exit.
		p.sleepOn(p)
	}
}

// Sleep suspends the process for n clock ticks. Negative values are treated
// as zero.
func (p *Proc) Sleep(n int) int {
	t := p.table
	if n < 0 {
		n = 0
	}

	t.lock.Acquire(p.cpu)
	start := t.ticks
	for t.ticks-start < uint64(n) {
		p.sleepOn(&t.ticks)
	}
	t.lock.Release(p.cpu)

	return 0
}

// Sbrk grows the heap by n bytes, or shrinks it when n is negative, and
// returns the previous break. It returns -1 if memory is exhausted or the
// break would move below the first heap page.
func (p *Proc) Sbrk(n int) int {
	c := p.cpu

	p.ptLock.Acquire(c)
	defer p.ptLock.Release(c)

	oldSize := int(p.sz)
	newSize := oldSize + n
	if newSize < int(mm.PageSize) || newSize > int(vmm.MaxUserAddr) {
		return -1
	}

	switch {
	case n > 0:
		if err := p.as.Grow(c, uintptr(oldSize), uintptr(newSize)); err != nil {
			return -1
		}
	case n < 0:
		p.as.Shrink(c, uintptr(oldSize), uintptr(newSize))
	}

	p.sz = uintptr(newSize)
	return oldSize
}

// Size returns the current heap break.
func (p *Proc) Size() uintptr {
	p.ptLock.Acquire(p.cpu)
	defer p.ptLock.Release(p.cpu)
	return p.sz
}
