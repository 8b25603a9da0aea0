// Package sync provides the kernel spinlock.
package sync

import (
	"runtime"
	"sync/atomic"

	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
)

// attemptsBeforeYielding is the number of failed compare-and-swap attempts
// after which a spinning CPU issues a spin hint.
const attemptsBeforeYielding = 64

var (
	// yieldFn is the spin hint. On the hosted machine it lets the Go
	// scheduler run the goroutine of the CPU holding the lock.
	yieldFn = runtime.Gosched

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Spinlock implements a lock where each CPU trying to acquire it busy-waits
// till the lock becomes available. Interrupts stay disabled on the holding
// CPU for as long as the lock is held.
type Spinlock struct {
	locked uint32

	// For debugging:
	name  string
	owner atomic.Pointer[cpu.CPU]
}

// Init sets the lock name used in diagnostics and marks the lock as free.
func (l *Spinlock) Init(name string) {
	l.name = name
	l.owner.Store(nil)
	atomic.StoreUint32(&l.locked, 0)
}

// Name returns the name supplied to Init.
func (l *Spinlock) Name() string { return l.name }

// Acquire disables interrupts on c and spins until the lock is acquired. A
// CPU that tries to re-acquire a lock it already holds triggers a kernel
// panic.
func (l *Spinlock) Acquire(c *cpu.CPU) {
	c.PushOff()
	if l.Holding(c) {
		panicFn(&kernel.Error{Module: "sync", Message: "acquire " + l.name + ": already locked"})
		return
	}

	for attempts := 1; !atomic.CompareAndSwapUint32(&l.locked, 0, 1); attempts++ {
		if attempts%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}

	l.owner.Store(c)
}

// Release relinquishes the lock and restores the interrupt state c had before
// the matching Acquire. Releasing a lock that c does not hold triggers a
// kernel panic.
func (l *Spinlock) Release(c *cpu.CPU) {
	if !l.Holding(c) {
		panicFn(&kernel.Error{Module: "sync", Message: "release " + l.name + ": not holding"})
		return
	}

	l.owner.Store(nil)
	atomic.StoreUint32(&l.locked, 0)
	c.PopOff()
}

// Holding returns true if the lock is held by c. It is meant for assertions.
func (l *Spinlock) Holding(c *cpu.CPU) bool {
	return atomic.LoadUint32(&l.locked) == 1 && l.owner.Load() == c
}
