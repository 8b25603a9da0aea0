// Package cpu simulates the processors the kernel runs on. Each CPU tracks
// its interrupt-enable state, its pending interrupt lines, the page table it
// currently translates addresses with and a small TLB caching those
// translations.
package cpu

import (
	"sync/atomic"

	"github.com/NachaFrega/xv6-riscv/kernel"
)

// Interrupt lines that can be raised on a CPU.
const (
	// IRQTimer is raised by the clock device on every tick.
	IRQTimer uint32 = 1 << iota

	// IRQWake is an inter-processor interrupt used to kick an idle CPU
	// when new work becomes runnable.
	IRQWake
)

var (
	// halted is set once any CPU halts the machine.
	halted atomic.Bool

	errPopOffInterruptible = &kernel.Error{Module: "cpu", Message: "pop_off: interruptible"}
	errPopOffUnbalanced    = &kernel.Error{Module: "cpu", Message: "pop_off: not pushed"}
)

// CPU describes a simulated processor. Apart from Raise, ActiveRoot and the
// TLB (which other CPUs and devices may touch), a CPU's state is only ever
// accessed by the code currently executing on it.
type CPU struct {
	id int

	// intrOn mirrors the interrupt-enable flag of the processor.
	intrOn bool

	// noff is the depth of PushOff nesting and intena the interrupt
	// state that was active before the outermost PushOff.
	noff   int
	intena bool

	pending atomic.Uint32
	irq     chan struct{}

	// activeRoot holds the root frame of the active page table plus one;
	// zero means the kernel page table is active.
	activeRoot atomic.Uintptr

	tlb TLB
}

// New returns a CPU with the supplied id. CPUs start with interrupts
// disabled.
func New(id int) *CPU {
	return &CPU{
		id:  id,
		irq: make(chan struct{}, 1),
	}
}

// ID returns the CPU number.
func (c *CPU) ID() int { return c.id }

// IntrEnabled returns true if interrupts are enabled on this CPU.
func (c *CPU) IntrEnabled() bool { return c.intrOn }

// EnableInterrupts enables interrupt handling.
func (c *CPU) EnableInterrupts() { c.intrOn = true }

// DisableInterrupts disables interrupt handling.
func (c *CPU) DisableInterrupts() { c.intrOn = false }

// PushOff disables interrupts and records the interrupt state that was active
// before the outermost call. Calls nest; interrupts are restored only when
// every PushOff has been matched by a PopOff.
func (c *CPU) PushOff() {
	old := c.intrOn
	c.intrOn = false
	if c.noff == 0 {
		c.intena = old
	}
	c.noff++
}

// PopOff undoes one PushOff.
func (c *CPU) PopOff() {
	if c.intrOn {
		panic(errPopOffInterruptible)
	}
	if c.noff < 1 {
		panic(errPopOffUnbalanced)
	}
	c.noff--
	if c.noff == 0 && c.intena {
		c.intrOn = true
	}
}

// Depth returns the current PushOff nesting depth which equals the number of
// spinlocks held by the code running on this CPU.
func (c *CPU) Depth() int { return c.noff }

// Raise asserts the supplied interrupt line(s). It never blocks and may be
// called from any goroutine.
func (c *CPU) Raise(lines uint32) {
	for {
		old := c.pending.Load()
		if c.pending.CompareAndSwap(old, old|lines) {
			break
		}
	}

	select {
	case c.irq <- struct{}{}:
	default:
	}
}

// TakePending returns and clears the pending interrupt lines. It returns 0
// while interrupts are disabled; pending lines stay latched until the CPU
// enables interrupts again.
func (c *CPU) TakePending() uint32 {
	if !c.intrOn {
		return 0
	}
	return c.pending.Swap(0)
}

// Interrupts returns a channel that receives a value whenever an interrupt
// line is raised. An idle CPU blocks on it in place of a WFI instruction.
func (c *CPU) Interrupts() <-chan struct{} { return c.irq }

// Activate switches the CPU to the page table rooted at root and flushes the
// TLB. A zero root selects the kernel page table.
func (c *CPU) Activate(root uintptr) {
	c.activeRoot.Store(root)
	c.tlb.Flush()
}

// ActiveRoot returns the root identifier passed to the last Activate call.
func (c *CPU) ActiveRoot() uintptr { return c.activeRoot.Load() }

// TLB returns the translation cache of this CPU.
func (c *CPU) TLB() *TLB { return &c.tlb }

// Halt stops the machine. Once halted, scheduler loops and processes return
// at their next interrupt point.
func Halt() { halted.Store(true) }

// Halted returns true if the machine has been halted.
func Halted() bool { return halted.Load() }

// Reset clears the halted flag so a new machine can be booted in the same
// host process.
func Reset() { halted.Store(false) }
