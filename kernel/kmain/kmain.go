// Package kmain boots the simulated machine and runs a user program on it.
package kmain

import (
	gosync "sync"
	"sync/atomic"

	"github.com/NachaFrega/xv6-riscv/device"
	"github.com/NachaFrega/xv6-riscv/device/clock"
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/hal"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/pmm"
	"github.com/NachaFrega/xv6-riscv/kernel/proc"
)

// Kernel is a booted machine.
type Kernel struct {
	cfg   Config
	cpus  []*cpu.CPU
	mem   *pmm.Memory
	table *proc.Table

	ran      atomic.Bool
	stopping atomic.Bool
	stop     chan struct{}
}

// Boot builds the CPUs, the physical memory and the process table described
// by cfg.
func Boot(cfg Config) (*Kernel, *kernel.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cpu.Reset()
	kfmt.Printf("\nxv6 kernel is booting\n\n")

	mem, err := pmm.New(cfg.MemoryFrames)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:  cfg,
		cpus: make([]*cpu.CPU, cfg.CPUs),
		mem:  mem,
		stop: make(chan struct{}),
	}
	for i := range k.cpus {
		k.cpus[i] = cpu.New(i)
	}

	k.table, err = proc.NewTable(k.cpus, k.mem, proc.Config{
		Procs:       cfg.Procs,
		AgingRounds: cfg.AgingRounds,
		Shootdown:   cfg.TLBShootdown,
	})
	if err != nil {
		return nil, err
	}

	return k, nil
}

// Table returns the process table of the machine.
func (k *Kernel) Table() *proc.Table { return k.table }

// Memory returns the physical memory of the machine.
func (k *Kernel) Memory() *pmm.Memory { return k.mem }

// Run starts the machine. The init process forks a process executing entry
// and then reaps every process until none is left. Once init exits, the
// machine halts and Run returns the exit status of the process executing
// entry.
func (k *Kernel) Run(entry proc.Entry) (int, *kernel.Error) {
	if !k.ran.CompareAndSwap(false, true) {
		return -1, errAlreadyRan
	}

	var status int
	initEntry := func(p *proc.Proc) {
		pid := p.Fork(entry)
		if pid < 0 {
			kfmt.Printf("init: fork failed\n")
			status = -1
			return
		}

		for {
			wpid, wstatus := p.Wait()
			if wpid < 0 {
				return
			}
			if wpid == pid {
				status = wstatus
			}
		}
	}

	if _, err := k.table.UserInit(initEntry); err != nil {
		return -1, err
	}

	drivers := hal.Probe(device.DriverInfoList{
		{Order: device.DetectOrderNormal, Probe: clock.Probe(k.cpus, k.cfg.Tick())},
	})

	var wg gosync.WaitGroup
	for _, c := range k.cpus {
		wg.Add(1)
		go func(c *cpu.CPU) {
			defer wg.Done()
			kfmt.Printf("hart %d starting\n", c.ID())
			k.table.Scheduler(c)
		}(c)
	}

	var err *kernel.Error
	select {
	case <-k.table.Done():
	case <-k.stop:
		err = errHalted
	}

	hal.Shutdown(drivers)
	k.table.Halt()
	wg.Wait()

	if err != nil {
		return -1, err
	}
	return status, nil
}

// Halt stops a running machine. Run returns once every CPU has stopped.
func (k *Kernel) Halt() {
	if k.stopping.CompareAndSwap(false, true) {
		close(k.stop)
	}
}
