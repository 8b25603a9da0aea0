// Package clock implements the timer device of the machine. Once initialized
// it raises a timer interrupt on every CPU at a fixed interval.
package clock

import (
	"io"
	"time"

	"github.com/NachaFrega/xv6-riscv/device"
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
)

var errBadInterval = &kernel.Error{Module: "clock", Message: "tick interval must be positive"}

// Device is the clock device.
type Device struct {
	cpus []*cpu.CPU
	tick time.Duration

	done    chan struct{}
	stopped chan struct{}
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string { return "clock" }

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit starts the device.
func (d *Device) DriverInit(w io.Writer) *kernel.Error {
	if d.tick <= 0 {
		return errBadInterval
	}

	d.done = make(chan struct{})
	d.stopped = make(chan struct{})
	go d.run()

	kfmt.Fprintf(w, "tick interval %s, %d CPUs\n", d.tick, len(d.cpus))
	return nil
}

// DriverStop stops raising interrupts. It returns once the device goroutine
// has exited.
func (d *Device) DriverStop() {
	if d.done == nil {
		return
	}

	close(d.done)
	<-d.stopped
	d.done = nil
}

func (d *Device) run() {
	defer close(d.stopped)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, c := range d.cpus {
				c.Raise(cpu.IRQTimer)
			}
		case <-d.done:
			return
		}
	}
}

// Probe returns a probe function for a clock raising interrupts on cpus every
// tick.
func Probe(cpus []*cpu.CPU, tick time.Duration) device.ProbeFn {
	return func() device.Driver {
		return &Device{cpus: cpus, tick: tick}
	}
}
