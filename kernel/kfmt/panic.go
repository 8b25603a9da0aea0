package kfmt

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// machine. Panic never returns: once the machine is halted the calling
// goroutine is unwound with the reported *kernel.Error as the panic value.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()

	if err == nil {
		err = errRuntimePanic
	}
	panic(err)
}
