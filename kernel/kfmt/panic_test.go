package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		SetOutputSink(nil)
	}()

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	errPanicTest := &kernel.Error{Module: "test", Message: "panic test"}

	specs := []struct {
		arg       interface{}
		expOutput string
		expModule string
		expMsg    string
	}{
		{
			errPanicTest,
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
			"test", "panic test",
		},
		{
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
			"rt", "go error",
		},
		{
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
			"rt", "string error",
		},
		{
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
			"rt", "unknown cause",
		},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		cpuHaltCalled = false

		func() {
			defer func() {
				err, ok := recover().(*kernel.Error)
				if !ok {
					t.Errorf("[spec %d] expected Panic to unwind with a *kernel.Error", specIndex)
					return
				}
				if err.Module != spec.expModule || err.Message != spec.expMsg {
					t.Errorf("[spec %d] expected panic value [%s] %s; got [%s] %s", specIndex, spec.expModule, spec.expMsg, err.Module, err.Message)
				}
			}()

			Panic(spec.arg)
		}()

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get:\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}

		if !cpuHaltCalled {
			t.Errorf("[spec %d] expected cpu.Halt() to be called by Panic", specIndex)
		}
	}

	// The original error value is used as the panic value so callers can
	// compare it by identity.
	func() {
		defer func() {
			if err := recover(); err != errPanicTest {
				t.Errorf("expected panic value to be the supplied error; got %v", err)
			}
		}()
		Panic(errPanicTest)
	}()
}

func TestPrintfBuffering(t *testing.T) {
	defer SetOutputSink(nil)

	SetOutputSink(nil)
	Printf("early %s %d\n", "boot", 1)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	Printf("attached")

	if exp, got := "early boot 1\nattached", buf.String(); got != exp {
		t.Fatalf("expected output %q; got %q", exp, got)
	}

	if GetOutputSink() != &buf {
		t.Fatal("expected GetOutputSink to return the attached sink")
	}

	buf.Reset()
	Fprintf(&buf, "%d-%x", 10, 255)
	if exp, got := "10-ff", buf.String(); got != exp {
		t.Fatalf("expected Fprintf output %q; got %q", exp, got)
	}
}
