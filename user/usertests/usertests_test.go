package usertests

import (
	"io"
	"testing"

	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/kmain"
	"github.com/NachaFrega/xv6-riscv/user"
)

// runUser boots a small machine and runs prog to completion.
func runUser(t *testing.T, prog user.Program) int {
	t.Helper()

	cfg := kmain.DefaultConfig()
	cfg.CPUs, cfg.Procs, cfg.MemoryFrames, cfg.TickMillis = 2, 8, 128, 1

	k, err := kmain.Boot(cfg)
	if err != nil {
		t.Fatal(err)
	}

	status, err := k.Run(user.Main(prog))
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func TestWaitFault(t *testing.T) {
	kfmt.SetOutputSink(io.Discard)
	defer kfmt.SetOutputSink(nil)

	specs := []struct {
		child     user.Program
		expStatus int
		expKilled bool
	}{
		{func(child *user.User) { child.Exit(0) }, 0, false},
		{func(child *user.User) { child.Exit(-2) }, -2, false},
		// address 0 is never mapped
		{func(child *user.User) { child.Store(0, 1) }, user.ExitFault, true},
	}

	for specIndex, spec := range specs {
		var (
			status int
			killed bool
		)

		runUser(t, func(u *user.User) {
			pid := u.Fork(spec.child)
			status, killed = waitFault(u, pid)
		})

		if status != spec.expStatus || killed != spec.expKilled {
			t.Errorf("[spec %d] expected status %d and killed %t; got %d and %t", specIndex, spec.expStatus, spec.expKilled, status, killed)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		if _, ok := Lookup(name); !ok {
			t.Errorf("expected program %q to be found", name)
		}
	}

	if _, ok := Lookup("nosuchtest"); ok {
		t.Error("expected unknown programs not to be found")
	}
}
