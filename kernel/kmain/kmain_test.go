package kmain

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/proc"
	"github.com/NachaFrega/xv6-riscv/kernel/syscall"
	"github.com/NachaFrega/xv6-riscv/user"
	"github.com/NachaFrega/xv6-riscv/user/usertests"
)

func testConfig(cpus int, shootdown bool) Config {
	return Config{
		CPUs:         cpus,
		Procs:        16,
		MemoryFrames: 256,
		TickMillis:   1,
		TLBShootdown: shootdown,
		AgingRounds:  4,
	}
}

// runProgram boots a kernel with cfg, runs entry and returns its exit status
// together with the console output.
func runProgram(t *testing.T, cfg Config, entry proc.Entry) (int, string, *Kernel) {
	t.Helper()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	k, err := Boot(cfg)
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		status int
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		status, err := k.Run(entry)
		if err != nil {
			resCh <- result{status, err}
			return
		}
		resCh <- result{status, nil}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatal(res.err)
		}
		return res.status, buf.String(), k
	case <-time.After(20 * time.Second):
		k.Halt()
		t.Fatal("timed out waiting for the program to exit")
	}

	return -1, "", k
}

func TestProtectScenario(t *testing.T) {
	specs := []struct {
		cpus      int
		shootdown bool
	}{
		{1, false},
		{3, false},
		{3, true},
	}

	for specIndex, spec := range specs {
		status, out, _ := runProgram(t, testConfig(spec.cpus, spec.shootdown), user.Main(usertests.ProtectTest))
		if status != 0 {
			t.Errorf("[spec %d] expected exit status 0; got %d; output:\n%s", specIndex, status, out)
			continue
		}

		if strings.Contains(out, "this should not be printed") {
			t.Errorf("[spec %d] the faulting child continued after its write; output:\n%s", specIndex, out)
		}

		for _, exp := range []string{
			"wrote to memory before mprotect: A",
			"protection violation",
			"wrote to memory after munprotect: C",
			"protecttest: OK",
		} {
			if !strings.Contains(out, exp) {
				t.Errorf("[spec %d] expected output to contain %q; got:\n%s", specIndex, exp, out)
			}
		}
	}
}

func TestForkWaitScenario(t *testing.T) {
	status, out, k := runProgram(t, testConfig(2, true), user.Main(usertests.ForkWaitLoop))
	if status != 0 {
		t.Fatalf("expected exit status 0; got %d; output:\n%s", status, out)
	}

	if got := strings.Count(out, "running process"); got != 20 {
		t.Fatalf("expected 20 children to run; got %d", got)
	}

	if !strings.Contains(out, "all processes finished") {
		t.Fatalf("expected the loop to complete; output:\n%s", out)
	}

	// Only the exited init process still holds a slot
	if got := k.Table().Occupancy(k.Table().CPUs()[0]); got != 1 {
		t.Fatalf("expected 1 occupied process slot; got %d", got)
	}
}

func TestPriorityProgram(t *testing.T) {
	status, out, _ := runProgram(t, testConfig(2, true), user.Main(usertests.PriorityTest))
	if status != 0 {
		t.Fatalf("expected exit status 0; got %d; output:\n%s", status, out)
	}
}

func TestAllPrograms(t *testing.T) {
	status, out, k := runProgram(t, testConfig(3, true), user.Main(usertests.All))
	if status != 0 || !strings.Contains(out, "ALL TESTS PASSED") {
		t.Fatalf("expected every program to pass; got status %d; output:\n%s", status, out)
	}

	// Every frame except the page tables of the init process is free again
	mem := k.Memory()
	if free, total := mem.FreeFrames(k.Table().CPUs()[0]), mem.TotalFrames(); free != total-1 {
		t.Fatalf("expected %d free frames; got %d", total-1, free)
	}
}

func TestSiblingCopyUnaffectedByProtection(t *testing.T) {
	var statuses = map[string]int{}

	status, out, _ := runProgram(t, testConfig(2, true), user.Main(func(u *user.User) {
		mem := uintptr(u.Sbrk(int(mm.PageSize)))
		u.Store(mem, 'A')

		sibling := u.Fork(func(child *user.User) {
			// Give the parent time to protect its own copy
			child.Sleep(3)
			child.Store(mem, 'Z')
			if child.Load(mem) != 'Z' {
				child.Exit(1)
			}
			child.Exit(0)
		})

		if u.Mprotect(mem, int(mm.PageSize)) != 0 {
			u.Exit(1)
		}

		writer := u.Fork(func(child *user.User) {
			child.Store(mem, 'B')
			child.Exit(0)
		})

		for i := 0; i < 2; i++ {
			pid, st := u.Wait()
			switch pid {
			case sibling:
				statuses["sibling"] = st
			case writer:
				statuses["writer"] = st
			}
		}

		if u.Load(mem) != 'A' {
			u.Exit(2)
		}
	}))

	if status != 0 {
		t.Fatalf("expected exit status 0; got %d; output:\n%s", status, out)
	}

	if statuses["sibling"] != 0 {
		t.Errorf("expected the sibling to write its own copy; got status %d", statuses["sibling"])
	}

	if statuses["writer"] != proc.ExitFault {
		t.Errorf("expected the writer to be killed with status %d; got %d", proc.ExitFault, statuses["writer"])
	}
}

func TestForkInheritsProtection(t *testing.T) {
	var (
		childProtected     bool
		neighbourProtected bool
		parentProtected    bool
	)

	status, out, _ := runProgram(t, testConfig(2, false), func(p *proc.Proc) {
		mem := uintptr(p.Sbrk(2 * int(mm.PageSize)))
		if syscall.Mprotect(p, mem, int(mm.PageSize)) != 0 {
			p.Exit(1)
		}

		p.Fork(func(child *proc.Proc) {
			// No system call has run in the child yet
			childProtected = child.AddressSpace().Protected(mem)
			neighbourProtected = child.AddressSpace().Protected(mem + mm.PageSize)
		})
		p.Wait()

		parentProtected = p.AddressSpace().Protected(mem)
	})

	if status != 0 {
		t.Fatalf("expected exit status 0; got %d; output:\n%s", status, out)
	}

	if !childProtected || !parentProtected {
		t.Fatal("expected the page to be protected in both parent and child")
	}

	if neighbourProtected {
		t.Fatal("expected the neighbouring page to stay writable in the child")
	}
}

func TestBootWithOversizedMemory(t *testing.T) {
	defer func() {
		if err := recover(); err != nil {
			t.Fatalf("expected Boot to return an error; it panicked with %v", err)
		}
	}()

	cfg := testConfig(1, false)
	cfg.MemoryFrames = 0xffffffff

	k, err := Boot(cfg)
	if err != errBigMemory {
		t.Fatalf("expected errBigMemory; got %v", err)
	}
	if k != nil {
		t.Fatal("expected no kernel to be returned")
	}
}

func TestRunTwice(t *testing.T) {
	_, _, k := runProgram(t, testConfig(1, false), func(*proc.Proc) {})

	if _, err := k.Run(func(*proc.Proc) {}); err != errAlreadyRan {
		t.Fatalf("expected errAlreadyRan; got %v", err)
	}
}

func TestHalt(t *testing.T) {
	k, err := Boot(testConfig(2, false))
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	resCh := make(chan error, 1)
	go func() {
		_, err := k.Run(func(p *proc.Proc) {
			close(started)
			for {
				p.Sleep(1)
			}
		})
		if err != nil {
			resCh <- err
			return
		}
		resCh <- nil
	}()

	<-started
	k.Halt()
	k.Halt()

	select {
	case err := <-resCh:
		if err != errHalted {
			t.Fatalf("expected errHalted; got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}
