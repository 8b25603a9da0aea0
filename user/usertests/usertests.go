// Package usertests contains user programs that exercise memory protection,
// the process lifecycle and the scheduler.
package usertests

import (
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/user"
)

// tests lists the programs run by All.
var tests = []struct {
	name string
	prog user.Program
}{
	{"forktest", ForkWaitLoop},
	{"prioritytest", PriorityTest},
	{"protecttest", ProtectTest},
}

// Lookup returns the program registered under name.
func Lookup(name string) (user.Program, bool) {
	if name == "usertests" {
		return All, true
	}

	for _, test := range tests {
		if test.name == name {
			return test.prog, true
		}
	}
	return nil, false
}

// Names returns the names of the available programs.
func Names() []string {
	names := []string{"usertests"}
	for _, test := range tests {
		names = append(names, test.name)
	}
	return names
}

// ProtectTest checks that a write to a page made read-only with mprotect kills
// the writer, that a forked child inherits the protection and that the page
// becomes writable again after munprotect.
func ProtectTest(u *user.User) {
	brk := u.Sbrk(int(mm.PageSize))
	if brk < 0 {
		u.Printf("protecttest: sbrk failed\n")
		u.Exit(1)
	}
	mem := uintptr(brk)

	u.Printf("writing to memory before mprotect...\n")
	u.Store(mem, 'A')
	u.Printf("wrote to memory before mprotect: %c\n", u.Load(mem))

	if u.Mprotect(mem, int(mm.PageSize)) < 0 {
		u.Printf("error: mprotect failed\n")
		u.Exit(1)
	}

	u.Printf("writing to memory after mprotect (should fail)...\n")
	pid := u.Fork(func(child *user.User) {
		child.Store(mem, 'B')
		child.Printf("error: wrote to protected memory (this should not be printed)\n")
		child.Exit(1)
	})
	if pid < 0 {
		u.Printf("protecttest: fork failed\n")
		u.Exit(1)
	}

	if status, killed := waitFault(u, pid); !killed {
		u.Printf("error: child %d exited with status %d\n", pid, status)
		u.Exit(1)
	}

	if got := u.Load(mem); got != 'A' {
		u.Printf("error: protected memory changed to %c\n", got)
		u.Exit(1)
	}

	if u.Munprotect(mem, int(mm.PageSize)) < 0 {
		u.Printf("error: munprotect failed\n")
		u.Exit(1)
	}

	u.Printf("writing to memory after munprotect...\n")
	u.Store(mem, 'C')
	if got := u.Load(mem); got != 'C' {
		u.Printf("error: read back %c after munprotect\n", got)
		u.Exit(1)
	}
	u.Printf("wrote to memory after munprotect: %c\n", 'C')

	u.Printf("protecttest: OK\n")
	u.Exit(0)
}

// waitFault waits for the child pid and reports its exit status and whether
// a memory fault killed it.
func waitFault(u *user.User, pid int) (int, bool) {
	wpid, status := u.Wait()
	return status, wpid == pid && status == user.ExitFault
}

// forkRounds is the number of fork/wait rounds ForkWaitLoop performs.
const forkRounds = 20

// ForkWaitLoop repeatedly forks a child that sleeps and exits and waits for
// it, then checks that no process slot leaked.
func ForkWaitLoop(u *user.User) {
	before := u.Sysinfo().NProc

	for i := 0; i < forkRounds; i++ {
		pid := u.Fork(func(child *user.User) {
			child.Printf("running process %d\n", child.Getpid())
			child.Sleep(2)
			child.Exit(0)
		})
		if pid < 0 {
			u.Printf("error creating process %d\n", i)
			u.Exit(1)
		}

		wpid, status := u.Wait()
		if wpid != pid || status != 0 {
			u.Printf("error: child %d exited with status %d\n", wpid, status)
			u.Exit(1)
		}
	}

	if after := u.Sysinfo().NProc; after != before {
		u.Printf("error: %d process slots in use before the loop, %d after\n", before, after)
		u.Exit(1)
	}

	u.Printf("all processes finished\n")
	u.Exit(0)
}

// PriorityTest runs CPU-bound children with different priorities at the same
// time and checks that every one of them completes.
func PriorityTest(u *user.User) {
	const (
		children = 3
		rounds   = 2000
	)

	for i := 0; i < children; i++ {
		prio := i
		pid := u.Fork(func(child *user.User) {
			child.SetPriority(prio)

			brk := child.Sbrk(int(mm.PageSize))
			if brk < 0 {
				child.Printf("prioritytest: sbrk failed\n")
				child.Exit(1)
			}
			for j := 0; j < rounds; j++ {
				child.Store(uintptr(brk)+uintptr(j%int(mm.PageSize)), byte(j))
			}

			child.Printf("priority %d done\n", prio)
			child.Exit(10 + prio)
		})
		if pid < 0 {
			u.Printf("prioritytest: fork failed\n")
			u.Exit(1)
		}
	}

	var seen [children]bool
	for i := 0; i < children; i++ {
		_, status := u.Wait()
		prio := status - 10
		if prio < 0 || prio >= children || seen[prio] {
			u.Printf("error: unexpected exit status %d\n", status)
			u.Exit(1)
		}
		seen[prio] = true
	}

	u.Printf("prioritytest: OK\n")
	u.Exit(0)
}

// All runs every other program in its own process and fails if any of them
// does.
func All(u *user.User) {
	for _, test := range tests {
		u.Printf("test %s: starting\n", test.name)
		pid := u.Fork(test.prog)
		if pid < 0 {
			u.Printf("usertests: fork failed\n")
			u.Exit(1)
		}

		if _, status := u.Wait(); status != 0 {
			u.Printf("test %s: FAILED\n", test.name)
			u.Exit(1)
		}
		u.Printf("test %s: OK\n", test.name)
	}

	u.Printf("ALL TESTS PASSED\n")
	u.Exit(0)
}
