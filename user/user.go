// Package user is the library user programs are written against. Every call
// enters the kernel on behalf of the calling process; user memory is only
// reachable through Load and Store.
package user

import (
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/proc"
	"github.com/NachaFrega/xv6-riscv/kernel/syscall"
)

// ExitFault is the status Wait reports for a child killed by a memory fault.
// Programs must not exit with it voluntarily.
const ExitFault = proc.ExitFault

// Program is the main function of a user program. Returning from it exits
// the process with status 0.
type Program func(u *User)

// Main returns the process entry point that runs prog.
func Main(prog Program) proc.Entry {
	return func(p *proc.Proc) {
		prog(&User{p: p})
	}
}

// User is the handle through which a running program issues system calls.
type User struct {
	p *proc.Proc
}

// Fork creates a child process. The parent receives the child pid, or -1 on
// failure; the child starts executing child instead of returning.
func (u *User) Fork(child Program) int {
	u.p.InterruptPoint()
	return u.p.Fork(Main(child))
}

// Exit terminates the calling process with status.
func (u *User) Exit(status int) {
	u.p.InterruptPoint()
	u.p.Exit(status)
}

// Wait waits for a child to exit and returns its pid and exit status. It
// returns -1 if the caller has no children.
func (u *User) Wait() (int, int) {
	u.p.InterruptPoint()
	return u.p.Wait()
}

// Sleep suspends the caller for n clock ticks.
func (u *User) Sleep(n int) int {
	u.p.InterruptPoint()
	return u.p.Sleep(n)
}

// Uptime returns the number of clock ticks since boot.
func (u *User) Uptime() int {
	u.p.InterruptPoint()
	return int(u.p.Table().Ticks(u.p.CPU()))
}

// Getpid returns the pid of the caller.
func (u *User) Getpid() int {
	u.p.InterruptPoint()
	return u.p.Pid()
}

// Sbrk grows the heap by n bytes and returns the previous break, or -1.
func (u *User) Sbrk(n int) int {
	u.p.InterruptPoint()
	return u.p.Sbrk(n)
}

// SetPriority sets the scheduling priority of the caller and returns the
// previous one.
func (u *User) SetPriority(priority int) int {
	u.p.InterruptPoint()
	return u.p.SetPriority(priority)
}

// Mprotect makes [addr, addr+length) read-only.
func (u *User) Mprotect(addr uintptr, length int) int {
	u.p.InterruptPoint()
	return syscall.Mprotect(u.p, addr, length)
}

// Munprotect makes [addr, addr+length) writable again.
func (u *User) Munprotect(addr uintptr, length int) int {
	u.p.InterruptPoint()
	return syscall.Munprotect(u.p, addr, length)
}

// Sysinfo reports system resource usage.
func (u *User) Sysinfo() syscall.Info {
	u.p.InterruptPoint()
	return syscall.Sysinfo(u.p)
}

// Load reads the byte at addr.
func (u *User) Load(addr uintptr) byte { return u.p.Load(addr) }

// Store writes b to addr.
func (u *User) Store(addr uintptr, b byte) { u.p.Store(addr, b) }

// Printf writes formatted output to the console.
func (u *User) Printf(format string, args ...interface{}) {
	u.p.InterruptPoint()
	kfmt.Printf(format, args...)
}
