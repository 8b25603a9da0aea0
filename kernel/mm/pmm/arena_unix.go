//go:build unix

package pmm

import (
	"golang.org/x/sys/unix"

	"github.com/NachaFrega/xv6-riscv/kernel"
)

// allocArena reserves the backing store for physical memory as a private
// anonymous host mapping so that every frame starts on a host page boundary.
func allocArena(size int) ([]byte, *kernel.Error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, &kernel.Error{Module: "pmm", Message: "unable to map physical memory: " + err.Error()}
	}
	return data, nil
}
