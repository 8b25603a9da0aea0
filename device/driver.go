// Package device defines the interface implemented by the drivers of the
// simulated machine's devices.
package device

import (
	"io"

	"github.com/NachaFrega/xv6-riscv/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// Stopper is implemented by drivers that keep running in the background after
// DriverInit and must be stopped before the machine halts.
type Stopper interface {
	// DriverStop stops the device. It blocks until the device is idle.
	DriverStop()
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// Detection order values. Drivers with a lower order are probed first.
const (
	DetectOrderEarly  = -128
	DetectOrderNormal = 0
	DetectOrderLast   = 127
)

// DriverInfo describes a driver that can be probed.
type DriverInfo struct {
	// Order specifies at which stage of the probing process the driver
	// is probed.
	Order int

	// Probe is the function that detects the device.
	Probe ProbeFn
}

// DriverInfoList is a list of drivers that can be sorted by detection order.
type DriverInfoList []*DriverInfo

// Len returns the length of the list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less returns true if the element at index i is probed before the element
// at index j.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
