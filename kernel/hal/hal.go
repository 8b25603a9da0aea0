// Package hal detects and initializes the devices of the machine.
package hal

import (
	"bytes"
	"sort"

	"github.com/NachaFrega/xv6-riscv/device"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
)

// Probe executes the probe function for each driver in detection order and
// initializes every detected device. It returns the drivers that were
// initialized successfully.
func Probe(driverInfoList device.DriverInfoList) []device.Driver {
	sort.Stable(driverInfoList)

	var (
		activeDrivers []device.Driver
		strBuf        bytes.Buffer
		out           bytes.Buffer
		w             = kfmt.PrefixWriter{Sink: &out}
	)

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		out.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			kfmt.Printf("%s", out.Bytes())
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		kfmt.Printf("%s", out.Bytes())
		activeDrivers = append(activeDrivers, drv)
	}

	return activeDrivers
}

// Shutdown stops the background activity of the supplied drivers in reverse
// initialization order.
func Shutdown(drivers []device.Driver) {
	for i := len(drivers) - 1; i >= 0; i-- {
		if stopper, ok := drivers[i].(device.Stopper); ok {
			stopper.DriverStop()
		}
	}
}
