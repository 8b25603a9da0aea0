// Package kfmt implements the kernel console: formatted output to a
// configurable sink, buffering of output produced before a sink is attached
// and the kernel panic path.
package kfmt

import (
	"fmt"
	"io"
	"sync"
)

var (
	// consoleMu serializes writes to the console. The console is also used
	// by host goroutines (clock device, kernel start) that do not execute on
	// a simulated CPU and therefore cannot take a kernel spinlock.
	consoleMu sync.Mutex

	// earlyPrintBuffer is a ring buffer that stores Printf output until an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is an io.Writer where Printf sends its output. If set to
	// nil, the output is kept in earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any data
// accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently attached output sink or nil if output
// is being buffered.
func GetOutputSink() io.Writer {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	return outputSink
}

// Printf formats according to a format specifier and writes to the console.
// If no output sink is attached, the output is kept in a ring buffer that is
// flushed to the sink by SetOutputSink.
func Printf(format string, args ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()

	if outputSink == nil {
		fmt.Fprintf(&earlyPrintBuffer, format, args...)
		return
	}
	fmt.Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
// Calls are serialized with Printf so console lines do not interleave when w
// is the console sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	fmt.Fprintf(w, format, args...)
}
