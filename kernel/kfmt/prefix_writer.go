package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. The console uses it to tag output
// with the module that produced it.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last write did not end with a line feed.
	midLine bool
}

// Write writes len(p) bytes from p to the sink. The prefix is emitted lazily,
// right before the first byte of every line, and is not included in the
// returned byte count.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineLen := len(p)
		if i := bytes.IndexByte(p, '\n'); i >= 0 {
			lineLen = i + 1
			w.midLine = false
		}

		n, err := w.Sink.Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}
		p = p[lineLen:]
	}

	return written, nil
}
