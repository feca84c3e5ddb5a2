// Package kfmt provides the kernel's formatted output facilities: a single
// console output sink, an early ring buffer that captures output produced
// before a console exists, per-subsystem line prefixes and the fatal panic
// path.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// the console output sink is installed.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current target for calls to Printf.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf writes formatted output to the active output sink using the
// formatting verbs of the fmt package.
func Printf(format string, args ...interface{}) {
	Fprintf(GetOutputSink(), format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. Write errors are dropped; there is nowhere left to
// report them.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// sinkWriter forwards writes to whatever output sink is active at write time.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	return GetOutputSink().Write(p)
}

// NewLogger returns a writer that prefixes every line written to it with
// "[module] " and forwards it to the active output sink.
func NewLogger(module string) *PrefixWriter {
	return &PrefixWriter{
		Sink:   sinkWriter{},
		Prefix: []byte("[" + module + "] "),
	}
}
