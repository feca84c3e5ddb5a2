package syscall

import (
	"io"
	"kernos/kernel/kfmt"
)

// Frame holds the register state of a user task at syscall entry. The
// syscall number arrives in RAX and the arguments in RDI, RSI, RDX, R10, R8
// and R9. On return RAX carries Result.Value and RDX carries Result.Err.
type Frame struct {
	RAX uint64
	RDI uint64
	RSI uint64
	RDX uint64
	R10 uint64
	R8  uint64
	R9  uint64

	// The return frame used by SYSRET.
	RIP uint64
	RSP uint64
}

// Args returns the syscall arguments held in the frame.
func (f *Frame) Args() Args {
	return Args{f.RDI, f.RSI, f.RDX, f.R10, f.R8, f.R9}
}

// SetResult loads r into the return registers.
func (f *Frame) SetResult(r Result) {
	f.RAX = r.Value
	f.RDX = uint64(r.Err)
}

// DumpTo outputs the register contents to w.
func (f *Frame) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RDI = %16x\n", f.RAX, f.RDI)
	kfmt.Fprintf(w, "RSI = %16x RDX = %16x\n", f.RSI, f.RDX)
	kfmt.Fprintf(w, "R10 = %16x R8  = %16x\n", f.R10, f.R8)
	kfmt.Fprintf(w, "R9  = %16x\n", f.R9)
	kfmt.Fprintf(w, "RIP = %16x RSP = %16x\n", f.RIP, f.RSP)
}
