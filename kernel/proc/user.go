package proc

import (
	"encoding/binary"
	"fmt"
	"io"
	"kernos/kernel"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/syscall"
	"kernos/kernel/task"
)

// userExit unwinds a program that called the Exit syscall.
type userExit struct {
	code int
}

// userFault unwinds a program whose memory access faulted fatally.
type userFault struct {
	fault *vmm.PageFault
	err   *kernel.Error
}

func (e *userFault) Error() string {
	return fmt.Sprintf("%s at 0x%x: %s", e.fault.Reason(), e.fault.Addr, e.err.Message)
}

// UserContext is the view a running program has of the machine: its
// registers, its memory and the syscall instruction.
type UserContext struct {
	task         *task.Task
	term         io.Writer
	frame        syscall.Frame
	syscallEntry func(*syscall.Frame)

	argc int
	argv uintptr
}

// Syscall issues system call nr and returns the two result registers.
// A successful Exit does not return.
func (c *UserContext) Syscall(nr syscall.Number, args ...uint64) (uint64, kernel.Errno) {
	regs := [6]*uint64{&c.frame.RDI, &c.frame.RSI, &c.frame.RDX, &c.frame.R10, &c.frame.R8, &c.frame.R9}
	for i, reg := range regs {
		*reg = 0
		if i < len(args) {
			*reg = args[i]
		}
	}
	c.frame.RAX = uint64(nr)

	c.syscallEntry(&c.frame)

	if nr == syscall.Exit && c.frame.RAX == c.task.KernelContinuation() {
		panic(userExit{code: int(int32(c.frame.RDX))})
	}
	return c.frame.RAX, kernel.Errno(c.frame.RDX)
}

// Load reads len(buf) bytes of user memory at addr.
func (c *UserContext) Load(addr uintptr, buf []byte) {
	if fault, err := c.task.AccessUser(addr, buf, false); err != nil {
		panic(&userFault{fault: fault, err: err})
	}
}

// Store writes buf to user memory at addr.
func (c *UserContext) Store(addr uintptr, buf []byte) {
	if fault, err := c.task.AccessUser(addr, buf, true); err != nil {
		panic(&userFault{fault: fault, err: err})
	}
}

// LoadUint64 reads a little endian word from addr.
func (c *UserContext) LoadUint64(addr uintptr) uint64 {
	var buf [8]byte
	c.Load(addr, buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// StoreUint64 writes v as a little endian word to addr.
func (c *UserContext) StoreUint64(addr uintptr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	c.Store(addr, buf[:])
}

// LoadString reads the NUL-terminated string at addr.
func (c *UserContext) LoadString(addr uintptr) string {
	var (
		out []byte
		b   [1]byte
	)
	for {
		c.Load(addr, b[:])
		if b[0] == 0 {
			return string(out)
		}
		out = append(out, b[0])
		addr++
	}
}

// SP returns the stack pointer.
func (c *UserContext) SP() uintptr { return uintptr(c.frame.RSP) }

// Push reserves n bytes on the stack, 8-byte aligned, and returns their
// address.
func (c *UserContext) Push(n int) uintptr {
	c.frame.RSP = (c.frame.RSP - uint64(n)) &^ 7
	return uintptr(c.frame.RSP)
}

// Pop releases stack space down to sp.
func (c *UserContext) Pop(sp uintptr) { c.frame.RSP = uint64(sp) }

// PushString copies s and a terminating NUL onto the stack.
func (c *UserContext) PushString(s string) uintptr {
	addr := c.Push(len(s) + 1)
	c.Store(addr, append([]byte(s), 0))
	return addr
}

// Args returns the program arguments; the first is the program name.
func (c *UserContext) Args() []string {
	args := make([]string, c.argc)
	for i := range args {
		args[i] = c.LoadString(uintptr(c.LoadUint64(c.argv + uintptr(i)*8)))
	}
	return args
}

// Write sends s to descriptor fd.
func (c *UserContext) Write(fd int, s string) (int, kernel.Errno) {
	sp := c.SP()
	defer c.Pop(sp)

	n, errno := c.Syscall(syscall.PutString, uint64(fd), uint64(c.PushString(s)), uint64(len(s)))
	return int(n), errno
}

// Printf formats to standard output.
func (c *UserContext) Printf(format string, args ...interface{}) {
	c.Write(1, fmt.Sprintf(format, args...))
}

// Exit terminates the program with the given status.
func (c *UserContext) Exit(code int) {
	c.Syscall(syscall.Exit, uint64(code))
}
