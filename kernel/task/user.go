package task

import (
	"bytes"
	"kernos/kernel"
	"kernos/kernel/mm"
	"kernos/kernel/mm/vmm"
)

var (
	// ErrBadAddress is returned when a user address cannot be accessed.
	ErrBadAddress = &kernel.Error{Module: "task", Message: "bad user address"}

	// ErrStringTooLong is returned by ReadUserString for unterminated strings.
	ErrStringTooLong = &kernel.Error{Module: "task", Message: "user string too long"}
)

// AccessUser performs a user mode access of the task's address space the
// way the CPU would, handing every page fault to vmm.HandleFault and
// retrying. If a fault cannot be serviced AccessUser returns it together
// with the handler's error.
func (t *Task) AccessUser(addr uintptr, buf []byte, write bool) (*vmm.PageFault, *kernel.Error) {
	if t.as == nil {
		return &vmm.PageFault{Addr: addr, Code: vmm.FaultUser}, ErrBadAddress
	}

	var last *vmm.PageFault
	for {
		fault := t.as.Access(addr, buf, write, true)
		if fault == nil {
			return nil, nil
		}

		// A fault that survives its own handler is not going away.
		if last != nil && *last == *fault {
			return fault, ErrBadAddress
		}
		last = fault

		if err := vmm.HandleFault(t.as, fault.Code, fault.Addr, t); err != nil {
			return fault, err
		}
	}
}

// CopyFromUser fills buf from user memory at addr.
func (t *Task) CopyFromUser(buf []byte, addr uintptr) *kernel.Error {
	_, err := t.AccessUser(addr, buf, false)
	return err
}

// CopyToUser stores buf into user memory at addr.
func (t *Task) CopyToUser(addr uintptr, buf []byte) *kernel.Error {
	_, err := t.AccessUser(addr, buf, true)
	return err
}

// ReadUserString reads a NUL-terminated string of at most max bytes from
// user memory.
func (t *Task) ReadUserString(addr uintptr, max int) (string, *kernel.Error) {
	var out []byte
	for len(out) <= max {
		chunk := make([]byte, mm.PageSize-vmm.PageOffset(addr))
		if err := t.CopyFromUser(chunk, addr); err != nil {
			return "", err
		}

		if n := bytes.IndexByte(chunk, 0); n >= 0 {
			out = append(out, chunk[:n]...)
			if len(out) > max {
				break
			}
			return string(out), nil
		}

		out = append(out, chunk...)
		addr += uintptr(len(chunk))
	}

	return "", ErrStringTooLong
}
