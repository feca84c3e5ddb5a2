package task

import (
	"io"
	"kernos/kernel"
)

// MaxFiles is the size of a task's file descriptor table.
const MaxFiles = 16

// ErrTooManyFiles is returned when a task's descriptor table is full.
var ErrTooManyFiles = &kernel.Error{Module: "task", Message: "too many open files"}

// FileDescriptor is an open file or terminal.
type FileDescriptor interface {
	io.Reader
	io.Writer
}

// AllocateFD installs fd in the lowest free descriptor slot and returns its
// number.
func (t *Task) AllocateFD(fd FileDescriptor) (int, *kernel.Error) {
	for i, f := range t.files {
		if f == nil {
			t.files[i] = fd
			return i, nil
		}
	}

	if len(t.files) >= MaxFiles {
		return -1, ErrTooManyFiles
	}

	t.files = append(t.files, fd)
	return len(t.files) - 1, nil
}

// File returns the descriptor installed in slot fd.
func (t *Task) File(fd int) (FileDescriptor, bool) {
	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return nil, false
	}
	return t.files[fd], true
}

// CloseFiles releases every descriptor. Descriptors that implement
// io.Closer are closed.
func (t *Task) CloseFiles() {
	for i, f := range t.files {
		if c, ok := f.(io.Closer); ok {
			c.Close()
		}
		t.files[i] = nil
	}
	t.files = t.files[:0]
}
