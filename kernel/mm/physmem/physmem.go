// Package physmem models the machine's physical RAM. Frames are backed by Go
// memory that is allocated the first time a frame is touched, so a machine
// with gigabytes of address space only pays for the frames the kernel uses.
package physmem

import (
	"kernos/kernel"
	"kernos/kernel/mm"
	"unsafe"
)

// EntriesPerTable is the number of 64-bit words in a frame.
const EntriesPerTable = int(mm.PageSize >> mm.PointerShift)

// Table is a frame viewed as an array of 64-bit words (a page table).
type Table [EntriesPerTable]uint64

var errBadFrame = &kernel.Error{Module: "physmem", Message: "frame outside of physical memory"}

// Arena is the physical memory of the machine.
type Arena struct {
	frames []*Table
}

// New returns an arena holding numFrames frames of physical memory.
func New(numFrames uintptr) *Arena {
	return &Arena{frames: make([]*Table, numFrames)}
}

// Frames returns the number of frames of physical memory.
func (a *Arena) Frames() uintptr {
	return uintptr(len(a.frames))
}

// Size returns the amount of physical memory.
func (a *Arena) Size() mm.Size {
	return mm.Size(len(a.frames)) * mm.Size(mm.PageSize)
}

// Table returns the contents of frame f as a page table.
func (a *Arena) Table(f mm.Frame) *Table {
	if uintptr(f) >= uintptr(len(a.frames)) {
		panic(errBadFrame)
	}

	t := a.frames[f]
	if t == nil {
		t = new(Table)
		a.frames[f] = t
	}
	return t
}

// Bytes returns the contents of frame f as a byte slice of length
// mm.PageSize. Writes to the slice modify physical memory.
func (a *Arena) Bytes(f mm.Frame) []byte {
	return (*[mm.PageSize]byte)(unsafe.Pointer(a.Table(f)))[:]
}

// Memset sets the contents of frame f to value.
func (a *Arena) Memset(f mm.Frame, value byte) {
	target := a.Bytes(f)

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Zero clears frame f.
func (a *Arena) Zero(f mm.Frame) {
	if t := a.frames[f]; t != nil {
		*t = Table{}
	}
}

// Copy copies the contents of frame src into frame dst.
func (a *Arena) Copy(dst, src mm.Frame) {
	*a.Table(dst) = *a.Table(src)
}

// Resident returns the number of frames that have been touched.
func (a *Arena) Resident() int {
	var n int
	for _, t := range a.frames {
		if t != nil {
			n++
		}
	}
	return n
}
