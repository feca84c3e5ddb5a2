package pmm

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"math/bits"
)

var (
	// ErrOutOfMemory is returned when no run of free frames satisfies an
	// allocation request.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrInvalidFree is returned when freeing a frame that is not allocated.
	ErrInvalidFree = &kernel.Error{Module: "pmm", Message: "attempted to free a frame that is not allocated"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations with one bit per frame. Frames are handed out with a first-fit
// scan over the [base, end) range.
type BitmapAllocator struct {
	// freeBitmap tracks used/free frames; a set bit marks an allocated
	// frame. Frame f is tracked by block f/64, bit 63-(f%64).
	freeBitmap []uint64

	base, end mm.Frame
}

// NewBitmapAllocator returns an allocator that tracks frameCount frames, all
// initially free, with the allocation range covering every frame.
func NewBitmapAllocator(frameCount uintptr) *BitmapAllocator {
	return &BitmapAllocator{
		freeBitmap: make([]uint64, (frameCount+63)>>6),
		end:        mm.Frame(frameCount),
	}
}

func (alloc *BitmapAllocator) frames() mm.Frame {
	return mm.Frame(len(alloc.freeBitmap) << 6)
}

func (alloc *BitmapAllocator) isAllocated(frame mm.Frame) bool {
	return alloc.freeBitmap[frame>>6]&(1<<(63-(frame&63))) != 0
}

func (alloc *BitmapAllocator) markFrame(frame mm.Frame, allocated bool) {
	if frame >= alloc.frames() {
		return
	}

	mask := uint64(1 << (63 - (frame & 63)))
	if allocated {
		alloc.freeBitmap[frame>>6] |= mask
	} else {
		alloc.freeBitmap[frame>>6] &^= mask
	}
}

// SetMemoryRange restricts allocations to frames in [base, end).
func (alloc *BitmapAllocator) SetMemoryRange(base, end mm.Frame) {
	if end > alloc.frames() {
		end = alloc.frames()
	}

	flags := cpu.DisableInterrupts()
	alloc.base, alloc.end = base, end
	cpu.RestoreInterrupts(flags)
}

// MarkAllocated flags count frames starting at base as allocated. Frames
// outside the bitmap are ignored.
func (alloc *BitmapAllocator) MarkAllocated(base mm.Frame, count uintptr) {
	flags := cpu.DisableInterrupts()
	for i := uintptr(0); i < count; i++ {
		alloc.markFrame(base+mm.Frame(i), true)
	}
	cpu.RestoreInterrupts(flags)
}

// IsAllocated returns true if frame is reserved.
func (alloc *BitmapAllocator) IsAllocated(frame mm.Frame) bool {
	if frame >= alloc.frames() {
		return false
	}

	flags := cpu.DisableInterrupts()
	allocated := alloc.isAllocated(frame)
	cpu.RestoreInterrupts(flags)
	return allocated
}

// Allocate reserves count contiguous frames and returns the first one. The
// lowest-addressed run that fits is selected. Allocate either reserves the
// whole run or nothing.
func (alloc *BitmapAllocator) Allocate(count uintptr) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	start := alloc.base
	for {
		var i uintptr
		for ; i < count; i++ {
			if start+mm.Frame(i) >= alloc.end {
				return mm.InvalidFrame, ErrOutOfMemory
			}

			if alloc.isAllocated(start + mm.Frame(i)) {
				break
			}
		}

		if i == count {
			for i = 0; i < count; i++ {
				alloc.markFrame(start+mm.Frame(i), true)
			}
			return start, nil
		}

		start += mm.Frame(i + 1)
	}
}

// Free releases count frames starting at base. Every frame must be
// allocated; releasing a free frame is a broken kernel invariant that halts
// the machine. On error no frame is released.
func (alloc *BitmapAllocator) Free(base mm.Frame, count uintptr) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	for i := uintptr(0); i < count; i++ {
		frame := base + mm.Frame(i)
		if frame >= alloc.frames() || !alloc.isAllocated(frame) {
			panicFn(ErrInvalidFree)
			return ErrInvalidFree
		}
	}

	for i := uintptr(0); i < count; i++ {
		alloc.markFrame(base+mm.Frame(i), false)
	}
	return nil
}

// AllocFrame reserves a single frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	return alloc.Allocate(1)
}

// FreeFrame releases a single frame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	return alloc.Free(frame, 1)
}

// Stat returns the number of allocated frames inside the allocation range
// and the size of the range.
func (alloc *BitmapAllocator) Stat() (allocated, total uintptr) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	for frame := alloc.base; frame < alloc.end; {
		if frame&63 == 0 && frame+64 <= alloc.end {
			allocated += uintptr(bits.OnesCount64(alloc.freeBitmap[frame>>6]))
			frame += 64
			continue
		}

		if alloc.isAllocated(frame) {
			allocated++
		}
		frame++
	}

	return allocated, uintptr(alloc.end - alloc.base)
}
