// Package pmm implements the physical frame allocator.
package pmm

import (
	"kernos/kernel/hal/bootinfo"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
)

// Init builds a frame allocator from the firmware memory map. Every frame
// not covered by an available descriptor is marked as allocated and frame 0
// is never handed out.
func Init(memoryMap bootinfo.MemoryMap) *BitmapAllocator {
	var highest uint64
	memoryMap.Visit(func(desc *bootinfo.MemoryDescriptor) bool {
		if desc.PhysicalEnd() > highest {
			highest = desc.PhysicalEnd()
		}
		return true
	})

	alloc := NewBitmapAllocator(uintptr(highest) >> mm.PageShift)
	log := kfmt.NewLogger("pmm")

	var availableEnd uint64
	memoryMap.Visit(func(desc *bootinfo.MemoryDescriptor) bool {
		kfmt.Fprintf(log, "[0x%10x - 0x%10x] %7d pages, %s\n",
			desc.PhysicalStart, desc.PhysicalEnd(), desc.NumberOfPages, desc.Type)

		if availableEnd < desc.PhysicalStart {
			alloc.MarkAllocated(
				mm.FrameFromAddress(uintptr(availableEnd)),
				uintptr(desc.PhysicalStart-availableEnd)>>mm.PageShift,
			)
		}

		if desc.Type.IsAvailable() {
			availableEnd = desc.PhysicalEnd()
		} else {
			alloc.MarkAllocated(
				mm.FrameFromAddress(uintptr(desc.PhysicalStart)),
				uintptr(desc.NumberOfPages*bootinfo.UEFIPageSize)>>mm.PageShift,
			)
		}
		return true
	})

	alloc.SetMemoryRange(1, mm.FrameFromAddress(uintptr(availableEnd)))

	allocated, total := alloc.Stat()
	kfmt.Fprintf(log, "frames: %d allocated, %d free, %s usable\n",
		allocated, total-allocated, mm.Size(total-allocated)*mm.Size(mm.PageSize))

	return alloc
}
