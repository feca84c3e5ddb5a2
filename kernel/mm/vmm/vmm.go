// Package vmm implements 4-level page tables on top of the physical memory
// model: address space construction and teardown, copy-on-write sharing,
// page fault servicing and MMU emulation for accesses made on behalf of
// tasks.
package vmm

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/mm"
	"kernos/kernel/mm/physmem"
)

var (
	// flushTLBEntryFn is used by tests to observe TLB invalidations.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// switchPDTFn is used by tests to override calls to cpu.SwitchPDT.
	switchPDTFn = cpu.SwitchPDT

	// ErrShareLimit is returned when copying an address space that already
	// shares frames with another address space.
	ErrShareLimit = &kernel.Error{Module: "vmm", Message: "address space already shares frames with another address space"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Memory ties the page tables of every address space to the physical memory
// they live in and the allocator that supplies their frames. It also tracks
// how many address spaces share each copy-on-write frame.
type Memory struct {
	Frames mm.FrameAllocator
	Phys   *physmem.Arena

	shares map[mm.Frame]uint8
}

// NewMemory returns a Memory backed by the supplied allocator and arena.
func NewMemory(frames mm.FrameAllocator, phys *physmem.Arena) *Memory {
	return &Memory{
		Frames: frames,
		Phys:   phys,
		shares: make(map[mm.Frame]uint8),
	}
}

// Sharers returns the number of address spaces that map frame copy-on-write.
func (m *Memory) Sharers(frame mm.Frame) int {
	flags := cpu.DisableInterrupts()
	n := m.shares[frame]
	cpu.RestoreInterrupts(flags)
	return int(n)
}

// allocZeroedFrame reserves a frame and clears its contents.
func (m *Memory) allocZeroedFrame() (mm.Frame, *kernel.Error) {
	frame, err := m.Frames.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	m.Phys.Zero(frame)
	return frame, nil
}

// releaseLeaf drops the reference that a leaf entry holds to its frame.
// Shared frames are freed when their last sharer goes away; owned frames are
// freed immediately; anything else is left alone.
func (m *Memory) releaseLeaf(pte pageTableEntry) *kernel.Error {
	frame := pte.Frame()

	switch {
	case pte.HasFlags(FlagCopyOnWrite) && m.shares[frame] > 0:
		m.shares[frame]--
		if m.shares[frame] != 0 {
			return nil
		}
		delete(m.shares, frame)
		return m.Frames.FreeFrame(frame)
	case pte.HasFlags(FlagOwned):
		return m.Frames.FreeFrame(frame)
	}
	return nil
}
