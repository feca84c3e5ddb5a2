package vmm

import (
	"kernos/kernel"
	"kernos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned for addresses without a present leaf
	// entry.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "address is not mapped"}
)

// PageTableEntryFlag is a bit of a page table entry.
type PageTableEntryFlag uint64

// pageTableEntry packs a physical frame address with a set of flags.
type pageTableEntry uint64

// HasFlags reports whether every bit in flags is set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return PageTableEntryFlag(pte)&flags == flags
}

// HasAnyFlag reports whether at least one bit in flags is set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return PageTableEntryFlag(pte)&flags != 0
}

func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

// Frame returns the frame the entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint64(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame points the entry at frame, keeping its flags.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = pageTableEntry(uint64(*pte)&^ptePhysPageMask | uint64(frame.Address()))
}
