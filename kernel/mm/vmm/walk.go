package vmm

import (
	"kernos/kernel"
	"kernos/kernel/mm"
	"unsafe"
)

// pageTable is a frame interpreted as an array of page table entries.
type pageTable [entriesPerTable]pageTableEntry

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// table returns the page table stored in frame.
func (m *Memory) table(frame mm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(m.Phys.Table(frame)))
}

// entryIndex extracts the bits from a virtual address that correspond to
// the index in the page table at the given level.
func entryIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// walk performs a page table walk for the given virtual address starting at
// the address space root. It calls the supplied walkFn with the page table
// entry that corresponds to each page table level. The walk stops when
// walkFn returns false, at the leaf level, at a non-present entry or at a
// huge page entry. walkFn may populate a non-present entry to let the walk
// descend into the new table.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableFrame := as.root
	for level := uint8(0); level < pageLevels; level++ {
		pte := &as.mem.table(tableFrame)[entryIndex(virtAddr, level)]
		if !walkFn(level, pte) {
			return
		}

		if level == pageLevels-1 || !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagHugePage) {
			return
		}
		tableFrame = pte.Frame()
	}
}

// leafEntry returns the last page table entry reached when walking virtAddr
// together with its level. It returns ErrInvalidMapping if the page is not
// present.
func (as *AddressSpace) leafEntry(virtAddr uintptr) (*pageTableEntry, uint8, *kernel.Error) {
	var (
		entry *pageTableEntry
		level uint8
		err   *kernel.Error
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		entry, level = pte, pteLevel
		return true
	})

	if err != nil {
		return nil, 0, err
	}
	return entry, level, nil
}

// canonical sign-extends bit 47 of a virtual address.
func canonical(virtAddr uintptr) uintptr {
	if virtAddr&(1<<47) != 0 {
		return virtAddr | ^uintptr(1<<48-1)
	}
	return virtAddr
}
