package vmm

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/mm"
	"math"
)

// tableFlags are applied to every intermediate table created by Map.
const tableFlags = FlagPresent | FlagRW | FlagUserAccessible | FlagOwned

// leafFor walks the page tables for virtAddr allocating any missing
// intermediate tables and returns the leaf entry.
func (as *AddressSpace) leafFor(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		leaf *pageTableEntry
		err  *kernel.Error
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			leaf = pte
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			if newTableFrame, err = as.mem.allocZeroedFrame(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(tableFlags)
		}

		return true
	})

	return leaf, err
}

// Map maps numPages pages starting at the page that contains virtAddr to
// freshly allocated, zero-filled frames owned by this address space. Pages
// that are already mapped are left in place.
func (as *AddressSpace) Map(virtAddr uintptr, numPages uintptr, writable bool) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	leafFlags := FlagPresent | FlagUserAccessible | FlagOwned
	if writable {
		leafFlags |= FlagRW
	}

	for page := mm.PageFromAddress(virtAddr); numPages > 0; page, numPages = page+1, numPages-1 {
		pte, err := as.leafFor(page.Address())
		if err != nil {
			return err
		}

		if pte.HasFlags(FlagPresent) {
			continue
		}

		frame, err := as.mem.allocZeroedFrame()
		if err != nil {
			return err
		}

		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(leafFlags)
		flushTLBEntryFn(page.Address())
	}

	return nil
}

// MapFrame establishes a mapping between a virtual page and a physical frame.
// The address space does not take ownership of the frame unless flags
// include FlagOwned. Any previous mapping of the page is released.
func (as *AddressSpace) MapFrame(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	intFlags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(intFlags)

	pte, err := as.leafFor(page.Address())
	if err != nil {
		return err
	}

	if pte.HasFlags(FlagPresent) {
		if err = as.mem.releaseLeaf(*pte); err != nil {
			return err
		}
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)
	flushTLBEntryFn(page.Address())
	return nil
}

// Unmap removes every user-half mapping at or above virtAddr. Owned frames
// are freed, shared frames are released once their last sharer is gone and
// page tables left empty are returned to the frame allocator.
func (as *AddressSpace) Unmap(virtAddr uintptr) *kernel.Error {
	return as.unmapRange(mm.AlignDown(virtAddr), math.MaxUint64)
}

// UnmapRange removes the user-half mappings for numPages pages starting at
// the page that contains virtAddr.
func (as *AddressSpace) UnmapRange(virtAddr uintptr, numPages uintptr) *kernel.Error {
	if numPages == 0 {
		return nil
	}

	first := mm.AlignDown(virtAddr)
	last := first + numPages<<mm.PageShift - 1
	if last < first {
		last = math.MaxUint64
	}
	return as.unmapRange(first, last)
}

func (as *AddressSpace) unmapRange(first, last uintptr) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	_, err := as.unmapTable(as.root, 0, 0, first, last)
	return err
}

// unmapTable releases the mappings in [first, last] below the table at
// tableFrame, whose first entry maps tableBase. It reports whether the table
// is empty afterwards.
func (as *AddressSpace) unmapTable(tableFrame mm.Frame, level uint8, tableBase, first, last uintptr) (bool, *kernel.Error) {
	var (
		tbl  = as.mem.table(tableFrame)
		span = uintptr(1) << pageLevelShifts[level]
	)

	for idx := userStart(level); idx < entriesPerTable; idx++ {
		pte := &tbl[idx]
		entryBase := canonical(tableBase + uintptr(idx)*span)
		if !pte.HasFlags(FlagPresent) || entryBase+span-1 < first || entryBase > last {
			continue
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			if err := as.mem.releaseLeaf(*pte); err != nil {
				return false, err
			}
			*pte = 0
			flushTLBEntryFn(entryBase)
			continue
		}

		empty, err := as.unmapTable(pte.Frame(), level+1, entryBase, first, last)
		if err != nil {
			return false, err
		}

		if empty && pte.HasFlags(FlagOwned) {
			if err = as.mem.Frames.FreeFrame(pte.Frame()); err != nil {
				return false, err
			}
			*pte = 0
		}
	}

	for idx := userStart(level); idx < entriesPerTable; idx++ {
		if tbl[idx].HasFlags(FlagPresent) {
			return false, nil
		}
	}
	return true, nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
