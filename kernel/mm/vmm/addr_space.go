package vmm

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/mm"
)

var errIdentitySize = &kernel.Error{Module: "vmm", Message: "identity map size must be between 1 and 512 GiB"}

// AddressSpace describes a 4-level page table tree rooted at a single frame.
type AddressSpace struct {
	root mm.Frame
	mem  *Memory
}

// NewAddressSpace allocates and clears the root table of a new, empty
// address space.
func NewAddressSpace(mem *Memory) (*AddressSpace, *kernel.Error) {
	root, err := mem.allocZeroedFrame()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{root: root, mem: mem}, nil
}

// Root returns the frame holding the top-level page table.
func (as *AddressSpace) Root() mm.Frame {
	return as.root
}

// Activate makes this address space the one used for address translation.
func (as *AddressSpace) Activate() {
	switchPDTFn(as.root.Address())
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, level, err := as.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	if level < pageLevels-1 {
		return pte.Frame().Address() + (virtAddr & (mm.HugePageSize - 1)), nil
	}
	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// SetupIdentity identity-maps the first gib GiB of physical memory using 2Mb
// pages. It is used to build the kernel address space whose lower half is
// shared by every task.
func (as *AddressSpace) SetupIdentity(gib int) *kernel.Error {
	if gib < 1 || gib > entriesPerTable {
		return errIdentitySize
	}

	top := as.mem.table(as.root)
	if !top[0].HasFlags(FlagPresent) {
		upper, err := as.mem.allocZeroedFrame()
		if err != nil {
			return err
		}
		top[0] = 0
		top[0].SetFrame(upper)
		top[0].SetFlags(FlagPresent | FlagRW | FlagOwned)
	}

	upper := as.mem.table(top[0].Frame())
	for g := 0; g < gib; g++ {
		middleFrame, err := as.mem.allocZeroedFrame()
		if err != nil {
			return err
		}

		upper[g] = 0
		upper[g].SetFrame(middleFrame)
		upper[g].SetFlags(FlagPresent | FlagRW | FlagOwned)

		middle := as.mem.table(middleFrame)
		for i := range middle {
			middle[i].SetFrame(mm.Frame((uintptr(g)*entriesPerTable + uintptr(i)) * hugePageFrames))
			middle[i].SetFlags(FlagPresent | FlagRW | FlagHugePage)
		}
	}

	return nil
}

// CopyAddressSpace populates the empty address space dst from src. The
// kernel half is shared by reference. The user half gets its own page tables
// and every owned user page becomes a read-only copy-on-write page shared by
// both address spaces. Copying an address space that shares a page with
// another live address space fails with ErrShareLimit and leaves both
// address spaces untouched.
func CopyAddressSpace(dst, src *AddressSpace) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	if src.hasSharedLeaf(src.root, 0) {
		return ErrShareLimit
	}

	srcTop, dstTop := src.mem.table(src.root), dst.mem.table(dst.root)
	for i := 0; i < kernelHalfEntries; i++ {
		dstTop[i] = srcTop[i]
		dstTop[i].ClearFlags(FlagOwned)
	}

	return dst.copyEntries(dst.root, src, src.root, 0, 0)
}

// hasSharedLeaf reports whether the user half under tableFrame contains a
// copy-on-write leaf that another address space still maps.
func (as *AddressSpace) hasSharedLeaf(tableFrame mm.Frame, level uint8) bool {
	tbl := as.mem.table(tableFrame)
	for idx := userStart(level); idx < entriesPerTable; idx++ {
		pte := tbl[idx]
		switch {
		case !pte.HasFlags(FlagPresent):
		case level == pageLevels-1 || pte.HasFlags(FlagHugePage):
			if pte.HasFlags(FlagCopyOnWrite) && as.mem.shares[pte.Frame()] >= 2 {
				return true
			}
		case as.hasSharedLeaf(pte.Frame(), level+1):
			return true
		}
	}
	return false
}

// copyEntries fills the table in dstFrame from the src table in srcFrame.
// New child tables are linked into dst before they are filled so a failed
// copy always leaves a tree that Destroy can release.
func (as *AddressSpace) copyEntries(dstFrame mm.Frame, src *AddressSpace, srcFrame mm.Frame, level uint8, tableBase uintptr) *kernel.Error {
	span := uintptr(1) << pageLevelShifts[level]

	for idx := userStart(level); idx < entriesPerTable; idx++ {
		srcTbl, dstTbl := src.mem.table(srcFrame), as.mem.table(dstFrame)
		pte := &srcTbl[idx]
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		entryAddr := canonical(tableBase + uintptr(idx)*span)
		if level == pageLevels-1 {
			switch {
			case pte.HasFlags(FlagOwned):
				pte.ClearFlags(FlagRW | FlagOwned)
				pte.SetFlags(FlagCopyOnWrite)
				as.mem.shares[pte.Frame()] = 2
				flushTLBEntryFn(entryAddr)
			case pte.HasFlags(FlagCopyOnWrite):
				// The previous sharer is gone; src is the only holder.
				as.mem.shares[pte.Frame()] = 2
			}
			dstTbl[idx] = *pte
			continue
		}

		if pte.HasFlags(FlagHugePage) {
			return errNoHugePageSupport
		}

		child, err := as.mem.allocZeroedFrame()
		if err != nil {
			return err
		}
		dstTbl[idx] = *pte
		dstTbl[idx].SetFrame(child)
		dstTbl[idx].SetFlags(FlagOwned)

		if err = as.copyEntries(child, src, pte.Frame(), level+1, entryAddr); err != nil {
			return err
		}
	}

	return nil
}

// Destroy releases every user mapping, the page tables this address space
// owns and its root table. The address space must not be used afterwards.
func (as *AddressSpace) Destroy() *kernel.Error {
	if err := as.Unmap(UserBase); err != nil {
		return err
	}

	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	top := as.mem.table(as.root)
	for i := 0; i < kernelHalfEntries; i++ {
		if top[i].HasFlags(FlagPresent | FlagOwned) {
			if err := as.freeTables(top[i].Frame(), 1); err != nil {
				return err
			}
		}
	}

	err := as.mem.Frames.FreeFrame(as.root)
	as.root = mm.InvalidFrame
	return err
}

// freeTables releases the owned tables below tableFrame together with the
// table itself. Leaves are left alone; this only runs for kernel-half tables
// whose leaves describe identity or device mappings.
func (as *AddressSpace) freeTables(tableFrame mm.Frame, level uint8) *kernel.Error {
	if level < pageLevels-1 {
		for _, pte := range as.mem.table(tableFrame) {
			if pte.HasFlags(FlagPresent|FlagOwned) && !pte.HasFlags(FlagHugePage) {
				if err := as.freeTables(pte.Frame(), level+1); err != nil {
					return err
				}
			}
		}
	}
	return as.mem.Frames.FreeFrame(tableFrame)
}

// userStart returns the first table index that belongs to the user half at
// the given level.
func userStart(level uint8) int {
	if level == 0 {
		return kernelHalfEntries
	}
	return 0
}
