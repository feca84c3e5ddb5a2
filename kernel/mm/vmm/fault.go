package vmm

import (
	"io"
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
)

var (
	// ErrAlreadyAllocated is returned for faults on present pages that are
	// not copy-on-write candidates.
	ErrAlreadyAllocated = &kernel.Error{Module: "vmm", Message: "page fault on an already allocated page"}

	// ErrKernelAddress is returned for user mode faults on addresses in the
	// kernel half.
	ErrKernelAddress = &kernel.Error{Module: "vmm", Message: "user access to kernel address"}

	// ErrNonCanonical is returned for faults on addresses whose upper bits
	// are not a sign extension of bit 47.
	ErrNonCanonical = &kernel.Error{Module: "vmm", Message: "non-canonical address"}

	errFileIO = &kernel.Error{Module: "vmm", Message: "failed to read page from mapped file"}

	log = kfmt.NewLogger("vmm")
)

// FileMapping describes a virtual address range backed by a file. Page
// Begin+n maps file offset Offset+n.
type FileMapping struct {
	Begin, End uintptr
	Offset     int64
	File       io.ReaderAt
}

// FaultContext exposes the paging state of the task whose access faulted.
type FaultContext interface {
	// DemandPaging returns the [begin, end) range that is populated with
	// zero pages on first touch.
	DemandPaging() (begin, end uintptr)

	// FileMappingAt returns the file mapping that covers addr.
	FileMappingAt(addr uintptr) (*FileMapping, bool)
}

// HandleFault services a page fault raised for faultAddr in the supplied
// address space. Present-page write faults from user mode are resolved by
// giving the address space a private copy of the page. Faults on non-present
// pages map a new page; if the address is covered by a file mapping the page
// is filled from the file. ctx may be nil for faults outside of a task.
func HandleFault(as *AddressSpace, errCode FaultCode, faultAddr uintptr, ctx FaultContext) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	pageAddr := mm.AlignDown(faultAddr)

	if canonical(faultAddr) != faultAddr {
		return ErrNonCanonical
	}
	if errCode&FaultUser != 0 && faultAddr < UserBase {
		return ErrKernelAddress
	}

	if errCode&FaultPresent != 0 {
		if errCode&(FaultWrite|FaultUser) == FaultWrite|FaultUser {
			return as.copyOnWrite(pageAddr)
		}
		return ErrAlreadyAllocated
	}

	if ctx != nil {
		if begin, end := ctx.DemandPaging(); faultAddr >= begin && faultAddr < end {
			return as.Map(pageAddr, 1, true)
		}

		if fm, ok := ctx.FileMappingAt(faultAddr); ok {
			return as.loadFilePage(pageAddr, fm)
		}
	}

	return as.Map(pageAddr, 1, true)
}

// copyOnWrite retargets the leaf for pageAddr to a private, writable copy of
// its current frame. The last remaining sharer takes the frame back without
// copying.
func (as *AddressSpace) copyOnWrite(pageAddr uintptr) *kernel.Error {
	pte, level, err := as.leafEntry(pageAddr)
	if err != nil {
		return err
	}
	if level != pageLevels-1 {
		return errNoHugePageSupport
	}

	if as.mem.shares[pte.Frame()] <= 1 {
		delete(as.mem.shares, pte.Frame())
		pte.ClearFlags(FlagCopyOnWrite)
		pte.SetFlags(FlagRW | FlagOwned)
		flushTLBEntryFn(pageAddr)
		return nil
	}

	frame, err := as.mem.Frames.AllocFrame()
	if err != nil {
		return err
	}

	old := *pte
	as.mem.Phys.Copy(frame, old.Frame())

	pte.SetFrame(frame)
	pte.ClearFlags(FlagCopyOnWrite)
	pte.SetFlags(FlagRW | FlagOwned)
	flushTLBEntryFn(pageAddr)

	return as.mem.releaseLeaf(old)
}

// loadFilePage maps the page at pageAddr and fills it from the file mapping.
func (as *AddressSpace) loadFilePage(pageAddr uintptr, fm *FileMapping) *kernel.Error {
	if err := as.Map(pageAddr, 1, true); err != nil {
		return err
	}

	buf := make([]byte, mm.PageSize)
	n, err := fm.File.ReadAt(buf, fm.Offset+int64(pageAddr-fm.Begin))
	if err != nil && err != io.EOF {
		kfmt.Fprintf(log, "reading page at 0x%x: %s\n", pageAddr, err)
		return errFileIO
	}

	if fault := as.Access(pageAddr, buf[:n], true, false); fault != nil {
		return errFileIO
	}
	return nil
}
