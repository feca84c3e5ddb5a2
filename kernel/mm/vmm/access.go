package vmm

import "kernos/kernel/mm"

// FaultCode is the error code pushed by the CPU for a page fault.
type FaultCode uint64

// Page fault error code bits.
const (
	// FaultPresent is set when the fault was a protection violation on a
	// present page and clear when the page was not present.
	FaultPresent FaultCode = 1 << iota

	// FaultWrite is set when the faulting access was a write.
	FaultWrite

	// FaultUser is set when the access was made in user mode.
	FaultUser
)

// PageFault describes a failed memory access.
type PageFault struct {
	Addr uintptr
	Code FaultCode
}

// Reason returns a description of the fault cause.
func (f *PageFault) Reason() string {
	switch f.Code &^ FaultUser {
	case 0:
		return "read from non-present page"
	case FaultPresent:
		return "page protection violation (read)"
	case FaultWrite:
		return "write to non-present page"
	case FaultPresent | FaultWrite:
		return "page protection violation (write)"
	}
	return "unknown"
}

// Access copies len(buf) bytes between buf and the virtual address range
// starting at virtAddr, translating through the page tables the way the MMU
// does. When write is set the bytes in buf are stored to memory, otherwise
// memory is read into buf. Accessed and dirty bits are updated for every
// page touched.
//
// Access stops at the first page that cannot be accessed and returns the
// fault the CPU would raise; bytes before that page have been transferred.
// Retrying the whole access after the fault is serviced is safe.
func (as *AddressSpace) Access(virtAddr uintptr, buf []byte, write, user bool) *PageFault {
	for len(buf) > 0 {
		physAddr, fault := as.translateAccess(virtAddr, write, user)
		if fault != nil {
			return fault
		}

		offset := PageOffset(physAddr)
		frame := mm.FrameFromAddress(physAddr)
		if uintptr(frame) >= as.mem.Phys.Frames() {
			return &PageFault{Addr: virtAddr, Code: accessCode(write, user) | FaultPresent}
		}

		mem := as.mem.Phys.Bytes(frame)[offset:]
		var n int
		if write {
			n = copy(mem, buf)
		} else {
			n = copy(buf, mem)
		}

		buf = buf[n:]
		virtAddr += uintptr(n)
	}

	return nil
}

func accessCode(write, user bool) FaultCode {
	var code FaultCode
	if write {
		code |= FaultWrite
	}
	if user {
		code |= FaultUser
	}
	return code
}

// translateAccess performs the permission checked walk for a single access
// and returns the physical address for virtAddr.
func (as *AddressSpace) translateAccess(virtAddr uintptr, write, user bool) (uintptr, *PageFault) {
	code := accessCode(write, user)
	tableFrame := as.root

	for level := uint8(0); level < pageLevels; level++ {
		pte := &as.mem.table(tableFrame)[entryIndex(virtAddr, level)]

		switch {
		case !pte.HasFlags(FlagPresent):
			return 0, &PageFault{Addr: virtAddr, Code: code}
		case user && !pte.HasFlags(FlagUserAccessible), write && !pte.HasFlags(FlagRW):
			return 0, &PageFault{Addr: virtAddr, Code: code | FaultPresent}
		}

		pte.SetFlags(FlagAccessed)

		isHuge := level < pageLevels-1 && pte.HasFlags(FlagHugePage)
		if level == pageLevels-1 || isHuge {
			if write {
				pte.SetFlags(FlagDirty)
			}
			if isHuge {
				return pte.Frame().Address() + (virtAddr & (mm.HugePageSize - 1)), nil
			}
			return pte.Frame().Address() + PageOffset(virtAddr), nil
		}

		tableFrame = pte.Frame()
	}

	return 0, &PageFault{Addr: virtAddr, Code: code}
}
