package vmm

import (
	"bytes"
	"errors"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/pmm"
	"testing"
)

type testFaultContext struct {
	begin, end uintptr
	mappings   []*FileMapping
}

func (c *testFaultContext) DemandPaging() (uintptr, uintptr) { return c.begin, c.end }

func (c *testFaultContext) FileMappingAt(addr uintptr) (*FileMapping, bool) {
	for _, fm := range c.mappings {
		if addr >= fm.Begin && addr < fm.End {
			return fm, true
		}
	}
	return nil, false
}

type failingReader struct{}

func (failingReader) ReadAt([]byte, int64) (int, error) { return 0, errors.New("disk on fire") }

func TestHandleFaultDemandPaging(t *testing.T) {
	mem, alloc := newTestMemory(64)
	as := newTestAddressSpace(t, mem)
	flushed := recordTLBFlushes(t)

	const heap = testAddr
	ctx := &testFaultContext{begin: heap, end: heap + mm.PageSize}

	buf := make([]byte, 8)
	fault := as.Access(heap+0x10, buf, false, true)
	if fault == nil || fault.Code != FaultUser {
		t.Fatalf("expected a not-present user read fault; got %+v", fault)
	}

	if err := HandleFault(as, fault.Code, fault.Addr, ctx); err != nil {
		t.Fatal(err)
	}

	if got := mustRead(t, as, heap+0x10, 8); got != string(make([]byte, 8)) {
		t.Fatalf("expected a zero-filled page; got %q", got)
	}
	mustWrite(t, as, heap, "heap data")

	firstPhys, _ := as.Translate(heap)
	before := allocatedFrames(alloc)
	*flushed = nil

	// A protection fault on the now present page duplicates it instead of
	// failing.
	if err := HandleFault(as, FaultPresent|FaultWrite|FaultUser, heap+0x20, ctx); err != nil {
		t.Fatal(err)
	}

	secondPhys, _ := as.Translate(heap)
	if firstPhys == secondPhys {
		t.Fatal("expected the page to be moved to a new frame")
	}

	if got := allocatedFrames(alloc); got != before {
		t.Fatalf("expected the owned frame to be released after the copy; %d allocated, expected %d", got, before)
	}

	if got := mustRead(t, as, heap, 9); got != "heap data" {
		t.Fatalf("expected page contents to be preserved; got %q", got)
	}

	if len(*flushed) != 1 || (*flushed)[0] != heap {
		t.Fatalf("expected a single TLB flush for 0x%x; got %x", heap, *flushed)
	}
}

func TestHandleFaultFileMapping(t *testing.T) {
	mem, _ := newTestMemory(64)
	as := newTestAddressSpace(t, mem)

	contents := bytes.Repeat([]byte{'a'}, int(mm.PageSize))
	contents = append(contents, bytes.Repeat([]byte{'b'}, int(mm.PageSize))...)
	contents = append(contents, []byte("tail")...)

	fm := &FileMapping{
		Begin:  testAddr,
		End:    testAddr + 3*mm.PageSize,
		Offset: int64(mm.PageSize),
		File:   bytes.NewReader(contents),
	}
	ctx := &testFaultContext{mappings: []*FileMapping{fm}}

	if err := HandleFault(as, FaultUser, testAddr+0x100, ctx); err != nil {
		t.Fatal(err)
	}

	if got := mustRead(t, as, testAddr, 2); got != "bb" {
		t.Fatalf("expected the first page to hold the data at the mapping offset; got %q", got)
	}

	if _, err := as.Translate(testAddr + mm.PageSize); err != ErrInvalidMapping {
		t.Fatalf("expected only the faulting page to be loaded; got %v", err)
	}

	if err := HandleFault(as, FaultUser, testAddr+mm.PageSize, ctx); err != nil {
		t.Fatal(err)
	}

	if got := mustRead(t, as, testAddr+mm.PageSize, 5); got != "tail\x00" {
		t.Fatalf("expected a short read at the end of the file to be zero padded; got %q", got)
	}
}

func TestHandleFaultErrors(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	mem, _ := newTestMemory(64)
	as := newTestAddressSpace(t, mem)
	if err := as.Map(testAddr, 1, true); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		name   string
		code   FaultCode
		addr   uintptr
		ctx    FaultContext
		expErr error
	}{
		{"present read", FaultPresent | FaultUser, testAddr, nil, ErrAlreadyAllocated},
		{"user access to kernel half", FaultWrite | FaultUser, 0x200000, nil, ErrKernelAddress},
		{"non-canonical user address", FaultUser, 0x0000800000000000, nil, ErrNonCanonical},
		{"non-canonical kernel address", FaultWrite, 0x00f0000000001000, nil, ErrNonCanonical},
		{"present kernel write", FaultPresent | FaultWrite, testAddr, nil, ErrAlreadyAllocated},
		{"present user write without mapping", FaultPresent | FaultWrite | FaultUser, testAddr + 0x5000, nil, ErrInvalidMapping},
		{
			"backing file failure",
			FaultUser,
			testAddr + 0x8000,
			&testFaultContext{mappings: []*FileMapping{{Begin: testAddr + 0x8000, End: testAddr + 0x9000, File: failingReader{}}}},
			errFileIO,
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			err := HandleFault(as, spec.code, spec.addr, spec.ctx)
			if err == nil || err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}
}

func TestHandleFaultNonCanonicalDoesNotAlias(t *testing.T) {
	mem, alloc := newTestMemory(16)
	as := newTestAddressSpace(t, mem)
	before := allocatedFrames(alloc)

	if err := HandleFault(as, FaultWrite|FaultUser, 0x0000800000000000, nil); err != ErrNonCanonical {
		t.Fatalf("expected ErrNonCanonical; got %v", err)
	}
	if _, err := as.Translate(UserBase); err != ErrInvalidMapping {
		t.Fatalf("expected the first user page to stay unmapped; got %v", err)
	}
	if got := allocatedFrames(alloc); got != before {
		t.Fatalf("expected no frames to be allocated; %d new", got-before)
	}
}

func TestHandleFaultLazyMapping(t *testing.T) {
	mem, _ := newTestMemory(64)
	as := newTestAddressSpace(t, mem)
	ctx := &testFaultContext{begin: testAddr, end: testAddr + mm.PageSize}

	stackAddr := ^uintptr(0) - 0x10
	if err := HandleFault(as, FaultWrite|FaultUser, stackAddr, ctx); err != nil {
		t.Fatal(err)
	}

	mustWrite(t, as, stackAddr, "stack")

	if err := HandleFault(as, FaultWrite|FaultUser, testAddr+0x9000, nil); err != nil {
		t.Fatal(err)
	}
}

func TestHandleFaultOutOfMemory(t *testing.T) {
	mem, alloc := newTestMemory(16)
	as := newTestAddressSpace(t, mem)
	if err := as.Map(testAddr, 1, true); err != nil {
		t.Fatal(err)
	}

	dst := newTestAddressSpace(t, mem)
	if err := CopyAddressSpace(dst, as); err != nil {
		t.Fatal(err)
	}

	for {
		if _, err := alloc.AllocFrame(); err != nil {
			break
		}
	}

	if err := HandleFault(dst, FaultPresent|FaultWrite|FaultUser, testAddr, nil); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected pmm.ErrOutOfMemory; got %v", err)
	}

	if got := mustRead(t, dst, testAddr, 1); got != "\x00" {
		t.Fatalf("expected the shared mapping to survive a failed copy; got %q", got)
	}
}
