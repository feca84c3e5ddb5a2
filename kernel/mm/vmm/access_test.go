package vmm

import (
	"kernos/kernel/mm"
	"testing"
)

func TestAccessPermissions(t *testing.T) {
	mem, alloc := newTestMemory(64)
	as := newTestAddressSpace(t, mem)

	if err := as.Map(testAddr, 1, false); err != nil {
		t.Fatal(err)
	}

	kernelPage := testAddr + 0x10000
	frame, _ := alloc.AllocFrame()
	if err := as.MapFrame(mm.PageFromAddress(kernelPage), frame, FlagRW); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		name    string
		addr    uintptr
		write   bool
		user    bool
		expCode FaultCode
		expOK   bool
	}{
		{"user read of read-only page", testAddr, false, true, 0, true},
		{"user write to read-only page", testAddr, true, true, FaultPresent | FaultWrite | FaultUser, false},
		{"kernel write to read-only page", testAddr, true, false, FaultPresent | FaultWrite, false},
		{"user read of kernel page", kernelPage, false, true, FaultPresent | FaultUser, false},
		{"kernel write to kernel page", kernelPage, true, false, 0, true},
		{"user write to missing page", testAddr + mm.PageSize, true, true, FaultWrite | FaultUser, false},
		{"kernel read of missing page", UserBase, false, false, 0, false},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			fault := as.Access(spec.addr, make([]byte, 4), spec.write, spec.user)
			if spec.expOK {
				if fault != nil {
					t.Fatalf("unexpected fault: %s", fault.Reason())
				}
				return
			}

			if fault == nil {
				t.Fatal("expected a fault")
			}

			if fault.Code != spec.expCode || fault.Addr != spec.addr {
				t.Fatalf("expected fault code %d at 0x%x; got %d at 0x%x", spec.expCode, spec.addr, fault.Code, fault.Addr)
			}
		})
	}
}

func TestAccessSpansPages(t *testing.T) {
	mem, _ := newTestMemory(64)
	as := newTestAddressSpace(t, mem)

	if err := as.Map(testAddr, 1, true); err != nil {
		t.Fatal(err)
	}

	// The write crosses into an unmapped page; the first part lands and
	// the fault reports the second page.
	fault := as.Access(testAddr+mm.PageSize-2, []byte("abcd"), true, true)
	if fault == nil || fault.Addr != testAddr+mm.PageSize {
		t.Fatalf("expected a fault at the start of the second page; got %+v", fault)
	}

	if err := HandleFault(as, fault.Code, fault.Addr, nil); err != nil {
		t.Fatal(err)
	}

	if fault = as.Access(testAddr+mm.PageSize-2, []byte("abcd"), true, true); fault != nil {
		t.Fatalf("unexpected fault: %s", fault.Reason())
	}

	if got := mustRead(t, as, testAddr+mm.PageSize-2, 4); got != "abcd" {
		t.Fatalf("expected to read back the data; got %q", got)
	}
}

func TestAccessSetsAccessedAndDirty(t *testing.T) {
	mem, _ := newTestMemory(64)
	as := newTestAddressSpace(t, mem)

	if err := as.Map(testAddr, 1, true); err != nil {
		t.Fatal(err)
	}

	pte, _, err := as.leafEntry(testAddr)
	if err != nil {
		t.Fatal(err)
	}

	if pte.HasAnyFlag(FlagAccessed | FlagDirty) {
		t.Fatal("expected a fresh mapping to be neither accessed nor dirty")
	}

	mustRead(t, as, testAddr, 1)
	if !pte.HasFlags(FlagAccessed) || pte.HasFlags(FlagDirty) {
		t.Fatal("expected a read to set only the accessed bit")
	}

	mustWrite(t, as, testAddr, "x")
	if !pte.HasFlags(FlagDirty) {
		t.Fatal("expected a write to set the dirty bit")
	}
}

func TestPageFaultReason(t *testing.T) {
	specs := []struct {
		code FaultCode
		exp  string
	}{
		{0, "read from non-present page"},
		{FaultUser, "read from non-present page"},
		{FaultPresent, "page protection violation (read)"},
		{FaultWrite | FaultUser, "write to non-present page"},
		{FaultPresent | FaultWrite | FaultUser, "page protection violation (write)"},
		{8, "unknown"},
	}

	for specIndex, spec := range specs {
		if got := (&PageFault{Code: spec.code}).Reason(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
