package vmm

import (
	"bytes"
	"kernos/kernel/cpu"
	"kernos/kernel/mm"
	"kernos/kernel/mm/physmem"
	"kernos/kernel/mm/pmm"
	"testing"
)

func newTestMemory(frameCount uintptr) (*Memory, *pmm.BitmapAllocator) {
	alloc := pmm.NewBitmapAllocator(frameCount)
	alloc.SetMemoryRange(1, mm.Frame(frameCount))
	return NewMemory(alloc, physmem.New(frameCount)), alloc
}

func allocatedFrames(alloc *pmm.BitmapAllocator) uintptr {
	allocated, _ := alloc.Stat()
	return allocated
}

func newTestAddressSpace(t *testing.T, mem *Memory) *AddressSpace {
	as, err := NewAddressSpace(mem)
	if err != nil {
		t.Fatal(err)
	}
	return as
}

// recordTLBFlushes replaces the TLB hook with a recorder until the test ends.
func recordTLBFlushes(t *testing.T) *[]uintptr {
	var flushed []uintptr
	flushTLBEntryFn = func(virtAddr uintptr) { flushed = append(flushed, virtAddr) }
	t.Cleanup(func() { flushTLBEntryFn = cpu.FlushTLBEntry })
	return &flushed
}

func mustWrite(t *testing.T, as *AddressSpace, virtAddr uintptr, data string) {
	t.Helper()
	if fault := as.Access(virtAddr, []byte(data), true, false); fault != nil {
		t.Fatalf("unexpected fault writing to 0x%x: %s", virtAddr, fault.Reason())
	}
}

func mustRead(t *testing.T, as *AddressSpace, virtAddr uintptr, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if fault := as.Access(virtAddr, buf, false, true); fault != nil {
		t.Fatalf("unexpected fault reading from 0x%x: %s", virtAddr, fault.Reason())
	}
	return string(buf)
}

func TestMemorySharers(t *testing.T) {
	mem, _ := newTestMemory(8)
	if got := mem.Sharers(3); got != 0 {
		t.Fatalf("expected no sharers; got %d", got)
	}

	mem.shares[3] = 2
	if got := mem.Sharers(3); got != 2 {
		t.Fatalf("expected 2 sharers; got %d", got)
	}
}

func TestAllocZeroedFrame(t *testing.T) {
	mem, _ := newTestMemory(8)

	mem.Phys.Memset(1, 0xaa)
	frame, err := mem.allocZeroedFrame()
	if err != nil {
		t.Fatal(err)
	}

	if frame != 1 {
		t.Fatalf("expected frame 1; got %d", frame)
	}

	if !bytes.Equal(mem.Phys.Bytes(frame), make([]byte, mm.PageSize)) {
		t.Fatal("expected allocated frame to be cleared")
	}
}
