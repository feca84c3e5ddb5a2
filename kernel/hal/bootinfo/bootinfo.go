// Package bootinfo describes the information handed to the kernel by the
// boot loader, namely the firmware memory map.
package bootinfo

import (
	"encoding/binary"
	"kernos/kernel"
	"kernos/kernel/mm"
)

// UEFIPageSize is the page size used by firmware memory descriptors.
const UEFIPageSize = 4096

// MemoryType defines the type of a memory descriptor.
type MemoryType uint32

// nolint
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
	maxMemoryType
)

var typeNames = [maxMemoryType]string{
	"reserved", "loader code", "loader data", "boot services code",
	"boot services data", "runtime services code", "runtime services data",
	"conventional", "unusable", "ACPI (reclaimable)", "ACPI NVS", "MMIO",
	"MMIO port space", "PAL code", "persistent",
}

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	if t >= maxMemoryType {
		return "unknown"
	}
	return typeNames[t]
}

// IsAvailable returns true if memory of this type can be handed to the frame
// allocator once the kernel has taken over from the firmware.
func (t MemoryType) IsAvailable() bool {
	return t == BootServicesCode || t == BootServicesData || t == ConventionalMemory
}

// MemoryDescriptor describes a region of physical memory.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// PhysicalEnd returns the first physical address after the region.
func (d *MemoryDescriptor) PhysicalEnd() uint64 {
	return d.PhysicalStart + d.NumberOfPages*UEFIPageSize
}

// MemoryMap is the list of memory descriptors reported by the firmware, in
// ascending physical address order.
type MemoryMap []MemoryDescriptor

// MemRegionVisitor is invoked by Visit for each memory descriptor. It must
// return true to continue or false to abort the scan.
type MemRegionVisitor func(desc *MemoryDescriptor) bool

// Visit invokes visitor for each descriptor in the map.
func (m MemoryMap) Visit(visitor MemRegionVisitor) {
	for i := range m {
		if !visitor(&m[i]) {
			return
		}
	}
}

// AvailableEnd returns the end address of the highest available region.
func (m MemoryMap) AvailableEnd() uint64 {
	var end uint64
	m.Visit(func(desc *MemoryDescriptor) bool {
		if desc.Type.IsAvailable() && desc.PhysicalEnd() > end {
			end = desc.PhysicalEnd()
		}
		return true
	})
	return end
}

// The firmware descriptor layout: type (u32), padding, physical start,
// virtual start, page count and attributes (u64 each).
const minDescriptorSize = 40

var errShortDescriptor = &kernel.Error{Module: "bootinfo", Message: "memory descriptor size too small"}

// Decode parses a raw firmware memory map. Descriptors are descSize bytes
// apart; descSize may exceed the layout size for newer firmware revisions.
func Decode(buf []byte, descSize int) (MemoryMap, *kernel.Error) {
	if descSize < minDescriptorSize {
		return nil, errShortDescriptor
	}

	var m MemoryMap
	for off := 0; off+descSize <= len(buf); off += descSize {
		d := buf[off:]
		m = append(m, MemoryDescriptor{
			Type:          MemoryType(binary.LittleEndian.Uint32(d[0:])),
			PhysicalStart: binary.LittleEndian.Uint64(d[8:]),
			VirtualStart:  binary.LittleEndian.Uint64(d[16:]),
			NumberOfPages: binary.LittleEndian.Uint64(d[24:]),
			Attribute:     binary.LittleEndian.Uint64(d[32:]),
		})
	}
	return m, nil
}

// Synthesize builds the memory map of a machine with total bytes of RAM: the
// first reserved bytes belong to the firmware, the next kernelSize bytes hold
// the loaded kernel image and the rest is conventional memory.
func Synthesize(total, reserved, kernelSize mm.Size) MemoryMap {
	pages := func(s mm.Size) uint64 { return uint64(s) / UEFIPageSize }

	m := MemoryMap{
		{Type: ReservedMemoryType, PhysicalStart: 0, NumberOfPages: pages(reserved)},
		{Type: LoaderCode, PhysicalStart: uint64(reserved), NumberOfPages: pages(kernelSize)},
	}

	start := uint64(reserved + kernelSize)
	if start < uint64(total) {
		m = append(m, MemoryDescriptor{
			Type:          ConventionalMemory,
			PhysicalStart: start,
			NumberOfPages: (uint64(total) - start) / UEFIPageSize,
		})
	}
	return m
}
