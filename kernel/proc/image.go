package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"kernos/kernel"
	"kernos/kernel/mm"
	"kernos/kernel/mm/vmm"
)

var (
	// ErrInvalidFormat is returned for program images that are not 64-bit
	// x86 executables or that load outside the user half.
	ErrInvalidFormat = &kernel.Error{Module: "proc", Message: "invalid program image"}

	// ErrInvalidFile is returned when the program file is missing or
	// cannot be read.
	ErrInvalidFile = &kernel.Error{Module: "proc", Message: "invalid program file"}
)

// image is a parsed program file.
type image struct {
	entry uint64
	progs []*elf.Prog

	// end is the first page past the loaded image.
	end uintptr
}

func parseImage(data []byte) (*image, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, ErrInvalidFormat
	}

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Type != elf.ET_EXEC {
		return nil, ErrInvalidFormat
	}

	img := &image{entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		end := prog.Vaddr + prog.Memsz
		if prog.Vaddr < uint64(vmm.UserBase) || end < prog.Vaddr || end > uint64(StackPage) || prog.Filesz > prog.Memsz {
			return nil, ErrInvalidFormat
		}
		img.progs = append(img.progs, prog)
	}

	if len(img.progs) == 0 {
		return nil, ErrInvalidFormat
	}
	return img, nil
}

// load copies the loadable segments into as and returns the first address
// past the image, rounded up to a page boundary.
func (img *image) load(as *vmm.AddressSpace) (uintptr, *kernel.Error) {
	var end uintptr
	for _, prog := range img.progs {
		first := mm.AlignDown(uintptr(prog.Vaddr))
		last := mm.AlignUp(uintptr(prog.Vaddr + prog.Memsz))
		if err := as.Map(first, (last-first)>>mm.PageShift, true); err != nil {
			return 0, err
		}

		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return 0, ErrInvalidFormat
		}
		if fault := as.Access(uintptr(prog.Vaddr), data, true, false); fault != nil {
			return 0, ErrInvalidFormat
		}

		if last > end {
			end = last
		}
	}

	return end, nil
}

// Segment is a loadable region of a program built by NewImage.
type Segment struct {
	Addr uint64
	Data []byte

	// MemSize is the size of the region in memory. Bytes past Data are
	// zero. A MemSize smaller than len(Data) is raised to it.
	MemSize uint64
}

// NewImage returns an x86-64 ELF executable that loads segs and starts at
// entry.
func NewImage(entry uint64, segs ...Segment) []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
	)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	progs := make([]elf.Prog64, len(segs))
	off := uint64(ehdrSize + phdrSize*len(segs))
	for i, seg := range segs {
		// The file offset of a segment is congruent to its address
		// modulo the page size.
		off = uint64(mm.AlignUp(uintptr(off))) + seg.Addr%uint64(mm.PageSize)

		memSize := seg.MemSize
		if memSize < uint64(len(seg.Data)) {
			memSize = uint64(len(seg.Data))
		}

		progs[i] = elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W | elf.PF_X),
			Off:    off,
			Vaddr:  seg.Addr,
			Paddr:  seg.Addr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  memSize,
			Align:  uint64(mm.PageSize),
		}
		off += uint64(len(seg.Data))
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, progs)
	for i, seg := range segs {
		buf.Write(make([]byte, int(progs[i].Off)-buf.Len()))
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}
