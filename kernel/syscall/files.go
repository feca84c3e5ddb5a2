package syscall

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"kernos/kernel"
	"kernos/kernel/mm"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/task"
	"path"
	"strings"
)

// Access mode bits of the OpenFile flags argument.
const (
	ORdOnly  = 0
	OWrOnly  = 1
	ORdWr    = 2
	OAccMode = 3
)

// maxReadIO caps the bytes a single ReadFile call transfers.
const maxReadIO = 64 * 1024

var errReadOnly = errors.New("file is read-only")

// file adapts an fs.File to a task file descriptor.
type file struct {
	fs.File

	readerAt io.ReaderAt
	size     int64
}

func openFile(fsys fs.FS, name string) (*file, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &file{File: f, size: info.Size()}, nil
}

func (f *file) Write([]byte) (int, error) { return 0, errReadOnly }

// ReaderAt returns random access to the file contents. Files that cannot
// seek are read once into memory.
func (f *file) ReaderAt() (io.ReaderAt, error) {
	if f.readerAt != nil {
		return f.readerAt, nil
	}

	if ra, ok := f.File.(io.ReaderAt); ok {
		f.readerAt = ra
		return ra, nil
	}

	data, err := io.ReadAll(f.File)
	if err != nil {
		return nil, err
	}
	f.readerAt = bytes.NewReader(data)
	return f.readerAt, nil
}

func sysOpenFile(env *Env, t *task.Task, args Args) Result {
	name, errno := userString(t, args[0])
	if errno != 0 {
		return Result{Err: errno}
	}

	if args[1]&OAccMode != ORdOnly {
		return Result{Err: kernel.EINVAL}
	}

	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "."
	}

	if env.FS == nil {
		return Result{Err: kernel.ENOENT}
	}

	f, err := openFile(env.FS, name)
	if err != nil {
		return Result{Err: kernel.ENOENT}
	}

	fd, kerr := t.AllocateFD(f)
	if kerr != nil {
		f.Close()
		return Result{Err: kernel.EMFILE}
	}
	return Result{Value: uint64(fd)}
}

func sysReadFile(_ *Env, t *task.Task, args Args) Result {
	fd, addr, n := int(args[0]), uintptr(args[1]), args[2]

	f, ok := t.File(fd)
	if !ok {
		return Result{Err: kernel.EBADF}
	}

	if n > maxReadIO {
		n = maxReadIO
	}

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return Result{Err: kernel.EBADF}
	}

	if err := t.CopyToUser(addr, buf[:read]); err != nil {
		return Result{Err: kernel.EFAULT}
	}
	return Result{Value: uint64(read)}
}

// sysMapFile maps the file open as fd just below the previous file mapping
// and stores the file size at the address in the second argument. Pages are
// loaded on first touch.
func sysMapFile(_ *Env, t *task.Task, args Args) Result {
	fd, sizeAddr := int(args[0]), uintptr(args[1])

	fdesc, ok := t.File(fd)
	if !ok {
		return Result{Err: kernel.EBADF}
	}
	f, ok := fdesc.(*file)
	if !ok {
		return Result{Err: kernel.EBADF}
	}

	ra, err := f.ReaderAt()
	if err != nil {
		return Result{Err: kernel.EBADF}
	}

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(f.size))
	if err := t.CopyToUser(sizeAddr, sizeBuf[:]); err != nil {
		return Result{Err: kernel.EFAULT}
	}

	end := t.FileMapEnd()
	begin := mm.AlignDown(end - uintptr(f.size))
	t.SetFileMapEnd(begin)
	t.AddFileMapping(&vmm.FileMapping{Begin: begin, End: end, File: ra})

	return Result{Value: uint64(begin)}
}
