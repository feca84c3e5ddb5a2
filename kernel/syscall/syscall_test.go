package syscall

import (
	"bytes"
	"encoding/binary"
	"kernos/kernel"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/physmem"
	"kernos/kernel/mm/pmm"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/task"
	"kernos/kernel/timer"
	"strings"
	"testing"
	"testing/fstest"
)

const userAddr = vmm.UserBase + 0x10000

type testCompositor struct {
	layers  map[uint32]string
	written []string
	drawn   []uint32
}

func (c *testCompositor) OpenWindow(w, h, x, y int, title string) uint32 {
	id := uint32(len(c.layers) + 1)
	c.layers[id] = title
	return id
}

func (c *testCompositor) WriteString(layerID uint32, x, y int, color uint32, s string) bool {
	if _, ok := c.layers[layerID]; !ok {
		return false
	}
	c.written = append(c.written, s)
	return true
}

func (c *testCompositor) Draw(layerID uint32) { c.drawn = append(c.drawn, layerID) }

func (c *testCompositor) ScreenSize() (int, int) { return 640, 480 }

func newTestEnv(t *testing.T) (*Env, *task.Task) {
	t.Helper()

	alloc := pmm.NewBitmapAllocator(256)
	alloc.SetMemoryRange(1, 256)
	as, err := vmm.NewAddressSpace(vmm.NewMemory(alloc, physmem.New(256)))
	if err != nil {
		t.Fatal(err)
	}

	sched := task.NewScheduler()
	cur := sched.CurrentTask()
	cur.SetAddressSpace(as)

	env := &Env{
		Sched:      sched,
		Timers:     timer.NewManager(sched),
		Compositor: &testCompositor{layers: make(map[uint32]string)},
		FS: fstest.MapFS{
			"hello.txt":    {Data: []byte("hello from the file system\n")},
			"docs/big.txt": {Data: bytes.Repeat([]byte("0123456789abcdef"), 512)},
		},
	}
	return env, cur
}

func putUserString(t *testing.T, cur *task.Task, addr uintptr, s string) {
	t.Helper()
	if err := cur.CopyToUser(addr, append([]byte(s), 0)); err != nil {
		t.Fatal(err)
	}
}

func expResult(t *testing.T, got Result, value uint64, errno kernel.Errno) {
	t.Helper()
	if got.Value != value || got.Err != errno {
		t.Fatalf("expected result {%d, %s}; got {%d, %s}", value, errno, got.Value, got.Err)
	}
}

func TestLogString(t *testing.T) {
	var buf bytes.Buffer
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&buf)

	env, cur := newTestEnv(t)

	putUserString(t, cur, userAddr, "hello kernel\n")
	expResult(t, env.Dispatch(LogString, Args{uint64(userAddr)}), 13, 0)
	if got := buf.String(); !strings.HasSuffix(got, "hello kernel\n") {
		t.Fatalf("expected string to be logged; got %q", got)
	}

	// The string spans a page boundary and exceeds the limit.
	longAddr := userAddr + mm.PageSize - 100
	putUserString(t, cur, longAddr, strings.Repeat("x", MaxStringLen+1))
	expResult(t, env.Dispatch(LogString, Args{uint64(longAddr)}), 0, kernel.E2BIG)

	putUserString(t, cur, longAddr, strings.Repeat("y", MaxStringLen))
	expResult(t, env.Dispatch(LogString, Args{uint64(longAddr)}), MaxStringLen, 0)

	expResult(t, env.Dispatch(LogString, Args{0x1000}), 0, kernel.EFAULT)
}

func TestPutString(t *testing.T) {
	env, cur := newTestEnv(t)

	var term bytes.Buffer
	for i := 0; i < 2; i++ {
		if _, err := cur.AllocateFD(&term); err != nil {
			t.Fatal(err)
		}
	}

	putUserString(t, cur, userAddr, "hello terminal")

	specs := []struct {
		name     string
		args     Args
		expValue uint64
		expErr   kernel.Errno
	}{
		{"fd 1", Args{1, uint64(userAddr), 5}, 5, 0},
		{"too long", Args{1, uint64(userAddr), MaxStringLen + 1}, 0, kernel.E2BIG},
		{"unknown fd", Args{7, uint64(userAddr), 5}, 0, kernel.EBADF},
		{"bad buffer", Args{1, 0x2000, 5}, 0, kernel.EFAULT},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			expResult(t, env.Dispatch(PutString, spec.args), spec.expValue, spec.expErr)
		})
	}

	if got := term.String(); got != "hello" {
		t.Fatalf("expected terminal output %q; got %q", "hello", got)
	}
}

func TestExit(t *testing.T) {
	env, cur := newTestEnv(t)
	cur.SetKernelContinuation(0xc0ffee)

	res := env.Dispatch(Exit, Args{uint64(^uint32(0))})
	if res.Value != 0xc0ffee {
		t.Fatalf("expected kernel continuation 0xc0ffee; got 0x%x", res.Value)
	}
	if res.Err != -1 {
		t.Fatalf("expected exit code -1; got %d", res.Err)
	}
}

func TestWindowSyscalls(t *testing.T) {
	env, cur := newTestEnv(t)
	comp := env.Compositor.(*testCompositor)

	putUserString(t, cur, userAddr, "demo")
	putUserString(t, cur, userAddr+0x100, "hi")

	expResult(t, env.Dispatch(OpenWindow, Args{160, 52, 10, 10, uint64(userAddr)}), 1, 0)
	if comp.layers[1] != "demo" {
		t.Fatalf("expected window titled %q; got %q", "demo", comp.layers[1])
	}

	expResult(t, env.Dispatch(WinWriteString, Args{1, 8, 28, 0xc00000, uint64(userAddr + 0x100)}), 0, 0)
	if len(comp.written) != 1 || comp.written[0] != "hi" || len(comp.drawn) != 1 {
		t.Fatalf("expected one string written and drawn; got %v / %v", comp.written, comp.drawn)
	}

	expResult(t, env.Dispatch(WinWriteString, Args{42, 8, 28, 0, uint64(userAddr + 0x100)}), 0, kernel.EBADF)

	for _, size := range [][2]uint64{{0, 52}, {160, 0}, {uint64(0xffffffff), 52}, {641, 52}, {160, 481}, {40000, 40000}} {
		expResult(t, env.Dispatch(OpenWindow, Args{size[0], size[1], 10, 10, uint64(userAddr)}), 0, kernel.EINVAL)
	}
	if len(comp.layers) != 1 {
		t.Fatalf("expected rejected windows not to reach the compositor; got %d layers", len(comp.layers))
	}
	expResult(t, env.Dispatch(OpenWindow, Args{640, 480, 0, 0, uint64(userAddr)}), 2, 0)

	env.Compositor = nil
	expResult(t, env.Dispatch(OpenWindow, Args{160, 52, 10, 10, uint64(userAddr)}), 0, kernel.ENOSYS)
}

func TestTimerSyscalls(t *testing.T) {
	env, cur := newTestEnv(t)

	for i := 0; i < 3; i++ {
		env.Timers.OnTick()
	}

	expResult(t, env.Dispatch(GetCurrentTick, Args{}), 3, kernel.Errno(timer.TimerFreq))

	expResult(t, env.Dispatch(CreateTimer, Args{TimerRelative, 0, 100}), 0, kernel.EINVAL)
	expResult(t, env.Dispatch(CreateTimer, Args{TimerRelative, 1, 100}), 130, 0)
	expResult(t, env.Dispatch(CreateTimer, Args{0, 2, 500}), 500, 0)

	if got := env.Timers.Pending(); got != 2 {
		t.Fatalf("expected 2 armed timers; got %d", got)
	}

	for i := 0; i < 10; i++ {
		env.Timers.OnTick()
	}

	m, ok := cur.ReceiveMessage()
	if !ok {
		t.Fatal("expected a timeout message for the calling task")
	}
	if m.Timer.Timeout != 13 || m.Timer.Value != 1 {
		t.Fatalf("unexpected timeout message: %+v", m.Timer)
	}
}

func TestFileSyscalls(t *testing.T) {
	env, cur := newTestEnv(t)

	putUserString(t, cur, userAddr, "/hello.txt")
	putUserString(t, cur, userAddr+0x100, "missing.txt")

	expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr), ORdOnly}), 0, 0)
	expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr + 0x100), ORdOnly}), 0, kernel.ENOENT)
	expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr), ORdWr}), 0, kernel.EINVAL)

	bufAddr := userAddr + 0x2000
	res := env.Dispatch(ReadFile, Args{0, uint64(bufAddr), 5})
	expResult(t, res, 5, 0)

	got := make([]byte, 5)
	if err := cur.CopyFromUser(got, bufAddr); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected %q to be read; got %q", "hello", got)
	}

	expResult(t, env.Dispatch(ReadFile, Args{9, uint64(bufAddr), 5}), 0, kernel.EBADF)

	for fd := 1; fd < task.MaxFiles; fd++ {
		expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr), ORdOnly}), uint64(fd), 0)
	}
	expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr), ORdOnly}), 0, kernel.EMFILE)

	env.FS = nil
	expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr), ORdOnly}), 0, kernel.ENOENT)
}

func TestDemandPages(t *testing.T) {
	env, cur := newTestEnv(t)

	heap := userAddr + 0x100000
	cur.SetDemandPaging(heap, heap)

	expResult(t, env.Dispatch(DemandPages, Args{2}), uint64(heap), 0)
	expResult(t, env.Dispatch(DemandPages, Args{1}), uint64(heap+2*mm.PageSize), 0)

	if begin, end := cur.DemandPaging(); begin != heap || end != heap+3*mm.PageSize {
		t.Fatalf("expected demand paging range [0x%x, 0x%x); got [0x%x, 0x%x)", heap, heap+3*mm.PageSize, begin, end)
	}
}

func TestMapFile(t *testing.T) {
	env, cur := newTestEnv(t)

	mapEnd := userAddr + 0x400000
	cur.SetFileMapEnd(mapEnd)

	putUserString(t, cur, userAddr, "docs/big.txt")
	expResult(t, env.Dispatch(OpenFile, Args{uint64(userAddr), ORdOnly}), 0, 0)

	sizeAddr := userAddr + 0x3000
	res := env.Dispatch(MapFile, Args{0, uint64(sizeAddr), 0})
	expBegin := mapEnd - 2*mm.PageSize
	expResult(t, res, uint64(expBegin), 0)

	var sizeBuf [8]byte
	if err := cur.CopyFromUser(sizeBuf[:], sizeAddr); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint64(sizeBuf[:]); got != 8192 {
		t.Fatalf("expected file size 8192; got %d", got)
	}

	// The second page is loaded from the file on first touch.
	got := make([]byte, 16)
	if err := cur.CopyFromUser(got, expBegin+mm.PageSize+16); err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123456789abcdef" {
		t.Fatalf("expected mapped file contents; got %q", got)
	}

	if cur.FileMapEnd() != expBegin {
		t.Fatalf("expected file map end to move to 0x%x; got 0x%x", expBegin, cur.FileMapEnd())
	}

	var term bytes.Buffer
	fd, _ := cur.AllocateFD(&term)
	expResult(t, env.Dispatch(MapFile, Args{uint64(fd), uint64(sizeAddr), 0}), 0, kernel.EBADF)
}

func TestDispatchUnknownSyscall(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	env, _ := newTestEnv(t)
	expResult(t, env.Dispatch(Number(99), Args{}), 0, kernel.ENOSYS)
}

func TestHandleFrame(t *testing.T) {
	env, _ := newTestEnv(t)
	env.Timers.OnTick()

	f := &Frame{RAX: uint64(GetCurrentTick)}
	env.Handle(f)

	if f.RAX != 1 || f.RDX != timer.TimerFreq {
		t.Fatalf("expected RAX=1 and RDX=%d; got RAX=%d RDX=%d", timer.TimerFreq, f.RAX, f.RDX)
	}

	var buf bytes.Buffer
	f.DumpTo(&buf)
	if !strings.Contains(buf.String(), "RAX = ") || !strings.Contains(buf.String(), "RSP = ") {
		t.Fatalf("unexpected register dump:\n%s", buf.String())
	}
}

func TestNumberString(t *testing.T) {
	if got := MapFile.String(); got != "MapFile" {
		t.Fatalf("expected MapFile; got %s", got)
	}
	if got := Number(42).String(); got != "unknown" {
		t.Fatalf("expected unknown; got %s", got)
	}
}
