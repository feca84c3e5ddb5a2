package main

import (
	"bytes"
	"kernos/kernel/mm"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/proc"
	"kernos/kernel/syscall"
	"strconv"
	"strings"
)

// programBase is the load address of the built-in programs.
const programBase = uint64(vmm.UserBase)

type program struct {
	name string
	main proc.Main
}

var programs = []program{
	{"hello", helloMain},
	{"args", argsMain},
	{"heap", heapMain},
	{"cat", catMain},
	{"wc", wcMain},
	{"status", statusMain},
	{"clock", clockMain},
	{"window", windowMain},
	{"crash", crashMain},
}

// installPrograms stores an image for every built-in program in fsys and
// registers its code with the launcher.
func installPrograms(l *proc.Launcher, fsys *programFS) {
	for i, p := range programs {
		entry := programBase + uint64(i)*0x10
		code := make([]byte, len(programs)*0x10)
		code[entry-programBase] = 0xc3

		fsys.add(p.name, proc.NewImage(entry,
			proc.Segment{Addr: programBase, Data: code},
			proc.Segment{Addr: programBase + uint64(mm.PageSize), Data: []byte(p.name), MemSize: uint64(mm.PageSize)},
		))
		l.Register(entry, p.main)
	}
}

func helloMain(ctx *proc.UserContext) int {
	sp := ctx.SP()
	ctx.Syscall(syscall.LogString, uint64(ctx.PushString("hello started\n")))
	ctx.Pop(sp)

	ctx.Printf("hello, world\n")
	return 0
}

// statusMain exits through the Exit syscall with the status given as its
// argument.
func statusMain(ctx *proc.UserContext) int {
	args := ctx.Args()
	if len(args) != 2 {
		ctx.Printf("usage: status <code>\n")
		return 1
	}

	code, err := strconv.Atoi(args[1])
	if err != nil {
		ctx.Printf("status: %v\n", err)
		return 1
	}
	ctx.Exit(code)
	return 0
}

// wcMain counts the lines and bytes of a file read through ReadFile.
func wcMain(ctx *proc.UserContext) int {
	const chunkSize = 512

	args := ctx.Args()
	if len(args) != 2 {
		ctx.Printf("usage: wc <file>\n")
		return 1
	}

	path := ctx.PushString(args[1])
	fd, errno := ctx.Syscall(syscall.OpenFile, uint64(path), syscall.ORdOnly)
	if errno != 0 {
		ctx.Printf("%s: %s\n", args[1], errno)
		return 1
	}

	var (
		lines, total int
		buf          = make([]byte, chunkSize)
		bufAddr      = ctx.Push(chunkSize)
	)
	for {
		n, errno := ctx.Syscall(syscall.ReadFile, fd, uint64(bufAddr), chunkSize)
		if errno != 0 {
			ctx.Printf("%s: %s\n", args[1], errno)
			return 1
		}
		if n == 0 {
			break
		}

		ctx.Load(bufAddr, buf[:n])
		lines += bytes.Count(buf[:n], []byte{'\n'})
		total += int(n)
	}

	ctx.Printf("%d %d %s\n", lines, total, args[1])
	return 0
}

func argsMain(ctx *proc.UserContext) int {
	for i, arg := range ctx.Args() {
		ctx.Printf("argv[%d] = %q\n", i, arg)
	}
	return 0
}

// heapMain grows its heap one page at a time and touches every page.
func heapMain(ctx *proc.UserContext) int {
	const pages = 16

	heap, errno := ctx.Syscall(syscall.DemandPages, pages, 0)
	if errno != 0 {
		ctx.Printf("DemandPages: %s\n", errno)
		return 1
	}

	for i := uint64(0); i < pages; i++ {
		ctx.StoreUint64(uintptr(heap+i*uint64(mm.PageSize)), i*i)
	}

	var sum uint64
	for i := uint64(0); i < pages; i++ {
		sum += ctx.LoadUint64(uintptr(heap + i*uint64(mm.PageSize)))
	}
	ctx.Printf("heap at 0x%x, %d pages, sum %d\n", heap, pages, sum)
	return 0
}

// catMain maps each file named on the command line and prints it.
func catMain(ctx *proc.UserContext) int {
	args := ctx.Args()
	if len(args) < 2 {
		ctx.Printf("usage: cat <file>...\n")
		return 1
	}

	for _, name := range args[1:] {
		sp := ctx.SP()
		path := ctx.PushString(name)
		fd, errno := ctx.Syscall(syscall.OpenFile, uint64(path), syscall.ORdOnly)
		if errno != 0 {
			ctx.Printf("%s: %s\n", name, errno)
			ctx.Pop(sp)
			return 1
		}

		sizeAddr := ctx.Push(8)
		addr, errno := ctx.Syscall(syscall.MapFile, fd, uint64(sizeAddr), 0)
		if errno != 0 {
			ctx.Printf("%s: %s\n", name, errno)
			ctx.Pop(sp)
			return 1
		}

		buf := make([]byte, ctx.LoadUint64(sizeAddr))
		ctx.Load(uintptr(addr), buf)
		for len(buf) > 0 {
			n := len(buf)
			if n > syscall.MaxStringLen {
				n = syscall.MaxStringLen
			}
			ctx.Write(1, string(buf[:n]))
			buf = buf[n:]
		}
		ctx.Pop(sp)
	}
	return 0
}

func clockMain(ctx *proc.UserContext) int {
	tick, freq := ctx.Syscall(syscall.GetCurrentTick)
	ctx.Printf("tick %d at %d Hz (%d ms)\n", tick, int(freq), tick*1000/uint64(freq))

	deadline, errno := ctx.Syscall(syscall.CreateTimer, syscall.TimerRelative, 1, 1000)
	if errno != 0 {
		ctx.Printf("CreateTimer: %s\n", errno)
		return 1
	}
	ctx.Printf("timer armed for %d ms\n", deadline)
	return 0
}

func windowMain(ctx *proc.UserContext) int {
	args := ctx.Args()
	title := ctx.PushString("hello")
	layer, errno := ctx.Syscall(syscall.OpenWindow, 160, 52, 10, 10, uint64(title))
	if errno != 0 {
		ctx.Printf("OpenWindow: %s\n", errno)
		return 1
	}

	text := ctx.PushString(strings.Join(args[1:], " "))
	if _, errno = ctx.Syscall(syscall.WinWriteString, layer, 8, 28, 0x00c000, uint64(text)); errno != 0 {
		ctx.Printf("WinWriteString: %s\n", errno)
		return 1
	}
	return 0
}

// crashMain writes to the kernel half.
func crashMain(ctx *proc.UserContext) int {
	ctx.Printf("writing to 0x1000\n")
	ctx.StoreUint64(0x1000, 42)
	return 0
}
