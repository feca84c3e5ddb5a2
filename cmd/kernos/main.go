// Command kernos boots the kernel on the hosted machine and runs an
// interactive terminal task.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"kernos/kernel/cpu"
	"kernos/kernel/hal/bootinfo"
	"kernos/kernel/irq"
	"kernos/kernel/kmain"
	"kernos/kernel/mm"
	"kernos/kernel/msg"
	"kernos/kernel/timer"
	"os"

	tty "github.com/mattn/go-tty"
)

var (
	memMiB      = flag.Uint64("mem", 64, "MiB of RAM")
	reservedMiB = flag.Uint64("reserved", 1, "MiB of firmware-reserved low memory")
	lapicHz     = flag.Uint64("hz", 10000000, "local APIC timer count rate")
	fsDir       = flag.String("fs", "", "directory exported to user programs")
	stopTicks   = flag.Uint64("ticks", 0, "stop after this many timer ticks (0 runs until exit)")
	useTTY      = flag.Bool("tty", false, "read keys from the controlling terminal in raw mode")
	screenW     = flag.Int("width", 640, "screen width in pixels")
	screenH     = flag.Int("height", 480, "screen height in pixels")
	screenshot  = flag.String("screenshot", "", "write the screen as PNG to this file on shutdown")
)

// kernelImageSize is the amount of memory the loaded kernel image occupies.
const kernelImageSize = 2 * mm.Mb

func main() {
	flag.Parse()

	con, err := openConsole(*useTTY)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernos: %v\n", err)
		os.Exit(1)
	}

	comp := newScreenCompositor(con, *screenW, *screenH)

	go func() {
		<-cpu.Stopped()
		con.Close()
		if *screenshot != "" {
			if err := saveScreen(*screenshot, comp.Screen()); err != nil {
				fmt.Fprintf(os.Stderr, "kernos: %v\n", err)
				os.Exit(1)
			}
		}
		os.Exit(0)
	}()

	var base fs.FS
	if *fsDir != "" {
		base = os.DirFS(*fsDir)
	}
	progFS := newProgramFS(base)

	lapic := timer.NewHostLAPIC(*lapicHz)
	k, kerr := kmain.Boot(kmain.Config{
		MemoryMap:  bootinfo.Synthesize(mm.Size(*memMiB)*mm.Mb, mm.Size(*reservedMiB)*mm.Mb, kernelImageSize),
		Console:    con,
		LAPIC:      lapic,
		PMTimer:    timer.HostPMTimer{},
		FS:         progFS,
		Compositor: comp,
		StopAfter:  *stopTicks,
	})
	if kerr != nil {
		con.Close()
		fmt.Fprintf(os.Stderr, "kernos: boot failed: %s\n", kerr.Error())
		os.Exit(1)
	}

	installPrograms(k.Launcher, progFS)

	kbd := newKeyboard(con.ReadRune)
	irq.Register(irq.VectorKeyboard, kbd.interruptHandler(k.Sched))

	term := newTerminal(k, progFS, con, *useTTY)
	termTask := k.Spawn(term.run, 0)

	// The main task routes input events to the task that owns the
	// keyboard focus.
	for {
		m := k.Sched.WaitMessage()
		switch m.Type {
		case msg.KeyPush:
			if err := k.Sched.SendMessage(termTask.ID(), m); err != nil {
				fmt.Fprintf(con, "dropping key event: %s\n", err.Error())
			}
		}
	}
}

func saveScreen(name string, img image.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}

	if err = png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// console is the machine's text console.
type console struct {
	io.Writer

	ReadRune func() (rune, error)
	Close    func()
}

func openConsole(raw bool) (*console, error) {
	if !raw {
		in := bufio.NewReader(os.Stdin)
		return &console{
			Writer: os.Stdout,
			ReadRune: func() (rune, error) {
				r, _, err := in.ReadRune()
				return r, err
			},
			Close: func() {},
		}, nil
	}

	t, err := tty.Open()
	if err != nil {
		return nil, err
	}
	restore := t.MustRaw()

	return &console{
		Writer:   crlfWriter{t.Output()},
		ReadRune: t.ReadRune,
		Close: func() {
			restore()
			t.Close()
		},
	}, nil
}

// crlfWriter expands line feeds for terminals in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}

	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
