package main

import (
	"io"
	"io/fs"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/kmain"
	"kernos/kernel/mm"
	"kernos/kernel/msg"
	"kernos/kernel/proc"
	"sort"
	"strings"

	"github.com/google/shlex"
)

const prompt = "> "

// terminal is a line oriented shell that runs in its own task.
type terminal struct {
	k    *kmain.Kernel
	fsys fs.FS
	out  io.Writer

	// echo is set when the host terminal does not echo input itself.
	echo bool
	line []byte

	// unread holds the part of an input line that did not fit the
	// previous Read.
	unread []byte
}

func newTerminal(k *kmain.Kernel, fsys fs.FS, out io.Writer, echo bool) *terminal {
	return &terminal{k: k, fsys: fsys, out: out, echo: echo}
}

func (t *terminal) run(taskID uint64, _ int64) {
	kfmt.Fprintf(t.out, "kernos terminal (task %d)\n%s", taskID, prompt)

	for {
		m := t.k.Sched.WaitMessage()
		if m.Type != msg.KeyPush || !m.Key.Press {
			continue
		}
		t.onKey(m.Key.ASCII)
	}
}

func (t *terminal) onKey(c byte) {
	switch {
	case c == '\r' || c == '\n':
		if t.echo {
			kfmt.Fprintf(t.out, "\n")
		}
		line := string(t.line)
		t.line = t.line[:0]
		t.execute(line)
		kfmt.Fprintf(t.out, "%s", prompt)
	case c == '\b' || c == 0x7f:
		if len(t.line) > 0 {
			t.line = t.line[:len(t.line)-1]
			if t.echo {
				kfmt.Fprintf(t.out, "\b \b")
			}
		}
	case c == asciiEOT:
		if len(t.line) == 0 {
			t.execute("exit")
		}
	case c >= 0x20 && c < 0x7f:
		t.line = append(t.line, c)
		if t.echo {
			kfmt.Fprintf(t.out, "%c", c)
		}
	}
}

// execute runs a builtin command or a program file.
func (t *terminal) execute(line string) {
	args, err := shlex.Split(line)
	if err != nil {
		kfmt.Fprintf(t.out, "%v\n", err)
		return
	}
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "echo":
		kfmt.Fprintf(t.out, "%s\n", strings.Join(args[1:], " "))
	case "ls":
		t.list()
	case "memstat":
		allocated, total := t.k.Frames.Stat()
		kfmt.Fprintf(t.out, "phys used: %d frames (%s), total: %d frames (%s)\n",
			allocated, mm.Size(allocated)*mm.Size(mm.PageSize), total, mm.Size(total)*mm.Size(mm.PageSize))
	case "tick":
		kfmt.Fprintf(t.out, "%d\n", t.k.Timers.Now())
	case "exit":
		kfmt.Fprintf(t.out, "bye\n")
		cpu.Stop()
	default:
		t.exec(args[0], args[1:])
	}
}

func (t *terminal) list() {
	entries, err := fs.ReadDir(t.fsys, ".")
	if err != nil {
		kfmt.Fprintf(t.out, "ls: %v\n", err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kfmt.Fprintf(t.out, "%s\n", name)
	}
}

func (t *terminal) exec(name string, args []string) {
	cur := t.k.Sched.CurrentTask()
	code, err := t.k.Launcher.Exec(cur, name, args, t)

	switch {
	case err == proc.ErrInvalidFile:
		kfmt.Fprintf(t.out, "no such command: %s\n", name)
	case err != nil:
		kfmt.Fprintf(t.out, "%s: %s\n", name, err.Error())
	case code != 0 && code != proc.CrashExitCode:
		kfmt.Fprintf(t.out, "exit status %d\n", code)
	}
}

// Write implements io.Writer for program output.
func (t *terminal) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// Read implements io.Reader for program input. Programs read whole lines;
// a line longer than p is returned over several calls.
func (t *terminal) Read(p []byte) (int, error) {
	if len(t.unread) > 0 {
		n := copy(p, t.unread)
		t.unread = t.unread[n:]
		return n, nil
	}

	var line []byte
	for {
		m := t.k.Sched.WaitMessage()
		if m.Type != msg.KeyPush || !m.Key.Press {
			continue
		}

		switch c := m.Key.ASCII; {
		case c == asciiEOT:
			return t.deliver(p, line), nil
		case c == '\r' || c == '\n':
			line = append(line, '\n')
			return t.deliver(p, line), nil
		case c >= 0x20 && c < 0x7f:
			line = append(line, c)
		}
	}
}

func (t *terminal) deliver(p, line []byte) int {
	n := copy(p, line)
	t.unread = line[n:]
	return n
}
