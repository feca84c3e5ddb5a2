package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBufferDrain(t *testing.T) {
	specs := []struct {
		descr  string
		start  int
		writes []string
		exp    string
	}{
		{"empty", 0, nil, ""},
		{"single write", 0, []string{"[pmm] 4095 frames\n"}, "[pmm] 4095 frames\n"},
		{"several writes", 0, []string{"[kmain] ", "boot ", "complete\n"}, "[kmain] boot complete\n"},
		{"write wraps around the end", ringBufferSize - 4, []string{"[vmm] fault\n"}, "[vmm] fault\n"},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			rb := ringBuffer{rIndex: spec.start, wIndex: spec.start}
			for _, w := range spec.writes {
				if n, err := rb.Write([]byte(w)); err != nil || n != len(w) {
					t.Fatalf("expected Write to accept %d bytes; got %d, %v", len(w), n, err)
				}
			}

			var out bytes.Buffer
			if _, err := io.Copy(&out, &rb); err != nil {
				t.Fatal(err)
			}
			if got := out.String(); got != spec.exp {
				t.Fatalf("expected to drain %q; got %q", spec.exp, got)
			}

			if n, err := rb.Read(make([]byte, 1)); n != 0 || err != io.EOF {
				t.Fatalf("expected a drained buffer to report io.EOF; got %d, %v", n, err)
			}
		})
	}
}

func TestRingBufferKeepsNewestOutput(t *testing.T) {
	var rb ringBuffer

	oldest := strings.Repeat("a", ringBufferSize/2)
	newest := strings.Repeat("b", ringBufferSize-1)
	rb.Write([]byte(oldest))
	rb.Write([]byte(newest))

	// Read in small chunks to exercise partial reads across the wrap point.
	var (
		out   []byte
		chunk = make([]byte, 100)
	)
	for {
		n, err := rb.Read(chunk)
		out = append(out, chunk[:n]...)
		if err == io.EOF {
			break
		}
	}

	if string(out) != newest {
		t.Fatalf("expected the buffer to hold the last %d bytes written; got %d bytes starting with %q",
			len(newest), len(out), out[:1])
	}
}
