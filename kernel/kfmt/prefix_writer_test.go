package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriterSplitWrites(t *testing.T) {
	specs := []struct {
		writes []string
		exp    string
	}{
		{nil, ""},
		{[]string{"\n"}, "[vmm] \n"},
		{[]string{"mapped 3 pages"}, "[vmm] mapped 3 pages"},
		{[]string{"mapped ", "3 pages\n"}, "[vmm] mapped 3 pages\n"},
		{[]string{"one\ntwo\n", "three"}, "[vmm] one\n[vmm] two\n[vmm] three"},
		{[]string{"one", "\n", "\n", "two\n"}, "[vmm] one\n[vmm] \n[vmm] two\n"},
	}

	for specIndex, spec := range specs {
		var (
			buf bytes.Buffer
			w   = &PrefixWriter{Sink: &buf, Prefix: []byte("[vmm] ")}
		)

		for _, in := range spec.writes {
			n, err := w.Write([]byte(in))
			if err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}
			if n != len(in) {
				t.Errorf("[spec %d] expected Write to report %d bytes without the prefix; got %d", specIndex, len(in), n)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

type failingWriter struct {
	// failAfter is the number of writes that succeed.
	failAfter int
	err       error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failAfter == 0 {
		return 0, w.err
	}
	w.failAfter--
	return len(p), nil
}

func TestPrefixWriterSinkErrors(t *testing.T) {
	errSink := errors.New("sink closed")

	specs := []struct {
		descr     string
		failAfter int
		expN      int
	}{
		{"prefix write fails", 0, 0},
		{"line write fails", 1, 0},
		{"second prefix write fails", 2, 4},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			w := &PrefixWriter{Sink: &failingWriter{failAfter: spec.failAfter, err: errSink}, Prefix: []byte("> ")}

			n, err := w.Write([]byte("one\ntwo\n"))
			if err != errSink {
				t.Fatalf("expected error %v; got %v", errSink, err)
			}
			if n != spec.expN {
				t.Fatalf("expected %d bytes to be reported; got %d", spec.expN, n)
			}
		})
	}
}
