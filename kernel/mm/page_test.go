package mm

import "testing"

func TestFrameMethods(t *testing.T) {
	for frameIndex := uintptr(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := frameIndex<<PageShift, frame.Address(); got != exp {
			t.Errorf("expected frame %d Address() to return %x; got %x", frameIndex, exp, got)
		}
	}

	if InvalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFromAddress(t *testing.T) {
	specs := []struct {
		input uintptr
		exp   uintptr
	}{
		{0, 0},
		{4095, 0},
		{4096, 1},
		{4123, 1},
		{0xffff800000001fff, 0xffff800000001},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != Frame(spec.exp) {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, spec.exp, got)
		}
		if got := PageFromAddress(spec.input); got != Page(spec.exp) {
			t.Errorf("[spec %d] expected page %d; got %d", specIndex, spec.exp, got)
		}
		if got := PageFromAddress(spec.input).Address(); got != AlignDown(spec.input) {
			t.Errorf("[spec %d] expected page address %x; got %x", specIndex, AlignDown(spec.input), got)
		}
	}
}

func TestAlignment(t *testing.T) {
	specs := []struct {
		size, pages, up uintptr
	}{
		{0, 0, 0},
		{1, 1, PageSize},
		{PageSize, 1, PageSize},
		{PageSize + 1, 2, 2 * PageSize},
		{3*PageSize - 7, 3, 3 * PageSize},
	}

	for specIndex, spec := range specs {
		if got := PagesFor(spec.size); got != spec.pages {
			t.Errorf("[spec %d] expected PagesFor(%d) = %d; got %d", specIndex, spec.size, spec.pages, got)
		}
		if got := AlignUp(spec.size); got != spec.up {
			t.Errorf("[spec %d] expected AlignUp(%d) = %d; got %d", specIndex, spec.size, spec.up, got)
		}
	}
}

func TestSize(t *testing.T) {
	specs := []struct {
		size      Size
		expStr    string
		expFrames uintptr
	}{
		{0, "0 B", 0},
		{100, "100 B", 0},
		{4 * Kb, "4 KiB", 1},
		{1536 * Kb, "1536 KiB", 384},
		{64 * Mb, "64 MiB", 16384},
		{2 * Gb, "2 GiB", 524288},
	}

	for specIndex, spec := range specs {
		if got := spec.size.String(); got != spec.expStr {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.expStr, got)
		}
		if got := spec.size.Frames(); got != spec.expFrames {
			t.Errorf("[spec %d] expected %d frames; got %d", specIndex, spec.expFrames, got)
		}
	}
}
