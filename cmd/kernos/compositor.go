package main

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"kernos/kernel/kfmt"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
)

const (
	titleBarHeight = 12
	borderWidth    = 1
)

var (
	colorDesktop  = color.RGBA{R: 0x00, G: 0x80, B: 0x80, A: 0xff}
	colorWindow   = color.RGBA{R: 0xc6, G: 0xc6, B: 0xc6, A: 0xff}
	colorTitleBar = color.RGBA{R: 0x00, G: 0x00, B: 0x84, A: 0xff}
	colorTitle    = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

var titleFont = &tinyfont.TomThumb

// canvas is a window's pixel buffer.
type canvas struct {
	img *image.RGBA
}

var _ drivers.Displayer = (*canvas)(nil)

func (c *canvas) Size() (x, y int16) {
	b := c.img.Bounds()
	return int16(b.Dx()), int16(b.Dy())
}

func (c *canvas) SetPixel(x, y int16, col color.RGBA) {
	c.img.SetRGBA(int(x), int(y), col)
}

func (c *canvas) Display() error { return nil }

type window struct {
	title  string
	pos    image.Point
	canvas *canvas
}

// screenCompositor renders windows into an off-screen frame buffer and
// mirrors their text on the console. Callers hold the critical section.
type screenCompositor struct {
	out     io.Writer
	screen  *image.RGBA
	windows map[uint32]*window
	nextID  uint32
}

func newScreenCompositor(out io.Writer, width, height int) *screenCompositor {
	screen := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(screen, screen.Bounds(), image.NewUniform(colorDesktop), image.Point{}, draw.Src)

	return &screenCompositor{
		out:     out,
		screen:  screen,
		windows: make(map[uint32]*window),
		nextID:  1,
	}
}

// OpenWindow creates a w x h window at (x, y) with a title bar and returns
// its layer id.
func (c *screenCompositor) OpenWindow(w, h, x, y int, title string) uint32 {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorWindow), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(borderWidth, borderWidth, w-borderWidth, titleBarHeight),
		image.NewUniform(colorTitleBar), image.Point{}, draw.Src)

	win := &window{title: title, pos: image.Pt(x, y), canvas: &canvas{img: img}}
	tinyfont.WriteLine(win.canvas, titleFont, 3, titleBarHeight-3, title, colorTitle)

	id := c.nextID
	c.nextID++
	c.windows[id] = win

	c.Draw(id)

	kfmt.Fprintf(c.out, "[window %d] %q %dx%d at (%d,%d)\n", id, title, w, h, x, y)
	return id
}

// WriteString renders s with its baseline at (x, y) inside the window.
func (c *screenCompositor) WriteString(layerID uint32, x, y int, rgb uint32, s string) bool {
	win, ok := c.windows[layerID]
	if !ok {
		return false
	}

	col := color.RGBA{R: uint8(rgb >> 16), G: uint8(rgb >> 8), B: uint8(rgb), A: 0xff}
	tinyfont.WriteLine(win.canvas, titleFont, int16(x), int16(y), s, col)

	kfmt.Fprintf(c.out, "[window %d %s] (%d,%d) #%06x %s\n", layerID, win.title, x, y, rgb, s)
	return true
}

// Draw copies a window onto the screen.
func (c *screenCompositor) Draw(layerID uint32) {
	win, ok := c.windows[layerID]
	if !ok {
		return
	}

	src := win.canvas.img
	dst := src.Bounds().Add(win.pos)
	draw.Draw(c.screen, dst, src, image.Point{}, draw.Src)
}

// ScreenSize returns the frame buffer dimensions.
func (c *screenCompositor) ScreenSize() (w, h int) {
	b := c.screen.Bounds()
	return b.Dx(), b.Dy()
}

// Screen returns the frame buffer.
func (c *screenCompositor) Screen() *image.RGBA { return c.screen }
