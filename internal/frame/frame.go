// Package frame holds the in-memory video frame handed to the measurement core.
// Decoding from any wire or file format happens before a Frame is built.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Frame is a packed 8-bit RGB pixel array. Pix holds Width*Height*3 bytes in
// row-major order. Frame implements image.Image so detectors that already
// speak the image package can consume it directly.
type Frame struct {
	Pix       []uint8
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// New allocates a black frame of the given size.
func New(width, height int, ts time.Time) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Pix:       make([]uint8, width*height*3),
		Width:     width,
		Height:    height,
		Timestamp: ts,
	}
}

// FromRGB wraps an existing packed RGB buffer without copying it.
func FromRGB(pix []uint8, width, height int, ts time.Time) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("pixel buffer has %d bytes, want %d for %dx%d RGB", len(pix), width*height*3, width, height)
	}
	return &Frame{Pix: pix, Width: width, Height: height, Timestamp: ts}, nil
}

// FromImage copies any image.Image into a new Frame.
func FromImage(img image.Image, ts time.Time) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy(), ts)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Pix[i] = uint8(r >> 8)
			f.Pix[i+1] = uint8(g >> 8)
			f.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return f
}

// ColorModel implements image.Image.
func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

// At implements image.Image.
func (f *Frame) At(x, y int) color.Color {
	r, g, b := f.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// RGBAt returns the pixel at (x, y), or black outside the frame.
func (f *Frame) RGBAt(x, y int) (r, g, b uint8) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0, 0, 0
	}
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set writes one pixel; writes outside the frame are ignored.
func (f *Frame) Set(x, y int, r, g, b uint8) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := (y*f.Width + x) * 3
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}

// Fill paints rect (clipped to the frame) with a single color.
func (f *Frame) Fill(rect image.Rectangle, r, g, b uint8) {
	rect = rect.Intersect(f.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			f.Set(x, y, r, g, b)
		}
	}
}

// MeanRGB averages each channel over rect, clipped to the frame. It returns
// the number of pixels averaged; n == 0 means the rectangle missed the frame.
func (f *Frame) MeanRGB(rect image.Rectangle) (r, g, b float64, n int) {
	rect = rect.Intersect(f.Bounds())
	if rect.Empty() {
		return 0, 0, 0, 0
	}
	var sr, sg, sb uint64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := (y*f.Width + rect.Min.X) * 3
		for x := rect.Min.X; x < rect.Max.X; x++ {
			sr += uint64(f.Pix[row])
			sg += uint64(f.Pix[row+1])
			sb += uint64(f.Pix[row+2])
			row += 3
		}
	}
	n = rect.Dx() * rect.Dy()
	return float64(sr) / float64(n), float64(sg) / float64(n), float64(sb) / float64(n), n
}

// Luma converts one RGB pixel to gray using the ITU-R BT.601 weights.
func Luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// Gray returns the frame as a row-major grayscale plane.
func (f *Frame) Gray() []float64 {
	out := make([]float64, f.Width*f.Height)
	for i := range out {
		p := i * 3
		out[i] = Luma(f.Pix[p], f.Pix[p+1], f.Pix[p+2])
	}
	return out
}

// Empty reports whether the frame holds no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0
}
