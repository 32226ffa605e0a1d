// Package capture obtains pixel frames of the monitored screen region.
// The capture primitive itself is an external capability hidden behind
// the Capturer interface; this package owns only the frame geometry.
package capture

import "time"

// Frame is a single capture of the monitored region.
//
// Pix holds RGBA bytes, 4 per pixel, rows top to bottom with no padding
// (stride is exactly 4*Width). Frames are shared by reference between the
// sampler and the motion gate and must not be mutated after capture.
type Frame struct {
	Pix        []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// At returns the packed RGBA value of the pixel at (x, y).
// Callers are responsible for bounds.
func (f *Frame) At(x, y int) uint32 {
	i := (y*f.Width + x) * 4
	return uint32(f.Pix[i])<<24 | uint32(f.Pix[i+1])<<16 | uint32(f.Pix[i+2])<<8 | uint32(f.Pix[i+3])
}

// Region is a screen rectangle in desktop coordinates.
type Region struct {
	X, Y, Width, Height int
}
