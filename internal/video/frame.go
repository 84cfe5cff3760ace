// Package video defines the frame buffer exchanged with the capture
// collaborator and the drawing primitives used to annotate it. Device
// enumeration and real capture live outside this module; the pipeline only
// depends on the Source interface.
package video

import "fmt"

// Frame is a packed 2D pixel buffer. Channels is 1 (grayscale), 3 (BGR, the
// capture convention) or 4 (BGRA). The buffer is borrowed by the pipeline for
// the duration of one decode pass and may be annotated in place.
type Frame struct {
	Pix      []byte
	Width    int
	Height   int
	Channels int
}

// Source supplies frames to the scan pipeline.
type Source interface {
	// Read returns the next frame. ok is false when no frame is available.
	Read() (frame *Frame, ok bool)
}

// Point is a pixel coordinate on a frame.
type Point struct {
	X int
	Y int
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height, channels int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	switch channels {
	case 1, 3, 4:
	default:
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	return &Frame{
		Pix:      make([]byte, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}, nil
}

// Valid reports whether the buffer is consistent with the declared geometry.
func (f *Frame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	switch f.Channels {
	case 1, 3, 4:
	default:
		return false
	}
	return len(f.Pix) >= f.Width*f.Height*f.Channels
}

// Gray returns a single luminance channel for the frame. Grayscale frames are
// copied through; color frames use BT.601 weights over the BGR layout.
func (f *Frame) Gray() []byte {
	out := make([]byte, f.Width*f.Height)
	if f.Channels == 1 {
		copy(out, f.Pix[:len(out)])
		return out
	}

	step := f.Channels
	for i, j := 0, 0; i < len(out); i, j = i+1, j+step {
		b := int(f.Pix[j])
		g := int(f.Pix[j+1])
		r := int(f.Pix[j+2])
		out[i] = byte((299*r + 587*g + 114*b) / 1000)
	}
	return out
}

// SetPixel writes a BGR color at (x, y), ignoring out-of-bounds coordinates.
func (f *Frame) SetPixel(x, y int, b, g, r byte) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := (y*f.Width + x) * f.Channels
	switch f.Channels {
	case 1:
		f.Pix[i] = byte((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
	default:
		f.Pix[i] = b
		f.Pix[i+1] = g
		f.Pix[i+2] = r
	}
}
