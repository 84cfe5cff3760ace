package video

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ReplaySource cycles through still images in a directory, standing in for a
// camera during bench testing. Frames are decoded lazily and served in name
// order, looping forever.
type ReplaySource struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// NewReplaySource lists the .png and .jpg files under dir.
func NewReplaySource(dir string) (*ReplaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(paths)

	return &ReplaySource{paths: paths}, nil
}

// Read decodes the next image in the cycle.
func (s *ReplaySource) Read() (*Frame, bool) {
	s.mu.Lock()
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, false
	}
	return FromImage(img), true
}

// FromImage converts a decoded image into a 3-channel BGR frame.
func FromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	frame := &Frame{
		Pix:      make([]byte, bounds.Dx()*bounds.Dy()*3),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: 3,
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			frame.Pix[i] = byte(b >> 8)
			frame.Pix[i+1] = byte(g >> 8)
			frame.Pix[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return frame
}
