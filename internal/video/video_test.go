package video_test

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/trillsolutions/scanner-app/internal/video"
)

func TestNewFrame(t *testing.T) {
	t.Parallel()

	frame, err := video.NewFrame(8, 4, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if !frame.Valid() {
		t.Error("fresh frame reported invalid")
	}
	if len(frame.Pix) != 8*4*3 {
		t.Errorf("buffer length %d, want %d", len(frame.Pix), 8*4*3)
	}

	if _, err := video.NewFrame(0, 4, 3); err == nil {
		t.Error("zero width accepted")
	}
	if _, err := video.NewFrame(8, 4, 2); err == nil {
		t.Error("2-channel layout accepted")
	}
}

func TestFrameValid(t *testing.T) {
	t.Parallel()

	var nilFrame *video.Frame
	if nilFrame.Valid() {
		t.Error("nil frame reported valid")
	}

	truncated := &video.Frame{Pix: make([]byte, 10), Width: 8, Height: 4, Channels: 3}
	if truncated.Valid() {
		t.Error("truncated buffer reported valid")
	}
}

func TestFrameGray(t *testing.T) {
	t.Parallel()

	frame, err := video.NewFrame(2, 1, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	// Pure red and pure green in BGR layout.
	frame.SetPixel(0, 0, 0, 0, 255)
	frame.SetPixel(1, 0, 0, 255, 0)

	gray := frame.Gray()
	if len(gray) != 2 {
		t.Fatalf("gray length %d, want 2", len(gray))
	}

	// BT.601: red weighs 0.299, green 0.587.
	if want := byte(299 * 255 / 1000); gray[0] != want {
		t.Errorf("red luminance = %d, want %d", gray[0], want)
	}
	if want := byte(587 * 255 / 1000); gray[1] != want {
		t.Errorf("green luminance = %d, want %d", gray[1], want)
	}
}

func TestSetPixelOutOfBounds(t *testing.T) {
	t.Parallel()

	frame, err := video.NewFrame(4, 4, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	frame.SetPixel(-1, 0, 255, 255, 255)
	frame.SetPixel(0, -1, 255, 255, 255)
	frame.SetPixel(4, 0, 255, 255, 255)
	frame.SetPixel(0, 4, 255, 255, 255)

	for i, v := range frame.Pix {
		if v != 0 {
			t.Fatalf("out-of-bounds write touched byte %d", i)
		}
	}
}

func TestDrawPolylineMarksVertices(t *testing.T) {
	t.Parallel()

	frame, err := video.NewFrame(20, 20, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	pts := []video.Point{{X: 2, Y: 2}, {X: 15, Y: 2}, {X: 15, Y: 15}, {X: 2, Y: 15}}
	video.DrawPolyline(frame, pts, 0, 255, 0)

	for _, p := range pts {
		i := (p.Y*frame.Width + p.X) * frame.Channels
		if frame.Pix[i+1] != 255 {
			t.Errorf("vertex (%d,%d) not drawn", p.X, p.Y)
		}
	}

	// Interior stays untouched.
	center := (10*frame.Width + 10) * frame.Channels
	if frame.Pix[center+1] != 0 {
		t.Error("polygon interior filled")
	}
}

func TestReplaySourceCycles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "a.png"), color.Gray{Y: 10})
	writeTestPNG(t, filepath.Join(dir, "b.png"), color.Gray{Y: 200})

	src, err := video.NewReplaySource(dir)
	if err != nil {
		t.Fatalf("NewReplaySource: %v", err)
	}

	first, ok := src.Read()
	if !ok {
		t.Fatal("first read failed")
	}
	second, ok := src.Read()
	if !ok {
		t.Fatal("second read failed")
	}
	third, ok := src.Read()
	if !ok {
		t.Fatal("third read failed")
	}

	if first.Pix[0] == second.Pix[0] {
		t.Error("consecutive frames identical, expected alternation")
	}
	if first.Pix[0] != third.Pix[0] {
		t.Error("cycle did not wrap back to the first frame")
	}
}

func TestReplaySourceEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := video.NewReplaySource(t.TempDir()); err == nil {
		t.Error("empty directory accepted")
	}
}

func TestFromImage(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})

	frame := video.FromImage(img)
	if frame.Width != 2 || frame.Height != 1 || frame.Channels != 3 {
		t.Fatalf("frame geometry %dx%dx%d", frame.Width, frame.Height, frame.Channels)
	}

	// BGR layout: red pixel has R in the third byte.
	if frame.Pix[2] != 255 || frame.Pix[0] != 0 {
		t.Errorf("pixel 0 = %v, want red in BGR", frame.Pix[0:3])
	}
	if frame.Pix[3] != 255 {
		t.Errorf("pixel 1 = %v, want blue in BGR", frame.Pix[3:6])
	}
}

func writeTestPNG(t *testing.T, path string, c color.Color) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
