// Package decode locates and reads QR badges in video frames. Recognition is
// deliberately restricted to one symbology to keep false positives from
// unrelated markings out of the pipeline.
package decode

import (
	"image"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"

	"github.com/trillsolutions/scanner-app/internal/model"
	"github.com/trillsolutions/scanner-app/internal/video"
)

// Evaluate judges a candidate payload before the decoder commits to it. The
// first candidate that is accepted wins the frame; remaining codes are not
// evaluated (first-found, not best-found).
type Evaluate func(payload string) model.ScanDecision

// Decoder reads QR codes from frames and annotates accepted hits in place.
type Decoder struct {
	logger *slog.Logger
	reader multi.MultipleBarcodeReader
	hints  map[gozxing.DecodeHintType]interface{}
}

// New constructs a QR-only decoder.
func New(logger *slog.Logger) *Decoder {
	return &Decoder{
		logger: logger,
		reader: multiqr.NewQRCodeMultiReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode scans one frame. It returns the first payload accepted by eval and
// draws that code's boundary onto the frame; when nothing is accepted the
// frame is passed through untouched. Library failures are logged and never
// escape as faults.
func (d *Decoder) Decode(frame *video.Frame, eval Evaluate) (string, bool) {
	if frame == nil || !frame.Valid() {
		return "", false
	}

	gray := equalizeCLAHE(frame.Gray(), frame.Width, frame.Height)
	img := &image.Gray{
		Pix:    gray,
		Stride: frame.Width,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		d.logger.Error("build binary bitmap", "error", err)
		return "", false
	}

	results, err := d.reader.DecodeMultiple(bmp, d.hints)
	if err != nil {
		// NotFound is the normal no-code-in-frame outcome.
		if _, ok := err.(gozxing.NotFoundException); !ok {
			d.logger.Error("decode frame", "error", err)
		}
		return "", false
	}

	for _, res := range results {
		decision := eval(res.GetText())
		if !decision.Accepted {
			continue
		}
		drawBoundary(frame, res.GetResultPoints())
		return decision.Payload, true
	}
	return "", false
}

// drawBoundary annotates the code's bounding quadrilateral. The QR reader
// reports only the three finder patterns for codes without an alignment
// pattern; the fourth corner is completed as a parallelogram. Noisy
// detections with more than four vertices are reduced to their convex hull
// first; only an exact four-point boundary is drawn.
func drawBoundary(frame *video.Frame, points []gozxing.ResultPoint) {
	pts := make([]video.Point, 0, len(points)+1)
	for _, p := range points {
		if p == nil {
			continue
		}
		pts = append(pts, video.Point{X: int(p.GetX() + 0.5), Y: int(p.GetY() + 0.5)})
	}

	if len(pts) == 3 {
		pts = append(pts, completeQuad(pts[0], pts[1], pts[2]))
	}
	if len(pts) > 4 {
		pts = convexHull(pts)
	}
	if len(pts) != 4 {
		return
	}
	video.DrawPolyline(frame, pts, 0, 255, 0)
}

// completeQuad derives the corner opposite b given three corners a, b, c of
// a parallelogram (the finder patterns sit at bottom-left, top-left and
// top-right, so the missing corner is a + c - b).
func completeQuad(a, b, c video.Point) video.Point {
	return video.Point{X: a.X + c.X - b.X, Y: a.Y + c.Y - b.Y}
}
