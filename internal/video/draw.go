package video

// DrawPolyline draws a closed polygon onto the frame with the given BGR
// color and a 2 pixel stroke.
func DrawPolyline(f *Frame, pts []Point, b, g, r byte) {
	if f == nil || !f.Valid() || len(pts) < 2 {
		return
	}
	for i := range pts {
		next := pts[(i+1)%len(pts)]
		drawLine(f, pts[i], next, b, g, r)
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm, thickened by one
// pixel on each axis.
func drawLine(f *Frame, from, to Point, b, g, r byte) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)

	sx := 1
	if from.X > to.X {
		sx = -1
	}
	sy := 1
	if from.Y > to.Y {
		sy = -1
	}

	x, y := from.X, from.Y
	err := dx + dy

	for {
		f.SetPixel(x, y, b, g, r)
		f.SetPixel(x+1, y, b, g, r)
		f.SetPixel(x, y+1, b, g, r)

		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
