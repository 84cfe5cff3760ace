package decode

// Contrast-limited adaptive histogram equalization over the luminance
// channel, applied before decoding so unevenly lit badges stay readable.
// The tile grid and clip limit follow the capture tuning the station has
// always used.
const (
	claheTiles     = 8
	claheClipLimit = 2.0
)

// equalizeCLAHE returns a contrast-normalized copy of an 8-bit grayscale
// buffer. Each tile gets a clipped-histogram lookup table; pixels are mapped
// by bilinear interpolation between the four surrounding tile tables.
func equalizeCLAHE(gray []byte, width, height int) []byte {
	if width <= 0 || height <= 0 || len(gray) < width*height {
		return gray
	}

	tilesX, tilesY := claheTiles, claheTiles
	if tilesX > width {
		tilesX = width
	}
	if tilesY > height {
		tilesY = height
	}
	tileW := (width + tilesX - 1) / tilesX
	tileH := (height + tilesY - 1) / tilesY

	luts := make([][256]byte, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, x1 := tx*tileW, (tx+1)*tileW
			y0, y1 := ty*tileH, (ty+1)*tileH
			if x1 > width {
				x1 = width
			}
			if y1 > height {
				y1 = height
			}
			luts[ty*tilesX+tx] = tileLUT(gray, width, x0, x1, y0, y1)
		}
	}

	out := make([]byte, width*height)
	for y := 0; y < height; y++ {
		gy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := clampInt(int(floor(gy)), 0, tilesY-1)
		ty1 := clampInt(ty0+1, 0, tilesY-1)
		fy := gy - floor(gy)
		if gy < 0 {
			fy = 0
		}

		for x := 0; x < width; x++ {
			gx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := clampInt(int(floor(gx)), 0, tilesX-1)
			tx1 := clampInt(tx0+1, 0, tilesX-1)
			fx := gx - floor(gx)
			if gx < 0 {
				fx = 0
			}

			v := gray[y*width+x]
			top := (1-fx)*float64(luts[ty0*tilesX+tx0][v]) + fx*float64(luts[ty0*tilesX+tx1][v])
			bottom := (1-fx)*float64(luts[ty1*tilesX+tx0][v]) + fx*float64(luts[ty1*tilesX+tx1][v])
			out[y*width+x] = byte((1-fy)*top + fy*bottom + 0.5)
		}
	}
	return out
}

// tileLUT builds the equalization table for one tile region, clipping the
// histogram and redistributing the excess across all bins.
func tileLUT(gray []byte, stride, x0, x1, y0, y1 int) [256]byte {
	var hist [256]int
	count := (x1 - x0) * (y1 - y0)
	if count <= 0 {
		var identity [256]byte
		for i := range identity {
			identity[i] = byte(i)
		}
		return identity
	}

	for y := y0; y < y1; y++ {
		row := gray[y*stride:]
		for x := x0; x < x1; x++ {
			hist[row[x]]++
		}
	}

	limit := int(claheClipLimit * float64(count) / 256)
	if limit < 1 {
		limit = 1
	}

	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	bonus := excess / 256
	rem := excess % 256
	for i := range hist {
		hist[i] += bonus
		if i < rem {
			hist[i]++
		}
	}

	var lut [256]byte
	cdf := 0
	for i := range hist {
		cdf += hist[i]
		v := cdf * 255 / count
		if v > 255 {
			v = 255
		}
		lut[i] = byte(v)
	}
	return lut
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floor(v float64) float64 {
	f := float64(int(v))
	if v < 0 && v != f {
		return f - 1
	}
	return f
}
