package render

import "math"

// DefaultMaxDimension is the largest raster edge Kitty accepts.
const DefaultMaxDimension = 10000

// RasterSpec is the output geometry for one page.
type RasterSpec struct {
	Width  int
	Height int
	Cols   int
	Rows   int
	// Mag is pixels per PDF point, zoom included.
	Mag float64
}

// ComputeRaster fits a page of pageW x pageH points into the viewport, applies
// the user zoom, clamps the largest edge to maxDim, and aligns the output to
// cell boundaries: width rounds down to whole cells, height rounds up. The
// magnification is reduced to match the aligned size. Callers pass dimensions
// already swapped for 90 and 270 degree rotations.
func ComputeRaster(pageW, pageH float64, vp Viewport, zoom float64, maxDim int) RasterSpec {
	if pageW <= 0 || pageH <= 0 {
		return RasterSpec{}
	}
	if zoom <= 0 {
		zoom = 1
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	cellW, cellH := float64(vp.CellWidth), float64(vp.CellHeight)
	if cellW <= 0 || cellH <= 0 {
		cellW, cellH = 1, 1
	}
	viewW, viewH := float64(vp.Cols)*cellW, float64(vp.Rows)*cellH
	if viewW <= 0 || viewH <= 0 {
		viewW, viewH = pageW, pageH
	}

	var base float64
	if pageW/pageH > viewW/viewH {
		base = viewW / pageW
	} else {
		base = viewH / pageH
	}
	mag := base * zoom
	outW, outH := pageW*mag, pageH*mag

	if largest := math.Max(outW, outH); largest > float64(maxDim) {
		reduction := float64(maxDim) / largest
		mag *= reduction
		outW *= reduction
		outH *= reduction
	}

	alignedW := math.Max(math.Floor(outW/cellW), 1) * cellW
	alignedH := math.Max(math.Ceil(outH/cellH), 1) * cellH
	mag *= math.Min(alignedW/outW, alignedH/outH)

	return RasterSpec{
		Width:  int(alignedW),
		Height: int(alignedH),
		Cols:   int(alignedW / cellW),
		Rows:   int(alignedH / cellH),
		Mag:    mag,
	}
}

// DPI returns the resolution MuPDF rasterizes at to reach Mag.
func (s RasterSpec) DPI() float64 {
	return s.Mag * 72
}
