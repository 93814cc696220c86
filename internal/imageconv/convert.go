package imageconv

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/draw"

	"folio/internal/faults"
	"folio/internal/render"
)

// Convert produces the visible tiles of resp for target and grid.
func Convert(resp *render.Response, target Target, grid Grid) (*ConvertedImage, error) {
	page, err := prepare(resp, grid)
	if err != nil {
		return nil, err
	}
	return page.tiles(target, grid, VisibleTiles(grid, page.rows))
}

// ConvertTiles re-encodes only the strips listed in indices. Strips outside
// the visible window are skipped.
func ConvertTiles(resp *render.Response, target Target, grid Grid, indices []int) (*ConvertedImage, error) {
	page, err := prepare(resp, grid)
	if err != nil {
		return nil, err
	}
	return page.tiles(target, grid, indices)
}

// VisibleTiles returns the strip indices that intersect the window of grid
// over a page pageRows cells tall.
func VisibleTiles(grid Grid, pageRows int) []int {
	if grid.TileRows <= 0 || pageRows <= 0 {
		return nil
	}
	top, bottom := window(grid, pageRows)
	if top >= bottom {
		return nil
	}
	first := top / grid.TileRows
	last := (bottom + grid.TileRows - 1) / grid.TileRows
	out := make([]int, 0, last-first)
	for i := first; i < last; i++ {
		out = append(out, i)
	}
	return out
}

// Span is the part of a strip that falls inside the visible window.
type Span struct {
	Index     int
	Row       int
	Rows      int
	RowOffset int
}

// Spans clips the strips in indices to the window of grid over a page
// pageRows cells tall. Strips outside the window are dropped.
func Spans(grid Grid, pageRows int, indices []int) []Span {
	if grid.TileRows <= 0 {
		return nil
	}
	top, bottom := window(grid, pageRows)
	out := make([]Span, 0, len(indices))
	for _, index := range indices {
		start := max(index*grid.TileRows, top)
		end := min((index+1)*grid.TileRows, bottom)
		if index < 0 || start >= end {
			continue
		}
		out = append(out, Span{Index: index, Row: start, Rows: end - start, RowOffset: start - top})
	}
	return out
}

// Footprint returns the cell columns and rows resp occupies on grid. It
// prefers the footprint the page was rendered for.
func Footprint(resp *render.Response, grid Grid) (int, int) {
	cols, rows := resp.Cols, resp.Rows
	if cols <= 0 && grid.CellWidth > 0 {
		cols = ceilDiv(resp.Pixels.Width, grid.CellWidth)
	}
	if rows <= 0 && grid.CellHeight > 0 {
		rows = ceilDiv(resp.Pixels.Height, grid.CellHeight)
	}
	return cols, rows
}

// window returns the visible page rows [top, bottom).
func window(grid Grid, pageRows int) (int, int) {
	top := min(grid.ScrollRows, pageRows)
	bottom := pageRows
	if grid.ViewRows > 0 {
		bottom = min(top+grid.ViewRows, pageRows)
	}
	return top, bottom
}

// sourcePage is the page raster normalized to the grid's cell size.
type sourcePage struct {
	key  render.PageKey
	vp   render.Viewport
	pix  render.PixelBuffer
	cols int
	rows int
	bg   color.RGBA
}

func prepare(resp *render.Response, grid Grid) (*sourcePage, error) {
	if resp == nil {
		return nil, faults.Wrap(faults.ErrValidation, "imageconv", "convert", "nil response", nil)
	}
	if err := grid.validate(); err != nil {
		return nil, faults.Wrap(faults.ErrValidation, "imageconv", "convert", "grid", err)
	}
	if f := resp.Pixels.Format; f != render.FormatRGB24 && f != render.FormatRGBA32 {
		return nil, faults.Wrap(faults.ErrValidation, "imageconv", "convert",
			fmt.Sprintf("unsupported pixel format %d", f), nil)
	}
	pix := resp.Pixels
	bpp := pix.Format.BytesPerPixel()
	if pix.Width <= 0 || pix.Height <= 0 || pix.Stride < pix.Width*bpp || len(pix.Pix) < pix.Stride*pix.Height {
		return nil, faults.Wrap(faults.ErrValidation, "imageconv", "convert",
			fmt.Sprintf("malformed pixel buffer %dx%d stride %d len %d", pix.Width, pix.Height, pix.Stride, len(pix.Pix)), nil)
	}

	cols, rows := Footprint(resp, grid)
	// A page rendered for another cell size is resampled so its cell
	// footprint stays the same.
	if vp := resp.Viewport; vp.Valid() && (vp.CellWidth != grid.CellWidth || vp.CellHeight != grid.CellHeight) {
		pix = resample(pix, cols*grid.CellWidth, rows*grid.CellHeight)
	}

	return &sourcePage{
		key:  resp.Key,
		vp:   resp.Viewport,
		pix:  pix,
		cols: cols,
		rows: rows,
		bg:   pixelAt(pix, 0, 0),
	}, nil
}

func (p *sourcePage) tiles(target Target, grid Grid, indices []int) (*ConvertedImage, error) {
	if target.Format != render.FormatRGB24 && target.Format != render.FormatRGBA32 {
		return nil, faults.Wrap(faults.ErrValidation, "imageconv", "convert",
			fmt.Sprintf("unsupported target format %d", target.Format), nil)
	}
	out := &ConvertedImage{
		Key:      p.key,
		Target:   target,
		Cols:     p.cols,
		PageRows: p.rows,
	}
	top, bottom := window(grid, p.rows)
	out.ViewRows = bottom - top
	for _, span := range Spans(grid, p.rows, indices) {
		tile, err := p.tile(target, grid, span.Index, span.Row, span.Rows)
		if err != nil {
			return nil, err
		}
		tile.RowOffset = span.RowOffset
		out.Tiles = append(out.Tiles, tile)
	}
	return out, nil
}

// tile cuts page rows [row, row+rows) and pads the strip to exact cell bounds.
func (p *sourcePage) tile(target Target, grid Grid, index, row, rows int) (Tile, error) {
	width := p.cols * grid.CellWidth
	height := rows * grid.CellHeight
	outBPP := target.Format.BytesPerPixel()
	data := make([]byte, width*height*outBPP)
	fill(data, outBPP, p.bg)

	srcY := row * grid.CellHeight
	copyRows := min(height, p.pix.Height-srcY)
	copyCols := min(width, p.pix.Width)
	inBPP := p.pix.Format.BytesPerPixel()
	for y := range max(copyRows, 0) {
		src := p.pix.Row(srcY + y)
		dst := data[y*width*outBPP:]
		copyPixels(dst, src, copyCols, inBPP, outBPP)
	}

	tile := Tile{
		Index:   index,
		ImageID: ImageID(p.key, p.vp, row, rows, width, height),
		Row:     row,
		Cols:    p.cols,
		Rows:    rows,
		Width:   width,
		Height:  height,
		Format:  target.Format,
		Data:    data,
	}
	if target.Protocol == ProtocolDirect {
		compressed, err := compress(data)
		if err != nil {
			return Tile{}, fmt.Errorf("compress tile %d: %w", index, err)
		}
		tile.Data = compressed
		tile.Compressed = true
	}
	return tile, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resample scales pix to exactly width x height with nearest-neighbour
// sampling, keeping its pixel format.
func resample(pix render.PixelBuffer, width, height int) render.PixelBuffer {
	src := toRGBA(pix)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return fromRGBA(dst, pix.Format)
}
