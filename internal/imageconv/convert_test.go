package imageconv_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"

	"folio/internal/faults"
	"folio/internal/imageconv"
	"folio/internal/render"
)

// page builds an RGB24 page of cols x rows cells of 2x4 pixels where every
// pixel row y has the value y in all channels.
func page(cols, rows int) *render.Response {
	width, height := cols*2, rows*4
	pix := make([]byte, width*height*3)
	for y := range height {
		for x := range width * 3 {
			pix[y*width*3+x] = byte(y)
		}
	}
	return &render.Response{
		Key:      render.NewPageKey("doc", 0, 1, 0),
		Viewport: render.Viewport{Cols: cols, Rows: rows, CellWidth: 2, CellHeight: 4},
		Pixels:   render.PixelBuffer{Width: width, Height: height, Stride: width * 3, Format: render.FormatRGB24, Pix: pix},
		Cols:     cols,
		Rows:     rows,
	}
}

var shmRGB = imageconv.Target{Protocol: imageconv.ProtocolSharedMemory, Format: render.FormatRGB24}

func TestConvertProducesOnlyVisibleTiles(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 1, ScrollRows: 3, ViewRows: 4}
	img, err := imageconv.Convert(page(3, 10), shmRGB, grid)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if len(img.Tiles) != 4 || img.ViewRows != 4 || img.PageRows != 10 || img.Cols != 3 {
		t.Fatalf("unexpected image %+v", img)
	}
	for i, tile := range img.Tiles {
		if tile.Row != 3+i || tile.RowOffset != i {
			t.Fatalf("tile %d at row %d offset %d", i, tile.Row, tile.RowOffset)
		}
		if tile.Width != 6 || tile.Height != 4 || len(tile.Data) != 6*4*3 {
			t.Fatalf("tile %d has size %dx%d len %d", i, tile.Width, tile.Height, len(tile.Data))
		}
		if got := tile.Data[0]; got != byte(tile.Row*4) {
			t.Fatalf("tile %d starts at pixel row %d, want %d", i, got, tile.Row*4)
		}
	}
}

func TestConvertClipsTilesToWindowAndPage(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 3, ScrollRows: 2, ViewRows: 10}
	img, err := imageconv.Convert(page(2, 7), shmRGB, grid)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	// Window covers rows 2..6: strips 0 (row 2), 1 (rows 3-5), 2 (row 6).
	want := []struct{ row, rows, offset int }{{2, 1, 0}, {3, 3, 1}, {6, 1, 4}}
	if len(img.Tiles) != len(want) {
		t.Fatalf("expected %d tiles, got %+v", len(want), img.Tiles)
	}
	for i, w := range want {
		tile := img.Tiles[i]
		if tile.Row != w.row || tile.Rows != w.rows || tile.RowOffset != w.offset {
			t.Fatalf("tile %d = row %d rows %d offset %d, want %+v", i, tile.Row, tile.Rows, tile.RowOffset, w)
		}
		if tile.Height != w.rows*4 {
			t.Fatalf("tile %d not padded to cell bounds: height %d", i, tile.Height)
		}
	}
}

func TestConvertPadsPartialLastRow(t *testing.T) {
	resp := page(2, 2)
	// Drop the last pixel row so the bottom cell is short.
	resp.Pixels.Height--
	resp.Pixels.Pix = resp.Pixels.Pix[:resp.Pixels.Stride*resp.Pixels.Height]

	grid := imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 1}
	img, err := imageconv.Convert(resp, shmRGB, grid)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	last := img.Tiles[len(img.Tiles)-1]
	if last.Height != 4 {
		t.Fatalf("expected padded height 4, got %d", last.Height)
	}
	// Padding uses the background sampled from the top-left pixel.
	padRow := last.Data[3*last.Width*3:]
	if padRow[0] != 0 {
		t.Fatalf("expected background padding, got %d", padRow[0])
	}
}

func TestConvertRGBAAddsOpaqueAlpha(t *testing.T) {
	target := imageconv.Target{Protocol: imageconv.ProtocolSharedMemory, Format: render.FormatRGBA32}
	img, err := imageconv.Convert(page(1, 1), target, imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 1})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	tile := img.Tiles[0]
	if len(tile.Data) != 2*4*4 || tile.Format != render.FormatRGBA32 {
		t.Fatalf("unexpected tile %+v", tile)
	}
	for i := 3; i < len(tile.Data); i += 4 {
		if tile.Data[i] != 0xff {
			t.Fatalf("expected opaque alpha at %d", i)
		}
	}
}

func TestConvertDirectCompressesTiles(t *testing.T) {
	target := imageconv.Target{Protocol: imageconv.ProtocolDirect, Format: render.FormatRGB24}
	img, err := imageconv.Convert(page(2, 2), target, imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 2})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	tile := img.Tiles[0]
	if !tile.Compressed {
		t.Fatal("expected compressed tile")
	}
	zr, err := zlib.NewReader(bytes.NewReader(tile.Data))
	if err != nil {
		t.Fatalf("zlib reader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if len(raw) != tile.Width*tile.Height*3 {
		t.Fatalf("inflated %d bytes, want %d", len(raw), tile.Width*tile.Height*3)
	}
}

func TestConvertResamplesForNewCellSize(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 4, CellHeight: 8, TileRows: 2}
	img, err := imageconv.Convert(page(3, 2), shmRGB, grid)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if img.Cols != 3 || img.PageRows != 2 {
		t.Fatalf("expected cell footprint preserved, got %dx%d", img.Cols, img.PageRows)
	}
	if tile := img.Tiles[0]; tile.Width != 12 || tile.Height != 16 {
		t.Fatalf("expected 12x16 tile, got %dx%d", tile.Width, tile.Height)
	}
}

func TestConvertTilesReencodesRequestedStrips(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 1, ViewRows: 5}
	img, err := imageconv.ConvertTiles(page(2, 8), shmRGB, grid, []int{1, 3, 6})
	if err != nil {
		t.Fatalf("ConvertTiles returned error: %v", err)
	}
	if len(img.Tiles) != 2 || img.Tiles[0].Index != 1 || img.Tiles[1].Index != 3 {
		t.Fatalf("expected strips 1 and 3 only, got %+v", img.Tiles)
	}
}

func TestVisibleTiles(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 1, CellHeight: 1, TileRows: 4, ScrollRows: 5, ViewRows: 6}
	got := imageconv.VisibleTiles(grid, 20)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected strips [1 2], got %v", got)
	}
	grid.ScrollRows = 30
	if got := imageconv.VisibleTiles(grid, 20); len(got) != 0 {
		t.Fatalf("expected no strips past the page, got %v", got)
	}
}

func TestImageIDStableAndDistinct(t *testing.T) {
	key := render.NewPageKey("doc", 4, 1.5, 90)
	vp := render.Viewport{Cols: 80, Rows: 24, CellWidth: 10, CellHeight: 20}
	id := func(vp render.Viewport, row, rows, width, height int) uint32 {
		return imageconv.ImageID(key, vp, row, rows, width, height)
	}
	if id(vp, 3, 1, 800, 20) != id(vp, 3, 1, 800, 20) {
		t.Fatal("expected stable ids")
	}
	if id(vp, 3, 1, 800, 20) == id(vp, 4, 1, 800, 20) {
		t.Fatal("expected distinct ids per row")
	}
	if id(vp, 3, 1, 800, 20) == id(vp, 3, 2, 800, 40) {
		t.Fatal("expected clipped strips to get their own id")
	}
	resized := vp
	resized.Rows = 40
	if id(vp, 3, 1, 800, 20) == id(resized, 3, 1, 800, 20) {
		t.Fatal("expected a resized viewport to get fresh ids")
	}
	if id(vp, 3, 1, 800, 20) == id(vp, 3, 1, 960, 24) {
		t.Fatal("expected a new strip geometry to get fresh ids")
	}
	if id(vp, 0, 1, 800, 20) == 0 {
		t.Fatal("image id must be non-zero")
	}
}

func TestConvertAssignsFreshIDsAfterResize(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 1}
	before, err := imageconv.Convert(page(3, 4), shmRGB, grid)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	seen := make(map[uint32]bool, len(before.Tiles))
	for _, tile := range before.Tiles {
		seen[tile.ImageID] = true
	}

	// Same page and pixels, terminal grew taller.
	taller := page(3, 4)
	taller.Viewport.Rows = 12
	after, err := imageconv.Convert(taller, shmRGB, grid)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if len(after.Tiles) != len(before.Tiles) {
		t.Fatalf("tile count changed: %d -> %d", len(before.Tiles), len(after.Tiles))
	}
	for _, tile := range after.Tiles {
		if seen[tile.ImageID] {
			t.Fatalf("tile at row %d reused id %d across viewports", tile.Row, tile.ImageID)
		}
	}

	// Larger cells stretch the strips.
	bigger := imageconv.Grid{CellWidth: 4, CellHeight: 8, TileRows: 1}
	stretched, err := imageconv.Convert(page(3, 4), shmRGB, bigger)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	for _, tile := range stretched.Tiles {
		if seen[tile.ImageID] {
			t.Fatalf("tile at row %d reused id %d across cell sizes", tile.Row, tile.ImageID)
		}
	}
}

func TestConvertRejectsMalformedInput(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 2, CellHeight: 4, TileRows: 1}
	if _, err := imageconv.Convert(nil, shmRGB, grid); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for nil response, got %v", err)
	}
	bad := page(1, 1)
	bad.Pixels.Pix = bad.Pixels.Pix[:3]
	if _, err := imageconv.Convert(bad, shmRGB, grid); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for short buffer, got %v", err)
	}
	if _, err := imageconv.Convert(page(1, 1), shmRGB, imageconv.Grid{CellWidth: 2, CellHeight: 4}); err == nil {
		t.Fatal("expected error for zero tile rows")
	}
}

func TestSpansClipToWindow(t *testing.T) {
	grid := imageconv.Grid{CellWidth: 1, CellHeight: 1, TileRows: 4, ScrollRows: 5, ViewRows: 6}
	got := imageconv.Spans(grid, 20, []int{0, 1, 2, 3})
	want := []imageconv.Span{
		{Index: 1, Row: 5, Rows: 3, RowOffset: 0},
		{Index: 2, Row: 8, Rows: 3, RowOffset: 3},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d spans, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("span %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
