package imageconv

import (
	"fmt"
	"hash/fnv"

	"folio/internal/render"
)

// Protocol is the transfer path tiles are prepared for.
type Protocol int

const (
	// ProtocolSharedMemory tiles carry raw pixels for a shared memory region.
	ProtocolSharedMemory Protocol = iota
	// ProtocolDirect tiles are zlib compressed for inline transfer.
	ProtocolDirect
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSharedMemory:
		return "shm"
	case ProtocolDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Target selects the protocol and pixel format of the output.
type Target struct {
	Protocol Protocol
	Format   render.PixelFormat
}

// Grid describes the terminal cell grid and the visible window over the
// page, in cell rows.
type Grid struct {
	CellWidth  int
	CellHeight int
	// TileRows is the strip height in cell rows.
	TileRows   int
	ScrollRows int
	// ViewRows is the window height; zero shows the whole page.
	ViewRows int
}

func (g Grid) validate() error {
	if g.CellWidth <= 0 || g.CellHeight <= 0 {
		return fmt.Errorf("cell size %dx%d must be positive", g.CellWidth, g.CellHeight)
	}
	if g.TileRows <= 0 {
		return fmt.Errorf("tile rows %d must be positive", g.TileRows)
	}
	if g.ScrollRows < 0 || g.ViewRows < 0 {
		return fmt.Errorf("window %d+%d must not be negative", g.ScrollRows, g.ViewRows)
	}
	return nil
}

// Tile is one strip of a page, ready for the transport.
type Tile struct {
	// Index is the strip number from the top of the page.
	Index   int
	ImageID uint32
	// Row is the first page row the tile covers; RowOffset is where that
	// row lands inside the visible window.
	Row        int
	RowOffset  int
	Cols       int
	Rows       int
	Width      int
	Height     int
	Format     render.PixelFormat
	Data       []byte
	Compressed bool
}

// ConvertedImage is the set of visible tiles of one page.
type ConvertedImage struct {
	Key      render.PageKey
	Target   Target
	Cols     int
	PageRows int
	ViewRows int
	Tiles    []Tile
}

// Bytes sums the payload of every tile.
func (c *ConvertedImage) Bytes() int {
	total := 0
	for _, t := range c.Tiles {
		total += len(t.Data)
	}
	return total
}

// ImageID derives a stable, non-zero terminal image id for the strip of key
// covering rows page rows from row, cut at width x height pixels from a
// page rendered for vp. Clipped strips, resized viewports and new cell
// sizes all get fresh ids, so a terminal never keeps showing pixels of an
// older geometry under a reused id.
func ImageID(key render.PageKey, vp render.Viewport, row, rows, width, height int) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|%d|%d|%d+%d|%dx%d@%dx%d|%dx%d",
		key.Document, key.Page, key.Zoom, key.Rotation, row, rows,
		vp.Cols, vp.Rows, vp.CellWidth, vp.CellHeight, width, height)
	id := h.Sum32() & 0x7fffffff
	if id == 0 {
		id = 1
	}
	return id
}
