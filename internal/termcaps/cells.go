package termcaps

import (
	"golang.org/x/sys/unix"

	"folio/internal/faults"
)

// Fallback cell size used when the terminal does not report pixel sizes.
const (
	DefaultCellWidth  = 8
	DefaultCellHeight = 16
)

// Cells is the terminal grid and the pixel size of one cell.
type Cells struct {
	Cols   int `json:"cols"`
	Rows   int `json:"rows"`
	Width  int `json:"cell_width"`
	Height int `json:"cell_height"`
	// Estimated is set when the terminal reported no pixel size.
	Estimated bool `json:"estimated"`
}

// CellSize reads the window size of fd with TIOCGWINSZ.
func CellSize(fd int) (Cells, error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return Cells{}, faults.Wrap(faults.ErrUnsupported, "termcaps", "window size", "", err)
	}
	return cellsFromWinsize(int(ws.Col), int(ws.Row), int(ws.Xpixel), int(ws.Ypixel))
}

func cellsFromWinsize(cols, rows, xpixel, ypixel int) (Cells, error) {
	if cols <= 0 || rows <= 0 {
		return Cells{}, faults.Wrap(faults.ErrUnsupported, "termcaps", "window size", "terminal reported an empty grid", nil)
	}
	c := Cells{Cols: cols, Rows: rows}
	if xpixel <= 0 || ypixel <= 0 {
		c.Width, c.Height, c.Estimated = DefaultCellWidth, DefaultCellHeight, true
		return c, nil
	}
	c.Width = max(xpixel/cols, 1)
	c.Height = max(ypixel/rows, 1)
	return c, nil
}
