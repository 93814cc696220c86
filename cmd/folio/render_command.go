package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/config"
	"folio/internal/render"
	"folio/internal/termcaps"
)

type viewFlags struct {
	page     int
	zoom     float64
	rotation int
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.page, "page", "p", 1, "Page number (1-based)")
	cmd.Flags().Float64VarP(&f.zoom, "zoom", "z", 1, "Zoom factor relative to fit-to-viewport")
	cmd.Flags().IntVarP(&f.rotation, "rotate", "r", 0, "Rotation in degrees (multiple of 90)")
}

func (f *viewFlags) validate(pages int) error {
	if f.page < 1 || (pages > 0 && f.page > pages) {
		return fmt.Errorf("page %d out of range (document has %d pages)", f.page, pages)
	}
	if f.zoom <= 0 {
		return fmt.Errorf("zoom must be positive, got %g", f.zoom)
	}
	if f.rotation%90 != 0 {
		return fmt.Errorf("rotation must be a multiple of 90, got %d", f.rotation)
	}
	return nil
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var view viewFlags
	var outPath string
	var cols, rows int
	var cell string

	cmd := &cobra.Command{
		Use:   "render <file.pdf>",
		Short: "Render one page to a PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outPath) == "" {
				return fmt.Errorf("--out is required")
			}
			cellW, cellH, err := parseCell(cell)
			if err != nil {
				return err
			}
			vp := render.Viewport{Cols: cols, Rows: rows, CellWidth: cellW, CellHeight: cellH}
			if !vp.Valid() {
				return fmt.Errorf("invalid viewport %dx%d cells of %s", cols, rows, cell)
			}

			eng, err := startEngine(cmd.Context(), ctx, args[0])
			if err != nil {
				return err
			}
			defer eng.close()
			if err := view.validate(eng.info.Pages); err != nil {
				return err
			}

			resp, err := eng.renderPage(cmd.Context(), eng.key(view.page-1, view.zoom, view.rotation), vp)
			if err != nil {
				return err
			}
			target, err := config.ExpandPath(outPath)
			if err != nil {
				return err
			}
			if err := writePNG(target, resp.Pixels); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote page %d (%dx%d px, %dx%d cells) to %s\n",
				view.page, resp.Pixels.Width, resp.Pixels.Height, resp.Cols, resp.Rows, target)
			return nil
		},
	}

	view.register(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination PNG file")
	cmd.Flags().IntVar(&cols, "cols", 80, "Viewport width in cells")
	cmd.Flags().IntVar(&rows, "rows", 24, "Viewport height in cells")
	cmd.Flags().StringVar(&cell, "cell", fmt.Sprintf("%dx%d", termcaps.DefaultCellWidth, termcaps.DefaultCellHeight), "Cell size in pixels as WxH")
	return cmd
}

// parseCell parses "WxH" pixel cell sizes.
func parseCell(value string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("cell size %q: want WxH", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("cell size %q: invalid width", value)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("cell size %q: invalid height", value)
	}
	return width, height, nil
}

func writePNG(path string, pix render.PixelBuffer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(file, toImage(pix)); err != nil {
		file.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return file.Close()
}

func toImage(pix render.PixelBuffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, pix.Width, pix.Height))
	bpp := pix.Format.BytesPerPixel()
	for y := 0; y < pix.Height; y++ {
		src := pix.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+pix.Width*4]
		for x := 0; x < pix.Width; x++ {
			copy(dst[x*4:x*4+3], src[x*bpp:x*bpp+3])
			if bpp == 4 {
				dst[x*4+3] = src[x*bpp+3]
			} else {
				dst[x*4+3] = 0xff
			}
		}
	}
	return img
}
