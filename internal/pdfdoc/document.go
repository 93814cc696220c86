package pdfdoc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"folio/internal/faults"
	"folio/internal/render"
	"folio/internal/workerpool"
)

// Document is an open PDF with both a raster and a structure handle.
type Document struct {
	path   string
	raster *fitz.Document

	// The structure reader is opened lazily; text and links are best effort.
	layoutOnce sync.Once
	layoutFile *os.File
	layout     *pdf.Reader
	layoutErr  error
	pageIndex  map[string]int
}

// Open opens path for rendering.
func Open(path string) (*Document, error) {
	raster, err := fitz.New(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrDecode, "pdfdoc", "open", path, err)
	}
	return &Document{path: path, raster: raster}, nil
}

// Opener returns a workerpool.Opener backed by Open.
func Opener() workerpool.Opener {
	return workerpool.OpenerFunc(func(path string) (workerpool.Document, error) {
		doc, err := Open(path)
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.raster.NumPage()
}

// Render rasterizes one page and collects its text and link layout.
func (d *Document) Render(ctx context.Context, req render.Request, maxDimension int) (*render.Response, error) {
	page := req.Key.Page
	if page < 0 || page >= d.PageCount() {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", page+1, d.PageCount())
	}
	started := time.Now()

	bounds, err := d.raster.Bound(page)
	if err != nil {
		return nil, fmt.Errorf("page bounds: %w", err)
	}
	pageW, pageH := float64(bounds.Dx()), float64(bounds.Dy())
	if pageW <= 0 || pageH <= 0 {
		return nil, fmt.Errorf("page %d has empty bounds", page+1)
	}

	rotation := req.Key.Rotation
	fitW, fitH := pageW, pageH
	if rotation.Swapped() {
		fitW, fitH = pageH, pageW
	}
	spec := render.ComputeRaster(fitW, fitH, req.Viewport, req.Key.Zoom.Float(), maxDimension)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := d.raster.ImageDPI(page, spec.DPI())
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas := compose(img, spec, rotation)
	geom := geometry{
		mag:      spec.Mag,
		rotation: rotation,
		srcW:     pageW * spec.Mag,
		srcH:     pageH * spec.Mag,
	}

	resp := &render.Response{
		Key:      req.Key,
		Viewport: req.Viewport,
		Pixels:   packRGB(canvas),
		Scale:    spec.Mag,
		Cols:     spec.Cols,
		Rows:     spec.Rows,
	}
	if reader, err := d.structure(); err == nil {
		pg := reader.Page(page + 1)
		geom.box = pageBox(pg.V)
		geom.pageRotate = inheritedRotate(pg.V)
		resp.Text = extractText(pg, geom)
		resp.Links = d.extractLinks(pg, geom)
	}
	resp.RenderTime = time.Since(started)
	resp.EstimateFootprint()
	return resp, nil
}

// Close releases both handles.
func (d *Document) Close() error {
	var errs []error
	if d.raster != nil {
		errs = append(errs, d.raster.Close())
		d.raster = nil
	}
	if d.layoutFile != nil {
		errs = append(errs, d.layoutFile.Close())
		d.layoutFile = nil
	}
	return errors.Join(errs...)
}

func (d *Document) structure() (reader *pdf.Reader, err error) {
	d.layoutOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				d.layoutErr = fmt.Errorf("parse structure: %v", r)
			}
		}()
		file, reader, err := pdf.Open(d.path)
		if err != nil {
			d.layoutErr = err
			return
		}
		d.layoutFile = file
		d.layout = reader
	})
	return d.layout, d.layoutErr
}
