package render_test

import (
	"errors"
	"testing"

	"folio/internal/faults"
	"folio/internal/render"
)

func TestPageKeyNormalizesZoomAndRotation(t *testing.T) {
	a := render.NewPageKey("doc", 3, 1.25, -90)
	b := render.NewPageKey("doc", 3, 1.2500000001, 270)
	if a != b {
		t.Fatalf("expected equal keys, got %v and %v", a, b)
	}
	if a.Rotation != 270 {
		t.Fatalf("expected rotation 270, got %d", a.Rotation)
	}
	if got := render.NewScale(0).Float(); got != 1 {
		t.Fatalf("expected invalid zoom to default to 1, got %v", got)
	}
	if next := a.WithPage(4); next.Page != 4 || next.Zoom != a.Zoom {
		t.Fatalf("unexpected WithPage result: %v", next)
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := map[int]render.Rotation{0: 0, 90: 90, 180: 180, 360: 0, 450: 90, -180: 180, 100: 90}
	for in, want := range cases {
		if got := render.NormalizeRotation(in); got != want {
			t.Fatalf("NormalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestComputeRasterAlignsToCells(t *testing.T) {
	vp := render.Viewport{Cols: 80, Rows: 24, CellWidth: 10, CellHeight: 20}
	spec := render.ComputeRaster(612, 792, vp, 1, 0)

	if spec.Width%vp.CellWidth != 0 || spec.Height%vp.CellHeight != 0 {
		t.Fatalf("expected cell-aligned raster, got %dx%d", spec.Width, spec.Height)
	}
	viewW, viewH := vp.PixelSize()
	if spec.Width > viewW || spec.Height > viewH+vp.CellHeight {
		t.Fatalf("raster %dx%d does not fit viewport %dx%d", spec.Width, spec.Height, viewW, viewH)
	}
	if spec.Cols != spec.Width/vp.CellWidth || spec.Rows != spec.Height/vp.CellHeight {
		t.Fatalf("cell footprint mismatch: %+v", spec)
	}
	if spec.Mag <= 0 || spec.Mag*792 > float64(spec.Height)+0.001 {
		t.Fatalf("magnification %v overflows aligned height %d", spec.Mag, spec.Height)
	}
}

func TestComputeRasterZoomAndClamp(t *testing.T) {
	vp := render.Viewport{Cols: 100, Rows: 50, CellWidth: 10, CellHeight: 20}
	base := render.ComputeRaster(612, 792, vp, 1, 0)
	zoomed := render.ComputeRaster(612, 792, vp, 2, 0)
	if zoomed.Height <= base.Height {
		t.Fatalf("expected zoom to grow raster: base %d zoomed %d", base.Height, zoomed.Height)
	}

	clamped := render.ComputeRaster(612, 792, vp, 50, 2000)
	if clamped.Width > 2000 || clamped.Height > 2000+vp.CellHeight {
		t.Fatalf("expected raster clamped near 2000px, got %dx%d", clamped.Width, clamped.Height)
	}
}

func TestComputeRasterDegenerateInput(t *testing.T) {
	if spec := render.ComputeRaster(0, 792, render.Viewport{}, 1, 0); spec.Width != 0 {
		t.Fatalf("expected empty spec, got %+v", spec)
	}
	spec := render.ComputeRaster(100, 100, render.Viewport{Cols: 1, Rows: 1, CellWidth: 500, CellHeight: 500}, 0.01, 0)
	if spec.Cols != 1 || spec.Rows != 1 {
		t.Fatalf("expected at least one cell, got %+v", spec)
	}
}

func TestResponseTextInSelectsRunes(t *testing.T) {
	resp := &render.Response{Text: []render.TextRun{
		{Text: "world", Bounds: render.Rect{X0: 60, Y0: 0, X1: 110, Y1: 10}, CharX: []float32{60, 70, 80, 90, 100}},
		{Text: "hello", Bounds: render.Rect{X0: 0, Y0: 0, X1: 50, Y1: 10}, CharX: []float32{0, 10, 20, 30, 40}},
		{Text: "next", Bounds: render.Rect{X0: 0, Y0: 20, X1: 40, Y1: 30}, CharX: []float32{0, 10, 20, 30}},
	}}

	if got := resp.TextIn(render.Rect{X0: 0, Y0: 0, X1: 200, Y1: 40}); got != "hello world\nnext" {
		t.Fatalf("unexpected selection %q", got)
	}
	if got := resp.TextIn(render.Rect{X0: 75, Y0: 12, X1: 15, Y1: 2}); got != "llo wo" {
		t.Fatalf("unexpected clipped selection %q", got)
	}
	if got := resp.TextIn(render.Rect{X0: 500, Y0: 500, X1: 600, Y1: 600}); got != "" {
		t.Fatalf("expected empty selection, got %q", got)
	}
}

func TestResponseLinkAt(t *testing.T) {
	resp := &render.Response{Links: []render.LinkRect{
		{Bounds: render.Rect{X0: 10, Y0: 10, X1: 20, Y1: 20}, Page: 4},
		{Bounds: render.Rect{X0: 30, Y0: 30, X1: 40, Y1: 40}, URI: "https://example.com", Page: render.ExternalLink},
	}}
	link, ok := resp.LinkAt(15, 15)
	if !ok || !link.Internal() || link.Page != 4 {
		t.Fatalf("expected internal link to page 4, got %+v ok=%v", link, ok)
	}
	link, ok = resp.LinkAt(35, 35)
	if !ok || link.Internal() || link.URI == "" {
		t.Fatalf("expected external link, got %+v", link)
	}
	if _, ok := resp.LinkAt(0, 0); ok {
		t.Fatal("expected no link at origin")
	}
}

func TestEstimateFootprintCountsPixels(t *testing.T) {
	resp := &render.Response{Pixels: render.PixelBuffer{Width: 10, Height: 10, Stride: 30, Pix: make([]byte, 300)}}
	small := resp.EstimateFootprint()
	if small < 300 {
		t.Fatalf("footprint %d smaller than pixel data", small)
	}
	resp.Text = []render.TextRun{{Text: "abc", CharX: make([]float32, 3)}}
	if resp.EstimateFootprint() <= small {
		t.Fatal("expected text runs to grow footprint")
	}
	if resp.Footprint != resp.EstimateFootprint() {
		t.Fatal("expected footprint to be stored on the response")
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := [][2]render.State{
		{render.StateNotRequested, render.StateQueued},
		{render.StateQueued, render.StateRendering},
		{render.StateRendering, render.StateReady},
		{render.StateRendering, render.StateFailed},
		{render.StateReady, render.StateQueued},
		{render.StateFailed, render.StateQueued},
	}
	for _, pair := range allowed {
		if !render.CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}
	if render.CanTransition(render.StateNotRequested, render.StateRendering) {
		t.Fatal("expected NotRequested -> Rendering to be rejected")
	}
	if render.CanTransition(render.StateReady, render.StateFailed) {
		t.Fatal("expected Ready -> Failed to be rejected")
	}
}

func TestFaultUnwrapsToMarkerAndCause(t *testing.T) {
	cause := errors.New("bad xref")
	fault := render.NewFault(render.FaultDecode, 6, cause)
	if !errors.Is(fault, faults.ErrDecode) {
		t.Fatalf("expected decode marker, got %v", fault)
	}
	if !errors.Is(fault, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if fault.Error() != "page 7: decode: bad xref" {
		t.Fatalf("unexpected message %q", fault.Error())
	}
	if !errors.Is(render.NewFault(render.FaultTimeout, 1, nil), faults.ErrTimeout) {
		t.Fatal("expected timeout marker")
	}
}
