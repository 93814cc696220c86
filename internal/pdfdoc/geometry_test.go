package pdfdoc

import (
	"image"
	"image/color"
	"math"
	"testing"

	"folio/internal/render"
)

func TestGeometryFlipsToTopLeftOrigin(t *testing.T) {
	g := geometry{box: letter, mag: 2, srcW: 1224, srcH: 1584}
	x, y := g.point(72, 792)
	if x != 144 || y != 0 {
		t.Fatalf("expected (144, 0), got (%v, %v)", x, y)
	}
	r := g.rect(72, 700, 172, 724)
	if r.X0 != 144 || r.X1 != 344 || r.Y0 != 136 || r.Y1 != 184 {
		t.Fatalf("unexpected rect %+v", r)
	}
}

func TestRotatePointQuarterTurns(t *testing.T) {
	const w, h = 100.0, 50.0
	cases := []struct {
		rot  render.Rotation
		x, y float64
	}{
		{0, 10, 5},
		{90, 45, 10},
		{180, 90, 45},
		{270, 5, 90},
	}
	for _, tc := range cases {
		x, y := rotatePoint(10, 5, tc.rot, w, h)
		if math.Abs(x-tc.x) > 1e-9 || math.Abs(y-tc.y) > 1e-9 {
			t.Fatalf("rotation %d: got (%v, %v) want (%v, %v)", tc.rot, x, y, tc.x, tc.y)
		}
	}
}

func TestGeometryHorizontalTracksCombinedRotation(t *testing.T) {
	if !(geometry{pageRotate: 90, rotation: 270}).horizontal() {
		t.Fatal("expected 90+270 to be horizontal")
	}
	if (geometry{rotation: 90}).horizontal() {
		t.Fatal("expected 90 to be vertical")
	}
}

func TestComposeRotatesOntoAlignedCanvas(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	spec := render.RasterSpec{Width: 4, Height: 6}

	out := compose(src, spec, 90)
	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 6 {
		t.Fatalf("expected canvas of spec size, got %v", out.Bounds())
	}
	// Clockwise: the source's top-left pixel lands in the top-right column
	// of the 2 pixel wide rotated image.
	if got := out.RGBAAt(1, 0); got.R != 255 || got.G != 0 {
		t.Fatalf("expected red pixel at (1,0), got %v", got)
	}
	if got := out.RGBAAt(3, 5); got != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("expected white padding, got %v", got)
	}
}

func TestPackRGBDropsAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	buf := packRGB(img)
	if buf.Stride != 6 || buf.Format != render.FormatRGB24 || len(buf.Pix) != 6 {
		t.Fatalf("unexpected buffer %+v", buf)
	}
	if buf.Pix[3] != 1 || buf.Pix[4] != 2 || buf.Pix[5] != 3 {
		t.Fatalf("unexpected pixel bytes %v", buf.Pix)
	}
}
