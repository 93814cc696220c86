package pdfdoc

import (
	"github.com/ledongthuc/pdf"

	"folio/internal/render"
)

// box is a page rectangle in PDF user space (origin bottom left).
type box struct {
	x0, y0, x1, y1 float64
}

func (b box) width() float64  { return b.x1 - b.x0 }
func (b box) height() float64 { return b.y1 - b.y0 }

var letter = box{x1: 612, y1: 792}

// geometry maps PDF user-space coordinates onto the final raster: flip to a
// top-left origin, apply the page's own /Rotate, scale, then apply the user
// rotation around the unrotated raster of srcW x srcH pixels.
type geometry struct {
	box        box
	pageRotate render.Rotation
	mag        float64
	rotation   render.Rotation
	srcW       float64
	srcH       float64
}

func (g geometry) point(x, y float64) (float64, float64) {
	px, py := x-g.box.x0, g.box.y1-y
	px, py = rotatePoint(px, py, g.pageRotate, g.box.width(), g.box.height())
	px, py = px*g.mag, py*g.mag
	return rotatePoint(px, py, g.rotation, g.srcW, g.srcH)
}

func (g geometry) rect(x0, y0, x1, y1 float64) render.Rect {
	ax, ay := g.point(x0, y0)
	bx, by := g.point(x1, y1)
	return render.Rect{X0: ax, Y0: ay, X1: bx, Y1: by}.Canonical()
}

// horizontal reports whether text baselines stay horizontal on the raster.
func (g geometry) horizontal() bool {
	return !render.NormalizeRotation(int(g.pageRotate) + int(g.rotation)).Swapped()
}

// rotatePoint rotates a point clockwise inside a w x h frame.
func rotatePoint(x, y float64, r render.Rotation, w, h float64) (float64, float64) {
	switch r {
	case 90:
		return h - y, x
	case 180:
		return w - x, h - y
	case 270:
		return y, w - x
	default:
		return x, y
	}
}

func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if val := v.Key(key); !val.IsNull() {
			return val
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// pageBox returns the visible page area: the crop box, or the media box.
func pageBox(page pdf.Value) box {
	for _, key := range []string{"CropBox", "MediaBox"} {
		arr := inherited(page, key)
		if arr.Kind() != pdf.Array || arr.Len() != 4 {
			continue
		}
		b := box{
			x0: arr.Index(0).Float64(),
			y0: arr.Index(1).Float64(),
			x1: arr.Index(2).Float64(),
			y1: arr.Index(3).Float64(),
		}
		if b.x0 > b.x1 {
			b.x0, b.x1 = b.x1, b.x0
		}
		if b.y0 > b.y1 {
			b.y0, b.y1 = b.y1, b.y0
		}
		if b.width() > 0 && b.height() > 0 {
			return b
		}
	}
	return letter
}

func inheritedRotate(page pdf.Value) render.Rotation {
	v := inherited(page, "Rotate")
	if v.Kind() != pdf.Integer {
		return 0
	}
	return render.NormalizeRotation(int(v.Int64()))
}
