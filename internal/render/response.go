package render

import (
	"sort"
	"strings"
	"time"
	"unsafe"
)

// PixelFormat describes the byte layout of a pixel buffer.
type PixelFormat int

const (
	// FormatRGB24 stores three bytes per pixel.
	FormatRGB24 PixelFormat = iota
	// FormatRGBA32 stores four bytes per pixel, non-premultiplied.
	FormatRGBA32
)

// BytesPerPixel returns the pixel size of the format.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatRGBA32 {
		return 4
	}
	return 3
}

func (f PixelFormat) String() string {
	if f == FormatRGBA32 {
		return "rgba32"
	}
	return "rgb24"
}

// PixelBuffer is a packed raster with an explicit stride.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Pix    []byte
}

// Row returns the bytes of row y without padding.
func (b PixelBuffer) Row(y int) []byte {
	start := y * b.Stride
	return b.Pix[start : start+b.Width*b.Format.BytesPerPixel()]
}

// Rect is an axis-aligned rectangle in raster pixels, X0/Y0 inclusive.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X0 && x < r.X1 && y >= r.Y0 && y < r.Y1
}

// Intersects reports whether the two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// Canonical returns the rectangle with ordered corners.
func (r Rect) Canonical() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// TextRun is a run of text on one line with its raster bounds.
type TextRun struct {
	Text   string
	Bounds Rect
	// Offset is the rune offset of the run within the page text.
	Offset int
	// CharX holds the left edge of each rune, in raster pixels.
	CharX []float32
}

// ExternalLink marks a LinkRect whose target is a URI.
const ExternalLink = -1

// LinkRect is a clickable region. Page is a zero-based target page for
// internal links, or ExternalLink when URI is set.
type LinkRect struct {
	Bounds Rect
	URI    string
	Page   int
}

// Internal reports whether the link targets a page in the same document.
func (l LinkRect) Internal() bool {
	return l.Page >= 0
}

// Response is a rendered page.
type Response struct {
	Key      PageKey
	Viewport Viewport
	Pixels   PixelBuffer
	Text     []TextRun
	Links    []LinkRect
	// Scale is the output magnification in pixels per PDF point.
	Scale float64
	// Cols and Rows give the cell footprint of the raster.
	Cols       int
	Rows       int
	Footprint  int64
	RenderTime time.Duration
	FromStore  bool
}

const (
	runOverhead  = int64(unsafe.Sizeof(TextRun{}))
	linkOverhead = int64(unsafe.Sizeof(LinkRect{}))
	respOverhead = int64(unsafe.Sizeof(Response{}))
)

// EstimateFootprint computes the memory charged to the cache for this
// response and stores it in Footprint.
func (r *Response) EstimateFootprint() int64 {
	total := respOverhead + int64(cap(r.Pixels.Pix))
	for _, run := range r.Text {
		total += runOverhead + int64(len(run.Text)) + int64(cap(run.CharX))*4
	}
	for _, link := range r.Links {
		total += linkOverhead + int64(len(link.URI))
	}
	r.Footprint = total
	return total
}

// LinkAt returns the link under the raster point, if any.
func (r *Response) LinkAt(x, y float64) (LinkRect, bool) {
	for _, link := range r.Links {
		if link.Bounds.Contains(x, y) {
			return link, true
		}
	}
	return LinkRect{}, false
}

// TextIn returns the text inside a raster rectangle. Runs are ordered top to
// bottom and left to right; runs on different lines are joined by newlines.
// Partially covered runs contribute only the runes whose left edge falls
// inside the rectangle.
func (r *Response) TextIn(sel Rect) string {
	sel = sel.Canonical()
	if sel.Empty() {
		return ""
	}
	hits := make([]TextRun, 0, 8)
	for _, run := range r.Text {
		if run.Bounds.Intersects(sel) {
			hits = append(hits, run)
		}
	}
	if len(hits) == 0 {
		return ""
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if sameLine(hits[i].Bounds, hits[j].Bounds) {
			return hits[i].Bounds.X0 < hits[j].Bounds.X0
		}
		return hits[i].Bounds.Y0 < hits[j].Bounds.Y0
	})

	var b strings.Builder
	var prev Rect
	for i, run := range hits {
		if i > 0 {
			if sameLine(prev, run.Bounds) {
				b.WriteByte(' ')
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(clipRun(run, sel))
		prev = run.Bounds
	}
	return b.String()
}

func clipRun(run TextRun, sel Rect) string {
	runes := []rune(run.Text)
	if len(run.CharX) != len(runes) {
		return run.Text
	}
	var b strings.Builder
	for i, ch := range runes {
		x := float64(run.CharX[i])
		if x >= sel.X0 && x < sel.X1 {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func sameLine(a, b Rect) bool {
	midA := (a.Y0 + a.Y1) / 2
	midB := (b.Y0 + b.Y1) / 2
	return midA >= b.Y0 && midA < b.Y1 || midB >= a.Y0 && midB < a.Y1
}
