package render

import (
	"fmt"
	"math"
)

// DocumentID is the content fingerprint of an open document.
type DocumentID string

// Short returns an abbreviated id for log lines.
func (id DocumentID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// Scale is a user zoom factor stored in millionths so PageKey stays
// comparable and free of float rounding drift.
type Scale int64

const scaleUnit = 1_000_000

// ScaleOne is 100% zoom.
const ScaleOne Scale = scaleUnit

// NewScale converts a zoom factor such as 1.25 to a Scale.
func NewScale(f float64) Scale {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return ScaleOne
	}
	return Scale(math.Round(f * scaleUnit))
}

// Float returns the zoom factor.
func (s Scale) Float() float64 {
	return float64(s) / scaleUnit
}

func (s Scale) String() string {
	return fmt.Sprintf("%.0f%%", s.Float()*100)
}

// Rotation is a clockwise page rotation in degrees: 0, 90, 180, or 270.
type Rotation int

// NormalizeRotation folds any multiple of 90 degrees into [0, 360) and snaps
// other values to the nearest quarter turn.
func NormalizeRotation(deg int) Rotation {
	quarter := int(math.Round(float64(deg)/90)) % 4
	if quarter < 0 {
		quarter += 4
	}
	return Rotation(quarter * 90)
}

// Swapped reports whether the rotation exchanges width and height.
func (r Rotation) Swapped() bool {
	return r == 90 || r == 270
}

// PageKey identifies a cached render. Page is zero-based.
type PageKey struct {
	Document DocumentID
	Page     int
	Zoom     Scale
	Rotation Rotation
}

// NewPageKey builds a key with normalized zoom and rotation.
func NewPageKey(doc DocumentID, page int, zoom float64, rotation int) PageKey {
	return PageKey{
		Document: doc,
		Page:     page,
		Zoom:     NewScale(zoom),
		Rotation: NormalizeRotation(rotation),
	}
}

// WithPage returns the key for another page at the same zoom and rotation.
func (k PageKey) WithPage(page int) PageKey {
	k.Page = page
	return k
}

func (k PageKey) String() string {
	return fmt.Sprintf("%s#%d@%s/%d", k.Document.Short(), k.Page, k.Zoom, k.Rotation)
}
