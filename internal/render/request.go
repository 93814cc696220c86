package render

import "time"

// Priority orders requests in the worker queue.
type Priority int

const (
	// PriorityVisible requests are served before any prefetch request.
	PriorityVisible Priority = iota
	// PriorityPrefetch requests render neighbours speculatively.
	PriorityPrefetch
)

func (p Priority) String() string {
	switch p {
	case PriorityVisible:
		return "visible"
	case PriorityPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// Viewport is the terminal area a page is fitted into.
type Viewport struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
}

// Valid reports whether every dimension is positive.
func (v Viewport) Valid() bool {
	return v.Cols > 0 && v.Rows > 0 && v.CellWidth > 0 && v.CellHeight > 0
}

// PixelSize returns the viewport size in pixels.
func (v Viewport) PixelSize() (int, int) {
	return v.Cols * v.CellWidth, v.Rows * v.CellHeight
}

// Request is one page-render job.
type Request struct {
	ID       string
	Key      PageKey
	Priority Priority
	Viewport Viewport
	// Path is the document file the worker opens.
	Path     string
	Enqueued time.Time
}

// Result is what a worker sends back for a request: exactly one of Response
// or Fault is set.
type Result struct {
	Request  Request
	Response *Response
	Fault    *Fault
	Worker   int
}

// OK reports whether the render succeeded.
func (r Result) OK() bool {
	return r.Fault == nil && r.Response != nil
}
