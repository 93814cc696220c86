package render

import (
	"fmt"

	"folio/internal/faults"
)

// FaultKind tags why a page failed to render.
type FaultKind int

const (
	// FaultDecode means the decode library rejected the page.
	FaultDecode FaultKind = iota + 1
	// FaultTimeout means the render exceeded its deadline.
	FaultTimeout
	// FaultCancelled means the request was superseded before it ran.
	FaultCancelled
	// FaultCrashed means the page crashed a worker more times than the pool
	// tolerates.
	FaultCrashed
)

func (k FaultKind) String() string {
	switch k {
	case FaultDecode:
		return "decode"
	case FaultTimeout:
		return "timeout"
	case FaultCancelled:
		return "cancelled"
	case FaultCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

func (k FaultKind) marker() error {
	switch k {
	case FaultDecode:
		return faults.ErrDecode
	case FaultTimeout:
		return faults.ErrTimeout
	case FaultCancelled:
		return faults.ErrCancelled
	case FaultCrashed:
		return faults.ErrWorkerCrash
	default:
		return faults.ErrTransient
	}
}

// Fault is produced instead of a Response when rendering fails.
type Fault struct {
	Kind FaultKind
	Page int
	Err  error
}

// NewFault builds a fault for a page.
func NewFault(kind FaultKind, page int, err error) *Fault {
	return &Fault{Kind: kind, Page: page, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("page %d: %s", f.Page+1, f.Kind)
	}
	return fmt.Sprintf("page %d: %s: %v", f.Page+1, f.Kind, f.Err)
}

// Unwrap exposes both the faults marker for the kind and the cause.
func (f *Fault) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind.marker()}
	}
	return []error{f.Kind.marker(), f.Err}
}
