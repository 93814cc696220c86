package workerpool

import (
	"context"

	"folio/internal/render"
)

// Document is a decode handle. Implementations need not be safe for
// concurrent use; each worker opens its own.
type Document interface {
	PageCount() int
	Render(ctx context.Context, req render.Request, maxDimension int) (*render.Response, error)
	Close() error
}

// Opener creates decode handles for document paths.
type Opener interface {
	Open(path string) (Document, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Document, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Document, error) {
	return f(path)
}

// PageStore is an optional second-tier cache consulted before decoding.
type PageStore interface {
	Get(ctx context.Context, req render.Request) (*render.Response, bool, error)
	Put(ctx context.Context, req render.Request, resp *render.Response) error
}
