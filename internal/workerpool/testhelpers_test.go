package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"folio/internal/render"
	"folio/internal/workerpool"
)

type renderFunc func(ctx context.Context, req render.Request) (*render.Response, error)

type fakeOpener struct {
	mu     sync.Mutex
	opened int
	closed atomic.Int32
	fn     renderFunc
	err    error
}

func (o *fakeOpener) Open(path string) (workerpool.Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.opened++
	return &fakeDoc{opener: o}, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

type fakeDoc struct {
	opener *fakeOpener
}

func (d *fakeDoc) PageCount() int { return 100 }

func (d *fakeDoc) Render(ctx context.Context, req render.Request, _ int) (*render.Response, error) {
	if d.opener.fn != nil {
		return d.opener.fn(ctx, req)
	}
	return pixels(req), nil
}

func (d *fakeDoc) Close() error {
	d.opener.closed.Add(1)
	return nil
}

func pixels(req render.Request) *render.Response {
	return &render.Response{
		Key:    req.Key,
		Pixels: render.PixelBuffer{Width: 2, Height: 2, Stride: 6, Pix: make([]byte, 12)},
	}
}

func request(page int, priority render.Priority) render.Request {
	return render.Request{
		ID:       "req",
		Key:      render.NewPageKey("doc", page, 1, 0),
		Priority: priority,
		Path:     "/docs/a.pdf",
		Viewport: render.Viewport{Cols: 10, Rows: 10, CellWidth: 8, CellHeight: 16},
	}
}

type poolHarness struct {
	pool    *workerpool.Pool
	queue   *workerpool.Queue
	results chan render.Result
	cancel  context.CancelFunc
}

func startPool(t *testing.T, opener workerpool.Opener, opts workerpool.Options) *poolHarness {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	if opts.SupervisorInterval == 0 {
		opts.SupervisorInterval = 10 * time.Millisecond
	}
	queue := workerpool.NewQueue(16)
	results := make(chan render.Result, 16)
	pool := workerpool.New(opener, queue, results, opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(func() {
		pool.Stop()
		queue.Close()
		cancel()
	})
	return &poolHarness{pool: pool, queue: queue, results: results, cancel: cancel}
}

func (h *poolHarness) push(t *testing.T, req render.Request) {
	t.Helper()
	if _, err := h.queue.Push(req); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
}

func (h *poolHarness) next(t *testing.T) render.Result {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	return render.Result{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var errBadPage = errors.New("bad page")
