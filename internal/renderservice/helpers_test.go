package renderservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"folio/internal/render"
	"folio/internal/renderservice"
	"folio/internal/testsupport"
	"folio/internal/workerpool"
)

// fakeRenderer stands in for the decode library. Pages listed in gates block
// until the gate closes; pages in hangs block until their deadline for the
// given number of attempts.
type fakeRenderer struct {
	pages int

	mu      sync.Mutex
	renders map[int]int
	gates   map[int]chan struct{}
	hangs   map[int]int
	started chan int
}

func newRenderer(pages int) *fakeRenderer {
	return &fakeRenderer{
		pages:   pages,
		renders: make(map[int]int),
		gates:   make(map[int]chan struct{}),
		hangs:   make(map[int]int),
		started: make(chan int, 64),
	}
}

func (r *fakeRenderer) Open(string) (workerpool.Document, error) {
	return fakeDoc{r: r}, nil
}

func (r *fakeRenderer) gate(page int) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[page] = ch
	return ch
}

func (r *fakeRenderer) hang(page, attempts int) {
	r.mu.Lock()
	r.hangs[page] = attempts
	r.mu.Unlock()
}

func (r *fakeRenderer) count(page int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders[page]
}

type fakeDoc struct {
	r *fakeRenderer
}

func (d fakeDoc) PageCount() int { return d.r.pages }

func (d fakeDoc) Close() error { return nil }

func (d fakeDoc) Render(ctx context.Context, req render.Request, _ int) (*render.Response, error) {
	r := d.r
	page := req.Key.Page
	r.mu.Lock()
	r.renders[page]++
	gate := r.gates[page]
	hang := r.hangs[page] > 0
	if hang {
		r.hangs[page]--
	}
	r.mu.Unlock()

	select {
	case r.started <- page:
	default:
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &render.Response{
		Key:      req.Key,
		Viewport: req.Viewport,
		Pixels:   render.PixelBuffer{Width: 4, Height: 4, Stride: 12, Format: render.FormatRGB24, Pix: make([]byte, 48)},
		Text:     []render.TextRun{{Text: "page", Bounds: render.Rect{X1: 4, Y1: 2}}},
		Cols:     2,
		Rows:     2,
	}, nil
}

var viewport = render.Viewport{Cols: 80, Rows: 24, CellWidth: 8, CellHeight: 16}

type harness struct {
	svc  *renderservice.Service
	r    *fakeRenderer
	info render.DocumentInfo
}

func start(t *testing.T, r *fakeRenderer, mutate func(*renderservice.Options)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithPrefetchRadius(0), testsupport.WithRenderTimeoutMS(100))
	opts := renderservice.OptionsFromConfig(cfg)
	if mutate != nil {
		mutate(&opts)
	}
	svc := renderservice.New(opts, r, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(svc.Shutdown)

	info, err := svc.OpenDocument(testsupport.WriteDocument(t, "doc.pdf"))
	if err != nil {
		t.Fatalf("OpenDocument returned error: %v", err)
	}
	return &harness{svc: svc, r: r, info: info}
}

func (h *harness) key(page int) render.PageKey {
	return render.NewPageKey(h.info.ID, page, 1, 0)
}

func (h *harness) request(t *testing.T, page int) renderservice.Subscription {
	t.Helper()
	sub, err := h.svc.RequestPage(h.key(page), viewport)
	if err != nil {
		t.Fatalf("RequestPage(%d) returned error: %v", page, err)
	}
	return sub
}

// waitEvent returns the next event for page, skipping others.
func (h *harness) waitEvent(t *testing.T, page int) renderservice.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.svc.Events():
			if ev.Key.Page == page {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on page %d", page)
		}
	}
}

func (h *harness) waitStarted(t *testing.T, page int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-h.r.started:
			if p == page {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for page %d to start rendering", page)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
