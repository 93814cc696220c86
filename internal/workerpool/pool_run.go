package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"folio/internal/faults"
	"folio/internal/logging"
	"folio/internal/render"
)

type handle struct {
	doc Document
	gen uint64
}

// worker is one incarnation of a slot. A crashed worker is discarded and the
// supervisor starts a new one, with no handles, on the same slot.
type worker struct {
	pool    *Pool
	slot    *slot
	handles map[string]*handle
	logger  *slog.Logger
}

func newWorker(p *Pool, s *slot) *worker {
	return &worker{
		pool:    p,
		slot:    s,
		handles: make(map[string]*handle),
		logger:  p.logger.With(logging.Worker(s.id)),
	}
}

type outcome struct {
	resp     *render.Response
	err      error
	timedOut bool
	panicked any
	stack    []byte
}

func (p *Pool) runWorker(ctx context.Context, w *worker) {
	defer p.wg.Done()
	var current *Job
	defer func() {
		if r := recover(); r != nil {
			p.handleCrash(ctx, w, current, r, debug.Stack())
		}
	}()

	for {
		job, err := p.queue.Pop(ctx)
		if err != nil {
			w.closeAll()
			w.slot.setIdle()
			return
		}
		current = &job
		w.closeStale()

		if job.Cancelled {
			p.emit(ctx, render.Result{
				Request: job.Request,
				Fault:   render.NewFault(render.FaultCancelled, job.Request.Key.Page, nil),
				Worker:  w.slot.id,
			})
			current = nil
			continue
		}

		out := w.process(ctx, job)
		if out.panicked != nil {
			p.handleCrash(ctx, w, &job, out.panicked, out.stack)
			return
		}
		if ctx.Err() != nil && out.resp == nil {
			w.closeAll()
			w.slot.setIdle()
			return
		}
		p.emit(ctx, w.result(job, out))
		current = nil
	}
}

func (w *worker) process(ctx context.Context, job Job) outcome {
	req := job.Request
	w.slot.setRendering(req.Key)
	defer w.slot.setIdle()

	jobCtx := faults.WithPage(faults.WithWorker(faults.WithRequestID(ctx, req.ID), w.slot.id), req.Key.Page)
	logger := logging.WithContext(jobCtx, w.logger)

	if store := w.pool.opts.Store; store != nil {
		resp, ok, err := store.Get(jobCtx, req)
		if err != nil {
			logging.WarnWithContext(logger, "page store lookup failed", "page_store_read_failed",
				logging.Error(err),
				logging.Hint("run folio store clear if the store is corrupt"),
			)
		} else if ok {
			resp.FromStore = true
			logger.Debug("page served from store")
			return outcome{resp: resp}
		}
	}

	h, err := w.open(req.Path)
	if err != nil {
		return outcome{err: err}
	}

	started := time.Now()
	out := w.decode(jobCtx, h, req)
	if out.resp != nil {
		out.resp.RenderTime = time.Since(started)
		if out.resp.Footprint == 0 {
			out.resp.EstimateFootprint()
		}
		logger.Debug("page rendered",
			logging.Duration("took", out.resp.RenderTime),
			logging.Int("width", out.resp.Pixels.Width),
			logging.Int("height", out.resp.Pixels.Height),
		)
		if store := w.pool.opts.Store; store != nil {
			if err := store.Put(jobCtx, req, out.resp); err != nil {
				logging.WarnWithContext(logger, "page store write failed", "page_store_write_failed",
					logging.Error(err),
					logging.Impact("page will be re-rendered next session"),
				)
			}
		}
	}
	return out
}

// decode runs the render in its own goroutine so a stuck decode cannot hold
// the worker past the deadline. On timeout the handle is abandoned and closed
// once the decode finally returns.
func (w *worker) decode(ctx context.Context, h *handle, req render.Request) outcome {
	renderCtx, cancel := context.WithTimeout(ctx, w.pool.opts.RenderTimeout)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicked: r, stack: debug.Stack()}
			}
		}()
		resp, err := h.doc.Render(renderCtx, req, w.pool.opts.MaxDimension)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		cancel()
		if out.panicked == nil && out.err == nil && out.resp == nil {
			out.err = errors.New("decoder returned no page")
		}
		return out
	case <-renderCtx.Done():
		cancel()
		w.abandon(req.Path, h, done)
		if ctx.Err() != nil {
			return outcome{err: ctx.Err()}
		}
		return outcome{timedOut: true}
	}
}

func (w *worker) result(job Job, out outcome) render.Result {
	req := job.Request
	res := render.Result{Request: req, Worker: w.slot.id}
	switch {
	case out.timedOut:
		w.slot.recordFault()
		res.Fault = render.NewFault(render.FaultTimeout, req.Key.Page,
			fmt.Errorf("render exceeded %s", w.pool.opts.RenderTimeout))
		logging.WarnWithContext(w.logger, "page render timed out", "render_timeout",
			logging.Page(req.Key.Page),
			logging.Duration("timeout", w.pool.opts.RenderTimeout),
			logging.Hint("raise render.render_timeout_ms for very complex pages"),
			logging.Impact("page shows a failure placeholder until retried"),
		)
	case out.err != nil:
		w.slot.recordFault()
		res.Fault = render.NewFault(render.FaultDecode, req.Key.Page, out.err)
		logging.WarnWithContext(w.logger, "page decode failed", "render_decode_failed",
			logging.Page(req.Key.Page),
			logging.Error(out.err),
			logging.Impact("page shows a failure placeholder"),
		)
	default:
		w.slot.recordRendered()
		res.Response = out.resp
		res.Response.Key = req.Key
		res.Response.Viewport = req.Viewport
	}
	return res
}

func (w *worker) open(path string) (*handle, error) {
	gen := w.pool.generation(path)
	if h, ok := w.handles[path]; ok && h.gen == gen {
		return h, nil
	}
	if h, ok := w.handles[path]; ok {
		w.closeHandle(path, h)
	}
	doc, err := w.pool.opener.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrDecode, "workerpool", "open document", path, err)
	}
	h := &handle{doc: doc, gen: gen}
	w.handles[path] = h
	return h, nil
}

func (w *worker) abandon(path string, h *handle, done <-chan outcome) {
	if w.handles[path] == h {
		delete(w.handles, path)
	}
	go func() {
		<-done
		if err := h.doc.Close(); err != nil {
			w.logger.Debug("close abandoned handle", logging.Error(err))
		}
	}()
}

func (w *worker) closeStale() {
	for _, path := range w.pool.staleGenerations(w.handles) {
		w.closeHandle(path, w.handles[path])
	}
}

func (w *worker) closeAll() {
	for path, h := range w.handles {
		w.closeHandle(path, h)
	}
}

func (w *worker) closeHandle(path string, h *handle) {
	delete(w.handles, path)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("decode handle panicked on close", logging.Any("panic", r))
		}
	}()
	if err := h.doc.Close(); err != nil {
		w.logger.Debug("close decode handle", logging.String("path", path), logging.Error(err))
	}
}
