package workerpool

import (
	"context"
	"fmt"
	"time"

	"folio/internal/logging"
	"folio/internal/render"
)

// handleCrash runs on the crashed worker's goroutine just before it exits.
// The worker's handles are released, the job is retried or reported as
// crashed, and the slot is handed to the supervisor for restart.
func (p *Pool) handleCrash(ctx context.Context, w *worker, job *Job, value any, stack []byte) {
	w.closeAll()
	w.slot.recordRestart()

	attrs := []logging.Attr{
		logging.Any("panic", value),
		logging.String("stack", string(stack)),
		logging.Hint("the decode library crashed on this page"),
	}
	if job != nil {
		attrs = append(attrs,
			logging.Page(job.Request.Key.Page),
			logging.Int("attempt", job.Attempt+1),
		)
	}
	logging.ErrorWithContext(w.logger, "render worker crashed", "worker_crash", attrs...)

	if job != nil && !job.Cancelled {
		retry := *job
		retry.Attempt++
		if retry.Attempt <= p.opts.CrashRetries {
			if err := p.queue.Requeue(retry); err != nil {
				w.logger.Debug("requeue after crash failed", logging.Error(err))
			}
		} else {
			w.slot.recordFault()
			cause := fmt.Errorf("worker crashed %d times: %v", retry.Attempt, value)
			p.emit(ctx, render.Result{
				Request: job.Request,
				Fault:   render.NewFault(render.FaultCrashed, job.Request.Key.Page, cause),
				Worker:  w.slot.id,
			})
		}
	}

	w.slot.setIdle()
	select {
	case p.restarts <- w.slot.id:
	case <-ctx.Done():
	}
}

// supervise restarts crashed workers and reports workers that stay inside a
// single render far beyond the deadline.
func (p *Pool) supervise(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.SupervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.restarts:
			p.restart(ctx, id)
		case <-ticker.C:
			p.scanStuck()
		}
	}
}

func (p *Pool) restart(ctx context.Context, id int) {
	p.mu.RLock()
	if id < 1 || id > len(p.slots) {
		p.mu.RUnlock()
		return
	}
	s := p.slots[id-1]
	p.mu.RUnlock()

	p.wg.Add(1)
	go p.runWorker(ctx, newWorker(p, s))
	p.logger.Info("render worker restarted",
		logging.Worker(id),
		logging.Uint64("restarts", s.snapshot().Restarts),
	)
}

func (p *Pool) scanStuck() {
	p.mu.RLock()
	slots := append([]*slot(nil), p.slots...)
	p.mu.RUnlock()

	limit := 2 * p.opts.RenderTimeout
	now := time.Now()
	for _, s := range slots {
		st := s.snapshot()
		if st.State != WorkerRendering || now.Sub(st.Since) < limit || st.Reported {
			continue
		}
		s.markReported()
		logging.WarnWithContext(p.logger, "render worker stuck past deadline", "worker_stuck",
			logging.Worker(st.ID),
			logging.Page(st.Page),
			logging.Duration("elapsed", now.Sub(st.Since)),
			logging.Hint("the decode library is not honouring cancellation"),
		)
	}
}
