package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"folio/internal/logging"
	"folio/internal/render"
)

const (
	defaultRenderTimeout      = 10 * time.Second
	defaultSupervisorInterval = time.Second
)

// Options configures a Pool.
type Options struct {
	Workers       int
	RenderTimeout time.Duration
	// CrashRetries is how many times a job is requeued after crashing its
	// worker before a FaultCrashed is reported.
	CrashRetries       int
	MaxDimension       int
	SupervisorInterval time.Duration
	Store              PageStore
}

// Pool is a fixed set of render workers.
type Pool struct {
	opener  Opener
	queue   *Queue
	results chan<- render.Result
	logger  *slog.Logger
	opts    Options

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	slots    []*slot
	docGen   map[string]uint64
	restarts chan int
}

// New constructs a pool. Results are delivered on results, which the caller
// owns and must keep draining while the pool runs.
func New(opener Opener, queue *Queue, results chan<- render.Result, opts Options, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = defaultRenderTimeout
	}
	if opts.CrashRetries < 0 {
		opts.CrashRetries = 0
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = render.DefaultMaxDimension
	}
	if opts.SupervisorInterval <= 0 {
		opts.SupervisorInterval = defaultSupervisorInterval
	}
	return &Pool{
		opener:  opener,
		queue:   queue,
		results: results,
		logger:  logging.NewComponentLogger(logger, "workerpool"),
		opts:    opts,
		docGen:  make(map[string]uint64),
	}
}

// SetWorkerCount changes the pool size. It is only allowed before Start.
func (p *Pool) SetWorkerCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker count cannot change while the pool is running")
	}
	p.opts.Workers = n
	return nil
}

// Workers returns the configured pool size.
func (p *Pool) Workers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts.Workers
}

// Start launches the workers and the supervisor.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("worker pool already running")
	}
	if p.opener == nil || p.queue == nil || p.results == nil {
		p.mu.Unlock()
		return errors.New("worker pool not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.slots = make([]*slot, p.opts.Workers)
	for i := range p.slots {
		p.slots[i] = &slot{id: i + 1}
	}
	p.restarts = make(chan int, p.opts.Workers)
	p.wg.Add(len(p.slots) + 1)
	slots := p.slots
	p.mu.Unlock()

	for _, s := range slots {
		go p.runWorker(runCtx, newWorker(p, s))
	}
	go p.supervise(runCtx)

	p.logger.Info("worker pool started",
		logging.Int("workers", len(slots)),
		logging.Duration("render_timeout", p.opts.RenderTimeout),
	)
	return nil
}

// Stop cancels the workers and waits for them to exit. Renders already
// inside the decode library are abandoned, not awaited.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// CloseDocument tells every worker to drop its handle for path. Idle workers
// close the handle before serving their next job.
func (p *Pool) CloseDocument(path string) {
	p.mu.Lock()
	p.docGen[path]++
	p.mu.Unlock()
}

func (p *Pool) generation(path string) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.docGen[path]
}

func (p *Pool) staleGenerations(handles map[string]*handle) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var stale []string
	for path, h := range handles {
		if h.gen != p.docGen[path] {
			stale = append(stale, path)
		}
	}
	return stale
}

func (p *Pool) emit(ctx context.Context, res render.Result) bool {
	select {
	case p.results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
