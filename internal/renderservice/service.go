package renderservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"folio/internal/logging"
	"folio/internal/pagecache"
	"folio/internal/render"
	"folio/internal/workerpool"
)

// ErrStopped is returned by calls made after Shutdown.
var ErrStopped = errors.New("render service stopped")

// tracked is the service's view of one page key.
type tracked struct {
	state    render.State
	id       string
	viewport render.Viewport
	priority render.Priority
}

type document struct {
	info render.DocumentInfo
	refs int
}

type counters struct {
	requests         atomic.Uint64
	cacheHits        atomic.Uint64
	dedups           atomic.Uint64
	enqueued         atomic.Uint64
	prefetchEnqueued atomic.Uint64
	prefetchDropped  atomic.Uint64
	staleDiscarded   atomic.Uint64
	rendered         atomic.Uint64
	faults           atomic.Uint64
	eventsDropped    atomic.Uint64
}

// Service coordinates the page cache, the worker queue and the pool.
type Service struct {
	opts   Options
	logger *slog.Logger
	opener workerpool.Opener

	cache   *pagecache.Cache
	queue   *workerpool.Queue
	pool    *workerpool.Pool
	results chan render.Result
	events  chan Event
	done    chan struct{}

	emitMu       sync.RWMutex
	eventsClosed bool

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	docs    map[render.DocumentID]*document
	pages   map[render.PageKey]*tracked
	radius  int

	evictMu sync.Mutex
	evicted []render.PageKey

	counters counters
}

// New builds a service around opener. Nothing runs until Start.
func New(opts Options, opener workerpool.Opener, logger *slog.Logger) *Service {
	opts = opts.withDefaults()
	s := &Service{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "renderservice"),
		opener:  opener,
		queue:   workerpool.NewQueue(opts.QueueLimit),
		results: make(chan render.Result, opts.ResultsBuffer),
		events:  make(chan Event, opts.EventsBuffer),
		done:    make(chan struct{}),
		docs:    make(map[render.DocumentID]*document),
		pages:   make(map[render.PageKey]*tracked),
		radius:  opts.PrefetchRadius,
	}
	s.cache = pagecache.New(opts.CacheBytes, pagecache.WithEvictHook(s.onEvict))
	s.pool = workerpool.New(opener, s.queue, s.results, workerpool.Options{
		Workers:       opts.Workers,
		RenderTimeout: opts.RenderTimeout,
		CrashRetries:  opts.CrashRetries,
		MaxDimension:  opts.MaxDimension,
		Store:         opts.Store,
	}, logger)
	return s
}

// Start launches the worker pool and the result loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("render service already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	if err := s.pool.Start(runCtx); err != nil {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("render service started",
		logging.Int("workers", s.pool.Workers()),
		logging.Int64("cache_bytes", s.cache.Budget()),
		logging.Int("prefetch_radius", s.PrefetchRadius()),
	)
	return nil
}

// Shutdown stops the workers, closes the event channel and releases the
// page store. It is safe to call more than once.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	running := s.running
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	close(s.done)
	s.queue.Close()
	if running {
		s.pool.Stop()
		cancel()
		s.wg.Wait()
	}

	s.emitMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.emitMu.Unlock()

	if closer, ok := s.opts.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("close page store failed", logging.Error(err))
		}
	}

	stats := s.Stats()
	s.logger.Info("render service stopped",
		logging.Uint64("requests", stats.Requests),
		logging.Uint64("cache_hits", stats.CacheHits),
		logging.Uint64("rendered", stats.Rendered),
		logging.Uint64("faults", stats.Faults),
	)
}

// SetPrefetchRadius changes how many neighbours on each side are prefetched.
func (s *Service) SetPrefetchRadius(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.radius = n
	s.mu.Unlock()
}

// PrefetchRadius returns the current prefetch radius.
func (s *Service) PrefetchRadius() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radius
}

// SetCacheBudget resizes the page cache, evicting immediately if needed.
func (s *Service) SetCacheBudget(bytes int64) {
	s.cache.SetBudget(bytes)
}

// SetWorkerCount sizes the pool. It fails once the service has started.
func (s *Service) SetWorkerCount(n int) error {
	return s.pool.SetWorkerCount(n)
}

// State returns the render state of key.
func (s *Service) State(key render.PageKey) render.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyEvictionsLocked()
	return s.stateLocked(key)
}

func (s *Service) stateLocked(key render.PageKey) render.State {
	p, ok := s.pages[key]
	if !ok {
		return render.StateNotRequested
	}
	if p.state == render.StateQueued && !s.queue.Contains(key) {
		return render.StateRendering
	}
	return p.state
}

// Page returns the cached render for key.
func (s *Service) Page(key render.PageKey) (*render.Response, bool) {
	return s.cache.Get(key)
}

// onEvict runs outside the cache lock and possibly while s.mu is held, so it
// only records the key.
func (s *Service) onEvict(key render.PageKey) {
	s.evictMu.Lock()
	s.evicted = append(s.evicted, key)
	s.evictMu.Unlock()
}

func (s *Service) applyEvictionsLocked() {
	s.evictMu.Lock()
	keys := s.evicted
	s.evicted = nil
	s.evictMu.Unlock()

	for _, key := range keys {
		p, ok := s.pages[key]
		if !ok || p.state != render.StateReady {
			continue
		}
		if s.cache.Contains(key) {
			continue
		}
		delete(s.pages, key)
	}
}
