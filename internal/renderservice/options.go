package renderservice

import (
	"runtime"
	"time"

	"folio/internal/config"
	"folio/internal/render"
	"folio/internal/workerpool"
)

const (
	defaultEventsBuffer  = 64
	defaultResultsBuffer = 32
)

// Inspector reads document metadata without going through a worker.
type Inspector func(path string) (render.DocumentInfo, error)

// Options configures a Service.
type Options struct {
	Workers        int
	CacheBytes     int64
	PrefetchRadius int
	QueueLimit     int
	RenderTimeout  time.Duration
	CrashRetries   int
	MaxDimension   int
	EventsBuffer   int
	ResultsBuffer  int
	Store          workerpool.PageStore
	Inspect        Inspector
}

// OptionsFromConfig maps the [render] section onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:        cfg.Render.Workers,
		CacheBytes:     cfg.CacheBytes(),
		PrefetchRadius: cfg.Render.PrefetchRadius,
		QueueLimit:     cfg.Render.QueueLimit,
		RenderTimeout:  cfg.RenderTimeout(),
		CrashRetries:   cfg.Render.CrashRetries,
		MaxDimension:   cfg.Render.MaxDimension,
		EventsBuffer:   cfg.Render.EventsBuffer,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = config.DefaultWorkers(runtime.NumCPU())
	}
	if o.PrefetchRadius < 0 {
		o.PrefetchRadius = 0
	}
	if o.EventsBuffer <= 0 {
		o.EventsBuffer = defaultEventsBuffer
	}
	if o.ResultsBuffer <= 0 {
		o.ResultsBuffer = defaultResultsBuffer
	}
	return o
}
