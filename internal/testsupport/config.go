package testsupport

import (
	"path/filepath"
	"testing"

	"folio/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.PageStore.Path = filepath.Join(base, "cache", "pages.db")
	cfgVal.Render.Workers = 2
	cfgVal.Render.RenderTimeoutMS = 2000
	cfgVal.Terminal.Transfer = config.TransferNone

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Render.Workers = n
	}
}

// WithCacheMiB overrides the in-memory page cache budget.
func WithCacheMiB(mib int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Render.CacheMiB = mib
	}
}

// WithPrefetchRadius overrides the neighbour prefetch radius.
func WithPrefetchRadius(radius int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Render.PrefetchRadius = radius
	}
}

// WithRenderTimeoutMS overrides the per-page render deadline.
func WithRenderTimeoutMS(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Render.RenderTimeoutMS = ms
	}
}

// WithPageStore enables the persistent page store inside the temp tree.
func WithPageStore() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.PageStore.Enabled = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
