package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"folio/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FOLIO_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "folio")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	wantStore := filepath.Join(tempHome, ".cache", "folio", "pages.db")
	if cfg.PageStore.Path != wantStore {
		t.Fatalf("unexpected page store path: got %q want %q", cfg.PageStore.Path, wantStore)
	}
	if cfg.PageStore.Enabled {
		t.Fatal("expected page store disabled by default")
	}
	if cfg.Render.Workers < 1 || cfg.Render.Workers > 8 {
		t.Fatalf("expected derived worker count within [1,8], got %d", cfg.Render.Workers)
	}
	if cfg.Terminal.AckRetries != 1 {
		t.Fatalf("expected default ack retries 1, got %d", cfg.Terminal.AckRetries)
	}
	if cfg.CacheBytes() != 256<<20 {
		t.Fatalf("unexpected cache bytes: %d", cfg.CacheBytes())
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
state_dir = "~/folio-state"

[render]
workers = 3
cache_mib = 30
prefetch_radius = 1

[terminal]
transfer = "DIRECT"
pixel_format = "rgba"
ack_timeout_ms = 250

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "folio-state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Render.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Render.Workers)
	}
	if cfg.CacheBytes() != 30<<20 {
		t.Fatalf("unexpected cache bytes: %d", cfg.CacheBytes())
	}
	if cfg.Terminal.Transfer != config.TransferDirect {
		t.Fatalf("expected transfer to be lowercased, got %q", cfg.Terminal.Transfer)
	}
	if cfg.Terminal.PixelFormat != config.PixelFormatRGBA {
		t.Fatalf("unexpected pixel format: %q", cfg.Terminal.PixelFormat)
	}
	if cfg.AckTimeout().Milliseconds() != 250 {
		t.Fatalf("unexpected ack timeout: %s", cfg.AckTimeout())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[render]\nthreads = 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FOLIO_TRANSFER", "none")
	t.Setenv("FOLIO_LOG_LEVEL", "WARN")

	configPath := filepath.Join(t.TempDir(), "folio.toml")
	t.Setenv("FOLIO_CONFIG", configPath)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected FOLIO_CONFIG target to be absent")
	}
	if resolved != configPath {
		t.Fatalf("expected FOLIO_CONFIG path, got %q", resolved)
	}
	if cfg.Terminal.Transfer != config.TransferNone {
		t.Fatalf("expected transfer override, got %q", cfg.Terminal.Transfer)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected log level override, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"cache", func(c *config.Config) { c.Render.CacheMiB = 0 }, "render.cache_mib must be positive"},
		{"workers", func(c *config.Config) { c.Render.Workers = 64 }, "render.workers must be at most"},
		{"prefetch", func(c *config.Config) { c.Render.PrefetchRadius = -1 }, "render.prefetch_radius"},
		{"transfer", func(c *config.Config) { c.Terminal.Transfer = "sixel" }, "terminal.transfer"},
		{"pixel format", func(c *config.Config) { c.Terminal.PixelFormat = "png" }, "terminal.pixel_format"},
		{"ack retries", func(c *config.Config) { c.Terminal.AckRetries = 5 }, "terminal.ack_retries must be between 0 and 2"},
		{"slots", func(c *config.Config) { c.Terminal.ShmSlots = 0 }, "terminal.shm_slots must be positive"},
		{"store budget", func(c *config.Config) {
			c.PageStore.Enabled = true
			c.PageStore.MaxMiB = 0
		}, "page_store.max_mib must be positive"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Render.Workers = 2
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultWorkersClamped(t *testing.T) {
	for cpus, want := range map[int]int{0: 1, 1: 1, 4: 2, 16: 8, 64: 8} {
		if got := config.DefaultWorkers(cpus); got != want {
			t.Fatalf("DefaultWorkers(%d) = %d, want %d", cpus, got, want)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid toml: %v", err)
	}
	for _, section := range []string{"paths", "render", "page_store", "terminal", "logging"} {
		if _, ok := raw[section]; !ok {
			t.Fatalf("sample missing [%s] section", section)
		}
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}
