package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Render contains worker pool, cache, and prefetch settings.
type Render struct {
	// Workers is the fixed pool size. Zero derives it from runtime.NumCPU.
	Workers         int `toml:"workers"`
	CacheMiB        int `toml:"cache_mib"`
	PrefetchRadius  int `toml:"prefetch_radius"`
	QueueLimit      int `toml:"queue_limit"`
	RenderTimeoutMS int `toml:"render_timeout_ms"`
	CrashRetries    int `toml:"crash_retries"`
	MaxDimension    int `toml:"max_dimension"`
	EventsBuffer    int `toml:"events_buffer"`
}

// PageStore contains configuration for the persistent rendered-page store.
type PageStore struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	MaxMiB  int    `toml:"max_mib"`
}

// Terminal contains graphics transfer settings.
type Terminal struct {
	Transfer       string `toml:"transfer"`
	PixelFormat    string `toml:"pixel_format"`
	Tmux           string `toml:"tmux"`
	ProbeTimeoutMS int    `toml:"probe_timeout_ms"`
	AckTimeoutMS   int    `toml:"ack_timeout_ms"`
	AckRetries     int    `toml:"ack_retries"`
	ShmSlots       int    `toml:"shm_slots"`
	ShmInitialKiB  int    `toml:"shm_initial_kib"`
	TileRows       int    `toml:"tile_rows"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format  string   `toml:"format"`
	Level   string   `toml:"level"`
	Outputs []string `toml:"outputs"`
}

// Config encapsulates all configuration values for folio.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Render: worker pool, page cache budget, prefetch, timeouts
//   - PageStore: sqlite-backed second-tier page cache
//   - Terminal: Kitty graphics transfer mode, ack policy, shared memory slots
//   - Logging: log format, level, and outputs
type Config struct {
	Paths     Paths     `toml:"paths"`
	Render    Render    `toml:"render"`
	PageStore PageStore `toml:"page_store"`
	Terminal  Terminal  `toml:"terminal"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv("FOLIO_CONFIG"))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("folio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories, and the page
// store parent directory when the store is enabled.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.PageStore.Enabled && strings.TrimSpace(c.PageStore.Path) != "" {
		dir := filepath.Dir(c.PageStore.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create page store directory %q: %w", dir, err)
		}
	}
	return nil
}

// CacheBytes returns the page cache budget in bytes.
func (c *Config) CacheBytes() int64 {
	return int64(c.Render.CacheMiB) << 20
}

// RenderTimeout returns the per-page render deadline.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.RenderTimeoutMS) * time.Millisecond
}

// AckTimeout returns how long the transport waits for a placement ack.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Terminal.AckTimeoutMS) * time.Millisecond
}

// ProbeTimeout returns the capability probe deadline.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Terminal.ProbeTimeoutMS) * time.Millisecond
}

// PageStoreBytes returns the persistent store budget in bytes.
func (c *Config) PageStoreBytes() int64 {
	return int64(c.PageStore.MaxMiB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
