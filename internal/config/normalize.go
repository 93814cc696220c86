package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRender()
	c.normalizeTerminal()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.PageStore.Path) == "" {
		c.PageStore.Path = defaultPageStorePath
	}
	if c.PageStore.Path, err = expandPath(c.PageStore.Path); err != nil {
		return fmt.Errorf("page_store.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeRender() {
	if c.Render.Workers <= 0 {
		c.Render.Workers = DefaultWorkers(runtime.NumCPU())
	}
}

// DefaultWorkers derives the pool size from available parallelism. MuPDF
// contexts are memory hungry, so the pool stays small.
func DefaultWorkers(cpus int) int {
	workers := cpus / 2
	if workers < 1 {
		workers = 1
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return workers
}

func (c *Config) normalizeTerminal() {
	c.Terminal.Transfer = strings.ToLower(strings.TrimSpace(c.Terminal.Transfer))
	if override := strings.ToLower(strings.TrimSpace(os.Getenv("FOLIO_TRANSFER"))); override != "" {
		c.Terminal.Transfer = override
	}
	if c.Terminal.Transfer == "" {
		c.Terminal.Transfer = defaultTransfer
	}
	c.Terminal.PixelFormat = strings.ToLower(strings.TrimSpace(c.Terminal.PixelFormat))
	if c.Terminal.PixelFormat == "" {
		c.Terminal.PixelFormat = defaultPixelFormat
	}
	c.Terminal.Tmux = strings.ToLower(strings.TrimSpace(c.Terminal.Tmux))
	if c.Terminal.Tmux == "" {
		c.Terminal.Tmux = defaultTmux
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	if override := strings.ToLower(strings.TrimSpace(os.Getenv("FOLIO_LOG_LEVEL"))); override != "" {
		level = override
	}
	c.Logging.Level = level
	outputs := c.Logging.Outputs[:0]
	for _, out := range c.Logging.Outputs {
		if out = strings.TrimSpace(out); out != "" {
			outputs = append(outputs, out)
		}
	}
	c.Logging.Outputs = outputs
}
