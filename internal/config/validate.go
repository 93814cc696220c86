package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validatePageStore(); err != nil {
		return err
	}
	if err := c.validateTerminal(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRender() error {
	if err := ensurePositiveMap(map[string]int{
		"render.workers":           c.Render.Workers,
		"render.cache_mib":         c.Render.CacheMiB,
		"render.queue_limit":       c.Render.QueueLimit,
		"render.render_timeout_ms": c.Render.RenderTimeoutMS,
		"render.max_dimension":     c.Render.MaxDimension,
		"render.events_buffer":     c.Render.EventsBuffer,
	}); err != nil {
		return err
	}
	if c.Render.Workers > maxWorkers {
		return fmt.Errorf("render.workers must be at most %d", maxWorkers)
	}
	if c.Render.PrefetchRadius < 0 || c.Render.PrefetchRadius > maxPrefetchRadius {
		return fmt.Errorf("render.prefetch_radius must be between 0 and %d", maxPrefetchRadius)
	}
	if c.Render.CrashRetries < 0 {
		return errors.New("render.crash_retries must be zero or positive")
	}
	return nil
}

func (c *Config) validatePageStore() error {
	if !c.PageStore.Enabled {
		return nil
	}
	if c.PageStore.Path == "" {
		return errors.New("page_store.path must be set when page_store.enabled is true")
	}
	if c.PageStore.MaxMiB <= 0 {
		return errors.New("page_store.max_mib must be positive")
	}
	return nil
}

func (c *Config) validateTerminal() error {
	switch c.Terminal.Transfer {
	case TransferAuto, TransferShm, TransferDirect, TransferNone:
	default:
		return fmt.Errorf("terminal.transfer: unsupported value %q (want auto, shm, direct, or none)", c.Terminal.Transfer)
	}
	switch c.Terminal.PixelFormat {
	case PixelFormatRGB, PixelFormatRGBA:
	default:
		return fmt.Errorf("terminal.pixel_format: unsupported value %q (want rgb or rgba)", c.Terminal.PixelFormat)
	}
	switch c.Terminal.Tmux {
	case TmuxAuto, TmuxOn, TmuxOff:
	default:
		return fmt.Errorf("terminal.tmux: unsupported value %q (want auto, on, or off)", c.Terminal.Tmux)
	}
	if err := ensurePositiveMap(map[string]int{
		"terminal.probe_timeout_ms": c.Terminal.ProbeTimeoutMS,
		"terminal.ack_timeout_ms":   c.Terminal.AckTimeoutMS,
		"terminal.shm_slots":        c.Terminal.ShmSlots,
		"terminal.shm_initial_kib":  c.Terminal.ShmInitialKiB,
		"terminal.tile_rows":        c.Terminal.TileRows,
	}); err != nil {
		return err
	}
	if c.Terminal.AckRetries < 0 || c.Terminal.AckRetries > maxAckRetries {
		return fmt.Errorf("terminal.ack_retries must be between 0 and %d", maxAckRetries)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
