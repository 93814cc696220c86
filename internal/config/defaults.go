package config

const (
	defaultConfigPath      = "~/.config/folio/config.toml"
	defaultStateDir        = "~/.local/share/folio"
	defaultLogDir          = "~/.local/share/folio/logs"
	defaultPageStorePath   = "~/.cache/folio/pages.db"
	defaultPageStoreMaxMiB = 1024
	defaultCacheMiB        = 256
	defaultPrefetchRadius  = 2
	defaultQueueLimit      = 32
	defaultRenderTimeoutMS = 10000
	defaultCrashRetries    = 2
	defaultMaxDimension    = 10000
	defaultEventsBuffer    = 64
	defaultTransfer        = TransferAuto
	defaultPixelFormat     = PixelFormatRGB
	defaultTmux            = TmuxAuto
	defaultProbeTimeoutMS  = 800
	defaultAckTimeoutMS    = 1500
	defaultAckRetries      = 1
	defaultShmSlots        = 4
	defaultShmInitialKiB   = 4096
	defaultTileRows        = 1
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	maxWorkers             = 8
	maxAckRetries          = 2
	maxPrefetchRadius      = 32
)

// Transfer modes accepted by terminal.transfer.
const (
	TransferAuto   = "auto"
	TransferShm    = "shm"
	TransferDirect = "direct"
	TransferNone   = "none"
)

// Pixel formats accepted by terminal.pixel_format.
const (
	PixelFormatRGB  = "rgb"
	PixelFormatRGBA = "rgba"
)

// Tmux passthrough modes accepted by terminal.tmux.
const (
	TmuxAuto = "auto"
	TmuxOn   = "on"
	TmuxOff  = "off"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Render: Render{
			CacheMiB:        defaultCacheMiB,
			PrefetchRadius:  defaultPrefetchRadius,
			QueueLimit:      defaultQueueLimit,
			RenderTimeoutMS: defaultRenderTimeoutMS,
			CrashRetries:    defaultCrashRetries,
			MaxDimension:    defaultMaxDimension,
			EventsBuffer:    defaultEventsBuffer,
		},
		PageStore: PageStore{
			Path:   defaultPageStorePath,
			MaxMiB: defaultPageStoreMaxMiB,
		},
		Terminal: Terminal{
			Transfer:       defaultTransfer,
			PixelFormat:    defaultPixelFormat,
			Tmux:           defaultTmux,
			ProbeTimeoutMS: defaultProbeTimeoutMS,
			AckTimeoutMS:   defaultAckTimeoutMS,
			AckRetries:     defaultAckRetries,
			ShmSlots:       defaultShmSlots,
			ShmInitialKiB:  defaultShmInitialKiB,
			TileRows:       defaultTileRows,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
