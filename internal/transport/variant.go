package transport

import (
	"time"

	"folio/internal/config"
	"folio/internal/render"
	"folio/internal/shm"
)

// Variant is the transfer path chosen at startup.
type Variant int32

const (
	VariantDisabled Variant = iota
	VariantSharedMemory
	VariantDirect
)

func (v Variant) String() string {
	switch v {
	case VariantSharedMemory:
		return "shm"
	case VariantDirect:
		return "direct"
	default:
		return "disabled"
	}
}

// next is the variant a persistent failure degrades to.
func (v Variant) next() Variant {
	if v == VariantSharedMemory {
		return VariantDirect
	}
	return VariantDisabled
}

// Origin is the zero-based terminal cell of the top-left corner of the
// viewport a frame is drawn into.
type Origin struct {
	Col int
	Row int
}

// Region is the shared memory surface the transport writes tiles into.
type Region interface {
	Name() string
	Capacity() int
	Write(p []byte) (int, error)
	Relink() error
	Close() error
}

// RegionFactory creates a region of at least size bytes.
type RegionFactory func(name string, size int) (Region, error)

func createRegion(name string, size int) (Region, error) {
	r, err := shm.Create(name, size)
	if err != nil {
		return nil, err
	}
	return r, nil
}

const (
	defaultAckTimeout   = 1500 * time.Millisecond
	defaultSlots        = 4
	defaultInitialBytes = 4 << 20
)

// Options configures a Transport.
type Options struct {
	Variant      Variant
	Tmux         bool
	AckTimeout   time.Duration
	AckRetries   int
	Slots        int
	InitialBytes int
	// Prefix names regions Prefix-0, Prefix-1, ...
	Prefix    string
	NewRegion RegionFactory
	Clock     func() time.Time
	// OnTransmitted and OnDegraded run on the management goroutine and
	// must not call back into the Transport.
	OnTransmitted func(render.PageKey)
	OnDegraded    func(Variant, error)
}

// OptionsFromConfig maps the [terminal] section onto transport options.
// Variant and Tmux come from capability detection.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AckTimeout:   cfg.AckTimeout(),
		AckRetries:   cfg.Terminal.AckRetries,
		Slots:        cfg.Terminal.ShmSlots,
		InitialBytes: cfg.Terminal.ShmInitialKiB << 10,
	}
}

func (o Options) withDefaults() Options {
	if o.AckTimeout <= 0 {
		o.AckTimeout = defaultAckTimeout
	}
	if o.AckRetries < 0 {
		o.AckRetries = 0
	}
	if o.Slots <= 0 {
		o.Slots = defaultSlots
	}
	if o.InitialBytes <= 0 {
		o.InitialBytes = defaultInitialBytes
	}
	if o.NewRegion == nil {
		o.NewRegion = createRegion
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
