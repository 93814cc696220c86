package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"folio/internal/faults"
	"folio/internal/imageconv"
	"folio/internal/kitty"
	"folio/internal/logging"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport closed")

type op struct {
	fn    func(*manager) error
	reply chan error
}

// Transport is the public face of the management goroutine. Its methods
// are safe for concurrent use.
type Transport struct {
	m       *manager
	logger  *slog.Logger
	ops     chan op
	stop    chan struct{}
	done    chan struct{}
	variant atomic.Int32

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// New prepares a transport writing commands to out. Call Start to run it.
// out should accept each command in a single Write.
func New(out io.Writer, opts Options, logger *slog.Logger) *Transport {
	opts = opts.withDefaults()
	if opts.Prefix == "" {
		opts.Prefix = "folio-" + uuid.NewString()[:8]
	}
	t := &Transport{
		logger: logging.NewComponentLogger(logger, "transport"),
		ops:    make(chan op),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.variant.Store(int32(opts.Variant))
	t.m = &manager{
		opts:     opts,
		out:      out,
		enc:      kitty.Encoder{Tmux: opts.Tmux},
		logger:   t.logger,
		variant:  opts.Variant,
		slots:    make([]*slot, opts.Slots),
		inflight: make(map[uint32]*pending),
		resident: make(map[uint32]uint32),
		publish:  func(v Variant) { t.variant.Store(int32(v)) },
		now:      opts.Clock,
	}
	for i := range t.m.slots {
		t.m.slots[i] = &slot{index: i}
	}
	return t
}

// Start launches the management goroutine. It stops when ctx is done or
// Close is called.
func (t *Transport) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.logger.Info("transport started",
			logging.String("variant", t.Variant().String()),
			logging.Int("slots", len(t.m.slots)),
			logging.Duration("ack_timeout", t.m.opts.AckTimeout),
		)
		go t.run(ctx)
	})
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	tick := max(t.m.opts.AckTimeout/4, 5*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case o := <-t.ops:
			o.reply <- o.fn(t.m)
		case <-ticker.C:
			t.m.expire(t.m.now())
		}
	}
}

func (t *Transport) do(fn func(*manager) error) error {
	o := op{fn: fn, reply: make(chan error, 1)}
	select {
	case t.ops <- o:
	case <-t.done:
		return ErrClosed
	case <-t.stop:
		return ErrClosed
	}
	return <-o.reply
}

// Variant returns the current transfer variant.
func (t *Transport) Variant() Variant {
	return Variant(t.variant.Load())
}

// Transmit queues the tiles of img for display with the viewport's top-left
// cell at origin. Tiles the terminal already holds are placed without a
// transfer. It fails with faults.ErrUnsupported once display is disabled.
func (t *Transport) Transmit(img *imageconv.ConvertedImage, origin Origin) error {
	if img == nil {
		return faults.Wrap(faults.ErrValidation, "transport", "transmit", "nil image", nil)
	}
	return t.do(func(m *manager) error {
		return m.transmit(img, origin)
	})
}

// HandleResponse feeds a terminal reply to the ack tracker.
func (t *Transport) HandleResponse(resp kitty.Response) error {
	return t.do(func(m *manager) error {
		m.acknowledge(resp)
		return nil
	})
}

// Delete removes images from the terminal and frees their data.
func (t *Transport) Delete(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	return t.do(func(m *manager) error {
		return m.delete(ids)
	})
}

// Clear removes every image this session placed.
func (t *Transport) Clear() error {
	return t.do(func(m *manager) error {
		return m.clear()
	})
}

// Stats returns a snapshot of transfer counters.
func (t *Transport) Stats() Stats {
	var out Stats
	if err := t.do(func(m *manager) error {
		out = m.snapshot()
		return nil
	}); err != nil {
		out.Variant = t.Variant()
	}
	return out
}

// Close stops the goroutine and releases every region.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		// A transport that never started has no goroutine to wait for.
		t.startOnce.Do(func() { close(t.done) })
		<-t.done
		t.closeErr = t.m.releaseAll()
		t.logger.Info("transport closed", logging.Args(t.m.snapshot().attrs()...)...)
	})
	return t.closeErr
}
