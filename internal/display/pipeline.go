package display

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"folio/internal/faults"
	"folio/internal/imageconv"
	"folio/internal/logging"
	"folio/internal/render"
	"folio/internal/transport"
)

// Service is the part of the render service the pipeline reports to.
type Service interface {
	NotifyTransmitted(key render.PageKey)
	PrefetchRadius() int
}

// Transmitter is the transport contract.
type Transmitter interface {
	Transmit(img *imageconv.ConvertedImage, origin transport.Origin) error
	Delete(ids []uint32) error
	Variant() transport.Variant
}

// Frame is one request to show a page.
type Frame struct {
	Page   *render.Response
	Grid   imageconv.Grid
	Origin transport.Origin
	Format render.PixelFormat
}

// Stats counts pipeline activity.
type Stats struct {
	Frames         int64 `json:"frames"`
	Superseded     int64 `json:"superseded"`
	TilesConverted int64 `json:"tiles_converted"`
	TilesReused    int64 `json:"tiles_reused"`
	CachesDropped  int64 `json:"caches_dropped"`
	Transmitted    int64 `json:"transmitted"`
	Failures       int64 `json:"failures"`
}

type spanKey struct {
	row  int
	rows int
}

// tileSet holds converted tiles of one page for one grid and target.
type tileSet struct {
	page   *render.Response
	target imageconv.Target
	cellW  int
	cellH  int
	strip  int
	tiles  map[spanKey]imageconv.Tile
}

func (t *tileSet) matches(f Frame, target imageconv.Target) bool {
	return t.page == f.Page &&
		t.target == target &&
		t.cellW == f.Grid.CellWidth &&
		t.cellH == f.Grid.CellHeight &&
		t.strip == f.Grid.TileRows
}

// Pipeline converts and transmits frames off the UI goroutine.
type Pipeline struct {
	svc    Service
	tx     Transmitter
	logger *slog.Logger

	mailbox chan Frame
	errs    chan error
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Owned by the run goroutine.
	sets  map[render.PageKey]*tileSet
	shown map[uint32]struct{}

	frames, superseded, converted, reused, dropped, transmitted, failures atomic.Int64
}

// New builds a pipeline. Wire the transport's OnTransmitted to
// (*Pipeline).Transmitted.
func New(svc Service, tx Transmitter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		svc:     svc,
		tx:      tx,
		logger:  logging.NewComponentLogger(logger, "display"),
		mailbox: make(chan Frame, 1),
		errs:    make(chan error, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		sets:    make(map[render.PageKey]*tileSet),
		shown:   make(map[uint32]struct{}),
	}
}

// Start launches the conversion goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

// Stop ends the goroutine. Frames still in the mailbox are dropped.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.startOnce.Do(func() { close(p.done) })
		<-p.done
	})
}

// Show replaces any frame still waiting with f.
func (p *Pipeline) Show(f Frame) {
	for {
		select {
		case p.mailbox <- f:
			return
		default:
		}
		select {
		case <-p.mailbox:
			p.superseded.Add(1)
		default:
		}
	}
}

// Errors reports frames that could not be shown. Errors are dropped when
// nobody reads them.
func (p *Pipeline) Errors() <-chan error {
	return p.errs
}

// Transmitted forwards a transport acknowledgement to the service.
func (p *Pipeline) Transmitted(key render.PageKey) {
	p.transmitted.Add(1)
	p.svc.NotifyTransmitted(key)
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:         p.frames.Load(),
		Superseded:     p.superseded.Load(),
		TilesConverted: p.converted.Load(),
		TilesReused:    p.reused.Load(),
		CachesDropped:  p.dropped.Load(),
		Transmitted:    p.transmitted.Load(),
		Failures:       p.failures.Load(),
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case f := <-p.mailbox:
			if err := p.show(f); err != nil {
				p.failures.Add(1)
				p.report(err)
			}
		}
	}
}

func (p *Pipeline) report(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

func (p *Pipeline) show(f Frame) error {
	if f.Page == nil {
		return faults.Wrap(faults.ErrValidation, "display", "show", "frame without page", nil)
	}
	p.frames.Add(1)
	key := f.Page.Key
	p.focus(key)

	variant := p.tx.Variant()
	if variant == transport.VariantDisabled {
		return faults.Wrap(faults.ErrUnsupported, "display", "show", "image display disabled", nil)
	}
	target := imageconv.Target{Protocol: imageconv.ProtocolSharedMemory, Format: f.Format}
	if variant == transport.VariantDirect {
		target.Protocol = imageconv.ProtocolDirect
	}

	img, err := p.convert(f, target)
	if err != nil {
		return err
	}

	var stale []uint32
	next := make(map[uint32]struct{}, len(img.Tiles))
	for _, tile := range img.Tiles {
		next[tile.ImageID] = struct{}{}
	}
	for id := range p.shown {
		if _, ok := next[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := p.tx.Delete(stale); err != nil {
		p.logger.Debug("delete stale images failed", logging.Error(err))
	}
	p.shown = next

	if err := p.tx.Transmit(img, f.Origin); err != nil {
		return err
	}
	return nil
}

// convert builds the visible tiles of f, converting only strips not already
// cached for the same page, grid, and target.
func (p *Pipeline) convert(f Frame, target imageconv.Target) (*imageconv.ConvertedImage, error) {
	key := f.Page.Key
	set := p.sets[key]
	if set == nil || !set.matches(f, target) {
		set = &tileSet{
			page:   f.Page,
			target: target,
			cellW:  f.Grid.CellWidth,
			cellH:  f.Grid.CellHeight,
			strip:  f.Grid.TileRows,
			tiles:  make(map[spanKey]imageconv.Tile),
		}
		p.sets[key] = set
	}

	cols, rows := imageconv.Footprint(f.Page, f.Grid)
	spans := imageconv.Spans(f.Grid, rows, imageconv.VisibleTiles(f.Grid, rows))

	var missing []int
	for _, span := range spans {
		if _, ok := set.tiles[spanKey{span.Row, span.Rows}]; !ok {
			missing = append(missing, span.Index)
		}
	}
	if len(missing) > 0 {
		fresh, err := imageconv.ConvertTiles(f.Page, target, f.Grid, missing)
		if err != nil {
			return nil, err
		}
		for _, tile := range fresh.Tiles {
			set.tiles[spanKey{tile.Row, tile.Rows}] = tile
		}
		p.converted.Add(int64(len(fresh.Tiles)))
	}

	img := &imageconv.ConvertedImage{
		Key:      key,
		Target:   target,
		Cols:     cols,
		PageRows: rows,
	}
	for _, span := range spans {
		tile, ok := set.tiles[spanKey{span.Row, span.Rows}]
		if !ok {
			continue
		}
		tile.RowOffset = span.RowOffset
		img.Tiles = append(img.Tiles, tile)
		img.ViewRows += span.Rows
	}
	p.reused.Add(int64(len(spans) - len(missing)))
	return img, nil
}

// focus drops tile caches of other documents and of pages farther than the
// prefetch radius from key.
func (p *Pipeline) focus(key render.PageKey) {
	radius := p.svc.PrefetchRadius()
	for k := range p.sets {
		distance := k.Page - key.Page
		if distance < 0 {
			distance = -distance
		}
		if k.Document != key.Document || k.Zoom != key.Zoom || k.Rotation != key.Rotation || distance > radius {
			delete(p.sets, k)
			p.dropped.Add(1)
		}
	}
}
