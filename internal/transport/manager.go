package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"folio/internal/faults"
	"folio/internal/imageconv"
	"folio/internal/kitty"
	"folio/internal/logging"
	"folio/internal/render"
)

type slot struct {
	index  int
	region Region
	// busy is the Transmitted image reading this region, if any.
	busy *pending
}

// frame counts the unacknowledged tiles of one Transmit call.
type frame struct {
	key     render.PageKey
	pending int
}

// pending is one tile between Prepared and Acknowledged.
type pending struct {
	tile     imageconv.Tile
	origin   Origin
	placedAt Origin
	frames   []*frame
	slot     *slot
	attempts int
	// placement tags the current attempt; the terminal echoes it in replies.
	placement uint32
	deadline  time.Time
}

// manager is owned by the management goroutine.
type manager struct {
	opts     Options
	out      io.Writer
	enc      kitty.Encoder
	logger   *slog.Logger
	variant  Variant
	slots    []*slot
	waiting  []*pending
	inflight map[uint32]*pending
	// resident maps acknowledged image ids to their placement id, so a later
	// a=p moves the existing placement instead of adding a second one.
	resident  map[uint32]uint32
	placement uint32
	stats     Stats
	publish   func(Variant)
	now       func() time.Time
}

func (m *manager) transmit(img *imageconv.ConvertedImage, origin Origin) error {
	if m.variant == VariantDisabled {
		return faults.Wrap(faults.ErrUnsupported, "transport", "transmit", "image display disabled", nil)
	}
	f := &frame{key: img.Key}
	for _, tile := range img.Tiles {
		at := Origin{Col: origin.Col, Row: origin.Row + tile.RowOffset}
		if p, ok := m.inflight[tile.ImageID]; ok {
			p.origin = at
			p.frames = append(p.frames, f)
			f.pending++
			continue
		}
		if p := m.findWaiting(tile.ImageID); p != nil {
			p.tile = tile
			p.origin = at
			p.frames = append(p.frames, f)
			f.pending++
			continue
		}
		if placement, ok := m.resident[tile.ImageID]; ok {
			if err := m.place(tile, placement, at); err != nil {
				m.degrade(err)
				return m.disabledErr()
			}
			continue
		}
		m.waiting = append(m.waiting, &pending{tile: tile, origin: at, frames: []*frame{f}})
		f.pending++
	}
	if f.pending == 0 {
		m.transmitted(f)
	}
	m.pump()
	return m.disabledErr()
}

func (m *manager) disabledErr() error {
	if m.variant == VariantDisabled {
		return faults.Wrap(faults.ErrUnsupported, "transport", "transmit", "image display disabled", nil)
	}
	return nil
}

func (m *manager) findWaiting(id uint32) *pending {
	for _, p := range m.waiting {
		if p.tile.ImageID == id {
			return p
		}
	}
	return nil
}

// pump sends waiting tiles while the variant allows it. Shared memory sends
// stop when no region is free.
func (m *manager) pump() {
	for len(m.waiting) > 0 && m.variant != VariantDisabled {
		p := m.waiting[0]
		var err error
		if m.variant == VariantSharedMemory && !p.tile.Compressed {
			s := m.freeSlot()
			if s == nil {
				return
			}
			m.waiting = m.waiting[1:]
			err = m.sendShared(p, s)
		} else {
			m.waiting = m.waiting[1:]
			err = m.sendDirect(p)
		}
		if err != nil {
			m.waiting = append([]*pending{p}, m.waiting...)
			m.degrade(err)
		}
	}
}

func (m *manager) freeSlot() *slot {
	for _, s := range m.slots {
		if s.busy == nil {
			return s
		}
	}
	return nil
}

func (m *manager) regionName(index int) string {
	return m.opts.Prefix + "-" + strconv.Itoa(index)
}

// ensureRegion maps the slot's region lazily and grows it when need exceeds
// its capacity. Growth is the only mid-session remap.
func (m *manager) ensureRegion(s *slot, need int) error {
	switch {
	case s.region == nil:
		r, err := m.opts.NewRegion(m.regionName(s.index), max(m.opts.InitialBytes, need))
		if err != nil {
			return faults.Wrap(faults.ErrResource, "transport", "allocate region", m.regionName(s.index), err)
		}
		s.region = r
	case s.region.Capacity() < need:
		size := max(need, 2*s.region.Capacity())
		if err := s.region.Close(); err != nil {
			m.logger.Debug("close region before growth failed", logging.Error(err))
		}
		s.region = nil
		r, err := m.opts.NewRegion(m.regionName(s.index), size)
		if err != nil {
			return faults.Wrap(faults.ErrResource, "transport", "grow region", fmt.Sprintf("%s to %d bytes", m.regionName(s.index), size), err)
		}
		s.region = r
		m.stats.Regrowths++
		m.logger.Debug("region grown", logging.String("region", r.Name()), logging.Int("bytes", size))
	default:
		if err := s.region.Relink(); err != nil {
			return faults.Wrap(faults.ErrResource, "transport", "relink region", s.region.Name(), err)
		}
	}
	return nil
}

func (m *manager) sendShared(p *pending, s *slot) error {
	if err := m.ensureRegion(s, len(p.tile.Data)); err != nil {
		return err
	}
	if _, err := s.region.Write(p.tile.Data); err != nil {
		return err
	}
	buf := kitty.MoveTo(nil, p.origin.Col, p.origin.Row)
	p.placement = m.nextPlacement()
	buf = m.enc.TransmitShared(buf, m.command(p), s.region.Name(), len(p.tile.Data))
	buf = kitty.Restore(buf)
	if _, err := m.out.Write(buf); err != nil {
		return faults.Wrap(faults.ErrProtocol, "transport", "write", "shared memory transmit", err)
	}
	s.busy = p
	p.slot = s
	m.sent(p)
	return nil
}

func (m *manager) sendDirect(p *pending) error {
	buf := kitty.MoveTo(nil, p.origin.Col, p.origin.Row)
	p.placement = m.nextPlacement()
	buf = m.enc.TransmitDirect(buf, m.command(p), p.tile.Data)
	buf = kitty.Restore(buf)
	if _, err := m.out.Write(buf); err != nil {
		return faults.Wrap(faults.ErrProtocol, "transport", "write", "direct transmit", err)
	}
	m.sent(p)
	return nil
}

// nextPlacement hands out a fresh non-zero placement id per attempt.
func (m *manager) nextPlacement() uint32 {
	m.placement++
	if m.placement == 0 {
		m.placement = 1
	}
	return m.placement
}

func (m *manager) command(p *pending) kitty.Transmit {
	tile := p.tile
	format := kitty.FormatRGB
	if tile.Format == render.FormatRGBA32 {
		format = kitty.FormatRGBA
	}
	return kitty.Transmit{
		ImageID:     tile.ImageID,
		PlacementID: p.placement,
		Width:       tile.Width,
		Height:      tile.Height,
		Format:      format,
		Cols:        tile.Cols,
		Rows:        tile.Rows,
		Compressed:  tile.Compressed,
	}
}

func (m *manager) sent(p *pending) {
	p.placedAt = p.origin
	p.deadline = m.now().Add(m.opts.AckTimeout)
	m.inflight[p.tile.ImageID] = p
	m.stats.Transmitted++
}

func (m *manager) place(tile imageconv.Tile, placement uint32, at Origin) error {
	buf := kitty.MoveTo(nil, at.Col, at.Row)
	buf = m.enc.Place(buf, kitty.Placement{
		ImageID:     tile.ImageID,
		PlacementID: placement,
		Cols:        tile.Cols,
		Rows:        tile.Rows,
		Quiet:       kitty.QuietAll,
	})
	buf = kitty.Restore(buf)
	if _, err := m.out.Write(buf); err != nil {
		return faults.Wrap(faults.ErrProtocol, "transport", "write", "placement", err)
	}
	m.stats.Placements++
	return nil
}

// acknowledge completes the image resp refers to. Replies for images that
// already timed out are ignored, and so are late replies to an earlier
// attempt of an image that was sent again.
func (m *manager) acknowledge(resp kitty.Response) {
	p, ok := m.inflight[resp.ImageID]
	if !ok {
		return
	}
	if resp.PlacementID != 0 && resp.PlacementID != p.placement {
		m.stats.StaleReplies++
		m.logger.Debug("ignoring reply to superseded attempt",
			logging.ImageID(resp.ImageID),
			logging.Uint64("reply_placement", uint64(resp.PlacementID)),
			logging.Uint64("placement", uint64(p.placement)),
		)
		return
	}
	if !resp.OK() && !resp.AlreadyDisplayed() {
		m.stats.Errors++
		m.logger.Debug("terminal rejected image",
			logging.ImageID(resp.ImageID),
			logging.String("message", resp.Message),
		)
		m.retry(p, faults.Wrap(faults.ErrProtocol, "transport", "ack", resp.Message, nil))
		m.pump()
		return
	}
	m.release(p)
	m.resident[resp.ImageID] = p.placement
	m.stats.Acknowledged++
	if p.origin != p.placedAt {
		if err := m.place(p.tile, p.placement, p.origin); err != nil {
			m.degrade(err)
		}
	}
	for _, f := range p.frames {
		f.pending--
		if f.pending == 0 {
			m.transmitted(f)
		}
	}
	m.pump()
}

// release moves p out of Transmitted and frees its region.
func (m *manager) release(p *pending) {
	delete(m.inflight, p.tile.ImageID)
	if p.slot != nil {
		p.slot.busy = nil
		p.slot = nil
	}
}

// retry requeues p at the front. Past the retry bound the variant degrades
// and the attempt count starts over on the slower path.
func (m *manager) retry(p *pending, cause error) {
	m.release(p)
	p.attempts++
	m.waiting = append([]*pending{p}, m.waiting...)
	if p.attempts <= m.opts.AckRetries {
		m.stats.Retries++
		return
	}
	p.attempts = 0
	m.degrade(cause)
}

// expire reclaims regions whose ack did not arrive in time.
func (m *manager) expire(now time.Time) {
	var expired []*pending
	for _, p := range m.inflight {
		if now.After(p.deadline) {
			expired = append(expired, p)
		}
	}
	if len(expired) == 0 {
		return
	}
	for _, p := range expired {
		m.stats.Timeouts++
		m.logger.Debug("ack timed out; reclaiming region",
			logging.ImageID(p.tile.ImageID),
			logging.Int("attempt", p.attempts+1),
		)
		m.retry(p, faults.Wrap(faults.ErrTimeout, "transport", "ack", "no acknowledgement from terminal", nil))
	}
	m.pump()
}

func (m *manager) degrade(cause error) {
	from := m.variant
	if from == VariantDisabled {
		return
	}
	m.variant = from.next()
	m.publish(m.variant)
	m.stats.Fallbacks++

	impact := "pages are sent inline, which is slower"
	if m.variant == VariantDisabled {
		impact = "page images are not displayed; text remains available"
		for _, p := range m.inflight {
			m.release(p)
		}
		m.waiting = nil
	}
	logging.WarnWithContext(m.logger, "image transfer degraded", "transfer_fallback",
		logging.String("from", from.String()),
		logging.String("to", m.variant.String()),
		logging.Error(cause),
		logging.Hint("check terminal graphics support or set terminal.transfer"),
		logging.Impact(impact),
	)
	if m.opts.OnDegraded != nil {
		m.opts.OnDegraded(m.variant, cause)
	}
}

func (m *manager) transmitted(f *frame) {
	if m.opts.OnTransmitted != nil {
		m.opts.OnTransmitted(f.key)
	}
}

func (m *manager) delete(ids []uint32) error {
	var buf []byte
	for _, id := range ids {
		buf = m.enc.Delete(buf, kitty.DeleteImage, id, kitty.QuietAll)
		delete(m.resident, id)
		m.dropWaiting(id)
	}
	if _, err := m.out.Write(buf); err != nil {
		return faults.Wrap(faults.ErrProtocol, "transport", "write", "delete", err)
	}
	return nil
}

func (m *manager) dropWaiting(id uint32) {
	kept := m.waiting[:0]
	for _, p := range m.waiting {
		if p.tile.ImageID != id {
			kept = append(kept, p)
		}
	}
	m.waiting = kept
}

func (m *manager) clear() error {
	m.waiting = nil
	clear(m.resident)
	if _, err := m.out.Write(m.enc.Delete(nil, kitty.DeleteAll, 0, kitty.QuietAll)); err != nil {
		return faults.Wrap(faults.ErrProtocol, "transport", "write", "clear", err)
	}
	return nil
}

// releaseAll closes every region. Images still Transmitted are abandoned.
func (m *manager) releaseAll() error {
	var errs []error
	for _, s := range m.slots {
		if s.region == nil {
			continue
		}
		if err := s.region.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.region.Name(), err))
		}
		s.region = nil
		s.busy = nil
	}
	clear(m.inflight)
	m.waiting = nil
	return errors.Join(errs...)
}
