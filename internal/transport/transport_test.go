package transport_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"folio/internal/faults"
	"folio/internal/imageconv"
	"folio/internal/kitty"
	"folio/internal/render"
	"folio/internal/transport"
)

type terminal struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(p)
}

func (t *terminal) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func (t *terminal) count(fragment string) int {
	return strings.Count(t.String(), fragment)
}

type fakeRegion struct {
	name    string
	data    []byte
	relinks int
	closed  bool
}

func (r *fakeRegion) Name() string  { return "/" + r.name }
func (r *fakeRegion) Capacity() int { return len(r.data) }
func (r *fakeRegion) Relink() error {
	r.relinks++
	return nil
}

func (r *fakeRegion) Write(p []byte) (int, error) {
	if len(p) > len(r.data) {
		return 0, errors.New("too large")
	}
	return copy(r.data, p), nil
}

func (r *fakeRegion) Close() error {
	r.closed = true
	return nil
}

type regions struct {
	mu      sync.Mutex
	created []*fakeRegion
	fail    bool
}

func (rs *regions) factory(name string, size int) (transport.Region, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.fail {
		return nil, errors.New("no shared memory")
	}
	r := &fakeRegion{name: name, data: make([]byte, size)}
	rs.created = append(rs.created, r)
	return r, nil
}

func (rs *regions) all() []*fakeRegion {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]*fakeRegion(nil), rs.created...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock       *clock
	tx          *transport.Transport
	term        *terminal
	regions     *regions
	transmitted chan render.PageKey
	degraded    chan transport.Variant
}

func start(t *testing.T, mutate func(*transport.Options)) *harness {
	t.Helper()
	h := &harness{
		clock:       &clock{now: time.Unix(1_700_000_000, 0)},
		term:        &terminal{},
		regions:     &regions{},
		transmitted: make(chan render.PageKey, 16),
		degraded:    make(chan transport.Variant, 4),
	}
	opts := transport.Options{
		Variant:       transport.VariantSharedMemory,
		AckTimeout:    20 * time.Millisecond,
		AckRetries:    1,
		Slots:         1,
		InitialBytes:  16,
		Prefix:        "folio-test",
		Clock:         h.clock.Now,
		NewRegion:     h.regions.factory,
		OnTransmitted: func(key render.PageKey) { h.transmitted <- key },
		OnDegraded:    func(v transport.Variant, _ error) { h.degraded <- v },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.tx = transport.New(h.term, opts, nil)
	h.tx.Start(context.Background())
	t.Cleanup(func() { _ = h.tx.Close() })
	return h
}

var pageKey = render.NewPageKey("doc", 2, 1, 0)

func image(ids ...uint32) *imageconv.ConvertedImage {
	img := &imageconv.ConvertedImage{Key: pageKey}
	for i, id := range ids {
		img.Tiles = append(img.Tiles, imageconv.Tile{
			Index:     i,
			ImageID:   id,
			Row:       i,
			RowOffset: i,
			Cols:      2,
			Rows:      1,
			Width:     2,
			Height:    2,
			Format:    render.FormatRGB24,
			Data:      bytes.Repeat([]byte{byte(id)}, 12),
		})
	}
	return img
}

func ack(t *testing.T, h *harness, id uint32, message string) {
	t.Helper()
	if err := h.tx.HandleResponse(kitty.Response{ImageID: id, Message: message}); err != nil {
		t.Fatalf("HandleResponse returned error: %v", err)
	}
}

func expectTransmitted(t *testing.T, h *harness) {
	t.Helper()
	select {
	case key := <-h.transmitted:
		if key != pageKey {
			t.Fatalf("unexpected key %v", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transmitted callback")
	}
}

func expectNoTransmitted(t *testing.T, h *harness) {
	t.Helper()
	select {
	case key := <-h.transmitted:
		t.Fatalf("unexpected transmitted callback for %v", key)
	default:
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegionNotRewrittenUntilAcknowledged(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(1, 2), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}

	stats := h.tx.Stats()
	if stats.InFlight != 1 || stats.Waiting != 1 || stats.Transmitted != 1 {
		t.Fatalf("expected one tile in flight and one waiting, got %+v", stats)
	}
	region := h.regions.all()[0]
	if region.data[0] != 1 {
		t.Fatalf("expected region to hold tile 1, got %d", region.data[0])
	}

	ack(t, h, 2, "OK") // not in flight yet; ignored
	if region.data[0] != 1 {
		t.Fatal("region rewritten before its image was acknowledged")
	}
	expectNoTransmitted(t, h)

	ack(t, h, 1, "OK")
	if region.data[0] != 2 {
		t.Fatalf("expected region reused for tile 2 after ack, got %d", region.data[0])
	}
	expectNoTransmitted(t, h)
	ack(t, h, 2, "OK")
	expectTransmitted(t, h)

	if got := h.term.count("t=s"); got != 2 {
		t.Fatalf("expected 2 shared memory transmissions, got %d", got)
	}
	if len(h.regions.all()) != 1 {
		t.Fatalf("expected one lazily allocated region, got %d", len(h.regions.all()))
	}
}

func TestTilesArePlacedAtTheirRowOffset(t *testing.T) {
	h := start(t, func(o *transport.Options) { o.Slots = 2 })
	if err := h.tx.Transmit(image(1, 2), transport.Origin{Col: 3, Row: 5}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	out := h.term.String()
	for _, want := range []string{"\x1b[6;4H", "\x1b[7;4H"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected cursor move %q in %q", want, out)
		}
	}
}

func TestAckTimeoutRetriesThenFallsBackToDirect(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(7), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}

	h.clock.Advance(time.Second)
	waitFor(t, "shared memory retry", func() bool { return h.term.count("t=s") == 2 })
	if h.tx.Variant() != transport.VariantSharedMemory {
		t.Fatal("expected one retry before falling back")
	}

	h.clock.Advance(time.Second)
	waitFor(t, "fallback to direct", func() bool { return h.tx.Variant() == transport.VariantDirect })
	if v := <-h.degraded; v != transport.VariantDirect {
		t.Fatalf("expected direct fallback, got %v", v)
	}
	waitFor(t, "direct transmit", func() bool { return h.term.count("t=d") == 1 })

	ack(t, h, 7, "OK")
	expectTransmitted(t, h)
	stats := h.tx.Stats()
	if stats.Timeouts != 2 || stats.Retries != 1 || stats.Fallbacks != 1 || h.term.count("t=s") != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPersistentDirectFailureDisablesDisplay(t *testing.T) {
	h := start(t, func(o *transport.Options) {
		o.Variant = transport.VariantDirect
		o.AckRetries = 0
	})
	if err := h.tx.Transmit(image(9), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	h.clock.Advance(time.Second)
	waitFor(t, "disabled", func() bool { return h.tx.Variant() == transport.VariantDisabled })
	if v := <-h.degraded; v != transport.VariantDisabled {
		t.Fatalf("expected disabled, got %v", v)
	}
	if err := h.tx.Transmit(image(9), transport.Origin{}); !errors.Is(err, faults.ErrUnsupported) {
		t.Fatalf("expected unsupported error once disabled, got %v", err)
	}
	expectNoTransmitted(t, h)
}

func TestErrorReplyCountsAsFailedAttempt(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(4), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	ack(t, h, 4, "ENOENT:shared memory object gone")
	if got := h.term.count("t=s"); got != 2 {
		t.Fatalf("expected retransmission after error reply, got %d sends", got)
	}
	ack(t, h, 4, "EEXIST:already have it")
	expectTransmitted(t, h)
	if stats := h.tx.Stats(); stats.Errors != 1 || stats.Acknowledged != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRegionGrowsForLargerFrames(t *testing.T) {
	h := start(t, func(o *transport.Options) { o.InitialBytes = 4 })
	if err := h.tx.Transmit(image(1), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	ack(t, h, 1, "OK")

	big := image(2)
	big.Tiles[0].Data = make([]byte, 30)
	if err := h.tx.Transmit(big, transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	created := h.regions.all()
	if len(created) != 2 {
		t.Fatalf("expected a remap for the larger frame, got %d regions", len(created))
	}
	if !created[0].closed || created[1].Capacity() != 30 {
		t.Fatalf("expected old region released and 30 byte region mapped, got closed=%v cap=%d",
			created[0].closed, created[1].Capacity())
	}
	if stats := h.tx.Stats(); stats.Regrowths != 1 || stats.Regions != 1 || stats.RegionBytes != 30 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRegionAllocationFailureFallsBack(t *testing.T) {
	h := start(t, nil)
	h.regions.fail = true
	if err := h.tx.Transmit(image(3), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	if h.tx.Variant() != transport.VariantDirect {
		t.Fatalf("expected direct variant, got %v", h.tx.Variant())
	}
	if h.term.count("t=d") != 1 {
		t.Fatalf("expected tile sent inline, got %q", h.term.String())
	}
}

func TestResidentImageIsPlacedWithoutTransfer(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(5), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	ack(t, h, 5, "OK")
	expectTransmitted(t, h)

	if err := h.tx.Transmit(image(5), transport.Origin{Row: 3}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	expectTransmitted(t, h)
	if !strings.Contains(h.term.String(), "a=p,i=5,p=1") {
		t.Fatalf("expected placement command, got %q", h.term.String())
	}
	if stats := h.tx.Stats(); stats.Transmitted != 1 || stats.Placements != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeleteAndClear(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(5), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	ack(t, h, 5, "OK")
	if err := h.tx.Delete([]uint32{5}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if !strings.Contains(h.term.String(), "a=d,d=I,i=5,q=2") {
		t.Fatalf("expected delete command, got %q", h.term.String())
	}
	if stats := h.tx.Stats(); stats.Resident != 0 {
		t.Fatalf("expected no resident images, got %+v", stats)
	}
	if err := h.tx.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if !strings.Contains(h.term.String(), "a=d,d=A,q=2") {
		t.Fatalf("expected clear command, got %q", h.term.String())
	}
}

func TestCloseReleasesRegions(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(1), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	if err := h.tx.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	for _, r := range h.regions.all() {
		if !r.closed {
			t.Fatalf("region %s left open", r.Name())
		}
	}
	if err := h.tx.Transmit(image(1), transport.Origin{}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEmptyImageIsImmediatelyTransmitted(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(&imageconv.ConvertedImage{Key: pageKey}, transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	expectTransmitted(t, h)
}

func TestLateReplyToTimedOutAttemptIsIgnored(t *testing.T) {
	h := start(t, nil)
	if err := h.tx.Transmit(image(7), transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	h.clock.Advance(time.Second)
	waitFor(t, "shared memory retry", func() bool { return h.term.count("t=s") == 2 })
	if h.term.count("i=7,p=1,") != 1 || h.term.count("i=7,p=2,") != 1 {
		t.Fatalf("expected each attempt tagged with its own placement, got %q", h.term.String())
	}

	// The terminal finally answers the first attempt.
	if err := h.tx.HandleResponse(kitty.Response{ImageID: 7, PlacementID: 1, Message: "OK"}); err != nil {
		t.Fatalf("HandleResponse returned error: %v", err)
	}
	expectNoTransmitted(t, h)
	if stats := h.tx.Stats(); stats.InFlight != 1 || stats.StaleReplies != 1 || stats.Acknowledged != 0 {
		t.Fatalf("expected the retry still in flight, got %+v", stats)
	}

	if err := h.tx.HandleResponse(kitty.Response{ImageID: 7, PlacementID: 2, Message: "OK"}); err != nil {
		t.Fatalf("HandleResponse returned error: %v", err)
	}
	expectTransmitted(t, h)
	if stats := h.tx.Stats(); stats.InFlight != 0 || stats.Acknowledged != 1 || stats.Resident != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := h.tx.Transmit(image(7), transport.Origin{Row: 4}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	expectTransmitted(t, h)
	if !strings.Contains(h.term.String(), "a=p,i=7,p=2") {
		t.Fatalf("expected the acknowledged placement to be moved, got %q", h.term.String())
	}
}

func TestResizedPageIsRetransmitted(t *testing.T) {
	h := start(t, func(o *transport.Options) { o.InitialBytes = 64 })
	grid := imageconv.Grid{CellWidth: 2, CellHeight: 2, TileRows: 1}
	target := imageconv.Target{Protocol: imageconv.ProtocolSharedMemory, Format: render.FormatRGB24}
	convert := func(viewRows int) *imageconv.ConvertedImage {
		t.Helper()
		resp := &render.Response{
			Key:      pageKey,
			Viewport: render.Viewport{Cols: 2, Rows: viewRows, CellWidth: 2, CellHeight: 2},
			Pixels:   render.PixelBuffer{Width: 4, Height: 2, Stride: 12, Format: render.FormatRGB24, Pix: make([]byte, 24)},
			Cols:     2,
			Rows:     1,
		}
		img, err := imageconv.Convert(resp, target, grid)
		if err != nil {
			t.Fatalf("Convert returned error: %v", err)
		}
		return img
	}

	before := convert(10)
	if err := h.tx.Transmit(before, transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	ack(t, h, before.Tiles[0].ImageID, "OK")
	expectTransmitted(t, h)

	after := convert(20)
	if err := h.tx.Transmit(after, transport.Origin{}); err != nil {
		t.Fatalf("Transmit returned error: %v", err)
	}
	if got := h.term.count("a=T"); got != 2 {
		t.Fatalf("expected the resized page to be transmitted again, got %d transmissions", got)
	}
	if h.term.count("a=p") != 0 {
		t.Fatalf("resized page must not reuse the old image, got %q", h.term.String())
	}
	ack(t, h, after.Tiles[0].ImageID, "OK")
	expectTransmitted(t, h)
}
