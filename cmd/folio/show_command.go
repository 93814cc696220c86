package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"folio/internal/config"
	"folio/internal/display"
	"folio/internal/imageconv"
	"folio/internal/kitty"
	"folio/internal/logging"
	"folio/internal/render"
	"folio/internal/renderservice"
	"folio/internal/termcaps"
	"folio/internal/transport"
)

const (
	enterAltScreen = "\x1b[?1049h\x1b[?25l\x1b[2J"
	leaveAltScreen = "\x1b[?25h\x1b[?1049l"
	clearLine      = "\x1b[2K"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var view viewFlags

	cmd := &cobra.Command{
		Use:   "show <file.pdf>",
		Short: "Display a document in the terminal",
		Long: "Display a document using the Kitty graphics protocol.\n\n" +
			"Keys: n/p next/previous page, +/- zoom, 0 reset zoom, j/k scroll,\n" +
			"d/u scroll a screen, r rotate, g/G first/last page, q quit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := startEngine(cmd.Context(), ctx, args[0])
			if err != nil {
				return err
			}
			defer eng.close()
			if err := view.validate(eng.info.Pages); err != nil {
				return err
			}

			tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
			if err != nil {
				return fmt.Errorf("show needs a controlling terminal: %w", err)
			}
			defer tty.Close()

			state := viewState{page: view.page - 1, pages: eng.info.Pages, zoom: view.zoom, rotation: int(render.NormalizeRotation(view.rotation))}
			return runViewer(cmd.Context(), eng, tty, state)
		},
	}

	view.register(cmd)
	return cmd
}

// lockedWriter serializes transport output and status line drawing.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// session is one interactive viewing session on a terminal.
type session struct {
	eng      *engine
	cfg      *config.Config
	logger   *slog.Logger
	out      *lockedWriter
	tx       *transport.Transport
	pipeline *display.Pipeline
	cells    termcaps.Cells
	format   render.PixelFormat
	state    viewState
	current  *render.Response
	note     string
}

func runViewer(ctx context.Context, eng *engine, tty *os.File, state viewState) error {
	cfg := eng.cfg
	logger := logging.NewComponentLogger(eng.logger, "viewer")
	fd := int(tty.Fd())

	caps := termcaps.Detect(os.Getenv, tty.Fd())
	cells, err := termcaps.CellSize(fd)
	if err != nil {
		return err
	}
	caps.Cells = cells
	tmux := termcaps.UseTmux(cfg.Terminal.Tmux, caps)
	if cfg.Terminal.Transfer == config.TransferAuto && caps.TTY {
		result, err := termcaps.Probe(ctx, tty, cfg.ProbeTimeout(), tmux)
		if err != nil {
			logger.Debug("terminal probe failed", logging.Error(err))
		} else {
			caps = caps.Apply(result)
		}
	}
	variant := termcaps.Choose(cfg.Terminal.Transfer, caps)
	if variant == transport.VariantDisabled {
		reason := caps.Reason
		if reason == "" {
			reason = "image transfer disabled by configuration"
		}
		return fmt.Errorf("cannot display images: %s", reason)
	}
	logger.Info("terminal ready",
		logging.String("transfer", variant.String()),
		logging.Bool("tmux", tmux),
		logging.Bool("probed", caps.Probed),
		logging.Int("cols", cells.Cols),
		logging.Int("rows", cells.Rows),
		logging.Int("cell_width", cells.Width),
		logging.Int("cell_height", cells.Height),
	)

	raw, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, raw) }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		eng:    eng,
		cfg:    cfg,
		logger: logger,
		out:    &lockedWriter{w: tty},
		cells:  cells,
		format: pixelFormat(cfg),
		state:  state,
	}
	_, _ = s.out.Write([]byte(enterAltScreen))
	defer func() { _, _ = s.out.Write([]byte(leaveAltScreen)) }()

	degraded := make(chan transport.Variant, 1)
	opts := transport.OptionsFromConfig(cfg)
	opts.Variant = variant
	opts.Tmux = tmux
	opts.OnTransmitted = func(key render.PageKey) {
		if s.pipeline != nil {
			s.pipeline.Transmitted(key)
		}
	}
	opts.OnDegraded = func(v transport.Variant, _ error) {
		select {
		case degraded <- v:
		default:
		}
	}
	s.tx = transport.New(s.out, opts, logger)
	s.pipeline = display.New(eng.service, s.tx, logger)

	s.tx.Start(runCtx)
	s.pipeline.Start(runCtx)
	defer func() {
		// Shutdown first: an acknowledgement callback blocked on the event
		// channel would otherwise hold the transport, and the pipeline with it.
		eng.close()
		s.pipeline.Stop()
		if err := s.tx.Clear(); err != nil && !errors.Is(err, transport.ErrClosed) {
			logger.Debug("clear images failed", logging.Error(err))
		}
		if err := s.tx.Close(); err != nil {
			logger.Warn("transport close failed", logging.Error(err))
		}
	}()

	keys := make(chan []action, 8)
	go s.readInput(runCtx, tty, keys)

	resize := make(chan os.Signal, 1)
	signal.Notify(resize, unix.SIGWINCH)
	defer signal.Stop(resize)

	if err := s.request(); err != nil {
		return err
	}
	events := eng.service.Events()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case actions, ok := <-keys:
			if !ok {
				return nil
			}
			for _, a := range actions {
				pageRows := s.viewRows()
				if s.current != nil {
					pageRows = s.current.Rows
				}
				switch s.state.apply(a, pageRows, s.viewRows()) {
				case changeQuit:
					return nil
				case changeKey:
					if err := s.request(); err != nil {
						s.setNote(err.Error())
					}
				case changeScroll:
					s.draw()
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		case err := <-s.pipeline.Errors():
			s.setNote(err.Error())
		case v := <-degraded:
			s.setNote("transfer: " + v.String())
		case <-resize:
			if cells, err := termcaps.CellSize(fd); err == nil {
				s.cells = cells
				s.current = nil
				if err := s.request(); err != nil {
					s.setNote(err.Error())
				}
			}
		}
	}
}

// readInput splits terminal input into graphics replies for the transport
// and key presses for the viewer.
func (s *session) readInput(ctx context.Context, r io.Reader, keys chan<- []action) {
	defer close(keys)
	var scanner kitty.Scanner
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			responses, other := scanner.Feed(buf[:n])
			for _, resp := range responses {
				if err := s.tx.HandleResponse(resp); err != nil {
					s.logger.Debug("graphics reply dropped", logging.Error(err))
				}
			}
			// A read holding only ESC is the escape key, not a reply prefix.
			if n == 1 && buf[0] == 0x1b && scanner.Pending() {
				other = append(other, scanner.Flush()...)
			}
			if actions := parseKeys(other); len(actions) > 0 {
				select {
				case keys <- actions:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *session) viewport() render.Viewport {
	return render.Viewport{Cols: s.cells.Cols, Rows: s.viewRows(), CellWidth: s.cells.Width, CellHeight: s.cells.Height}
}

// viewRows leaves the bottom row for the status line.
func (s *session) viewRows() int {
	return max(s.cells.Rows-1, 1)
}

func (s *session) request() error {
	key := s.state.key(s.eng.info.ID)
	s.eng.service.CancelStale([]render.PageKey{key})
	sub, err := s.eng.service.RequestPage(key, s.viewport())
	if err != nil {
		return err
	}
	if sub.Ready() {
		s.present(sub.Response)
		return nil
	}
	s.setNote("rendering")
	return nil
}

func (s *session) handleEvent(ev renderservice.Event) {
	if ev.Key != s.state.key(s.eng.info.ID) {
		return
	}
	switch ev.Kind {
	case renderservice.EventReady:
		if ev.Response != nil && ev.Response.Viewport == s.viewport() {
			s.present(ev.Response)
		}
	case renderservice.EventFailed:
		msg := "render failed"
		if ev.Fault != nil {
			msg = ev.Fault.Error()
		}
		s.setNote(msg)
	case renderservice.EventTransmitted:
		if s.note == "rendering" {
			s.setNote("")
		}
	}
}

func (s *session) present(resp *render.Response) {
	s.current = resp
	s.state.clampScroll(resp.Rows, s.viewRows())
	s.draw()
}

// draw hands the current render at the current scroll offset to the display
// pipeline and refreshes the status line.
func (s *session) draw() {
	if s.current == nil {
		s.drawStatus()
		return
	}
	s.pipeline.Show(display.Frame{
		Page: s.current,
		Grid: imageconv.Grid{
			CellWidth:  s.cells.Width,
			CellHeight: s.cells.Height,
			TileRows:   s.cfg.Terminal.TileRows,
			ScrollRows: s.state.scroll,
			ViewRows:   s.viewRows(),
		},
		Format: s.format,
	})
	s.drawStatus()
}

func (s *session) setNote(note string) {
	s.note = note
	s.drawStatus()
}

func (s *session) drawStatus() {
	line := s.state.status(s.note)
	if r := []rune(line); len(r) > s.cells.Cols {
		line = string(r[:s.cells.Cols])
	}
	buf := kitty.MoveTo(nil, 0, s.cells.Rows-1)
	buf = append(buf, clearLine...)
	buf = append(buf, "\x1b[7m"+line+"\x1b[0m"...)
	buf = kitty.Restore(buf)
	_, _ = s.out.Write(buf)
}

func pixelFormat(cfg *config.Config) render.PixelFormat {
	if cfg.Terminal.PixelFormat == config.PixelFormatRGBA {
		return render.FormatRGBA32
	}
	return render.FormatRGB24
}
