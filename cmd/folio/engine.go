package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"folio/internal/config"
	"folio/internal/faults"
	"folio/internal/logging"
	"folio/internal/pagestore"
	"folio/internal/pdfdoc"
	"folio/internal/render"
	"folio/internal/renderservice"
)

// engine is a started render service with one document open.
type engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *renderservice.Service
	info    render.DocumentInfo
}

func startEngine(ctx context.Context, cc *commandContext, path string) (*engine, error) {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cc.ensureLogger()
	if err != nil {
		return nil, err
	}
	target, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}

	opts := renderservice.OptionsFromConfig(cfg)
	opts.Inspect = pdfdoc.Inspect
	if store := openPageStore(cfg, logger); store != nil {
		opts.Store = store
	}

	svc := renderservice.New(opts, pdfdoc.Opener(), logger)
	if err := svc.Start(ctx); err != nil {
		svc.Shutdown()
		return nil, err
	}
	info, err := svc.OpenDocument(target)
	if err != nil {
		svc.Shutdown()
		return nil, err
	}
	return &engine{cfg: cfg, logger: logger, service: svc, info: info}, nil
}

// openPageStore returns nil when the store is disabled or cannot be opened;
// rendering continues without it.
func openPageStore(cfg *config.Config, logger *slog.Logger) *pagestore.Store {
	if !cfg.PageStore.Enabled {
		return nil
	}
	store, err := pagestore.Open(cfg.PageStore.Path, cfg.PageStoreBytes(), pagestore.WithLogger(logger))
	if err != nil {
		logging.WarnWithContext(logger, "page store unavailable", "page_store_unavailable",
			logging.String("path", cfg.PageStore.Path),
			logging.Error(err),
			logging.Impact("pages are rendered from scratch every session"),
		)
		return nil
	}
	return store
}

func (e *engine) key(page int, zoom float64, rotation int) render.PageKey {
	return render.NewPageKey(e.info.ID, page, zoom, rotation)
}

// renderPage requests key and blocks until it is ready, failed or ctx ends.
// Events for other pages, prefetches included, are skipped.
func (e *engine) renderPage(ctx context.Context, key render.PageKey, vp render.Viewport) (*render.Response, error) {
	sub, err := e.service.RequestPage(key, vp)
	if err != nil {
		return nil, err
	}
	if sub.Ready() {
		return sub.Response, nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-e.service.Events():
			if !ok {
				return nil, renderservice.ErrStopped
			}
			if ev.Key != key {
				continue
			}
			switch ev.Kind {
			case renderservice.EventReady:
				return ev.Response, nil
			case renderservice.EventFailed:
				if ev.Fault != nil {
					return nil, ev.Fault
				}
				return nil, faults.Wrap(faults.ErrDecode, "cli", "render page", fmt.Sprintf("page %d", key.Page+1), nil)
			}
		}
	}
}

func (e *engine) close() {
	e.service.Shutdown()
}

func isLocked(err error) bool {
	return errors.Is(err, pagestore.ErrLocked)
}
