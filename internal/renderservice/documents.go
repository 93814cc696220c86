package renderservice

import (
	"fmt"
	"path/filepath"

	"folio/internal/faults"
	"folio/internal/logging"
	"folio/internal/render"
)

// OpenDocument fingerprints path and registers it for rendering. Opening
// the same bytes twice returns the existing registration.
func (s *Service) OpenDocument(path string) (render.DocumentInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return render.DocumentInfo{}, fmt.Errorf("resolve document path: %w", err)
	}
	id, err := render.Fingerprint(abs)
	if err != nil {
		return render.DocumentInfo{}, faults.Wrap(faults.ErrNotFound, "renderservice", "open document", abs, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return render.DocumentInfo{}, ErrStopped
	}
	if doc, ok := s.docs[id]; ok {
		doc.refs++
		info := doc.info
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	info, err := s.inspect(abs)
	if err != nil {
		return render.DocumentInfo{}, err
	}
	info.ID = id
	info.Path = abs
	if info.Pages <= 0 {
		return render.DocumentInfo{}, faults.Wrap(faults.ErrDecode, "renderservice", "open document", "document has no pages", nil)
	}

	s.mu.Lock()
	if doc, ok := s.docs[id]; ok {
		doc.refs++
		info = doc.info
	} else {
		s.docs[id] = &document{info: info, refs: 1}
	}
	s.mu.Unlock()

	s.logger.Info("document opened",
		logging.Document(id.Short()),
		logging.String("path", abs),
		logging.Int("pages", info.Pages),
	)
	return info, nil
}

func (s *Service) inspect(path string) (render.DocumentInfo, error) {
	if s.opts.Inspect != nil {
		info, err := s.opts.Inspect(path)
		if err != nil {
			return render.DocumentInfo{}, faults.Wrap(faults.ErrDecode, "renderservice", "inspect document", path, err)
		}
		return info, nil
	}
	doc, err := s.opener.Open(path)
	if err != nil {
		return render.DocumentInfo{}, faults.Wrap(faults.ErrDecode, "renderservice", "open document", path, err)
	}
	defer doc.Close()
	return render.DocumentInfo{Pages: doc.PageCount()}, nil
}

// CloseDocument releases one registration of id. When the last one goes,
// pending work is cancelled, cached pages are dropped and workers close
// their handles.
func (s *Service) CloseDocument(id render.DocumentID) error {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return faults.Wrap(faults.ErrNotFound, "renderservice", "close document",
			fmt.Sprintf("document %s is not open", id.Short()), nil)
	}
	doc.refs--
	if doc.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, id)
	s.queue.Cancel(func(k render.PageKey) bool { return k.Document != id })
	for key := range s.pages {
		if key.Document == id {
			delete(s.pages, key)
		}
	}
	s.mu.Unlock()

	removed := s.cache.Invalidate(id)
	s.pool.CloseDocument(doc.info.Path)
	s.logger.Info("document closed",
		logging.Document(id.Short()),
		logging.Int("cached_pages_dropped", removed),
	)
	return nil
}

// Document returns the registration of id.
func (s *Service) Document(id render.DocumentID) (render.DocumentInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return render.DocumentInfo{}, false
	}
	return doc.info, true
}

// PageCount returns the number of pages of an open document.
func (s *Service) PageCount(id render.DocumentID) (int, error) {
	info, ok := s.Document(id)
	if !ok {
		return 0, faults.Wrap(faults.ErrNotFound, "renderservice", "page count",
			fmt.Sprintf("document %s is not open", id.Short()), nil)
	}
	return info.Pages, nil
}

// Outline returns the table of contents of an open document.
func (s *Service) Outline(id render.DocumentID) ([]render.OutlineEntry, error) {
	info, ok := s.Document(id)
	if !ok {
		return nil, faults.Wrap(faults.ErrNotFound, "renderservice", "outline",
			fmt.Sprintf("document %s is not open", id.Short()), nil)
	}
	return info.Outline, nil
}
