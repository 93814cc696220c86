package main

import (
	"fmt"

	"folio/internal/render"
)

const (
	zoomStep = 1.25
	minZoom  = 0.25
	maxZoom  = 8.0
)

// change says what a viewer action requires from the display.
type change int

const (
	changeNone change = iota
	// changeScroll shows the current render at a new offset.
	changeScroll
	// changeKey needs a render for a different page key.
	changeKey
	changeQuit
)

// viewState is the page, zoom, rotation, and scroll offset being shown.
type viewState struct {
	page     int
	pages    int
	zoom     float64
	rotation int
	scroll   int
}

// apply updates s for a. pageRows is the cell height of the current render
// and viewRows the rows available for the image.
func (s *viewState) apply(a action, pageRows, viewRows int) change {
	maxScroll := max(pageRows-viewRows, 0)
	switch a {
	case actionNextPage:
		return s.goTo(s.page + 1)
	case actionPrevPage:
		return s.goTo(s.page - 1)
	case actionFirstPage:
		return s.goTo(0)
	case actionLastPage:
		return s.goTo(s.pages - 1)
	case actionZoomIn:
		return s.setZoom(s.zoom * zoomStep)
	case actionZoomOut:
		return s.setZoom(s.zoom / zoomStep)
	case actionZoomReset:
		return s.setZoom(1)
	case actionRotate:
		s.rotation = (s.rotation + 90) % 360
		s.scroll = 0
		return changeKey
	case actionScrollDown:
		return s.scrollTo(s.scroll+1, maxScroll)
	case actionScrollUp:
		return s.scrollTo(s.scroll-1, maxScroll)
	case actionPageDown:
		if s.scroll >= maxScroll {
			return s.goTo(s.page + 1)
		}
		return s.scrollTo(s.scroll+max(viewRows-1, 1), maxScroll)
	case actionPageUp:
		if s.scroll == 0 && s.page > 0 {
			c := s.goTo(s.page - 1)
			s.scroll = maxScroll
			return c
		}
		return s.scrollTo(s.scroll-max(viewRows-1, 1), maxScroll)
	case actionRedraw:
		return changeScroll
	case actionQuit:
		return changeQuit
	}
	return changeNone
}

func (s *viewState) goTo(page int) change {
	if page < 0 || page >= s.pages || page == s.page {
		return changeNone
	}
	s.page = page
	s.scroll = 0
	return changeKey
}

func (s *viewState) setZoom(z float64) change {
	z = min(max(z, minZoom), maxZoom)
	if z == s.zoom {
		return changeNone
	}
	s.zoom = z
	s.scroll = 0
	return changeKey
}

func (s *viewState) scrollTo(row, maxScroll int) change {
	row = min(max(row, 0), maxScroll)
	if row == s.scroll {
		return changeNone
	}
	s.scroll = row
	return changeScroll
}

// clampScroll keeps the offset valid once the real page height is known.
func (s *viewState) clampScroll(pageRows, viewRows int) {
	s.scroll = min(s.scroll, max(pageRows-viewRows, 0))
}

func (s *viewState) key(doc render.DocumentID) render.PageKey {
	return render.NewPageKey(doc, s.page, s.zoom, s.rotation)
}

func (s *viewState) status(note string) string {
	line := fmt.Sprintf(" page %d/%d  zoom %.0f%%", s.page+1, s.pages, s.zoom*100)
	if s.rotation != 0 {
		line += fmt.Sprintf("  rotated %d°", s.rotation)
	}
	if note != "" {
		line += "  " + note
	}
	return line
}
