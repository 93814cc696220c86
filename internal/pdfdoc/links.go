package pdfdoc

import (
	"strings"

	"github.com/ledongthuc/pdf"

	"folio/internal/render"
)

// extractLinks reads /Link annotations. URI actions become external links;
// GoTo actions and /Dest entries that point at a page object in this document
// become internal links. Named destinations are not resolved.
func (d *Document) extractLinks(pg pdf.Page, g geometry) (links []render.LinkRect) {
	defer func() {
		if recover() != nil {
			links = nil
		}
	}()

	annots := pg.V.Key("Annots")
	for i := 0; i < annots.Len(); i++ {
		annot := annots.Index(i)
		if annot.Key("Subtype").Name() != "Link" {
			continue
		}
		r := annot.Key("Rect")
		if r.Len() != 4 {
			continue
		}
		bounds := g.rect(r.Index(0).Float64(), r.Index(1).Float64(), r.Index(2).Float64(), r.Index(3).Float64())
		if bounds.Empty() {
			continue
		}

		action := annot.Key("A")
		switch action.Key("S").Name() {
		case "URI":
			uri := strings.TrimSpace(action.Key("URI").RawString())
			if uri != "" {
				links = append(links, render.LinkRect{Bounds: bounds, URI: uri, Page: render.ExternalLink})
			}
		case "GoTo":
			if page, ok := d.resolveDest(action.Key("D")); ok {
				links = append(links, render.LinkRect{Bounds: bounds, Page: page})
			}
		default:
			if page, ok := d.resolveDest(annot.Key("Dest")); ok {
				links = append(links, render.LinkRect{Bounds: bounds, Page: page})
			}
		}
	}
	return links
}

func (d *Document) resolveDest(dest pdf.Value) (int, bool) {
	if dest.Kind() != pdf.Array || dest.Len() == 0 {
		return 0, false
	}
	target := dest.Index(0)
	if target.Kind() == pdf.Integer {
		page := int(target.Int64())
		return page, page >= 0 && page < d.PageCount()
	}
	page, ok := d.pages()[target.String()]
	return page, ok
}

// pages indexes page dictionaries by their serialized form so destination
// references can be matched to page numbers.
func (d *Document) pages() map[string]int {
	if d.pageIndex != nil {
		return d.pageIndex
	}
	index := make(map[string]int)
	func() {
		defer func() { _ = recover() }()
		for i := 1; i <= d.layout.NumPage(); i++ {
			index[d.layout.Page(i).V.String()] = i - 1
		}
	}()
	d.pageIndex = index
	return index
}
