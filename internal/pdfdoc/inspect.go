package pdfdoc

import (
	"strings"

	"github.com/gen2brain/go-fitz"

	"folio/internal/faults"
	"folio/internal/render"
)

// Inspect reads page count, metadata, and outline without rendering.
func Inspect(path string) (render.DocumentInfo, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return render.DocumentInfo{}, faults.Wrap(faults.ErrDecode, "pdfdoc", "inspect", path, err)
	}
	defer doc.Close()

	meta := doc.Metadata()
	info := render.DocumentInfo{
		Path:     path,
		Pages:    doc.NumPage(),
		Title:    strings.TrimSpace(meta["title"]),
		Author:   strings.TrimSpace(meta["author"]),
		Metadata: meta,
	}
	if toc, err := doc.ToC(); err == nil {
		info.Outline = make([]render.OutlineEntry, 0, len(toc))
		for _, item := range toc {
			info.Outline = append(info.Outline, render.OutlineEntry{
				Level: item.Level,
				Title: strings.TrimSpace(item.Title),
				Page:  item.Page,
			})
		}
	}
	return info, nil
}
