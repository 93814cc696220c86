package pdfdoc

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"folio/internal/render"
)

const (
	ascentRatio  = 0.8
	descentRatio = 0.2
	// A horizontal gap wider than this fraction of the font size starts a
	// new run.
	wordGapRatio = 0.25
)

type glyph struct {
	x, w float64
	r    rune
}

type runBuilder struct {
	y, size float64
	end     float64
	glyphs  []glyph
}

func (b *runBuilder) accepts(t pdf.Text) bool {
	if b == nil || len(b.glyphs) == 0 {
		return false
	}
	if math.Abs(t.Y-b.y) > 0.5 || math.Abs(t.FontSize-b.size) > 0.1 {
		return false
	}
	gap := t.X - b.end
	return gap > -b.size && gap < b.size*wordGapRatio
}

// extractText groups the per-glyph content stream output into word runs and
// maps them into raster coordinates. Text is NFKC-normalized so ligatures
// expand to their letters; expanded runes share the ligature's advance.
func extractText(pg pdf.Page, g geometry) (runs []render.TextRun) {
	defer func() {
		if recover() != nil {
			runs = nil
		}
	}()

	var cur *runBuilder
	offset := 0
	flush := func() {
		if cur == nil || len(cur.glyphs) == 0 {
			cur = nil
			return
		}
		run := cur.build(g, offset)
		offset += utf8.RuneCountInString(run.Text) + 1
		runs = append(runs, run)
		cur = nil
	}

	for _, t := range pg.Content().Text {
		if strings.TrimSpace(t.S) == "" {
			flush()
			continue
		}
		if !cur.accepts(t) {
			flush()
			cur = &runBuilder{y: t.Y, size: t.FontSize}
		}
		expanded := []rune(norm.NFKC.String(t.S))
		for i, r := range expanded {
			if unicode.IsControl(r) {
				continue
			}
			step := t.W / float64(len(expanded))
			cur.glyphs = append(cur.glyphs, glyph{x: t.X + step*float64(i), w: step, r: r})
		}
		cur.end = t.X + t.W
	}
	flush()
	return runs
}

func (b *runBuilder) build(g geometry, offset int) render.TextRun {
	first, last := b.glyphs[0], b.glyphs[len(b.glyphs)-1]
	top := b.y + b.size*ascentRatio
	bottom := b.y - b.size*descentRatio

	var text strings.Builder
	text.Grow(len(b.glyphs))
	for _, gl := range b.glyphs {
		text.WriteRune(gl.r)
	}
	run := render.TextRun{
		Text:   text.String(),
		Bounds: g.rect(first.x, bottom, last.x+last.w, top),
		Offset: offset,
	}
	if g.horizontal() {
		run.CharX = make([]float32, len(b.glyphs))
		for i, gl := range b.glyphs {
			left, _ := g.point(gl.x, b.y)
			right, _ := g.point(gl.x+gl.w, b.y)
			run.CharX[i] = float32(math.Min(left, right))
		}
	}
	return run
}
