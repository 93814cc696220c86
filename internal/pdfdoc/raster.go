package pdfdoc

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"folio/internal/render"
)

// compose rotates the MuPDF raster by the user rotation and places it on a
// white canvas of exactly the cell-aligned output size.
func compose(src *image.RGBA, spec render.RasterSpec, rotation render.Rotation) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	sb := src.Bounds()
	w, h := float64(sb.Dx()), float64(sb.Dy())
	var m f64.Aff3
	switch rotation {
	case 90:
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	case 180:
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	default:
		draw.Draw(canvas, sb.Sub(sb.Min), src, sb.Min, draw.Over)
		return canvas
	}
	// The matrix maps source coordinates relative to the source origin.
	m[2] -= m[0]*float64(sb.Min.X) + m[1]*float64(sb.Min.Y)
	m[5] -= m[3]*float64(sb.Min.X) + m[4]*float64(sb.Min.Y)
	draw.NearestNeighbor.Transform(canvas, m, src, sb, draw.Over, nil)
	return canvas
}

// packRGB drops the alpha channel; MuPDF rasters are opaque.
func packRGB(img *image.RGBA) render.PixelBuffer {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	stride := width * 3
	pix := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride:]
		dst := pix[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			copy(dst[x*3:x*3+3], src[x*4:x*4+3])
		}
	}
	return render.PixelBuffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: render.FormatRGB24,
		Pix:    pix,
	}
}
