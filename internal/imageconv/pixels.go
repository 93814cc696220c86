package imageconv

import (
	"image"
	"image/color"

	"folio/internal/render"
)

func pixelAt(pix render.PixelBuffer, x, y int) color.RGBA {
	bpp := pix.Format.BytesPerPixel()
	row := pix.Row(y)
	i := x * bpp
	c := color.RGBA{R: row[i], G: row[i+1], B: row[i+2], A: 0xff}
	if bpp == 4 {
		c.A = row[i+3]
	}
	return c
}

func fill(data []byte, bpp int, c color.RGBA) {
	px := []byte{c.R, c.G, c.B, c.A}[:bpp]
	for i := 0; i+bpp <= len(data); i += bpp {
		copy(data[i:], px)
	}
}

// copyPixels converts n pixels between 3 and 4 byte layouts. Alpha added
// by the conversion is opaque.
func copyPixels(dst, src []byte, n, inBPP, outBPP int) {
	if inBPP == outBPP {
		copy(dst[:n*outBPP], src[:n*inBPP])
		return
	}
	for x := range n {
		s := src[x*inBPP:]
		d := dst[x*outBPP:]
		d[0], d[1], d[2] = s[0], s[1], s[2]
		if outBPP == 4 {
			d[3] = 0xff
		}
	}
}

func toRGBA(pix render.PixelBuffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, pix.Width, pix.Height))
	bpp := pix.Format.BytesPerPixel()
	for y := range pix.Height {
		copyPixels(img.Pix[y*img.Stride:], pix.Row(y), pix.Width, bpp, 4)
	}
	return img
}

func fromRGBA(img *image.RGBA, format render.PixelFormat) render.PixelBuffer {
	bounds := img.Bounds()
	bpp := format.BytesPerPixel()
	out := render.PixelBuffer{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Stride: bounds.Dx() * bpp,
		Format: format,
	}
	out.Pix = make([]byte, out.Stride*out.Height)
	for y := range out.Height {
		copyPixels(out.Pix[y*out.Stride:], img.Pix[y*img.Stride:], out.Width, 4, bpp)
	}
	return out
}
