package render

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	watermarkMargin = 20
	fontScale       = 30 // font size = width / fontScale
)

var watermarkInk = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 128})

// Watermark draws the watermark text semi-transparently in the bottom-right
// corner of a full-size copy of img.
func (r *Renderer) Watermark(img image.Image) ([]byte, error) {
	dst := imaging.Clone(img)
	if r.text != "" {
		r.drawText(dst)
	}
	return encodeJPEG(dst, FullQuality)
}

func (r *Renderer) drawText(dst *image.NRGBA) {
	b := dst.Bounds()
	face := r.face(b.Dx())
	defer face.Close()

	d := &font.Drawer{Dst: dst, Src: watermarkInk, Face: face}
	textW := d.MeasureString(r.text).Ceil()
	descent := face.Metrics().Descent.Ceil()

	x := b.Max.X - textW - watermarkMargin
	y := b.Max.Y - watermarkMargin - descent
	d.Dot = fixed.P(max(x, b.Min.X), y)
	d.DrawString(r.text)
}

func (r *Renderer) face(width int) font.Face {
	if r.font == nil {
		return basicfont.Face7x13
	}
	return truetype.NewFace(r.font, &truetype.Options{
		Size:    float64(max(width/fontScale, 1)),
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
