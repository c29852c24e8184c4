// Package render produces the preview and watermarked derivatives of a
// decoded photograph.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	_ "golang.org/x/image/webp"
)

// Output JPEG qualities.
const (
	ThumbnailQuality = 85
	FullQuality      = 95

	DefaultThumbnailSize = 500
)

var ErrEmptyImage = errors.New("image has no pixels")

type Options struct {
	ThumbnailSize int
	WatermarkText string
	// FontPath names a TrueType font. Empty selects the bundled Go Regular
	// face; an unreadable file falls back to a fixed-size bitmap face.
	FontPath string
}

// Renderer is safe for concurrent use; it holds only read-only state.
type Renderer struct {
	bound int
	text  string
	font  *truetype.Font
}

func New(opts Options) *Renderer {
	bound := opts.ThumbnailSize
	if bound <= 0 {
		bound = DefaultThumbnailSize
	}
	return &Renderer{
		bound: bound,
		text:  opts.WatermarkText,
		font:  loadFont(opts.FontPath),
	}
}

func loadFont(path string) *truetype.Font {
	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("watermark font unavailable, using bitmap face", "path", path, "error", err)
			return nil
		}
		data = b
	}
	f, err := freetype.ParseFont(data)
	if err != nil {
		slog.Warn("parse watermark font, using bitmap face", "path", path, "error", err)
		return nil
	}
	return f
}

// Decode decodes an original in any registered format.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// Result carries both derivatives; each half fails independently.
type Result struct {
	Preview      []byte
	PreviewErr   error
	Watermarked  []byte
	WatermarkErr error
}

// Render computes both derivatives concurrently from the same source image.
func (r *Renderer) Render(img image.Image) Result {
	var (
		res Result
		wg  sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Preview, res.PreviewErr = guard("thumbnail", func() ([]byte, error) { return r.Thumbnail(img) })
	}()
	go func() {
		defer wg.Done()
		res.Watermarked, res.WatermarkErr = guard("watermark", func() ([]byte, error) { return r.Watermark(img) })
	}()
	wg.Wait()
	return res
}

// Thumbnail downscales img so neither side exceeds the bound. Images that
// already fit keep their size.
func (r *Renderer) Thumbnail(img image.Image) ([]byte, error) {
	thumb := imaging.Fit(img, r.bound, r.bound, imaging.Lanczos)
	return encodeJPEG(thumb, ThumbnailQuality)
}

func encodeJPEG(img *image.NRGBA, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// flatten composites img over white so transparent sources encode opaque.
func flatten(img *image.NRGBA) *image.NRGBA {
	if img.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func guard(stage string, fn func() ([]byte, error)) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s panic: %v", stage, r)
		}
	}()
	return fn()
}
