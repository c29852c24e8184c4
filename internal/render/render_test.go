package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photoproc/internal/testutil"
)

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func meanLuma(img image.Image, r image.Rectangle) float64 {
	var sum float64
	var n int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(c.Y)
			n++
		}
	}
	return sum / float64(n)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	assert.Error(t, err)

	_, err = Decode(nil)
	assert.Error(t, err)
}

func TestDecodeFormats(t *testing.T) {
	img, err := Decode(testutil.JPEG(40, 30, nil))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 30), img.Bounds().Size())

	img, err = Decode(testutil.PNG(20, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(20, 10), img.Bounds().Size())
}

func TestThumbnailBounds(t *testing.T) {
	r := New(Options{})

	tests := []struct {
		name string
		w, h int
		want image.Point
	}{
		{"landscape", 1200, 900, image.Pt(500, 375)},
		{"portrait", 600, 1200, image.Pt(250, 500)},
		{"already small", 200, 100, image.Pt(200, 100)},
		{"exact bound", 500, 500, image.Pt(500, 500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Thumbnail(testutil.Image(tt.w, tt.h))
			require.NoError(t, err)
			assert.Equal(t, tt.want, decodeJPEG(t, out).Bounds().Size())
		})
	}
}

func TestThumbnailCustomBound(t *testing.T) {
	r := New(Options{ThumbnailSize: 64})
	out, err := r.Thumbnail(testutil.Image(256, 128))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 32), decodeJPEG(t, out).Bounds().Size())
}

func TestTransparentSourceFlattenedOntoWhite(t *testing.T) {
	src, err := Decode(testutil.PNG(100, 50))
	require.NoError(t, err)

	out, err := New(Options{}).Thumbnail(src)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Greater(t, meanLuma(img, image.Rect(5, 5, 40, 45)), 240.0)
}

func TestWatermarkDrawnBottomRight(t *testing.T) {
	src := imaging.New(600, 300, color.Black)
	r := New(Options{WatermarkText: "© MemoRise"})

	out, err := r.Watermark(src)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(t, image.Pt(600, 300), img.Bounds().Size())
	assert.Greater(t, meanLuma(img, image.Rect(440, 250, 580, 282)), 10.0)
	assert.Less(t, meanLuma(img, image.Rect(0, 0, 200, 100)), 5.0)
}

func TestWatermarkFallsBackToBitmapFace(t *testing.T) {
	r := New(Options{WatermarkText: "(c) MemoRise", FontPath: "/nonexistent/font.ttf"})
	require.Nil(t, r.font)

	out, err := r.Watermark(imaging.New(300, 100, color.Black))
	require.NoError(t, err)
	img := decodeJPEG(t, out)
	assert.Greater(t, meanLuma(img, image.Rect(180, 60, 280, 80)), 5.0)
}

func TestWatermarkOnTinyImage(t *testing.T) {
	r := New(Options{WatermarkText: "© MemoRise"})
	out, err := r.Watermark(testutil.Image(8, 8))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 8), decodeJPEG(t, out).Bounds().Size())
}

func TestRenderProducesBothOutputsDeterministically(t *testing.T) {
	r := New(Options{WatermarkText: "© MemoRise"})
	src := testutil.Image(800, 600)

	first := r.Render(src)
	require.NoError(t, first.PreviewErr)
	require.NoError(t, first.WatermarkErr)
	assert.Equal(t, image.Pt(500, 375), decodeJPEG(t, first.Preview).Bounds().Size())
	assert.Equal(t, image.Pt(800, 600), decodeJPEG(t, first.Watermarked).Bounds().Size())

	second := r.Render(src)
	assert.Equal(t, first.Preview, second.Preview)
	assert.Equal(t, first.Watermarked, second.Watermarked)
}

func TestGuardConvertsPanic(t *testing.T) {
	out, err := guard("thumbnail", func() ([]byte, error) { panic("boom") })
	assert.Nil(t, out)
	assert.ErrorContains(t, err, "thumbnail panic: boom")
}
