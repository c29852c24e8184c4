package metadata

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photoproc/internal/testutil"
)

func TestParseRational(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want float64
	}{
		{"rational", Rational(1, 60), 1.0 / 60},
		{"zero denominator", Rational(7, 0), 0},
		{"pair sequence", Sequence(Scalar(1), Scalar(60)), 1.0 / 60},
		{"pair with zero denominator", Sequence(Scalar(5), Scalar(0)), 0},
		{"scalar", Scalar(2.8), 2.8},
		{"numeric text", Text("1.8\x00"), 1.8},
		{"non numeric text", Text("Canon"), 0},
		{"long sequence", Sequence(Scalar(1), Scalar(2), Scalar(3)), 0},
		{"nested text in pair", Sequence(Text("a"), Scalar(2)), 0},
		{"zero value", Value{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseRational(tt.in), 1e-12)
		})
	}
}

func TestParseRationalAnyNumeratorOverZero(t *testing.T) {
	for _, n := range []int64{-5, 0, 1, 1 << 40} {
		assert.Zero(t, ParseRational(Rational(n, 0)))
	}
}

func TestFirstInt(t *testing.T) {
	n, ok := FirstInt(Sequence(Scalar(3200), Scalar(100)))
	require.True(t, ok)
	assert.Equal(t, 3200, n)

	n, ok = FirstInt(Scalar(400))
	require.True(t, ok)
	assert.Equal(t, 400, n)

	n, ok = FirstInt(Text(" 800 "))
	require.True(t, ok)
	assert.Equal(t, 800, n)

	_, ok = FirstInt(Sequence())
	assert.False(t, ok)
	_, ok = FirstInt(Text("auto"))
	assert.False(t, ok)
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "0.0005", Rational(1, 2000).String())
	assert.Equal(t, "1.8", Rational(18, 10).String())
	assert.Equal(t, "3200", Scalar(3200).String())
	assert.Equal(t, "Canon", Text("Canon\x00\x00").String())
	assert.Equal(t, "100, 200", Sequence(Scalar(100), Scalar(200)).String())
}

func TestExtractReadsCuratedFields(t *testing.T) {
	data := testutil.JPEG(64, 48, &testutil.EXIF{
		Make:             "Canon",
		Model:            "EOS R5",
		LensModel:        "RF24-70mm F2.8 L IS USM",
		DateTimeOriginal: "2024:06:01 06:30:00",
		ExposureTime:     [2]uint32{1, 2000},
		FNumber:          [2]uint32{18, 10},
		FocalLength:      [2]uint32{18, 1},
		ISO:              3200,
	})

	raw := NewExtractor().Extract(data)

	assert.Equal(t, "Canon", raw[FieldMake].String())
	assert.Equal(t, "EOS R5", raw[FieldModel].String())
	assert.Equal(t, "RF24-70mm F2.8 L IS USM", raw[FieldLensModel].String())
	assert.Equal(t, "2024:06:01 06:30:00", raw[FieldDateTimeOriginal].String())
	assert.InDelta(t, 1.0/2000, ParseRational(raw[FieldExposureTime]), 1e-12)
	assert.InDelta(t, 1.8, ParseRational(raw[FieldFNumber]), 1e-12)
	assert.InDelta(t, 18, ParseRational(raw[FieldFocalLength]), 1e-12)
	iso, ok := FirstInt(raw[FieldISO])
	require.True(t, ok)
	assert.Equal(t, 3200, iso)
}

func TestExtractDropsVendorBlobs(t *testing.T) {
	data := testutil.JPEG(32, 32, &testutil.EXIF{
		Make:        "Nikon",
		MakerNote:   []byte("tiny"),
		UserComment: bytes.Repeat([]byte{0xaa}, 4096),
	})

	raw := NewExtractor().Extract(data)

	assert.Contains(t, raw, FieldMake)
	assert.NotContains(t, raw, "MakerNote")
	assert.NotContains(t, raw, "UserComment")
}

func TestExtractKeepsFieldsAroundCorruptEntry(t *testing.T) {
	data := testutil.JPEG(64, 48, &testutil.EXIF{
		Make:             "Sony",
		Model:            "ILCE-7M4",
		DateTimeOriginal: "2024:06:01 06:30:00",
		FNumber:          [2]uint32{18, 10},
		ISO:              3200,
		CorruptTag:       0x9003,
	})

	raw := NewExtractor().Extract(data)

	assert.Equal(t, "Sony", raw[FieldMake].String())
	assert.Equal(t, "ILCE-7M4", raw[FieldModel].String())
	assert.InDelta(t, 1.8, ParseRational(raw[FieldFNumber]), 1e-12)
	iso, ok := FirstInt(raw[FieldISO])
	require.True(t, ok)
	assert.Equal(t, 3200, iso)
	assert.NotContains(t, raw, FieldDateTimeOriginal)
}

func TestExtractWithoutMetadata(t *testing.T) {
	e := NewExtractor()
	assert.Empty(t, e.Extract(testutil.JPEG(16, 16, nil)))
	assert.Empty(t, e.Extract(testutil.PNG(16, 16)))
	assert.Empty(t, e.Extract([]byte("definitely not an image")))
	assert.Empty(t, e.Extract(nil))
}

func TestCurateAndStrings(t *testing.T) {
	raw := Raw{
		FieldMake:      Text("Fujifilm"),
		FieldFNumber:   Rational(28, 10),
		"Software":     Text("firmware 1.2"),
		"XResolution":  Rational(72, 1),
		FieldISO:       Sequence(Scalar(160), Scalar(160)),
		FieldLensModel: Text("XF35mmF1.4 R"),
	}

	got := Curate(raw).Strings()

	assert.Equal(t, map[string]string{
		FieldMake:      "Fujifilm",
		FieldFNumber:   "2.8",
		FieldISO:       "160, 160",
		FieldLensModel: "XF35mmF1.4 R",
	}, got)
}
