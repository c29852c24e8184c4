package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/photoproc/internal/metadata"
)

func TestOrientationOnly(t *testing.T) {
	tests := []struct {
		w, h int
		want string
	}{
		{4000, 3000, "Landscape"},
		{3000, 4000, "Portrait"},
		{1000, 1000, "Square"},
		{1200, 1000, "Square"},
		{1201, 1000, "Landscape"},
		{800, 1000, "Square"},
		{799, 1000, "Portrait"},
		{1, 1, "Square"},
	}
	for _, tt := range tests {
		got := Classify(Input{Width: tt.w, Height: tt.h})
		assert.Equal(t, []string{tt.want}, got, "%dx%d", tt.w, tt.h)
	}
}

func TestDegenerateDimensionsSkipOrientation(t *testing.T) {
	assert.Empty(t, Classify(Input{Width: 0, Height: 100}))
}

func TestConcreteScenario(t *testing.T) {
	got := Classify(Input{
		Width:  4000,
		Height: 3000,
		Meta: metadata.Raw{
			metadata.FieldExposureTime:     metadata.Rational(1, 2000),
			metadata.FieldFNumber:          metadata.Rational(18, 10),
			metadata.FieldISO:              metadata.Scalar(3200),
			metadata.FieldFocalLength:      metadata.Rational(18, 1),
			metadata.FieldDateTimeOriginal: metadata.Text("2024:06:01 06:30:00"),
		},
	})

	assert.ElementsMatch(t, []string{
		"Landscape", "Freeze Motion", "High Speed", "Bokeh",
		"Shallow Depth of Field", "Macro", "Wide Angle", "High ISO",
		"Low Light", "Golden Hour", "Morning",
	}, got)
}

func TestCameraTagsAreTrimmedRawStrings(t *testing.T) {
	got := Classify(Input{
		Width: 10, Height: 10,
		Meta: metadata.Raw{
			metadata.FieldMake:  metadata.Text("  SONY \x00"),
			metadata.FieldModel: metadata.Text("ILCE-7M4"),
		},
	})
	assert.Equal(t, []string{"Square", "SONY", "ILCE-7M4"}, got)
}

func TestBlankCameraIgnored(t *testing.T) {
	got := Classify(Input{
		Width: 10, Height: 10,
		Meta: metadata.Raw{metadata.FieldMake: metadata.Text("   ")},
	})
	assert.Equal(t, []string{"Square"}, got)
}

func TestExposureBands(t *testing.T) {
	tests := []struct {
		name string
		v    metadata.Value
		want []string
	}{
		{"long", metadata.Rational(2, 1), []string{"Long Exposure"}},
		{"exactly one second", metadata.Scalar(1), []string{"Long Exposure"}},
		{"slow", metadata.Rational(1, 4), []string{"Slow Shutter"}},
		{"exactly a tenth", metadata.Rational(1, 10), []string{"Slow Shutter"}},
		{"gap", metadata.Rational(1, 60), nil},
		{"exactly a thousandth", metadata.Rational(1, 1000), []string{"Freeze Motion", "High Speed"}},
		{"fast", metadata.Rational(1, 8000), []string{"Freeze Motion", "High Speed"}},
		{"zero", metadata.Rational(0, 1), nil},
		{"bad denominator", metadata.Rational(1, 0), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Input{Meta: metadata.Raw{metadata.FieldExposureTime: tt.v}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApertureFocalAndISOBands(t *testing.T) {
	tests := []struct {
		name  string
		field string
		v     metadata.Value
		want  []string
	}{
		{"wide open", metadata.FieldFNumber, metadata.Rational(28, 10), []string{"Bokeh", "Shallow Depth of Field", "Macro"}},
		{"middle aperture", metadata.FieldFNumber, metadata.Rational(56, 10), nil},
		{"stopped down", metadata.FieldFNumber, metadata.Scalar(8), []string{"Deep Depth of Field"}},
		{"wide", metadata.FieldFocalLength, metadata.Scalar(24), []string{"Wide Angle"}},
		{"between wide and standard", metadata.FieldFocalLength, metadata.Scalar(28), nil},
		{"standard low", metadata.FieldFocalLength, metadata.Scalar(35), []string{"Standard Lens"}},
		{"standard high", metadata.FieldFocalLength, metadata.Rational(50, 1), []string{"Standard Lens"}},
		{"short tele gap", metadata.FieldFocalLength, metadata.Scalar(70), nil},
		{"tele", metadata.FieldFocalLength, metadata.Scalar(85), []string{"Telephoto"}},
		{"high iso", metadata.FieldISO, metadata.Scalar(1600), []string{"High ISO", "Low Light"}},
		{"iso as list", metadata.FieldISO, metadata.Sequence(metadata.Scalar(6400), metadata.Scalar(100)), []string{"High ISO", "Low Light"}},
		{"mid iso", metadata.FieldISO, metadata.Scalar(800), nil},
		{"daylight", metadata.FieldISO, metadata.Scalar(200), []string{"Daylight"}},
		{"garbage iso", metadata.FieldISO, metadata.Text("auto"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Input{Meta: metadata.Raw{tt.field: tt.v}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDay(t *testing.T) {
	tests := []struct {
		ts   string
		want []string
	}{
		{"2024:06:01 04:59:59", []string{"Night", "Night Photography"}},
		{"2024:06:01 05:00:00", []string{"Golden Hour", "Morning"}},
		{"2024:06:01 08:00:00", []string{"Morning"}},
		{"2024:06:01 12:30:00", []string{"Afternoon"}},
		{"2024:06:01 17:00:00", []string{"Golden Hour", "Sunset"}},
		{"2024:06:01 19:00:00", []string{"Evening"}},
		{"2024:06:01 22:00:00", []string{"Night", "Night Photography"}},
		{"2024-06-01 10:00:00", nil},
		{"2024:06:01", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := Classify(Input{Meta: metadata.Raw{metadata.FieldDateTimeOriginal: metadata.Text(tt.ts)}})
		assert.Equal(t, tt.want, got, tt.ts)
	}
}

func TestBadTimestampLeavesOtherRules(t *testing.T) {
	got := Classify(Input{
		Width: 300, Height: 400,
		Meta: metadata.Raw{
			metadata.FieldDateTimeOriginal: metadata.Text("yesterday"),
			metadata.FieldISO:              metadata.Scalar(100),
		},
	})
	assert.Equal(t, []string{"Portrait", "Daylight"}, got)
}

func TestDuplicatesMerged(t *testing.T) {
	got := Classify(Input{
		Width: 10, Height: 10,
		Meta: metadata.Raw{
			metadata.FieldMake:             metadata.Text("Morning"),
			metadata.FieldDateTimeOriginal: metadata.Text("2024:01:01 06:00:00"),
		},
	})
	assert.Equal(t, []string{"Square", "Morning", "Golden Hour"}, got)
}

func TestMerge(t *testing.T) {
	got := Merge([]string{"Custom", "Landscape"}, []string{"Landscape", "dog"}, nil)
	assert.Equal(t, []string{"Custom", "Landscape", "dog"}, got)
}
