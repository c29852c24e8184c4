// Package tagging infers human-readable tags from camera metadata.
package tagging

import (
	"strings"
	"time"

	"github.com/your-org/photoproc/internal/metadata"
)

// exifDateLayout is the fixed EXIF timestamp form "YYYY:MM:DD HH:MM:SS".
const exifDateLayout = "2006:01:02 15:04:05"

// Input is what the classifier sees of a photo.
type Input struct {
	Width  int
	Height int
	Meta   metadata.Raw
}

// Classify applies every rule to in and returns the tags in discovery
// order with duplicates removed. Each rule is independent: a missing or
// unparseable field only disables the rule that reads it.
func Classify(in Input) []string {
	var s tagSet
	orientation(&s, in.Width, in.Height)
	camera(&s, in.Meta)
	exposure(&s, in.Meta)
	aperture(&s, in.Meta)
	focalLength(&s, in.Meta)
	iso(&s, in.Meta)
	timeOfDay(&s, in.Meta)
	return s.list
}

func orientation(s *tagSet, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	ratio := float64(w) / float64(h)
	switch {
	case ratio > 1.2:
		s.add("Landscape")
	case ratio < 0.8:
		s.add("Portrait")
	default:
		s.add("Square")
	}
}

func camera(s *tagSet, m metadata.Raw) {
	for _, field := range []string{metadata.FieldMake, metadata.FieldModel} {
		if v, ok := m[field]; ok {
			s.add(v.String())
		}
	}
}

func exposure(s *tagSet, m metadata.Raw) {
	v, ok := m[metadata.FieldExposureTime]
	if !ok {
		return
	}
	t := metadata.ParseRational(v)
	if t <= 0 {
		return
	}
	switch {
	case t >= 1.0:
		s.add("Long Exposure")
	case t >= 0.1:
		s.add("Slow Shutter")
	case t <= 0.001:
		s.add("Freeze Motion", "High Speed")
	}
	// Exposures between 1/1000s and 1/10s carry no tag.
}

func aperture(s *tagSet, m metadata.Raw) {
	v, ok := m[metadata.FieldFNumber]
	if !ok {
		return
	}
	f := metadata.ParseRational(v)
	if f <= 0 {
		return
	}
	switch {
	case f <= 2.8:
		s.add("Bokeh", "Shallow Depth of Field", "Macro")
	case f >= 8.0:
		s.add("Deep Depth of Field")
	}
}

func focalLength(s *tagSet, m metadata.Raw) {
	v, ok := m[metadata.FieldFocalLength]
	if !ok {
		return
	}
	mm := metadata.ParseRational(v)
	if mm <= 0 {
		return
	}
	switch {
	case mm <= 24:
		s.add("Wide Angle")
	case mm >= 85:
		s.add("Telephoto")
	case mm >= 35 && mm <= 50:
		s.add("Standard Lens")
	}
}

func iso(s *tagSet, m metadata.Raw) {
	v, ok := m[metadata.FieldISO]
	if !ok {
		return
	}
	n, ok := metadata.FirstInt(v)
	if !ok {
		return
	}
	switch {
	case n >= 1600:
		s.add("High ISO", "Low Light")
	case n <= 200:
		s.add("Daylight")
	}
}

func timeOfDay(s *tagSet, m metadata.Raw) {
	v, ok := m[metadata.FieldDateTimeOriginal]
	if !ok || v.Kind != metadata.KindText {
		return
	}
	ts, err := time.Parse(exifDateLayout, v.String())
	if err != nil {
		return
	}
	switch h := ts.Hour(); {
	case h >= 5 && h < 8:
		s.add("Golden Hour", "Morning")
	case h >= 8 && h < 12:
		s.add("Morning")
	case h >= 12 && h < 17:
		s.add("Afternoon")
	case h >= 17 && h < 19:
		s.add("Golden Hour", "Sunset")
	case h >= 19 && h < 22:
		s.add("Evening")
	default:
		s.add("Night", "Night Photography")
	}
}

type tagSet struct {
	seen map[string]struct{}
	list []string
}

func (s *tagSet) add(tags ...string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := s.seen[t]; dup {
			continue
		}
		s.seen[t] = struct{}{}
		s.list = append(s.list, t)
	}
}

// Merge returns the union of the given tag lists, first occurrence wins.
func Merge(lists ...[]string) []string {
	var s tagSet
	for _, l := range lists {
		s.add(l...)
	}
	return s.list
}
