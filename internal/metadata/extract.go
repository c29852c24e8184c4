package metadata

import (
	"bytes"
	"io"
	"log/slog"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/your-org/photoproc/internal/observability"
)

// Field names of the curated subset. These are the only fields persisted
// on the photo record and the only ones the tag classifier reads.
const (
	FieldMake             = string(exif.Make)
	FieldModel            = string(exif.Model)
	FieldDateTimeOriginal = string(exif.DateTimeOriginal)
	FieldExposureTime     = string(exif.ExposureTime)
	FieldFNumber          = string(exif.FNumber)
	FieldISO              = string(exif.ISOSpeedRatings)
	FieldFocalLength      = string(exif.FocalLength)
	FieldLensModel        = string(exif.LensModel)
)

var curatedFields = []string{
	FieldMake, FieldModel, FieldDateTimeOriginal, FieldExposureTime,
	FieldFNumber, FieldISO, FieldFocalLength, FieldLensModel,
}

// Vendor blobs are dropped whatever their size.
var deniedFields = map[exif.FieldName]struct{}{
	exif.MakerNote:   {},
	exif.UserComment: {},
}

const (
	maxTextLen  = 512
	maxSeqItems = 64
)

// Extractor reads embedded EXIF metadata from raw image bytes.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract parses the metadata block of data. A missing or malformed block
// yields an empty map; a field that fails to convert is skipped.
func (e *Extractor) Extract(data []byte) (raw Raw) {
	raw = Raw{}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("exif parse panic", "panic", r)
			raw = Raw{}
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return raw
	}

	_ = x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		if _, denied := deniedFields[name]; denied {
			return nil
		}
		v, ok := convertTag(tag)
		if !ok {
			return nil
		}
		raw[string(name)] = v
		return nil
	}))
	if exif.IsExifError(err) {
		salvageExifDir(x, raw)
	}
	return raw
}

const ifdEntrySize = 12

// Tags of the Exif sub-IFD that are worth recovering by hand.
var exifSubFields = map[uint16]exif.FieldName{
	0x829a: exif.ExposureTime,
	0x829d: exif.FNumber,
	0x8827: exif.ISOSpeedRatings,
	0x9003: exif.DateTimeOriginal,
	0x920a: exif.FocalLength,
	0xa434: exif.LensModel,
}

// salvageExifDir decodes the Exif sub-IFD one entry at a time. The exif
// package drops the whole directory on the first bad entry; here only that
// entry is lost.
func salvageExifDir(x *exif.Exif, raw Raw) {
	ptr, err := x.Get(exif.ExifIFDPointer)
	if err != nil {
		return
	}
	off, err := ptr.Int64(0)
	if err != nil || off < 0 || off+2 > int64(len(x.Raw)) {
		return
	}
	order := x.Tiff.Order
	count := int(order.Uint16(x.Raw[off:]))
	r := bytes.NewReader(x.Raw)
	for i := 0; i < count; i++ {
		pos := off + 2 + int64(i)*ifdEntrySize
		if pos+ifdEntrySize > int64(len(x.Raw)) {
			break
		}
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			break
		}
		tag, err := tiff.DecodeTag(r, order)
		if err != nil {
			observability.MetadataFieldErrors.Inc()
			slog.Debug("skip unreadable exif entry", "index", i, "error", err)
			continue
		}
		name, ok := exifSubFields[tag.Id]
		if !ok {
			continue
		}
		if _, seen := raw[string(name)]; seen {
			continue
		}
		if v, ok := convertTag(tag); ok {
			raw[string(name)] = v
		}
	}
}

type walkFunc func(exif.FieldName, *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error { return f(name, tag) }

// convertTag maps a TIFF tag onto a Value. Undefined-typed (binary) tags
// and oversized values are rejected.
func convertTag(tag *tiff.Tag) (Value, bool) {
	if tag == nil || tag.Count == 0 {
		return Value{}, false
	}
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			observability.MetadataFieldErrors.Inc()
			return Value{}, false
		}
		if len(s) > maxTextLen {
			return Value{}, false
		}
		return Text(s), true
	case tiff.RatVal:
		return collect(tag, func(i int) (Value, error) {
			n, d, err := tag.Rat2(i)
			return Rational(n, d), err
		})
	case tiff.IntVal:
		return collect(tag, func(i int) (Value, error) {
			n, err := tag.Int64(i)
			return Scalar(float64(n)), err
		})
	case tiff.FloatVal:
		return collect(tag, func(i int) (Value, error) {
			f, err := tag.Float(i)
			return Scalar(f), err
		})
	}
	return Value{}, false
}

func collect(tag *tiff.Tag, at func(int) (Value, error)) (Value, bool) {
	count := int(tag.Count)
	if count > maxSeqItems {
		return Value{}, false
	}
	items := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		v, err := at(i)
		if err != nil {
			observability.MetadataFieldErrors.Inc()
			return Value{}, false
		}
		items = append(items, v)
	}
	if len(items) == 1 {
		return items[0], true
	}
	return Sequence(items...), true
}

// Curate keeps only the curated fields of raw.
func Curate(raw Raw) Raw {
	out := make(Raw, len(curatedFields))
	for _, k := range curatedFields {
		if v, ok := raw[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Strings renders raw for persistence.
func (r Raw) Strings() map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = v.String()
	}
	return out
}
