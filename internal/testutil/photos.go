// Package testutil builds synthetic photographs for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sort"

	"golang.org/x/image/tiff"
)

// EXIF describes the tags written into a synthetic JPEG. Zero fields are
// omitted.
type EXIF struct {
	Make             string
	Model            string
	LensModel        string
	DateTimeOriginal string
	ExposureTime     [2]uint32
	FNumber          [2]uint32
	FocalLength      [2]uint32
	ISO              uint16
	MakerNote        []byte
	UserComment      []byte
	// CorruptTag, when set, gets a value offset past the end of the
	// block. It must name a tag whose value does not fit inline.
	CorruptTag uint16
}

const (
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeUndefined = 7

	tagMake             = 0x010f
	tagModel            = 0x0110
	tagExifIFD          = 0x8769
	tagExposureTime     = 0x829a
	tagFNumber          = 0x829d
	tagISO              = 0x8827
	tagDateTimeOriginal = 0x9003
	tagFocalLength      = 0x920a
	tagMakerNote        = 0x927c
	tagUserComment      = 0x9286
	tagLensModel        = 0xa434
)

type entry struct {
	tag     uint16
	typ     uint16
	count   uint32
	data    []byte
	corrupt bool
}

// Image returns a gradient RGBA image of the given size.
func Image(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

// JPEG encodes a w×h image, embedding ex as an EXIF APP1 segment when
// non-nil.
func JPEG(w, h int, ex *EXIF) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Image(w, h), &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	body := buf.Bytes()
	if ex == nil {
		return body
	}

	tiff := ex.tiff()
	seg := append([]byte("Exif\x00\x00"), tiff...)

	out := make([]byte, 0, len(body)+len(seg)+4)
	out = append(out, 0xff, 0xd8, 0xff, 0xe1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(seg)+2))
	out = append(out, seg...)
	return append(out, body[2:]...)
}

// TIFF encodes a w×h image as an uncompressed little-endian TIFF.
func TIFF(w, h int) []byte {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, Image(w, h), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG encodes a w×h image with a transparent left half.
func PNG(w, h int) []byte {
	img := Image(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.Set(x, y, color.NRGBA{})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (ex *EXIF) tiff() []byte {
	var ifd0, sub []entry
	if ex.Make != "" {
		ifd0 = append(ifd0, ascii(tagMake, ex.Make))
	}
	if ex.Model != "" {
		ifd0 = append(ifd0, ascii(tagModel, ex.Model))
	}
	if ex.ExposureTime[1] != 0 || ex.ExposureTime[0] != 0 {
		sub = append(sub, rational(tagExposureTime, ex.ExposureTime))
	}
	if ex.FNumber[1] != 0 || ex.FNumber[0] != 0 {
		sub = append(sub, rational(tagFNumber, ex.FNumber))
	}
	if ex.ISO != 0 {
		d := binary.LittleEndian.AppendUint16(nil, ex.ISO)
		sub = append(sub, entry{tag: tagISO, typ: typeShort, count: 1, data: d})
	}
	if ex.DateTimeOriginal != "" {
		sub = append(sub, ascii(tagDateTimeOriginal, ex.DateTimeOriginal))
	}
	if ex.FocalLength[1] != 0 || ex.FocalLength[0] != 0 {
		sub = append(sub, rational(tagFocalLength, ex.FocalLength))
	}
	if len(ex.MakerNote) > 0 {
		sub = append(sub, entry{tag: tagMakerNote, typ: typeUndefined, count: uint32(len(ex.MakerNote)), data: ex.MakerNote})
	}
	if len(ex.UserComment) > 0 {
		sub = append(sub, entry{tag: tagUserComment, typ: typeUndefined, count: uint32(len(ex.UserComment)), data: ex.UserComment})
	}
	if ex.LensModel != "" {
		sub = append(sub, ascii(tagLensModel, ex.LensModel))
	}

	if ex.CorruptTag != 0 {
		for _, dir := range [][]entry{ifd0, sub} {
			for i := range dir {
				dir[i].corrupt = dir[i].tag == ex.CorruptTag
			}
		}
	}

	// The pointer's value is patched once the size of IFD0 is known.
	ifd0 = append(ifd0, entry{tag: tagExifIFD, typ: typeLong, count: 1, data: make([]byte, 4)})

	const headerLen = 8
	subOffset := headerLen + ifdSize(ifd0)
	binary.LittleEndian.PutUint32(ifd0[len(ifd0)-1].data, uint32(subOffset))

	out := []byte{'I', 'I', 42, 0}
	out = binary.LittleEndian.AppendUint32(out, headerLen)
	out = append(out, layoutIFD(ifd0, headerLen)...)
	out = append(out, layoutIFD(sub, subOffset)...)
	return out
}

func ascii(tag uint16, s string) entry {
	d := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(d)), data: d}
}

func rational(tag uint16, v [2]uint32) entry {
	d := binary.LittleEndian.AppendUint32(nil, v[0])
	d = binary.LittleEndian.AppendUint32(d, v[1])
	return entry{tag: tag, typ: typeRational, count: 1, data: d}
}

func ifdSize(entries []entry) int {
	n := 2 + 12*len(entries) + 4
	for _, e := range entries {
		if len(e.data) > 4 {
			n += len(e.data) + len(e.data)%2
		}
	}
	return n
}

// layoutIFD serialises entries as an IFD starting at offset, with
// out-of-line values following the entry table.
func layoutIFD(entries []entry, offset int) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	dataOffset := offset + 2 + 12*len(entries) + 4
	var table, data []byte
	table = binary.LittleEndian.AppendUint16(table, uint16(len(entries)))
	for _, e := range entries {
		table = binary.LittleEndian.AppendUint16(table, e.tag)
		table = binary.LittleEndian.AppendUint16(table, e.typ)
		table = binary.LittleEndian.AppendUint32(table, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			table = append(table, v...)
			continue
		}
		if e.corrupt {
			table = binary.LittleEndian.AppendUint32(table, 0x7ffffff0)
		} else {
			table = binary.LittleEndian.AppendUint32(table, uint32(dataOffset+len(data)))
		}
		data = append(data, e.data...)
		if len(e.data)%2 == 1 {
			data = append(data, 0)
		}
	}
	table = binary.LittleEndian.AppendUint32(table, 0)
	return append(table, data...)
}
