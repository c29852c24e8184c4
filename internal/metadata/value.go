package metadata

import (
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the shapes an embedded metadata value can take.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindRational
	KindSequence
	KindText
)

// Value is a raw metadata value. Exactly one payload is meaningful,
// selected by Kind.
type Value struct {
	Kind  Kind
	Num   float64 // KindScalar
	Numer int64   // KindRational
	Denom int64   // KindRational
	Items []Value // KindSequence
	Text  string  // KindText
}

func Scalar(f float64) Value { return Value{Kind: KindScalar, Num: f} }
func Rational(n, d int64) Value { return Value{Kind: KindRational, Numer: n, Denom: d} }
func Sequence(items ...Value) Value { return Value{Kind: KindSequence, Items: items} }
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Raw maps a metadata field name to its raw value.
type Raw map[string]Value

// ParseRational converts a value to a float without ever failing:
// a rational or a two-element sequence is divided (0 when the denominator
// is 0), a scalar is returned as is, numeric text is parsed, and anything
// else yields 0.
func ParseRational(v Value) float64 {
	switch v.Kind {
	case KindScalar:
		return v.Num
	case KindRational:
		if v.Denom == 0 {
			return 0
		}
		return float64(v.Numer) / float64(v.Denom)
	case KindSequence:
		if len(v.Items) != 2 {
			return 0
		}
		n, ok := scalarOf(v.Items[0])
		if !ok {
			return 0
		}
		d, ok := scalarOf(v.Items[1])
		if !ok || d == 0 {
			return 0
		}
		return n / d
	case KindText:
		f, err := strconv.ParseFloat(cleanText(v.Text), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	return 0
}

// FirstInt returns the integer held by v, taking the first element of a
// sequence. ISO speed is reported either way depending on the vendor.
func FirstInt(v Value) (int, bool) {
	switch v.Kind {
	case KindScalar:
		return int(v.Num), true
	case KindRational:
		if v.Denom == 0 {
			return 0, false
		}
		return int(v.Numer / v.Denom), true
	case KindSequence:
		if len(v.Items) == 0 {
			return 0, false
		}
		return FirstInt(v.Items[0])
	case KindText:
		n, err := strconv.Atoi(cleanText(v.Text))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// String renders the value in the form persisted to the photo record.
func (v Value) String() string {
	switch v.Kind {
	case KindScalar:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindRational:
		f := ParseRational(v)
		return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', -1, 64)
	case KindSequence:
		parts := make([]string, len(v.Items))
		for i, it := range v.Items {
			parts[i] = it.String()
		}
		return strings.Join(parts, ", ")
	case KindText:
		return cleanText(v.Text)
	}
	return ""
}

func scalarOf(v Value) (float64, bool) {
	switch v.Kind {
	case KindScalar:
		return v.Num, true
	case KindRational:
		if v.Denom == 0 {
			return 0, false
		}
		return float64(v.Numer) / float64(v.Denom), true
	}
	return 0, false
}

// cleanText strips the NUL padding and whitespace cameras leave around
// ASCII fields.
func cleanText(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}
