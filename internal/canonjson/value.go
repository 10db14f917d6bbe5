package canonjson

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON value kinds an intent may carry.
// Only Null, String, Int, Number, Bool, Array and Object implement it.
type Value interface {
	jsonValue()
}

// Null is the JSON null literal.
type Null struct{}

func (Null) jsonValue() {}

// String is a JSON string, already NFC normalized when produced by Decode.
type String string

func (String) jsonValue() {}

// Int is a JSON number whose literal is an integer that fits in int64.
type Int int64

func (Int) jsonValue() {}

// Number is any other JSON number, held as its exact literal text
// (for example "1.50" or "1e6"). It is never converted to float64.
type Number string

func (Number) jsonValue() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) jsonValue() {}

// Array is an ordered JSON array.
type Array []Value

func (Array) jsonValue() {}

// Object is a JSON object. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) jsonValue() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's native string order compares UTF-8 bytes, which differs for
// characters outside the Basic Multilingual Plane.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareUTF16)
	return keys
}

// CompareUTF16 compares two strings by UTF-16 code units.
func CompareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Kind names the JSON kind of v for error messages.
func Kind(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case String:
		return "string"
	case Int, Number:
		return "number"
	case Bool:
		return "boolean"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}
