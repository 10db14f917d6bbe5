package canonjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DecodeErrorKind categorizes decode failures.
type DecodeErrorKind string

const (
	// DecodeSyntax indicates the input is not a single well-formed JSON value.
	DecodeSyntax DecodeErrorKind = "SYNTAX"

	// DecodeDuplicateKey indicates an object repeats a key, compared after
	// NFC normalization.
	DecodeDuplicateKey DecodeErrorKind = "DUPLICATE_KEY"
)

// DecodeError reports where strict decoding failed.
type DecodeError struct {
	Kind    DecodeErrorKind
	Path    string
	Message string
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Decode parses exactly one JSON value from data.
//
// Keys and strings are NFC normalized. Integer literals that fit in int64
// become Int; every other number keeps its literal text as Number.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, "")
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Kind: DecodeSyntax, Message: "unexpected data after top-level value"}
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, path string) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: "unexpected end of input"}
		}
		return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: err.Error()}
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec, path)
		case '[':
			return decodeArray(dec, path)
		}
		return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: fmt.Sprintf("unexpected %q", t)}
	case string:
		return String(norm.NFC.String(t)), nil
	case json.Number:
		return numberValue(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	default:
		return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: fmt.Sprintf("unexpected token %T", tok)}
	}
}

func decodeObject(dec *json.Decoder, path string) (Value, error) {
	obj := Object{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: err.Error()}
		}
		raw, ok := tok.(string)
		if !ok {
			return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: "object key must be a string"}
		}
		key := norm.NFC.String(raw)
		child := JoinKey(path, key)
		if _, dup := obj[key]; dup {
			return nil, &DecodeError{Kind: DecodeDuplicateKey, Path: child, Message: fmt.Sprintf("key %q appears more than once", key)}
		}
		v, err := decodeValue(dec, child)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: err.Error()}
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder, path string) (Value, error) {
	arr := Array{}
	for i := 0; dec.More(); i++ {
		v, err := decodeValue(dec, JoinIndex(path, i))
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, &DecodeError{Kind: DecodeSyntax, Path: path, Message: err.Error()}
	}
	return arr, nil
}

func numberValue(n json.Number) Value {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
	}
	return Number(s)
}

// JoinKey appends an object key to a dotted field path.
func JoinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// JoinIndex appends an array index to a field path.
func JoinIndex(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
