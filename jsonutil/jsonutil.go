// Package jsonutil centralizes JSON encode/decode behind json-iterator so the
// rest of the module never imports encoding/json directly.
package jsonutil

import (
	"encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var std = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes v using the standard-library-compatible jsoniter config.
func Marshal(v interface{}) ([]byte, error) {
	return std.Marshal(v)
}

// MarshalIndent encodes v with indentation.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return std.Unmarshal(data, v)
}

// NewDecoder wraps an io.Reader in a jsoniter decoder.
func NewDecoder(r io.Reader) *jsoniter.Decoder {
	return std.NewDecoder(r)
}

// NewEncoder wraps an io.Writer in a jsoniter encoder.
func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return std.NewEncoder(w)
}

// RawMessage delays decoding of a JSON value, e.g. for tagged unions.
type RawMessage = json.RawMessage
