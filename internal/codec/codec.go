// Package codec converts notification payloads to and from the base64 text
// attached to displayed notifications.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode returns the standard base64 encoding of the UTF-8 bytes of text.
func Encode(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// Decode reverses Encode. Surrounding whitespace is ignored.
func Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	return string(raw), nil
}

// EncodeFields marshals fields to JSON and encodes the result.
func EncodeFields(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload fields: %w", err)
	}
	return Encode(string(b)), nil
}

// DecodeFields reverses EncodeFields. The decoded text must be a JSON object.
// Numbers are kept as json.Number so integers survive the round trip exactly.
func DecodeFields(encoded string) (map[string]any, error) {
	text, err := Decode(encoded)
	if err != nil {
		return nil, err
	}
	return ParseObject([]byte(text))
}

// ParseObject parses b as a single JSON object.
func ParseObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid json object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("invalid json object: null")
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid json object: trailing data")
	}
	return fields, nil
}
