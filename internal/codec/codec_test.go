package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-bridge/internal/codec"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{name: "Empty", input: ""},
		{name: "ASCII", input: "key:secret"},
		{name: "Padding One", input: "ab"},
		{name: "Padding Two", input: "a"},
		{name: "Latin-1", input: "crème brûlée"},
		{name: "CJK", input: "推送通知"},
		{name: "Astral Plane", input: "🔔 ping 🚀"},
		{name: "Control Characters", input: "line1\nline2\t\x00end"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := codec.Encode(tc.input)
			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.input, decoded)
		})
	}
}

func TestEncode_KnownValue(t *testing.T) {
	assert.Equal(t, "a2V5OnNlY3JldA==", codec.Encode("key:secret"))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := codec.Decode("not base64!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base64")
}

func TestFields_RoundTrip(t *testing.T) {
	encoded, err := codec.EncodeFields(map[string]any{"message": "hi", "id": 7})
	require.NoError(t, err)

	fields, err := codec.DecodeFields(encoded)
	require.NoError(t, err)

	assert.Equal(t, "hi", fields["message"])
	assert.Equal(t, json.Number("7"), fields["id"])
}

func TestParseObject(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectError bool
	}{
		{name: "Object", input: `{"foo":"bar"}`},
		{name: "Nested Object", input: `{"foo":{"bar":[1,2]}}`},
		{name: "Array", input: `[1,2]`, expectError: true},
		{name: "Null", input: `null`, expectError: true},
		{name: "Plain Text", input: `hello`, expectError: true},
		{name: "Trailing Data", input: `{"a":1} {"b":2}`, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.ParseObject([]byte(tc.input))
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
