package pipeline

import (
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-bridge/internal/codec"
)

// MessageField is the field holding the display text of a payload.
const MessageField = "message"

// Content is a decoded push payload: either a plain Message or Structured fields.
type Content interface {
	// Fields returns the payload as key/value fields. A Message becomes {"message": text}.
	Fields() map[string]any
	// Text returns the text to display.
	Text() string
}

// Message is a payload that was not a JSON object.
type Message struct {
	Body string
}

func (m Message) Fields() map[string]any {
	return map[string]any{MessageField: m.Body}
}

func (m Message) Text() string {
	return m.Body
}

// Structured is a payload that parsed as a JSON object.
type Structured struct {
	Values map[string]any
}

func (s Structured) Fields() map[string]any {
	return s.Values
}

// Text renders the message field. A missing field yields an empty string.
func (s Structured) Text() string {
	v, ok := s.Values[MessageField]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Classify decodes raw payload bytes. Invalid UTF-8 is replaced with U+FFFD.
func Classify(raw []byte) Content {
	text := strings.ToValidUTF8(string(raw), "�")
	fields, err := codec.ParseObject([]byte(text))
	if err != nil {
		return Message{Body: text}
	}
	return Structured{Values: fields}
}
