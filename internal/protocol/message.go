package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingType is returned for objects without a "type" discriminant
var ErrMissingType = errors.New("message has no type")

// Message is one decoded server message. Payload holds the "payload"
// substructure when the server sent one; Raw always holds the whole object.
type Message struct {
	Type    string
	Payload json.RawMessage
	Raw     json.RawMessage
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a single JSON object into a Message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return Message{}, ErrMissingType
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Message{Type: env.Type, Payload: env.Payload, Raw: raw}, nil
}

// Body returns the payload object, or the whole message when the server
// sent the fields at the top level.
func (m Message) Body() json.RawMessage {
	if isObject(m.Payload) {
		return m.Payload
	}
	return m.Raw
}

// DecodeBody unmarshals Body into v.
func (m Message) DecodeBody(v any) error {
	if err := json.Unmarshal(m.Body(), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Fields returns the top-level keys of Body. Shape checks work on this view.
func (m Message) Fields() (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(m.Body(), &fields); err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", m.Type, err)
	}
	return fields, nil
}

func isObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
