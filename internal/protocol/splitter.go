package protocol

import (
	"bytes"
	"encoding/json"
)

// ParseFrame turns one websocket text frame into messages. The server may
// coalesce several objects into one frame without a delimiter, so a frame
// that is not a single valid object is split on brace depth. Pieces that
// fail to decode are reported in errs and skipped; the rest keep frame order.
func ParseFrame(frame []byte) (msgs []Message, errs []error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if json.Valid(trimmed) {
		msg, err := Decode(trimmed)
		if err != nil {
			return nil, []error{err}
		}
		return []Message{msg}, nil
	}

	for _, piece := range SplitObjects(trimmed) {
		msg, err := Decode(piece)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// SplitObjects returns every balanced top-level {...} run in data.
// String contents, including escaped quotes, never affect the depth count.
// Bytes outside any object are ignored, as is an unterminated trailing object.
func SplitObjects(data []byte) [][]byte {
	var (
		objects  [][]byte
		depth    int
		start    int
		inString bool
		escaped  bool
	)

	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				objects = append(objects, data[start:i+1])
			}
		}
	}
	return objects
}
