package game

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// fields is the top-level key view of a JSON object
type fields map[string]json.RawMessage

func decodeFields(data json.RawMessage) (fields, error) {
	f := make(fields)
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return f, nil
}

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && !isNull(v)
}

// alias copies f[from] into f[to] unless to is already present, then drops from.
func (f fields) alias(from, to string) {
	v, ok := f[from]
	if !ok {
		return
	}
	delete(f, from)
	if !f.has(to) {
		f[to] = v
	}
}

func (f fields) str(key string) string {
	var s string
	if v, ok := f[key]; ok {
		json.Unmarshal(v, &s)
	}
	return s
}

func (f fields) set(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	f[key] = data
}

// mergeInto applies f onto dst in place. Keys absent from f keep their
// current value; present keys overwrite, including explicit nulls.
func mergeInto(dst any, f fields) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
