// Package userdata syncs a player's saved loops, system memos and preference
// blobs with a remote store keyed by username.
package userdata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"molt/internal/proxy/database"
)

// Data is the document stored per user
type Data struct {
	Loops       []database.SavedLoop           `json:"loops,omitempty"`
	SystemMemos map[string]database.SystemMemo `json:"systemMemos,omitempty"`
	Blobs       map[string]json.RawMessage     `json:"blobs,omitempty"`
	SavedAt     time.Time                      `json:"savedAt"`
}

// Token derives the bearer token for a user: hex(SHA-256("username:password"))
func Token(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

// Merge folds remote into local and returns the result. Loops are merged by
// id with local copies kept; memos keep whichever side was saved later;
// blobs are a union where both-sided arrays are combined and any other
// conflict keeps the local value.
func Merge(local, remote Data) Data {
	out := Data{
		Loops:       append([]database.SavedLoop(nil), local.Loops...),
		SystemMemos: make(map[string]database.SystemMemo, len(local.SystemMemos)),
		Blobs:       make(map[string]json.RawMessage, len(local.Blobs)),
		SavedAt:     local.SavedAt,
	}

	known := make(map[string]bool, len(local.Loops))
	for _, l := range local.Loops {
		known[l.ID] = true
	}
	for _, l := range remote.Loops {
		if l.ID != "" && !known[l.ID] {
			known[l.ID] = true
			out.Loops = append(out.Loops, l)
		}
	}

	for id, m := range local.SystemMemos {
		out.SystemMemos[id] = m
	}
	for id, m := range remote.SystemMemos {
		if mine, ok := out.SystemMemos[id]; !ok || m.SavedAt.After(mine.SavedAt) {
			out.SystemMemos[id] = m
		}
	}

	for k, v := range local.Blobs {
		out.Blobs[k] = v
	}
	for k, v := range remote.Blobs {
		mine, ok := out.Blobs[k]
		if !ok {
			out.Blobs[k] = v
			continue
		}
		if union, ok := unionArrays(mine, v); ok {
			out.Blobs[k] = union
		}
	}
	return out
}

// unionArrays appends the elements of b missing from a when both are arrays
func unionArrays(a, b json.RawMessage) (json.RawMessage, bool) {
	var left, right []json.RawMessage
	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return nil, false
	}
	seen := make(map[string]bool, len(left))
	for _, item := range left {
		seen[compact(item)] = true
	}
	for _, item := range right {
		key := compact(item)
		if !seen[key] {
			seen[key] = true
			left = append(left, item)
		}
	}
	merged, err := json.Marshal(left)
	if err != nil {
		return nil, false
	}
	return merged, true
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
