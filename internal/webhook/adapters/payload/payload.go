// Package payload holds JSON helpers shared by the provider adapters.
package payload

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Metadata decodes a provider metadata/notes object. Anything that is not a
// JSON object (providers send [] for empty notes) yields an empty map.
func Metadata(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// String reads key from metadata as a trimmed string.
func String(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		return strconv.FormatFloat(cast, 'f', -1, 64)
	case json.Number:
		return cast.String()
	}
	return ""
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

// ExpandableID reads a field that is either an id string or an expanded
// object carrying an "id".
func ExpandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

// Unix converts the first non-zero unix timestamp to UTC. It returns the zero
// time when none is set.
func Unix(values ...int64) time.Time {
	for _, value := range values {
		if value > 0 {
			return time.Unix(value, 0).UTC()
		}
	}
	return time.Time{}
}

// RFC3339 parses a provider timestamp, returning the zero time when absent or malformed.
func RFC3339(values ...string) time.Time {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
