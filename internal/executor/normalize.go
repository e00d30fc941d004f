package executor

import (
	"encoding/json"
	"fmt"
	"time"
)

// normalizeRow converts a callback result row into a JSON-safe issue data
// map. Timestamps become ISO-8601 strings with millisecond precision so the
// data survives the JSONB round trip unchanged, values of types the encoder
// does not know fall back to their string form.
func normalizeRow(row map[string]any) map[string]any {
	data := make(map[string]any, len(row))
	for key, value := range row {
		data[key] = normalizeValue(value)
	}
	return data
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	case *time.Time:
		if v == nil {
			return nil
		}
		return normalizeValue(*v)
	case map[string]any:
		return normalizeRow(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case []byte:
		return string(v)
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return v
	default:
		// Unknown types are stored in their string form.
		return fmt.Sprintf("%v", v)
	}
}

// extractModelID pulls the issue identity out of a normalized row. Anything
// scalar is accepted and rendered as a string, empty means no identity.
func extractModelID(data map[string]any, key string) (string, bool) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", false
	}

	var modelID string
	switch v := raw.(type) {
	case string:
		modelID = v
	case fmt.Stringer:
		modelID = v.String()
	default:
		modelID = fmt.Sprintf("%v", v)
	}

	if modelID == "" {
		return "", false
	}
	return modelID, true
}
