package engine

import (
	"encoding/json"
	"fmt"
)

// Normalize converts a tool result into plain maps, lists and scalars so
// every output path (JSON, TOON, text, audit log) sees the same shape. A
// value that cannot be serialized is replaced by a stringified placeholder;
// the second return reports that degradation so the caller can log a
// warning instead of failing the call.
func Normalize(v interface{}) (interface{}, bool) {
	switch v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return v, false
	}

	data, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{
			"_serialization_error": fmt.Sprintf("%v", v),
		}, true
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{
			"_serialization_error": fmt.Sprintf("%v", v),
		}, true
	}
	return out, false
}

// Stringify renders a normalized result for summaries and text output.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

const summaryLimit = 2000

// Summarize truncates a stringified result for the audit log.
func Summarize(v interface{}) string {
	s := Stringify(v)
	if len(s) > summaryLimit {
		return s[:summaryLimit] + "... (truncated)"
	}
	return s
}
