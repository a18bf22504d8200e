package collector

import (
	"encoding/json"
	"strconv"
	"strings"
)

// TraceStartFromRecord normalizes a loosely shaped trace record, as written by
// external tracing runtimes, into a TraceStart. It reports false when no trace
// id can be determined.
func TraceStartFromRecord(rec map[string]any) (TraceStart, bool) {
	id, ok := firstID(rec, "traceId", "trace_id", "id")
	if !ok {
		return TraceStart{}, false
	}
	name, _ := rec["name"].(string)
	return TraceStart{TraceID: id, Name: name}, true
}

// SpanEndFromRecord normalizes a loosely shaped span record into a SpanEnd.
// It reports false when the parent trace id cannot be determined.
func SpanEndFromRecord(rec map[string]any) (SpanEnd, bool) {
	id, ok := firstID(rec, "traceId", "trace_id")
	if !ok {
		return SpanEnd{}, false
	}
	data := spanData(rec)

	ev := SpanEnd{TraceID: id, Error: hasError(rec["error"])}
	if t, ok := data["type"].(string); ok {
		ev.Type = SpanType(t)
	} else if t, ok := rec["type"].(string); ok {
		ev.Type = SpanType(t)
	}
	ev.ToolName = firstString(
		data["name"],
		rec["toolName"],
		rec["tool_name"],
		rec["name"],
	)
	return ev, true
}

func spanData(rec map[string]any) map[string]any {
	for _, key := range []string{"spanData", "span_data"} {
		if m, ok := rec[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func firstID(rec map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if id, ok := idString(rec[key]); ok {
			return id, true
		}
	}
	return "", false
}

// idString coerces string and numeric ids to a non-empty string.
func idString(v any) (string, bool) {
	var s string
	switch id := v.(type) {
	case string:
		s = id
	case json.Number:
		s = id.String()
	case float64:
		s = strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(id), 'f', -1, 32)
	case int:
		s = strconv.Itoa(id)
	case int64:
		s = strconv.FormatInt(id, 10)
	case uint64:
		s = strconv.FormatUint(id, 10)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func hasError(v any) bool {
	switch e := v.(type) {
	case nil:
		return false
	case bool:
		return e
	case string:
		return strings.TrimSpace(e) != ""
	case map[string]any:
		return len(e) > 0
	default:
		return true
	}
}
