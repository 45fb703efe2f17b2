package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/validate"
)

// messageKeys are tried in order when extracting a human-readable message
// from a structured error payload.
var messageKeys = []string{"message", "error", "description"}

// codeKeys are tried in order for an error code.
var codeKeys = []string{"code", "status"}

// typeKeys are tried in order for an error type.
var typeKeys = []string{"name", "type"}

// NormalizeError converts a raw error payload of any shape — a bare string,
// an error value, a structured object, or an arbitrarily nested map — into
// a fixed SubtaskFailure summary. It never panics and always produces a
// non-empty message.
func NormalizeError(raw any, retryCount int, at time.Time) core.SubtaskFailure {
	f := core.SubtaskFailure{
		RetryCount: validate.ClampRetryCount(retryCount),
		FailedAt:   at,
	}

	switch v := raw.(type) {
	case nil:
		f.Message = "unknown error"
		return f
	case string:
		f.Message = validate.SanitizeErrorMessage(v)
	case error:
		f.Message = validate.SanitizeErrorMessage(v.Error())
	case json.RawMessage:
		return NormalizeError(decodeRaw(v), retryCount, at)
	case []byte:
		return NormalizeError(decodeRaw(v), retryCount, at)
	case map[string]any:
		f.Message = validate.SanitizeErrorMessage(extractString(v, messageKeys, 0))
		f.Code = extractScalar(v, codeKeys)
		f.Type = extractScalar(v, typeKeys)
	default:
		f.Message = validate.SanitizeErrorMessage(stringify(v))
	}

	if f.Message == "" {
		f.Message = validate.SanitizeErrorMessage(stringify(raw))
	}
	if f.Message == "" {
		f.Message = "unknown error"
	}
	return f
}

// decodeRaw parses JSON bytes, falling back to the raw text when the
// payload is not valid JSON.
func decodeRaw(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

// extractString walks the map for the first usable string under keys,
// recursing one level into nested objects found under the same keys.
func extractString(m map[string]any, keys []string, depth int) string {
	if depth > 4 {
		return ""
	}
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if s := extractString(v, keys, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

func extractScalar(m map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		case int:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}

// stringify renders an arbitrary value, preferring compact JSON.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if data, err := json.Marshal(v); err == nil {
		s := string(data)
		if s != "{}" && s != "null" && s != `""` {
			return s
		}
		return ""
	}
	return fmt.Sprintf("%v", v)
}
