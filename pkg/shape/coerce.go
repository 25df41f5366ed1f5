package shape

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mahaj/msgbridge/pkg/timecodec"
)

// Record is one daemon entity as decoded from JSON.
type Record = map[string]any

// Reserved separators inside composite identifiers such as "SMS;-;+15551234567".
var separators = []string{";-;", ";+;"}

// DisplayAddress returns the address portion of a composite identifier.
// Plain identifiers are returned unchanged.
func DisplayAddress(id string) string {
	for _, sep := range separators {
		if i := strings.Index(id, sep); i >= 0 {
			return id[i+len(sep):]
		}
	}
	return id
}

// ServiceOf returns the service prefix of a composite identifier, or "".
func ServiceOf(id string) string {
	for _, sep := range separators {
		if i := strings.Index(id, sep); i >= 0 {
			return id[:i]
		}
	}
	return ""
}

// IsGroupID reports whether id uses the group separator.
func IsGroupID(id string) bool {
	return strings.Contains(id, ";+;")
}

func lookup(r Record, keys Keys) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(r Record, keys Keys) string {
	v, ok := lookup(r, keys)
	if !ok {
		return ""
	}
	return String(v)
}

// String renders scalar values as text and everything else as "".
func String(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Int64 coerces numbers and numeric strings, returning def when that fails.
func Int64(v any, def int64) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t > math.MaxInt64 || t < math.MinInt64 {
			return def
		}
		return int64(t)
	case json.Number:
		return Int64(t.String(), def)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Int64(f, def)
		}
		return def
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return def
	}
}

// Int is Int64 narrowed to int.
func Int(v any, def int) int {
	return int(Int64(v, int64(def)))
}

// Bool accepts booleans, 0/1 numbers and their string spellings.
func Bool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err == nil {
			return b
		}
		return Int64(t, 0) != 0
	default:
		return Int64(v, 0) != 0
	}
}

func intField(r Record, keys Keys, def int) int {
	v, ok := lookup(r, keys)
	if !ok {
		return def
	}
	return Int(v, def)
}

func int64Field(r Record, keys Keys, def int64) int64 {
	v, ok := lookup(r, keys)
	if !ok {
		return def
	}
	return Int64(v, def)
}

func boolField(r Record, keys Keys) bool {
	v, ok := lookup(r, keys)
	if !ok {
		return false
	}
	return Bool(v)
}

func timeField(r Record, keys Keys) *int64 {
	v, ok := lookup(r, keys)
	if !ok {
		return nil
	}
	return timecodec.ToClientTime(v)
}

func recordField(r Record, keys Keys) (Record, bool) {
	v, ok := lookup(r, keys)
	if !ok {
		return nil, false
	}
	rec, ok := v.(map[string]any)
	return rec, ok
}

func listField(r Record, keys Keys) []any {
	v, ok := lookup(r, keys)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return list
}

// redact hides composite identifiers that leaked into display strings.
func redact(s string) string {
	return DisplayAddress(s)
}
