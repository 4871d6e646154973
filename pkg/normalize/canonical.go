package normalize

import (
	"encoding/json"
	"fmt"
	"time"
)

// canonicalJSON renders v with deterministic key order. encoding/json sorts
// map keys at every nesting level, so equal values always produce equal
// bytes regardless of insertion order.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Maps of JSON-decoded values cannot fail to marshal; anything else
		// falls back to the fmt rendering so checksums stay deterministic.
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// timestampFormats are tried in order when a source timestamp arrives as a
// string.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp coerces the timestamp shapes tools actually send: RFC3339
// strings, epoch seconds, or an already-typed time. Returns false when the
// value is missing or unparsable.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timestampFormats {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		sec := int64(t)
		nsec := int64((t - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	case int64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(t, 0).UTC(), true
	case int:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return parseTimestamp(f)
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// asString coerces scalar payload fields to strings; numbers keep their JSON
// rendering.
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case float64:
		return trimFloat(s), true
	case int:
		return fmt.Sprintf("%d", s), true
	case int64:
		return fmt.Sprintf("%d", s), true
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}
