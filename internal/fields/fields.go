// Package fields resolves one logical value out of maps whose keys vary between
// form versions and schema versions.
package fields

import (
	"strconv"
	"strings"
	"time"
)

// Pick returns the value of the first key in keys that is present in source
// with a non-nil value. Earlier keys win.
func Pick(source map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		value, ok := source[key]
		if ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

// PickString is Pick followed by String.
func PickString(source map[string]any, keys ...string) (string, bool) {
	value, ok := Pick(source, keys...)
	if !ok {
		return "", false
	}
	return String(value), true
}

// PickInt64 is Pick followed by Int64. Unparseable values count as absent.
func PickInt64(source map[string]any, keys ...string) (int64, bool) {
	value, ok := Pick(source, keys...)
	if !ok {
		return 0, false
	}
	return Int64(value)
}

// Variants names the spellings a canonical field has been stored or submitted under.
type Variants struct {
	Canonical string
	Columns   []string
	Inputs    []string
}

// ReadOrder is the key precedence when reading a stored row or payload.
func (v Variants) ReadOrder() []string {
	return dedupe(append(append([]string{v.Canonical}, v.Columns...), v.Inputs...))
}

// WriteOrder is the key precedence when reading submitted form data.
func (v Variants) WriteOrder() []string {
	return dedupe(append(append([]string{v.Canonical}, v.Inputs...), v.Columns...))
}

// ColumnNames returns every column a value may be written to.
func (v Variants) ColumnNames() []string {
	return dedupe(append([]string{v.Canonical}, v.Columns...))
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, key := range keys {
		if _, ok := seen[key]; ok || key == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// String renders a scanned or decoded value as text.
func String(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, String(item))
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// Int64 converts numeric and numeric-string values.
func Int64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case []byte:
		return Int64(string(v))
	default:
		return 0, false
	}
}

// Truthy interprets flags stored as integers, booleans or strings.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	default:
		n, ok := Int64(v)
		return ok && n != 0
	}
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05-07",
	"2006-01-02",
}

// Time converts stored timestamps. Zone-less text is read as UTC, which is how
// the store writes it.
func Time(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), !v.IsZero()
	case int64:
		return time.Unix(v, 0).UTC(), v > 0
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, text); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	case []byte:
		return Time(string(v))
	default:
		return time.Time{}, false
	}
}
