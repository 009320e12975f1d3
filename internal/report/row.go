package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Row is one record from a backend list endpoint. Field shapes are fixed per
// screen, never shared.
type Row map[string]any

// Value resolves key against the row. Dotted keys walk nested objects, so
// "retailer.name" reads row["retailer"]["name"].
func (r Row) Value(key string) (any, bool) {
	if r == nil || key == "" {
		return nil, false
	}
	if v, ok := r[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}

	var current any = map[string]any(r)
	for _, part := range strings.Split(key, ".") {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		next, ok := obj[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Text renders the value under key the way it should appear in a table cell.
// Numbers keep their wire text so long identifiers survive untouched.
func (r Row) Text(key string) string {
	v, ok := r.Value(key)
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// ID returns the server-issued primary key, trying the usual key names.
func (r Row) ID(keys ...string) string {
	if len(keys) == 0 {
		keys = []string{"id", "_id", "uuid"}
	}
	for _, k := range keys {
		if s := strings.TrimSpace(r.Text(k)); s != "" {
			return s
		}
	}
	return ""
}

func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Row:
		return map[string]any(t), true
	default:
		return nil, false
	}
}
