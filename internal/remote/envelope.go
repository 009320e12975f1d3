package remote

import "github.com/phillip-england/distconsole/internal/report"

// Normalize finds the row array inside a list response. The backend wraps
// lists differently per endpoint; the first candidate that is an array wins:
//
//	[...]
//	{"data": [...]}
//	{"data": {"<plural>": [...]}}
//	{"data": {"<singular>": {"items": [...]}}}
//	{"<plural>": [...]}
//	{"items": [...]}
//
// Anything else is an empty list. Non-object elements are dropped.
func Normalize(payload any, res Resource) []report.Row {
	for _, candidate := range candidates(payload, res) {
		if arr, ok := candidate.([]any); ok {
			return toRows(arr)
		}
	}
	return []report.Row{}
}

func candidates(payload any, res Resource) []any {
	out := []any{payload}
	obj, ok := payload.(map[string]any)
	if !ok {
		return out
	}
	data := obj["data"]
	out = append(out, data)
	if inner, ok := data.(map[string]any); ok {
		if res.Plural != "" {
			out = append(out, inner[res.Plural])
		}
		if res.Singular != "" {
			if wrapped, ok := inner[res.Singular].(map[string]any); ok {
				out = append(out, wrapped["items"])
			}
		}
		out = append(out, inner["items"])
	}
	if res.Plural != "" {
		out = append(out, obj[res.Plural])
	}
	out = append(out, obj["items"])
	return out
}

func toRows(arr []any) []report.Row {
	rows := make([]report.Row, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, report.Row(m))
		}
	}
	return rows
}
