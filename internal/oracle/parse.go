package oracle

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of parsing an oracle reply: either the decoded value
// (OK) or the caller's fallback together with the reason parsing failed.
type Result[T any] struct {
	Value  T
	OK     bool
	Reason string
}

// StripFences removes markdown code fences such as ```json ... ``` and any
// prose around the outermost JSON object.
func StripFences(raw string) string {
	s := strings.ReplaceAll(raw, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// ParseJSON decodes raw into T. On any failure it returns fallback with
// OK=false. validate, when non-nil, may reject a decoded value.
func ParseJSON[T any](raw string, fallback T, validate func(*T) bool) Result[T] {
	body := StripFences(raw)
	if body == "" {
		return Result[T]{Value: fallback, Reason: "empty response"}
	}

	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Result[T]{Value: fallback, Reason: err.Error()}
	}
	if validate != nil && !validate(&v) {
		return Result[T]{Value: fallback, Reason: "response failed validation"}
	}
	return Result[T]{Value: v, OK: true}
}

// ParseText cleans a prose reply such as a generated question. Surrounding
// quotes and a leading "Question:" label are removed.
func ParseText(raw, fallback string) Result[string] {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "```", ""))
	for _, prefix := range []string{"Question:", "question:", "**Question:**"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	s = strings.Trim(s, "\"")
	s = strings.TrimSpace(s)
	if s == "" {
		return Result[string]{Value: fallback, Reason: "empty response"}
	}
	return Result[string]{Value: s, OK: true}
}
