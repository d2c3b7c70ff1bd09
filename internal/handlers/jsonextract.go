package handlers

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject implements the lenient JSON extractor Design Note §9
// prescribes for the meta/judge model path: try the content as direct JSON,
// then a fenced code block, then the first balanced {...} or [...]
// substring, in that order. Returns (nil, false) rather than panicking or
// erroring when nothing parses — callers retry once on false.
func ExtractJSONObject(content string) (map[string]any, bool) {
	content = strings.TrimSpace(content)

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj, true
	}

	if fenced, ok := extractFenced(content); ok {
		if err := json.Unmarshal([]byte(fenced), &obj); err == nil {
			return obj, true
		}
	}

	if sub, ok := firstBalancedSubstring(content, '{', '}'); ok {
		if err := json.Unmarshal([]byte(sub), &obj); err == nil {
			return obj, true
		}
	}

	return nil, false
}

// ExtractJSONArray is ExtractJSONObject's counterpart for responses whose
// top-level shape is an array (e.g. a list of per-case winners).
func ExtractJSONArray(content string) ([]any, bool) {
	content = strings.TrimSpace(content)

	var arr []any
	if err := json.Unmarshal([]byte(content), &arr); err == nil {
		return arr, true
	}
	if fenced, ok := extractFenced(content); ok {
		if err := json.Unmarshal([]byte(fenced), &arr); err == nil {
			return arr, true
		}
	}
	if sub, ok := firstBalancedSubstring(content, '[', ']'); ok {
		if err := json.Unmarshal([]byte(sub), &arr); err == nil {
			return arr, true
		}
	}
	return nil, false
}

func extractFenced(content string) (string, bool) {
	const fence = "```"
	start := strings.Index(content, fence)
	if start == -1 {
		return "", false
	}
	rest := content[start+len(fence):]
	// Skip an optional language tag on the opening fence line (e.g. "json\n").
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && nl < 16 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstBalancedSubstring finds the first open/close-delimited span with
// balanced nesting, ignoring delimiters inside string literals.
func firstBalancedSubstring(content string, open, close byte) (string, bool) {
	start := strings.IndexByte(content, open)
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}
