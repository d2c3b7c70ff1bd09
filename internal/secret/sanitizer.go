// Package secret strips provider API-key substrings out of error strings
// before they reach storage, logs, or the WS stream.
//
// Grounded on tarsy's pkg/masking.Service (compiled regex patterns with
// named replacements, fail-closed on a compile error), narrowed from that
// service's general-purpose, server-scoped pattern-group system down to one
// fixed set of provider key shapes, since this port has a single caller
// (the LLM call shim's error path) rather than masking's many MCP servers.
package secret

import "regexp"

// pattern pairs a compiled regex with the replacement text substituted for
// every match.
type pattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the key shapes of every provider family this
// system talks to. Patterns are deliberately specific (anchored to known
// vendor prefixes) to avoid false positives against ordinary request ids.
var builtinPatterns = compile([]struct{ name, pattern, replacement string }{
	{"openai_key", `sk-[A-Za-z0-9_-]{20,}`, "sk-***"},
	{"anthropic_key", `sk-ant-[A-Za-z0-9_-]{20,}`, "sk-ant-***"},
	{"gemini_key", `AIza[A-Za-z0-9_-]{35}`, "AIza***"},
	{"bearer_header", `(?i)bearer\s+[A-Za-z0-9._-]{10,}`, "Bearer ***"},
	{"generic_api_key_kv", `(?i)(api[_-]?key["':=\s]+)[A-Za-z0-9._-]{10,}`, "${1}***"},
})

func compile(defs []struct{ name, pattern, replacement string }) []pattern {
	out := make([]pattern, 0, len(defs))
	for _, d := range defs {
		re, err := regexp.Compile(d.pattern)
		if err != nil {
			// A pattern that fails to compile is a programming error in this
			// fixed list, not a runtime condition; skip rather than panic so a
			// single bad pattern can't take down error handling itself.
			continue
		}
		out = append(out, pattern{name: d.name, regex: re, replacement: d.replacement})
	}
	return out
}

// Sanitize strips every known API-key shape out of s, fail-closed: if a
// caller passes unexpectedly large input this still runs, since redaction
// matters more here than throughput.
func Sanitize(s string) string {
	for _, p := range builtinPatterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}
