package planner

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencePattern matches a ```json ... ``` (or bare ```) fenced block and
// captures its body.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// trailingCommaPattern matches a comma immediately preceding a closing
// bracket, the most common malformation in model-emitted JSON.
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// extractJSON pulls a JSON object out of a model reply. Models wrap JSON in
// prose, fences, or both, so extraction runs a cascade of strategies and
// returns the first that yields a parseable object:
//
//  1. The body of a fenced code block.
//  2. The first balanced {...} substring.
//  3. The whole reply verbatim.
//  4. The balanced substring after trailing-comma repair.
//
// Returns false when no strategy produces valid JSON.
func extractJSON(reply string) (json.RawMessage, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, false
	}

	if m := fencePattern.FindStringSubmatch(reply); m != nil {
		if raw, ok := tryParse(m[1]); ok {
			return raw, true
		}
	}

	if candidate := balancedObject(reply); candidate != "" {
		if raw, ok := tryParse(candidate); ok {
			return raw, true
		}
		// Strategy 4 reuses the balanced candidate after repair.
		repaired := trailingCommaPattern.ReplaceAllString(candidate, "$1")
		if raw, ok := tryParse(repaired); ok {
			return raw, true
		}
	}

	if raw, ok := tryParse(reply); ok {
		return raw, true
	}

	return nil, false
}

// tryParse validates that s is a JSON object and returns it trimmed.
func tryParse(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// balancedObject returns the first brace-balanced {...} substring of s,
// respecting string literals and escapes. Returns "" when no balanced
// object exists.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
