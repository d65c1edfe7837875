package analyze

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// parseModelJSON recovers a JSON object from raw model output. Local models
// wrap JSON in code fences, prepend chatter, or leave trailing commas, so
// parsing is a fallback ladder: strict parse, then fence stripping, then
// brace extraction with comma repair, then give up. Giving up is an
// ErrParse, never a panic or raw unmarshal error escaping to callers.
func parseModelJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParse)
	}

	// Rung 1: the output is already valid JSON.
	if obj, ok := tryUnmarshal(raw); ok {
		return obj, nil
	}

	// Rung 2: strip markdown code fences and retry.
	if stripped := stripFences(raw); stripped != raw {
		if obj, ok := tryUnmarshal(stripped); ok {
			return obj, nil
		}
		raw = stripped
	}

	// Rung 3: extract the outermost brace pair and repair trailing commas.
	if inner, ok := extractBraces(raw); ok {
		if obj, okU := tryUnmarshal(inner); okU {
			return obj, nil
		}
		repaired := trailingCommas.ReplaceAllString(inner, "$1")
		if obj, okU := tryUnmarshal(repaired); okU {
			return obj, nil
		}
	}

	return nil, fmt.Errorf("%w: no JSON object found in response", ErrParse)
}

func tryUnmarshal(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

var fenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func stripFences(s string) string {
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// trailingCommas matches a comma immediately before a closing brace or
// bracket, the most common syntax fault in model-emitted JSON.
var trailingCommas = regexp.MustCompile(`,\s*([}\]])`)

// extractBraces returns the substring from the first '{' to its matching
// closing brace, tracking string literals so braces inside values don't
// unbalance the count.
func extractBraces(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
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
					return s[start : i+1], true
				}
			}
		}
	}
	// Unbalanced: take everything from the first brace and let the comma
	// repair rung have a shot at it.
	return s[start:], true
}
