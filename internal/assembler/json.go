package assembler

import (
	"encoding/json"
	"strings"
)

// Bounds on the brace search so hostile or runaway model output costs
// linear time rather than quadratic.
const (
	maxJSONStarts = 64
	maxJSONScan   = 1 << 20
)

// ExtractJSON returns the first complete JSON object in text. Model output
// often wraps JSON in a markdown fence or surrounds it with prose; both are
// tolerated. The second result is false when no valid object is found.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
			text = text[nl+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}

	for start, tries := strings.IndexByte(text, '{'), 0; start >= 0 && tries < maxJSONStarts; tries++ {
		if end := matchBrace(text, start, maxJSONScan); end > 0 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1 when none is found within
// limit bytes.
func matchBrace(s string, start, limit int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s) && i-start < limit; i++ {
		c := s[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
