package provider

import (
	"strings"
)

// ExtractJSON pulls a JSON object or array out of model output.
// Models frequently wrap JSON in markdown fences or prose; this trims to
// the outermost {...} or [...] block. Returns the input unchanged when no
// JSON delimiters are found, leaving validation to the caller.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)

	// Strip a markdown code fence if present
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	start := objStart
	var open, close byte = '{', '}'
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		open, close = '[', ']'
	}
	if start == -1 {
		return s
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
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			depth++
		case !inString && c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	// Unbalanced; return from the first delimiter and let validation fail
	return s[start:]
}
