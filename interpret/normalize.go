package interpret

import (
	"regexp"
	"strings"
)

// A Strategy turns raw model output into a candidate JSON document, or declines.
type Strategy struct {
	Name    string
	Extract func(raw string) (string, bool)
}

// DefaultStrategies are tried in order; the first candidate that parses wins.
var DefaultStrategies = []Strategy{
	{Name: "raw", Extract: extractRaw},
	{Name: "fence", Extract: stripFence},
	{Name: "label", Extract: stripLabel},
	{Name: "embedded", Extract: extractObject},
}

func extractRaw(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	return s, s != ""
}

var fenceRE = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\r?\n(.*?)\r?\n?```$")

// stripFence removes a markdown code fence wrapping the whole output.
func stripFence(raw string) (string, bool) {
	m := fenceRE.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

var labelRE = regexp.MustCompile(`(?i)^(json|patch|output|response|answer)\s*:\s*`)

// stripLabel removes a leading label such as "JSON:", and a fence after it.
func stripLabel(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	loc := labelRE.FindStringIndex(s)
	if loc == nil {
		return "", false
	}
	s = s[loc[1]:]
	if unfenced, ok := stripFence(s); ok {
		return unfenced, true
	}
	return strings.TrimSpace(s), true
}

// extractObject returns the first balanced JSON object embedded in raw.
// Braces inside JSON strings are ignored.
func extractObject(raw string) (string, bool) {
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		if end := balancedEnd(raw, start); end > 0 {
			return raw[start:end], true
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}

// balancedEnd returns the offset just past the brace closing the one at start, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
				return i + 1
			}
		}
	}
	return -1
}
