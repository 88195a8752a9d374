// Package patchkit locates the single occurrence of a search block in a file.
//
// Matching is two-tiered: an exact substring match, and a fallback that
// ignores all whitespace. Both tiers only accept a match that is unique.
package patchkit

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// A Spec specifies a single replacement within a haystack.
type Spec struct {
	Off int    // Byte offset of the replaced span in the original haystack
	Len int    // Byte length of the replaced span
	Old string // The original text being replaced
	New string // Replacement text
}

// Apply returns haystack with the span described by s replaced.
func (s *Spec) Apply(haystack string) string {
	return haystack[:s.Off] + s.New + haystack[s.Off+s.Len:]
}

// Unique generates a patch spec replacing the unique occurrence of needle in haystack with replace.
// It reports the number of matches found for needle in haystack: 0, 1, or 2 (for any value > 1).
// Overlapping occurrences count as distinct matches.
func Unique(haystack, needle, replace string) (*Spec, int) {
	if needle == "" {
		return nil, 0
	}
	off := strings.Index(haystack, needle)
	if off < 0 {
		return nil, 0
	}
	if strings.Contains(haystack[off+1:], needle) {
		return nil, 2
	}
	s := &Spec{
		Off: off,
		Len: len(needle),
		Old: needle,
		New: replace,
	}
	return s, 1
}

// Collapsed is a string with all whitespace removed,
// along with a map from each retained byte back to its offset in the original.
type Collapsed struct {
	Text string
	Pos  []int // Pos[i] is the original byte offset of Text[i]
}

// Collapse removes every whitespace character from s, recording positions.
func Collapse(s string) Collapsed {
	b := make([]byte, 0, len(s))
	pos := make([]int, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			for j := range size {
				b = append(b, s[i+j])
				pos = append(pos, i+j)
			}
		}
		i += size
	}
	return Collapsed{Text: string(b), Pos: pos}
}

// Span maps the collapsed byte range [start, end) back to the original string.
// The returned original range begins at the first retained byte and ends
// just after the last retained byte, so interior whitespace is included
// and surrounding whitespace is not.
func (c Collapsed) Span(start, end int) (int, int) {
	return c.Pos[start], c.Pos[end-1] + 1
}

// UniqueCollapsed is Unique, but ignores all whitespace in both haystack and needle.
// It tolerates reformatting noise (indentation, line endings) in needle.
// Like Unique, it reports the number of matches: 0, 1, or 2 (for any value > 1).
// On a unique match, the returned Spec describes the span of the original haystack.
func UniqueCollapsed(haystack, needle, replace string) (*Spec, int) {
	cn := Collapse(needle).Text
	if cn == "" {
		return nil, 0
	}
	ch := Collapse(haystack)
	ci := strings.Index(ch.Text, cn)
	if ci < 0 {
		return nil, 0
	}
	if strings.Contains(ch.Text[ci+1:], cn) {
		return nil, 2
	}
	start, end := ch.Span(ci, ci+len(cn))
	s := &Spec{
		Off: start,
		Len: end - start,
		Old: haystack[start:end],
		New: replace,
	}
	return s, 1
}
