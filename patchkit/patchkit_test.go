package patchkit

import (
	"testing"
)

func TestUnique(t *testing.T) {
	tests := []struct {
		name      string
		haystack  string
		needle    string
		replace   string
		wantCount int
		wantOff   int
		wantLen   int
	}{
		{
			name:      "single_match",
			haystack:  "hello world hello",
			needle:    "world",
			replace:   "universe",
			wantCount: 1,
			wantOff:   6,
			wantLen:   5,
		},
		{
			name:      "no_match",
			haystack:  "hello world",
			needle:    "missing",
			replace:   "found",
			wantCount: 0,
		},
		{
			name:      "multiple_matches",
			haystack:  "hello hello hello",
			needle:    "hello",
			replace:   "hi",
			wantCount: 2,
		},
		{
			name:      "overlapping_matches",
			haystack:  "aaa",
			needle:    "aa",
			replace:   "b",
			wantCount: 2,
		},
		{
			name:      "empty_needle",
			haystack:  "abc",
			needle:    "",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, count := Unique(tt.haystack, tt.needle, tt.replace)
			if count != tt.wantCount {
				t.Errorf("Unique() count = %v, want %v", count, tt.wantCount)
			}
			if count == 1 {
				if spec.Off != tt.wantOff {
					t.Errorf("Unique() offset = %v, want %v", spec.Off, tt.wantOff)
				}
				if spec.Len != tt.wantLen {
					t.Errorf("Unique() length = %v, want %v", spec.Len, tt.wantLen)
				}
				if spec.Old != tt.needle {
					t.Errorf("Unique() old = %q, want %q", spec.Old, tt.needle)
				}
				if spec.New != tt.replace {
					t.Errorf("Unique() new = %q, want %q", spec.New, tt.replace)
				}
			}
		})
	}
}

func TestSpecApply(t *testing.T) {
	haystack := "hello world hello"
	spec, count := Unique(haystack, "world", "universe")
	if count != 1 {
		t.Fatalf("expected unique match, got count %d", count)
	}
	if got, want := spec.Apply(haystack), "hello universe hello"; got != want {
		t.Errorf("Apply() = %q, want %q", got, want)
	}
}

func TestCollapse(t *testing.T) {
	c := Collapse(" a\tb\n c ")
	if c.Text != "abc" {
		t.Fatalf("Collapse text = %q, want %q", c.Text, "abc")
	}
	want := []int{1, 3, 6}
	for i, p := range want {
		if c.Pos[i] != p {
			t.Errorf("Pos[%d] = %d, want %d", i, c.Pos[i], p)
		}
	}
	start, end := c.Span(0, 3)
	if start != 1 || end != 7 {
		t.Errorf("Span(0, 3) = (%d, %d), want (1, 7)", start, end)
	}
}

func TestCollapseMultibyte(t *testing.T) {
	s := "é  ü"
	c := Collapse(s)
	if c.Text != "éü" {
		t.Fatalf("Collapse text = %q", c.Text)
	}
	start, end := c.Span(0, len(c.Text))
	if s[start:end] != s {
		t.Errorf("span = %q, want %q", s[start:end], s)
	}
}

func TestUniqueCollapsed(t *testing.T) {
	tests := []struct {
		name      string
		haystack  string
		needle    string
		replace   string
		wantCount int
		want      string
	}{
		{
			name:      "reindented",
			haystack:  "func f() {\n\tif x {\n\t\treturn 1\n\t}\n}\n",
			needle:    "if x {\n    return 1\n  }",
			replace:   "if y {\n\t\treturn 2\n\t}",
			wantCount: 1,
			want:      "func f() {\n\tif y {\n\t\treturn 2\n\t}\n}\n",
		},
		{
			name:      "crlf_line_endings",
			haystack:  "a := 1\r\nb := 2\r\n",
			needle:    "a := 1\nb := 2",
			replace:   "a, b := 1, 2",
			wantCount: 1,
			want:      "a, b := 1, 2\r\n",
		},
		{
			name:      "not_found",
			haystack:  "alpha beta",
			needle:    "gamma",
			wantCount: 0,
		},
		{
			name:      "ambiguous",
			haystack:  "x = 1\ny = 2\nx  =  1\n",
			needle:    "x=1",
			wantCount: 2,
		},
		{
			name:      "whitespace_only_needle",
			haystack:  "abc",
			needle:    " \n\t",
			wantCount: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, count := UniqueCollapsed(tt.haystack, tt.needle, tt.replace)
			if count != tt.wantCount {
				t.Fatalf("UniqueCollapsed() count = %d, want %d", count, tt.wantCount)
			}
			if count != 1 {
				return
			}
			if got := spec.Apply(tt.haystack); got != tt.want {
				t.Errorf("applied = %q, want %q", got, tt.want)
			}
		})
	}
}
