package termui

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"patchwork.dev/convstore"
	"patchwork.dev/evidence"
	"patchwork.dev/patch"
	"patchwork.dev/tools"
)

func TestAssessment(t *testing.T) {
	var buf bytes.Buffer
	a := evidence.Evaluate(
		evidence.Thresholds{MinSearchHits: 2, MinOpenOrSnippet: 1, MinSymbolsOrAst: 1, MinImpact: 1},
		evidence.Input{Evidence: &evidence.Report{
			SearchHits: 2, FilesOpened: 1, SymbolFiles: 1, ImpactFiles: 1,
			Warnings: []string{"stale index"}, Gaps: []string{"no callers found"},
		}},
	)
	New(&buf).Assessment(a)
	out := buf.String()
	for _, want := range []string{"FAIL", "score 80%", "✗ warnings", "✓ search_hits", "1 ≤ 0", "warning: stale index", "gap: no callers found"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("color escapes written to a non-terminal:\n%q", out)
	}
}

func TestGateError(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).GateError(&evidence.GateError{Code: "quota_unmet", Message: "m", Remediation: []string{"a", "b"}})
	if want := "✗ quota_unmet: m\n  1. a\n  2. b\n"; buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestSnapshot(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Snapshot(&convstore.Snapshot{
		Lane:         "job:1",
		MessageCount: 1,
		TotalBytes:   11,
		UpdatedAt:    time.Now().Add(-time.Hour),
		Messages: []convstore.Message{{
			Role: "assistant", Content: "hello\nworld", Model: "m1",
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
	})
	out := buf.String()
	for _, want := range []string{"job:1: 1 messages, 11 B, updated 1 hour ago", "2026-01-02 03:04:05 assistant (m1)", "    hello\n    world\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestApplyResult(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).ApplyResult(&patch.Result{
		Touched: []string{"a.go"},
		Diffs:   []patch.FileDiff{{Path: "a.go", Diff: "--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-old\n+new\n"}},
	}, "plan-1")
	out := buf.String()
	if !strings.HasPrefix(out, "✓ applied to 1 file(s), rollback plan plan-1\n") || !strings.Contains(out, "-old\n+new\n") {
		t.Errorf("output:\n%s", out)
	}
}

func TestToolUse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		res   *tools.Result
		want  string
	}{
		{"read_file", `{"path":"a.go","offset":3}`, &tools.Result{OK: true}, " 📖 a.go:3\n"},
		{"search", `{"query":"Apply","path":"sub"}`, &tools.Result{OK: true, Output: "a.go:1: Apply"}, " 🔍 Apply in sub\na.go:1: Apply\n"},
		{"shell", `{"command":"go test"}`, &tools.Result{OK: false, Error: "command failed"}, "〰️  🖥️  go test\nerror: command failed\n"},
		{"git_diff", `{"paths":["a","b"]}`, &tools.Result{OK: true}, " 🌱 git diff a b\n"},
		{"custom", `{"x":1}`, &tools.Result{OK: true}, " 🛠️  custom: {\"x\":1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf).ToolUse(tt.name, json.RawMessage(tt.input), tt.res)
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
