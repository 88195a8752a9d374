package evidence

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEvaluate(t *testing.T) {
	base := Thresholds{MinSearchHits: 2, MinOpenOrSnippet: 1, MinSymbolsOrAst: 1, MinImpact: 1, MaxWarnings: 0}
	tests := []struct {
		name        string
		t           Thresholds
		in          Input
		wantStatus  Status
		wantMissing []Signal
		wantScore   float64
	}{
		{
			name: "warnings_over_ceiling",
			t:    base,
			in: Input{Evidence: &Report{
				SearchHits: 2, FilesOpened: 1, SymbolFiles: 1, ImpactFiles: 1,
				Warnings: []string{"stale index"},
			}},
			wantStatus:  StatusFail,
			wantMissing: []Signal{Warnings},
			wantScore:   0.8,
		},
		{
			name: "all_met",
			t:    base,
			in: Input{Evidence: &Report{
				SearchHits: 5, Snippets: 1, AstFiles: 1, ImpactDiagnostics: 1,
			}},
			wantStatus:  StatusPass,
			wantMissing: []Signal{},
			wantScore:   1,
		},
		{
			name:        "nothing_observed",
			t:           base,
			in:          Input{},
			wantStatus:  StatusFail,
			wantMissing: []Signal{SearchHits, OpenOrSnippet, SymbolsOrAst, Impact},
			wantScore:   0.2,
		},
		{
			name: "tool_usage_fills_gaps",
			t:    base,
			in: Input{
				Evidence: &Report{SearchHits: 1},
				Usage:    ToolUsage{SearchHits: 2, OpenOrSnippet: 3, SymbolsOrAst: 1, Impact: 1},
			},
			wantStatus:  StatusPass,
			wantMissing: []Signal{},
			wantScore:   1,
		},
		{
			name:        "zero_thresholds",
			t:           Thresholds{},
			in:          Input{},
			wantStatus:  StatusPass,
			wantMissing: []Signal{},
			wantScore:   1,
		},
		{
			name: "negative_and_fractional_thresholds",
			t:    Thresholds{MinSearchHits: -3, MinOpenOrSnippet: 1.9, MaxWarnings: 1.5},
			in: Input{
				Evidence: &Report{FilesOpened: 1},
				Warnings: []string{"a"},
			},
			wantStatus:  StatusPass,
			wantMissing: []Signal{},
			wantScore:   1,
		},
		{
			name:        "missing_is_binary_not_magnitude",
			t:           Thresholds{MinSearchHits: 100},
			in:          Input{Evidence: &Report{SearchHits: 99}},
			wantStatus:  StatusFail,
			wantMissing: []Signal{SearchHits},
			wantScore:   0.8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Evaluate(tt.t, tt.in)
			if a.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", a.Status, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantMissing, a.Missing); diff != "" {
				t.Errorf("missing mismatch (-want +got):\n%s", diff)
			}
			if math.Abs(a.Score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", a.Score, tt.wantScore)
			}
		})
	}
}

func TestEvaluateMetrics(t *testing.T) {
	a := Evaluate(
		Thresholds{MinSearchHits: 2.7, MinOpenOrSnippet: 1, MinSymbolsOrAst: 1, MinImpact: 1},
		Input{
			Evidence: &Report{
				SearchHits: 4, FilesOpened: 1, Snippets: 2,
				SymbolFiles: 1, AstFiles: 1, ImpactFiles: 0, ImpactDiagnostics: 0,
				Warnings: []string{"w1", " w2 ", ""},
				Gaps:     []string{"no tests found"},
			},
			Usage:    ToolUsage{SearchHits: 1, SymbolsOrAst: 5, Impact: 1},
			Warnings: []string{"w2", "w3"},
		},
	)
	want := &Assessment{
		Status:   StatusPass,
		Score:    1,
		Required: Metrics{SearchHits: 2, OpenOrSnippet: 1, SymbolsOrAst: 1, Impact: 1},
		Observed: Metrics{SearchHits: 4, OpenOrSnippet: 3, SymbolsOrAst: 5, Impact: 1, Warnings: 3},
		Missing:  []Signal{},
		Warnings: []string{"w1", "w2", "w3"},
		Gaps:     []string{"no tests found"},
	}
	// Three warnings against a zero ceiling.
	want.Status = StatusFail
	want.Missing = []Signal{Warnings}
	want.Score = 0.8
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("assessment mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateCustomBlend(t *testing.T) {
	sum := func(e, u int) int { return e + u }
	a := Evaluate(Thresholds{MinSearchHits: 3}, Input{
		Evidence: &Report{SearchHits: 2},
		Usage:    ToolUsage{SearchHits: 1},
		Blend:    sum,
	})
	if !a.Passed() || a.Observed.SearchHits != 3 {
		t.Errorf("custom blend: status=%s observed=%d", a.Status, a.Observed.SearchHits)
	}
	if got := Evaluate(Thresholds{MinSearchHits: 3}, Input{
		Evidence: &Report{SearchHits: 2},
		Usage:    ToolUsage{SearchHits: 1},
	}); got.Passed() {
		t.Error("default max blend passed with max(2,1) < 3")
	}
}

func TestEvaluateDoesNotAliasInputs(t *testing.T) {
	rep := &Report{Gaps: []string{"g"}}
	a := Evaluate(Thresholds{}, Input{Evidence: rep})
	a.Gaps[0] = "changed"
	if rep.Gaps[0] != "g" {
		t.Error("assessment gaps alias the report")
	}
}
