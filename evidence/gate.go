package evidence

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Gate error codes, in the order Enforce checks them.
const (
	CodeDocdexUnavailable = "docdex_unavailable"
	CodeBudgetUnmet       = "budget_unmet"
	CodeQuotaUnmet        = "quota_unmet"
	CodeEvidenceUnmet     = "evidence_unmet"
)

var (
	ErrDocdexUnavailable = errors.New(CodeDocdexUnavailable)
	ErrBudgetUnmet       = errors.New(CodeBudgetUnmet)
	ErrQuotaUnmet        = errors.New(CodeQuotaUnmet)
	ErrEvidenceUnmet     = errors.New(CodeEvidenceUnmet)
)

var codeErrs = map[string]error{
	CodeDocdexUnavailable: ErrDocdexUnavailable,
	CodeBudgetUnmet:       ErrBudgetUnmet,
	CodeQuotaUnmet:        ErrQuotaUnmet,
	CodeEvidenceUnmet:     ErrEvidenceUnmet,
}

// GateError reports why an investigation may not proceed to patching.
// It matches the Err* sentinels with errors.Is.
type GateError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Remediation []string       `json:"remediation"`
	Details     map[string]any `json:"details"`
}

func (e *GateError) Error() string { return e.Code + ": " + e.Message }

func (e *GateError) Unwrap() error { return codeErrs[e.Code] }

// Config is the full gating configuration.
type Config struct {
	Thresholds `yaml:",inline"`

	RequireIndex bool           `yaml:"requireIndex" json:"requireIndex"`
	MinCycles    int            `yaml:"minCycles" json:"minCycles"`
	MinSeconds   float64        `yaml:"minSeconds" json:"minSeconds"`
	ToolQuota    map[string]int `yaml:"toolQuota" json:"toolQuota"` // tool name -> minimum successful calls
}

// Investigation describes the investigation phase being gated.
type Investigation struct {
	IndexAvailable bool
	Cycles         int
	Elapsed        time.Duration
	ToolCalls      map[string]int // tool name -> successful calls
}

// Enforce evaluates in and returns the assessment along with the first
// failing gate, or nil if every gate passes.
func Enforce(cfg Config, inv Investigation, in Input) (*Assessment, error) {
	a := Evaluate(cfg.Thresholds, in)

	if cfg.RequireIndex && !inv.IndexAvailable {
		return a, &GateError{
			Code:    CodeDocdexUnavailable,
			Message: "the code index is required but was unavailable during investigation",
			Remediation: []string{
				"start or rebuild the code index and rerun the investigation",
				"set evidence.requireIndex to false to investigate without an index",
			},
			Details: map[string]any{"require_index": true},
		}
	}

	if inv.Cycles < cfg.MinCycles || inv.Elapsed.Seconds() < cfg.MinSeconds {
		var rem []string
		if inv.Cycles < cfg.MinCycles {
			rem = append(rem, fmt.Sprintf("run at least %d investigation cycles, or lower evidence.minCycles", cfg.MinCycles))
		}
		if inv.Elapsed.Seconds() < cfg.MinSeconds {
			rem = append(rem, fmt.Sprintf("investigate for at least %gs, or lower evidence.minSeconds", cfg.MinSeconds))
		}
		return a, &GateError{
			Code:        CodeBudgetUnmet,
			Message:     fmt.Sprintf("investigation budget unmet: %d cycles in %s", inv.Cycles, inv.Elapsed.Round(time.Millisecond)),
			Remediation: rem,
			Details: map[string]any{
				"cycles":      inv.Cycles,
				"min_cycles":  cfg.MinCycles,
				"seconds":     inv.Elapsed.Seconds(),
				"min_seconds": cfg.MinSeconds,
			},
		}
	}

	short := map[string]int{}
	for _, tool := range slices.Sorted(maps.Keys(cfg.ToolQuota)) {
		if want := cfg.ToolQuota[tool]; inv.ToolCalls[tool] < want {
			short[tool] = want
		}
	}
	if len(short) > 0 {
		names := slices.Sorted(maps.Keys(short))
		rem := make([]string, 0, len(names)+1)
		for _, tool := range names {
			rem = append(rem, fmt.Sprintf("call %s at least %d times (observed %d)", tool, short[tool], inv.ToolCalls[tool]))
		}
		rem = append(rem, "lower evidence.toolQuota to relax the requirement")
		return a, &GateError{
			Code:        CodeQuotaUnmet,
			Message:     "tool usage quota unmet for " + strings.Join(names, ", "),
			Remediation: rem,
			Details: map[string]any{
				"required": short,
				"observed": maps.Clone(inv.ToolCalls),
			},
		}
	}

	if !a.Passed() {
		missing := make([]string, len(a.Missing))
		for i, s := range a.Missing {
			missing[i] = string(s)
		}
		return a, &GateError{
			Code:        CodeEvidenceUnmet,
			Message:     "insufficient evidence: missing " + strings.Join(missing, ", "),
			Remediation: remediation(a.Missing),
			Details: map[string]any{
				"missing":  missing,
				"required": a.Required,
				"observed": a.Observed,
				"score":    a.Score,
				"warnings": a.Warnings,
				"gaps":     a.Gaps,
			},
		}
	}
	return a, nil
}

var signalHints = map[Signal]string{
	SearchHits:    "run more searches for the affected identifiers, or lower evidence.minSearchHits",
	OpenOrSnippet: "open the relevant files or snippets, or lower evidence.minOpenOrSnippet",
	SymbolsOrAst:  "inspect symbols or syntax trees of the affected files, or lower evidence.minSymbolsOrAst",
	Impact:        "analyze the impact of the change on dependents, or lower evidence.minImpact",
	Warnings:      "resolve the reported warnings, or raise evidence.maxWarnings",
}

func remediation(missing []Signal) []string {
	out := make([]string, 0, len(missing))
	for _, s := range missing {
		out = append(out, signalHints[s])
	}
	return out
}
