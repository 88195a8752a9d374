// Package evidence decides whether an investigation gathered enough
// evidence for a patch-producing phase to run.
//
// Evaluate is pure: it scores hand-built or collected inputs against
// configured thresholds and never performs I/O.
package evidence

import (
	"math"
	"slices"
	"strings"
)

// Signal names one of the five scored evidence categories.
type Signal string

const (
	SearchHits    Signal = "search_hits"
	OpenOrSnippet Signal = "open_or_snippet"
	SymbolsOrAst  Signal = "symbols_or_ast"
	Impact        Signal = "impact"
	Warnings      Signal = "warnings"
)

// Signals lists every scored category in reporting order.
var Signals = []Signal{SearchHits, OpenOrSnippet, SymbolsOrAst, Impact, Warnings}

// Status is the outcome of an assessment.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Thresholds are the configured minimums (and the warnings ceiling).
// Values are floored at zero and truncated to integers before use.
type Thresholds struct {
	MinSearchHits    float64 `yaml:"minSearchHits" json:"minSearchHits"`
	MinOpenOrSnippet float64 `yaml:"minOpenOrSnippet" json:"minOpenOrSnippet"`
	MinSymbolsOrAst  float64 `yaml:"minSymbolsOrAst" json:"minSymbolsOrAst"`
	MinImpact        float64 `yaml:"minImpact" json:"minImpact"`
	MaxWarnings      float64 `yaml:"maxWarnings" json:"maxWarnings"`
}

// Metrics holds one integer per signal.
type Metrics struct {
	SearchHits    int `json:"search_hits"`
	OpenOrSnippet int `json:"open_or_snippet"`
	SymbolsOrAst  int `json:"symbols_or_ast"`
	Impact        int `json:"impact"`
	Warnings      int `json:"warnings"`
}

// Get returns the value for s.
func (m Metrics) Get(s Signal) int {
	switch s {
	case SearchHits:
		return m.SearchHits
	case OpenOrSnippet:
		return m.OpenOrSnippet
	case SymbolsOrAst:
		return m.SymbolsOrAst
	case Impact:
		return m.Impact
	case Warnings:
		return m.Warnings
	}
	return 0
}

// Report carries the raw counters collected by an evidence source.
type Report struct {
	SearchHits        int      `json:"search_hits"`
	FilesOpened       int      `json:"files_opened"`
	Snippets          int      `json:"snippets"`
	SymbolFiles       int      `json:"symbol_files"`
	AstFiles          int      `json:"ast_files"`
	ImpactFiles       int      `json:"impact_files"`
	ImpactDiagnostics int      `json:"impact_diagnostics"`
	Warnings          []string `json:"warnings,omitempty"`
	Gaps              []string `json:"gaps,omitempty"`
}

// ToolUsage counts successful tool executions per signal.
type ToolUsage map[Signal]int

// BlendFunc combines the raw-evidence and tool-usage values observed for one signal.
type BlendFunc func(evidence, tools int) int

// MaxBlend takes the larger of the two sources.
func MaxBlend(evidence, tools int) int { return max(evidence, tools) }

// Input is everything Evaluate observes. All fields are optional.
type Input struct {
	Evidence *Report
	Usage    ToolUsage
	Warnings []string // extra warnings from outside the evidence source

	// Blend combines the two sources per signal; nil means MaxBlend.
	Blend BlendFunc
}

// Assessment is the result of Evaluate.
type Assessment struct {
	Status   Status   `json:"status"`
	Score    float64  `json:"score"`
	Required Metrics  `json:"required"`
	Observed Metrics  `json:"observed"`
	Missing  []Signal `json:"missing"`
	Warnings []string `json:"warnings"`
	Gaps     []string `json:"gaps"`
}

// Passed reports whether the assessment status is pass.
func (a *Assessment) Passed() bool { return a.Status == StatusPass }

// Evaluate scores in against t.
func Evaluate(t Thresholds, in Input) *Assessment {
	blend := in.Blend
	if blend == nil {
		blend = MaxBlend
	}
	rep := in.Evidence
	if rep == nil {
		rep = &Report{}
	}
	warnings := mergeWarnings(rep.Warnings, in.Warnings)

	required := Metrics{
		SearchHits:    count(t.MinSearchHits),
		OpenOrSnippet: count(t.MinOpenOrSnippet),
		SymbolsOrAst:  count(t.MinSymbolsOrAst),
		Impact:        count(t.MinImpact),
		Warnings:      count(t.MaxWarnings),
	}
	observed := Metrics{
		SearchHits:    blend(rep.SearchHits, in.Usage[SearchHits]),
		OpenOrSnippet: blend(rep.FilesOpened+rep.Snippets, in.Usage[OpenOrSnippet]),
		SymbolsOrAst:  blend(rep.SymbolFiles+rep.AstFiles, in.Usage[SymbolsOrAst]),
		Impact:        blend(rep.ImpactFiles+rep.ImpactDiagnostics, in.Usage[Impact]),
		Warnings:      len(warnings),
	}

	missing := []Signal{}
	for _, s := range Signals {
		if s == Warnings {
			if observed.Warnings > required.Warnings {
				missing = append(missing, s)
			}
			continue
		}
		if observed.Get(s) < required.Get(s) {
			missing = append(missing, s)
		}
	}

	a := &Assessment{
		Status:   StatusPass,
		Score:    float64(len(Signals)-len(missing)) / float64(len(Signals)),
		Required: required,
		Observed: observed,
		Missing:  missing,
		Warnings: warnings,
		Gaps:     slices.Clone(rep.Gaps),
	}
	if len(missing) > 0 {
		a.Status = StatusFail
	}
	if a.Gaps == nil {
		a.Gaps = []string{}
	}
	return a
}

func count(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Trunc(v))
}

// mergeWarnings dedupes warnings from both sources, keeping first-seen order.
func mergeWarnings(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range lists {
		for _, w := range l {
			w = strings.TrimSpace(w)
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
