package llm

import (
	"testing"
)

func TestResponseText(t *testing.T) {
	r := &Response{Content: []Content{
		StringContent("a"),
		{Type: ContentTypeToolUse, ToolName: "read_file"},
		StringContent("b"),
	}}
	if got := r.Text(); got != "ab" {
		t.Errorf("Text() = %q, want %q", got, "ab")
	}
}

func TestMustSchemaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustSchema did not panic on invalid JSON")
		}
	}()
	MustSchema("{not json")
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2, CostUSD: 0.5}
	u.Add(Usage{InputTokens: 3, OutputTokens: 4, CostUSD: 0.25})
	if u.InputTokens != 4 || u.OutputTokens != 6 || u.CostUSD != 0.75 {
		t.Errorf("Add() = %+v", u)
	}
	var z Usage
	if !z.IsZero() {
		t.Error("zero usage not IsZero")
	}
}
