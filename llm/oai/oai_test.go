package oai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"patchwork.dev/llm"
)

func TestRequiresMaxCompletionTokens(t *testing.T) {
	tests := []struct {
		model Model
		want  bool
	}{
		{GPT5, true},
		{O4Mini, true},
		{GPT41, false},
		{GPT41Mini, false},
		{ModelByName("gpt-5-mini"), true},
	}
	for _, tt := range tests {
		if got := tt.model.requiresMaxCompletionTokens(); got != tt.want {
			t.Errorf("%s: requiresMaxCompletionTokens = %v, want %v", tt.model.ModelName, got, tt.want)
		}
	}
}

func TestModelByName(t *testing.T) {
	if got := ModelByName("gpt4.1"); got != GPT41 {
		t.Errorf("by user name = %+v", got)
	}
	if got := ModelByName("o4-mini-2025-04-16"); got != O4Mini {
		t.Errorf("by model name = %+v", got)
	}
	if got := ModelByName("local-model"); got.ModelName != "local-model" || got.URL != OpenAIURL {
		t.Errorf("unknown = %+v", got)
	}
}

func TestFromLLMMessage(t *testing.T) {
	got := fromLLMMessage(llm.Message{
		Role: llm.MessageRoleUser,
		Content: []llm.Content{
			{Type: llm.ContentTypeToolResult, ToolUseID: "t1", ToolResult: "", ToolError: true},
			llm.StringContent("a"),
			llm.StringContent("b"),
		},
	})
	if len(got) != 2 {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].Role != "tool" || got[0].Content != "error: tool execution failed" || got[0].ToolCallID != "t1" {
		t.Errorf("tool message = %+v", got[0])
	}
	if got[1].Role != "user" || got[1].Content != "a\nb" {
		t.Errorf("text message = %+v", got[1])
	}
}

const completion = `{
  "id": "chatcmpl-1",
  "model": "gpt-4.1-2025-04-14",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"patches\":[]}"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func TestDo(t *testing.T) {
	var calls atomic.Int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		w.Write([]byte(completion))
	}))
	defer srv.Close()

	s := &Service{APIKey: "key", ModelURL: srv.URL, Backoff: []time.Duration{0}}
	resp, err := s.Do(context.Background(), &llm.Request{
		System:   llm.SystemPrompt("be terse"),
		Messages: []llm.Message{llm.UserStringMessage("fix it")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if resp.Text() != `{"patches":[]}` || resp.StopReason != llm.StopReasonEndTurn {
		t.Errorf("response = %+v", resp)
	}
	if diff := cmp.Diff(llm.Usage{InputTokens: 12, OutputTokens: 5}, resp.Usage); diff != "" {
		t.Errorf("usage mismatch (-want +got):\n%s", diff)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Errorf("sent messages = %v", msgs)
	}
	if body["max_tokens"] != float64(DefaultMaxTokens) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
}

func TestDoClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	s := &Service{APIKey: "key", ModelURL: srv.URL, Backoff: []time.Duration{0}}
	_, err := s.Do(context.Background(), &llm.Request{Messages: []llm.Message{llm.UserStringMessage("x")}})
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDoGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	s := &Service{APIKey: "key", ModelURL: srv.URL, Backoff: []time.Duration{0}}
	_, err := s.Do(context.Background(), &llm.Request{Messages: []llm.Message{llm.UserStringMessage("x")}})
	if err == nil || !strings.Contains(err.Error(), "after 5 attempts") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != maxAttempts {
		t.Errorf("calls = %d, want %d", calls.Load(), maxAttempts)
	}
}
