// Package ant implements llm.Service for the Anthropic messages API.
package ant

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"patchwork.dev/llm"
)

const (
	DefaultModel     = ClaudeSonnet4
	DefaultMaxTokens = 8192
	DefaultURL       = "https://api.anthropic.com/v1/messages"
	APIKeyEnv        = "ANTHROPIC_API_KEY"

	apiVersion = "2023-06-01"
)

const (
	Claude35Haiku  = "claude-3-5-haiku-20241022"
	Claude37Sonnet = "claude-3-7-sonnet-20250219"
	ClaudeSonnet4  = "claude-sonnet-4-20250514"
	ClaudeOpus4    = "claude-opus-4-20250514"
)

// Service provides Claude completions.
// Fields should not be altered concurrently with calling any method on Service.
type Service struct {
	HTTPC     *http.Client // defaults to http.DefaultClient if nil
	URL       string       // defaults to DefaultURL if empty
	APIKey    string       // must be non-empty
	Model     string       // defaults to DefaultModel if empty
	MaxTokens int          // defaults to DefaultMaxTokens if zero

	// Backoff is the wait before each retry; defaults to defaultBackoff.
	// Rate limited requests additionally wait RateLimitWait, one minute if zero.
	Backoff       []time.Duration
	RateLimitWait time.Duration
}

var _ llm.Service = (*Service)(nil)

var defaultBackoff = []time.Duration{15 * time.Second, 30 * time.Second, time.Minute}

const maxAttempts = 5

// block is one entry of a message's content array.
// Which fields are set depends on Type.
type block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type turn struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    []block   `json:"system,omitempty"`
	Messages  []turn    `json:"messages"`
	Tools     []toolDef `json:"tools,omitempty"`
}

type tokenCounts struct {
	Input       uint64 `json:"input_tokens"`
	Output      uint64 `json:"output_tokens"`
	CacheRead   uint64 `json:"cache_read_input_tokens"`
	CacheCreate uint64 `json:"cache_creation_input_tokens"`
}

type reply struct {
	ID         string      `json:"id"`
	Model      string      `json:"model"`
	Content    []block     `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      tokenCounts `json:"usage"`
}

// encode builds the wire request for r.
func (s *Service) encode(r *llm.Request) (*request, error) {
	req := &request{
		Model:     cmp.Or(s.Model, DefaultModel),
		MaxTokens: cmp.Or(r.MaxTokens, s.MaxTokens, DefaultMaxTokens),
	}
	for _, sc := range r.System {
		req.System = append(req.System, block{Type: "text", Text: sc.Text})
	}
	for i, m := range r.Messages {
		t := turn{Role: m.Role.String()}
		for _, c := range m.Content {
			b, err := encodeBlock(c)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			t.Content = append(t.Content, b)
		}
		req.Messages = append(req.Messages, t)
	}
	for _, t := range r.Tools {
		req.Tools = append(req.Tools, toolDef{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return req, nil
}

func encodeBlock(c llm.Content) (block, error) {
	switch c.Type {
	case llm.ContentTypeText:
		return block{Type: "text", Text: c.Text}, nil
	case llm.ContentTypeToolUse:
		return block{Type: "tool_use", ID: c.ID, Name: c.ToolName, Input: c.ToolInput}, nil
	case llm.ContentTypeToolResult:
		return block{Type: "tool_result", ToolUseID: c.ToolUseID, Content: c.ToolResult, IsError: c.ToolError}, nil
	}
	return block{}, fmt.Errorf("unsupported content type %d", c.Type)
}

// decode converts a successful reply. Block types the llm package has no
// equivalent for are skipped.
func decode(rp *reply) *llm.Response {
	out := &llm.Response{
		ID:         rp.ID,
		Role:       llm.MessageRoleAssistant,
		Model:      rp.Model,
		StopReason: stopReason(rp.StopReason),
		Usage: llm.Usage{
			InputTokens:  rp.Usage.Input + rp.Usage.CacheRead + rp.Usage.CacheCreate,
			OutputTokens: rp.Usage.Output,
			CostUSD:      rp.Usage.dollars(rp.Model),
		},
	}
	for _, b := range rp.Content {
		switch b.Type {
		case "text":
			out.Content = append(out.Content, llm.StringContent(b.Text))
		case "tool_use":
			out.Content = append(out.Content, llm.Content{Type: llm.ContentTypeToolUse, ID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		}
	}
	return out
}

func stopReason(s string) llm.StopReason {
	switch s {
	case "max_tokens":
		return llm.StopReasonMaxTokens
	case "stop_sequence":
		return llm.StopReasonStopSequence
	case "tool_use":
		return llm.StopReasonToolUse
	}
	return llm.StopReasonEndTurn
}

// apiError extracts the provider's error message from a non-200 body.
func apiError(status string, body []byte) error {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return fmt.Errorf("anthropic: %s: %s: %s", status, e.Error.Type, e.Error.Message)
	}
	return fmt.Errorf("anthropic: %s: %s", status, bytes.TrimSpace(body))
}

// retryAfter reports how long to wait before retrying a response with the
// given status, or false if the status is final.
func (s *Service) retryAfter(status, attempt int) (time.Duration, bool) {
	backoff := s.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	base := backoff[min(attempt, len(backoff)-1)]
	switch {
	case status == http.StatusTooManyRequests:
		return cmp.Or(s.RateLimitWait, time.Minute) + base, true
	case status >= 500 && status < 600:
		return base, true
	}
	return 0, false
}

func (s *Service) post(ctx context.Context, payload []byte) (int, string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cmp.Or(s.URL, DefaultURL), bytes.NewReader(payload))
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.APIKey)
	req.Header.Set("Anthropic-Version", apiVersion)
	resp, err := cmp.Or(s.HTTPC, http.DefaultClient).Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Status, body, err
}

// Do sends a request to Anthropic, retrying overloaded and rate limited responses.
func (s *Service) Do(ctx context.Context, ir *llm.Request) (*llm.Response, error) {
	wire, err := s.encode(ir)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	var errs error
	for attempt := range maxAttempts {
		start := time.Now()
		code, status, body, err := s.post(ctx, payload)
		if err != nil {
			return nil, errors.Join(errs, err)
		}
		if code == http.StatusOK {
			var rp reply
			if err := json.Unmarshal(body, &rp); err != nil {
				return nil, fmt.Errorf("anthropic: decode response: %w", err)
			}
			end := time.Now()
			out := decode(&rp)
			out.StartTime, out.EndTime = &start, &end
			return out, nil
		}

		failure := apiError(status, body)
		wait, retry := s.retryAfter(code, attempt)
		if !retry {
			return nil, errors.Join(errs, failure)
		}
		errs = errors.Join(errs, failure)
		if jitter := int64(wait / 4); jitter > 0 {
			wait += time.Duration(rand.Int64N(jitter))
		}
		slog.WarnContext(ctx, "anthropic_request_retry", "status_code", code, "attempt", attempt+1, "sleep", wait, "response", string(body))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, errors.Join(errs, ctx.Err())
		}
	}
	return nil, fmt.Errorf("anthropic request failed after %d attempts: %w", maxAttempts, errs)
}

// rate is a price in US cents per million tokens.
type rate struct {
	in, out, cacheRead, cacheCreate uint64
}

// Prices from https://www.anthropic.com/pricing#anthropic-api.
var (
	sonnetRate = rate{in: 300, out: 1500, cacheRead: 30, cacheCreate: 375}
	opusRate   = rate{in: 1500, out: 7500, cacheRead: 150, cacheCreate: 1875}
	haikuRate  = rate{in: 80, out: 400, cacheRead: 8, cacheCreate: 100}
)

func rateFor(model string) (rate, bool) {
	switch {
	case strings.Contains(model, "opus"):
		return opusRate, true
	case strings.Contains(model, "sonnet"):
		return sonnetRate, true
	case model == Claude35Haiku:
		return haikuRate, true
	}
	return rate{}, false
}

// dollars prices the counts for model. Models without a known rate cost zero.
func (tc tokenCounts) dollars(model string) float64 {
	r, ok := rateFor(model)
	if !ok {
		return 0
	}
	centMillionths := tc.Input*r.in + tc.Output*r.out + tc.CacheRead*r.cacheRead + tc.CacheCreate*r.cacheCreate
	return float64(centMillionths) / 1e8
}
