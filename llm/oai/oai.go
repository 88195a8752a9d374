// Package oai implements llm.Service for OpenAI-compatible chat completion APIs.
package oai

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"patchwork.dev/llm"
)

const (
	DefaultMaxTokens = 8192

	OpenAIURL       = "https://api.openai.com/v1"
	OpenAIAPIKeyEnv = "OPENAI_API_KEY"
)

type Model struct {
	UserName         string // short name used in configuration (e.g. "gpt4.1")
	ModelName        string // name sent to the provider (e.g. "gpt-4.1-2025-04-14")
	URL              string
	IsReasoningModel bool // reasoning models take max_completion_tokens
}

var (
	DefaultModel = GPT41

	GPT41 = Model{
		UserName:  "gpt4.1",
		ModelName: "gpt-4.1-2025-04-14",
		URL:       OpenAIURL,
	}

	GPT41Mini = Model{
		UserName:  "gpt4.1-mini",
		ModelName: "gpt-4.1-mini-2025-04-14",
		URL:       OpenAIURL,
	}

	O4Mini = Model{
		UserName:         "o4-mini",
		ModelName:        "o4-mini-2025-04-16",
		URL:              OpenAIURL,
		IsReasoningModel: true,
	}

	GPT5 = Model{
		UserName:  "gpt5",
		ModelName: "gpt-5",
		URL:       OpenAIURL,
	}

	models = []Model{GPT41, GPT41Mini, O4Mini, GPT5}
)

// ModelByName returns the known model with the given user or provider name.
// Unknown names are passed through to the provider as-is.
func ModelByName(name string) Model {
	for _, m := range models {
		if m.UserName == name || m.ModelName == name {
			return m
		}
	}
	return Model{UserName: name, ModelName: name, URL: OpenAIURL}
}

func (m Model) IsZero() bool {
	return m == Model{}
}

func (m Model) requiresMaxCompletionTokens() bool {
	return m.IsReasoningModel || strings.HasPrefix(m.ModelName, "gpt-5")
}

// Service provides chat completions.
// Fields should not be altered concurrently with calling any method on Service.
type Service struct {
	HTTPC     *http.Client // defaults to http.DefaultClient if nil
	APIKey    string
	Model     Model  // defaults to DefaultModel if zero
	ModelURL  string // overrides Model.URL if set
	MaxTokens int    // defaults to DefaultMaxTokens if zero

	// Backoff is the wait before each retry; defaults to defaultBackoff.
	Backoff []time.Duration
}

var _ llm.Service = (*Service)(nil)

var defaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

const maxAttempts = 5

var toLLMStopReason = map[openai.FinishReason]llm.StopReason{
	openai.FinishReasonStop:          llm.StopReasonEndTurn,
	openai.FinishReasonLength:        llm.StopReasonMaxTokens,
	openai.FinishReasonToolCalls:     llm.StopReasonToolUse,
	openai.FinishReasonFunctionCall:  llm.StopReasonToolUse,
	openai.FinishReasonContentFilter: llm.StopReasonStopSequence,
}

// fromLLMMessage converts a message. Tool results become separate "tool" messages.
func fromLLMMessage(msg llm.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	var text []string
	var calls []openai.ToolCall
	for _, c := range msg.Content {
		switch c.Type {
		case llm.ContentTypeToolResult:
			content := c.ToolResult
			if c.ToolError {
				content = "error: " + cmp.Or(content, "tool execution failed")
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    cmp.Or(content, " "),
				ToolCallID: c.ToolUseID,
			})
		case llm.ContentTypeToolUse:
			calls = append(calls, openai.ToolCall{
				ID:   c.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      c.ToolName,
					Arguments: string(c.ToolInput),
				},
			})
		default:
			if c.Text != "" {
				text = append(text, c.Text)
			}
		}
	}
	if len(text) > 0 || len(calls) > 0 {
		role := openai.ChatMessageRoleUser
		if msg.Role == llm.MessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:      role,
			Content:   strings.Join(text, "\n"),
			ToolCalls: calls,
		})
	}
	return out
}

func fromLLMTool(t *llm.Tool) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		},
	}
}

func fromLLMSystem(system []llm.SystemContent) []openai.ChatCompletionMessage {
	var texts []string
	for _, s := range system {
		if s.Text != "" {
			texts = append(texts, s.Text)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: strings.Join(texts, "\n")}}
}

func toLLMResponse(r *openai.ChatCompletionResponse) *llm.Response {
	resp := &llm.Response{
		ID:    r.ID,
		Model: r.Model,
		Role:  llm.MessageRoleAssistant,
		Usage: llm.Usage{
			InputTokens:  uint64(r.Usage.PromptTokens),
			OutputTokens: uint64(r.Usage.CompletionTokens),
		},
	}
	if len(r.Choices) == 0 {
		return resp
	}
	choice := r.Choices[0]
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, llm.StringContent(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.Content = append(resp.Content, llm.Content{
			ID:        tc.ID,
			Type:      llm.ContentTypeToolUse,
			ToolName:  tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}
	resp.StopReason = cmp.Or(toLLMStopReason[choice.FinishReason], llm.StopReasonStopSequence)
	return resp
}

// Do sends a request using the go-openai client, retrying server errors and rate limits.
func (s *Service) Do(ctx context.Context, ir *llm.Request) (*llm.Response, error) {
	model := cmp.Or(s.Model, DefaultModel)
	config := openai.DefaultConfig(s.APIKey)
	if u := cmp.Or(s.ModelURL, model.URL); u != "" {
		config.BaseURL = u
	}
	config.HTTPClient = cmp.Or(s.HTTPC, http.DefaultClient)
	client := openai.NewClientWithConfig(config)

	messages := fromLLMSystem(ir.System)
	for _, msg := range ir.Messages {
		messages = append(messages, fromLLMMessage(msg)...)
	}
	req := openai.ChatCompletionRequest{
		Model:    model.ModelName,
		Messages: messages,
	}
	for _, t := range ir.Tools {
		req.Tools = append(req.Tools, fromLLMTool(t))
	}
	maxTokens := cmp.Or(ir.MaxTokens, s.MaxTokens, DefaultMaxTokens)
	if model.requiresMaxCompletionTokens() {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	backoff := s.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	var errs error
	for attempts := 0; ; attempts++ {
		if attempts == maxAttempts {
			return nil, fmt.Errorf("openai request failed after %d attempts: %w", attempts, errs)
		}
		if attempts > 0 && len(backoff) > 0 {
			sleep := backoff[min(attempts-1, len(backoff)-1)]
			if jitter := int64(sleep / 4); jitter > 0 {
				sleep += time.Duration(rand.Int64N(jitter))
			}
			slog.WarnContext(ctx, "openai_request_retry", "sleep", sleep, "attempts", attempts)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, errors.Join(errs, ctx.Err())
			}
		}

		start := time.Now()
		resp, err := client.CreateChatCompletion(ctx, req)
		if err == nil {
			end := time.Now()
			out := toLLMResponse(&resp)
			out.StartTime, out.EndTime = &start, &end
			return out, nil
		}

		var apiErr *openai.APIError
		if !errors.As(err, &apiErr) {
			return nil, errors.Join(errs, err)
		}
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			slog.WarnContext(ctx, "openai_request_rate_limited", "error", apiErr.Error())
			errs = errors.Join(errs, fmt.Errorf("status %d (rate limited): %s", apiErr.HTTPStatusCode, apiErr.Error()))
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			slog.WarnContext(ctx, "openai_request_failed", "error", apiErr.Error(), "status_code", apiErr.HTTPStatusCode)
			return nil, errors.Join(errs, fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Error()))
		default:
			slog.WarnContext(ctx, "openai_request_failed", "error", apiErr.Error(), "status_code", apiErr.HTTPStatusCode)
			errs = errors.Join(errs, fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Error()))
		}
	}
}
