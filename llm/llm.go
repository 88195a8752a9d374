// Package llm provides a unified interface for interacting with LLMs.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Service interface {
	// Do sends a request to an LLM.
	Do(context.Context, *Request) (*Response, error)
}

// MustSchema validates that schema is valid JSON and returns it as a json.RawMessage.
// It panics if the schema is invalid.
func MustSchema(schema string) json.RawMessage {
	schema = strings.TrimSpace(schema)
	bytes := []byte(schema)
	if !json.Valid(bytes) {
		panic("invalid JSON schema: " + schema)
	}
	return json.RawMessage(bytes)
}

type Request struct {
	Messages []Message
	Tools    []*Tool
	System   []SystemContent
	// MaxTokens overrides the service default, if non-zero.
	MaxTokens int
}

// Message represents a message in the conversation.
type Message struct {
	Role    MessageRole
	Content []Content
}

type SystemContent struct {
	Text string
}

// Tool advertises a capability to an LLM.
// Execution is not the LLM service's concern; see package tools.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

type Content struct {
	ID   string
	Type ContentType
	Text string

	// for tool_use
	ToolName  string
	ToolInput json.RawMessage

	// for tool_result
	ToolUseID  string
	ToolError  bool
	ToolResult string
}

func StringContent(s string) Content {
	return Content{Type: ContentTypeText, Text: s}
}

// ContentsAttr returns contents as a slog.Attr.
// It is meant for logging.
func ContentsAttr(contents []Content) slog.Attr {
	var contentAttrs []any // slog.Attr
	for i, content := range contents {
		var attrs []any // slog.Attr
		switch content.Type {
		case ContentTypeText:
			attrs = append(attrs, slog.String("text", content.Text))
		case ContentTypeToolUse:
			attrs = append(attrs, slog.String("tool_name", content.ToolName))
			attrs = append(attrs, slog.String("tool_input", string(content.ToolInput)))
		case ContentTypeToolResult:
			attrs = append(attrs, slog.String("tool_result", content.ToolResult))
			attrs = append(attrs, slog.Bool("tool_error", content.ToolError))
		default:
			attrs = append(attrs, slog.Any("content", content))
		}
		contentAttrs = append(contentAttrs, slog.Group(fmt.Sprint(i), attrs...))
	}
	return slog.Group("contents", contentAttrs...)
}

type (
	MessageRole int
	ContentType int
	StopReason  int
)

const (
	MessageRoleUser MessageRole = iota
	MessageRoleAssistant
)

const (
	ContentTypeText ContentType = iota
	ContentTypeToolUse
	ContentTypeToolResult
)

const (
	StopReasonStopSequence StopReason = iota
	StopReasonMaxTokens
	StopReasonEndTurn
	StopReasonToolUse
)

func (r MessageRole) String() string {
	switch r {
	case MessageRoleUser:
		return "user"
	case MessageRoleAssistant:
		return "assistant"
	}
	return fmt.Sprintf("MessageRole(%d)", int(r))
}

type Response struct {
	ID         string
	Role       MessageRole
	Model      string
	Content    []Content
	StopReason StopReason
	Usage      Usage
	StartTime  *time.Time
	EndTime    *time.Time
}

// Text returns the concatenated text contents of the response.
func (m *Response) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Usage represents the billing and rate-limit usage.
type Usage struct {
	InputTokens  uint64  `json:"input_tokens"`
	OutputTokens uint64  `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

func (u *Usage) String() string {
	return fmt.Sprintf("in: %d, out: %d", u.InputTokens, u.OutputTokens)
}

func (u *Usage) IsZero() bool {
	return *u == Usage{}
}

func (u *Usage) Attr() slog.Attr {
	return slog.Group("usage",
		slog.Uint64("input_tokens", u.InputTokens),
		slog.Uint64("output_tokens", u.OutputTokens),
		slog.Float64("cost_usd", u.CostUSD),
	)
}

// UserStringMessage creates a user message with a single text content item.
func UserStringMessage(text string) Message {
	return Message{
		Role:    MessageRoleUser,
		Content: []Content{StringContent(text)},
	}
}

// SystemPrompt returns s as a single system content item.
func SystemPrompt(s string) []SystemContent {
	return []SystemContent{{Text: s}}
}
