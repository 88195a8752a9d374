// Package tools dispatches model-invoked tools by name.
//
// Every tool runs against an Env whose workspace root confines any path
// argument. Tool failures are results, not errors: Execute never returns
// an error and never panics.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"patchwork.dev/evidence"
	"patchwork.dev/llm"
	"patchwork.dev/skribe"
	"patchwork.dev/workspace"
)

var (
	ErrDuplicateTool     = errors.New("duplicate tool")
	ErrUnknownTool       = errors.New("Unknown tool")
	ErrMissingArguments  = errors.New("Missing required arguments")
	ErrInvalidToolSchema = errors.New("invalid tool input schema")
)

// Env is the per-call context of a tool.
type Env struct {
	Root workspace.Root
	Lane string // optional; attached to logs
}

// Resolve confines p to the workspace root.
func (e *Env) Resolve(p string) (string, error) { return e.Root.Resolve(p) }

// Result is the outcome of a tool execution.
type Result struct {
	OK     bool   `json:"ok"`
	Output string `json:"output"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`

	// Err is the underlying failure, for errors.Is.
	Err error `json:"-"`
}

func failure(err error) *Result {
	return &Result{OK: false, Error: err.Error(), Err: err}
}

// RunFunc implements a tool. input is the raw JSON arguments object.
type RunFunc func(ctx context.Context, env *Env, input json.RawMessage) (*Result, error)

// Tool is one capability exposed to a model.
type Tool struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object. Only its "required" keys are
	// enforced by the registry; "properties" is advisory.
	InputSchema json.RawMessage
	// Signal is the evidence category a successful call contributes to, if any.
	Signal evidence.Signal
	Run    RunFunc
}

// Usage reports successful executions.
type Usage struct {
	ByTool   map[string]int
	BySignal evidence.ToolUsage
}

// Registry is a name-keyed set of tools. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	required map[string][]string
	order    []string
	byTool   map[string]int
	bySignal evidence.ToolUsage
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    map[string]*Tool{},
		required: map[string][]string{},
		byTool:   map[string]int{},
		bySignal: evidence.ToolUsage{},
	}
}

// Register adds t. It fails if the name is taken or the schema is not a JSON object.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || t.Run == nil {
		return fmt.Errorf("register tool: name and run function are required")
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if len(t.InputSchema) > 0 {
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrInvalidToolSchema, t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.required[t.Name] = schema.Required
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(tools ...*Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Describe returns every registered tool in registration order, ready to advertise to a model.
func (r *Registry) Describe() []*llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, &llm.Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool with args.
func (r *Registry) Execute(ctx context.Context, env *Env, name string, args json.RawMessage) *Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	required := r.required[name]
	r.mu.RUnlock()
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}
	if missing := missingArgs(args, required); len(missing) > 0 {
		return failure(fmt.Errorf("%w: %s", ErrMissingArguments, strings.Join(missing, ", ")))
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	attrs := []slog.Attr{slog.String("tool", name)}
	if env.Lane != "" {
		attrs = append(attrs, slog.String("lane", env.Lane))
	}
	ctx = skribe.ContextWithAttr(ctx, attrs...)
	start := time.Now()
	res := run(ctx, t, env, args)
	slog.DebugContext(ctx, "tool_executed", "ok", res.OK, "elapsed", time.Since(start), "error", res.Error)

	if res.OK {
		r.mu.Lock()
		r.byTool[name]++
		if t.Signal != "" {
			r.bySignal[t.Signal]++
		}
		r.mu.Unlock()
	}
	return res
}

func run(ctx context.Context, t *Tool, env *Env, args json.RawMessage) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "tool_panicked", "panic", p)
			res = failure(fmt.Errorf("tool %s panicked: %v", t.Name, p))
		}
	}()
	res, err := t.Run(ctx, env, args)
	if err != nil {
		return failure(err)
	}
	if res == nil {
		return &Result{OK: true}
	}
	if !res.OK && res.Error == "" {
		res.Error = "tool failed"
	}
	return res
}

// missingArgs returns the required keys absent from args.
// Anything other than a JSON object is missing every key.
func missingArgs(args json.RawMessage, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil || obj == nil {
		return slices.Clone(required)
	}
	var missing []string
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// Usage returns a copy of the execution counters.
func (r *Registry) Usage() Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Usage{ByTool: maps.Clone(r.byTool), BySignal: maps.Clone(r.bySignal)}
}

// decodeInput unmarshals a tool's arguments.
func decodeInput[T any](input json.RawMessage) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(input, v); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

// Builtins returns the built-in tools, with the shell tool governed by shell.
func Builtins(shell ShellConfig) []*Tool {
	return []*Tool{ReadFile(), WriteFile(), Search(), GitDiff(), Shell(shell)}
}

// NewBuiltinRegistry returns a registry holding the built-in tools.
func NewBuiltinRegistry(shell ShellConfig) *Registry {
	r := NewRegistry()
	r.MustRegister(Builtins(shell)...)
	return r
}
