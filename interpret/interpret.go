// Package interpret turns an agent's raw output into a structured patch payload.
//
// Parsing proceeds through a bounded progression of attempts:
// a direct parse of the raw text (no model call), then one
// provider-assisted repair, then up to Retries repairs with a stricter
// prompt. The first attempt that yields a valid payload wins.
package interpret

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"patchwork.dev/llm"
)

// ErrMalformedPatch reports that no parse attempt produced a valid payload.
var ErrMalformedPatch = errors.New("malformed patch")

// DefaultRetries is the number of strict retries after the assisted attempt.
const DefaultRetries = 1

// stage is one step of the parse progression.
type stage int

const (
	stageDirect   stage = iota // parse raw text, no model call
	stageAssisted              // ask the model to convert to JSON
	stageStrict                // ask again, more insistently
)

func (s stage) String() string {
	switch s {
	case stageDirect:
		return "direct"
	case stageAssisted:
		return "assisted"
	}
	return "strict"
}

// An Interpreter converts raw text into a PatchPayload.
// Fields should not be altered concurrently with calling any method on Interpreter.
type Interpreter struct {
	// Service repairs output that does not parse directly. If nil, only
	// the direct parse is attempted.
	Service llm.Service
	// Format is the default target format; defaults to FormatPatches.
	Format Format
	// Retries bounds the strict retries after the assisted attempt.
	Retries int
	// Logger receives request and parse events, if set.
	Logger *slog.Logger
	// Strategies overrides DefaultStrategies, if set.
	Strategies []Strategy
}

// New returns an Interpreter using svc with the default retry budget.
func New(svc llm.Service, format Format) *Interpreter {
	return &Interpreter{Service: svc, Format: format, Retries: DefaultRetries}
}

// Interpret parses raw into a payload of the given format (or the
// Interpreter's default when format is empty).
// Errors from the provider are returned as-is; when every attempt
// produces unparseable output, the error wraps ErrMalformedPatch.
func (in *Interpreter) Interpret(ctx context.Context, raw string, format Format) (*PatchPayload, error) {
	format = cmp.Or(format, in.Format, FormatPatches)
	if !format.Valid() {
		return nil, fmt.Errorf("unknown patch format %q", format)
	}

	p, lastErr := in.parse(ctx, raw, format, stageDirect)
	if lastErr == nil {
		return p, nil
	}
	if in.Service == nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPatch, lastErr)
	}

	attempts := 1 + max(in.Retries, 0)
	for i := range attempts {
		st := stageAssisted
		if i > 0 {
			st = stageStrict
		}
		text, err := in.request(ctx, raw, format, st)
		if err != nil {
			return nil, fmt.Errorf("interpret: %s request: %w", st, err)
		}
		p, lastErr = in.parse(ctx, text, format, st)
		if lastErr == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrMalformedPatch, lastErr)
}

// parse runs the strategy chain over text; the first candidate that decodes wins.
func (in *Interpreter) parse(ctx context.Context, text string, format Format, st stage) (*PatchPayload, error) {
	strategies := in.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	var errs error
	for _, s := range strategies {
		candidate, ok := s.Extract(text)
		if !ok {
			continue
		}
		p, err := decode(candidate, format)
		if err == nil {
			in.log(ctx, slog.LevelDebug, "interpret_parse", slog.String("stage", st.String()), slog.String("strategy", s.Name), slog.Bool("ok", true))
			return p, nil
		}
		errs = errors.Join(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	if errs == nil {
		errs = errors.New("no JSON candidate found")
	}
	in.log(ctx, slog.LevelDebug, "interpret_parse", slog.String("stage", st.String()), slog.Bool("ok", false), slog.String("error", errs.Error()))
	return nil, errs
}

func (in *Interpreter) request(ctx context.Context, raw string, format Format, st stage) (string, error) {
	id := slog.String("request_id", ulid.Make().String())
	req := &llm.Request{
		System:   llm.SystemPrompt(systemPrompt(format, st)),
		Messages: []llm.Message{llm.UserStringMessage(raw)},
	}
	in.log(ctx, slog.LevelInfo, "interpret_request", id,
		slog.String("format", string(format)),
		slog.Bool("retry", st == stageStrict),
		slog.String("system", req.System[0].Text),
		slog.Int("input_len", len(raw)),
	)
	resp, err := in.Service.Do(ctx, req)
	if err != nil {
		in.log(ctx, slog.LevelWarn, "interpret_request_failed", id, slog.String("error", err.Error()))
		return "", err
	}
	text := resp.Text()
	in.log(ctx, slog.LevelInfo, "interpret_response", id,
		slog.Int("response_len", len(text)),
		resp.Usage.Attr(),
	)
	in.log(ctx, slog.LevelDebug, "interpret_response_contents", id, llm.ContentsAttr(resp.Content))
	return text, nil
}

func (in *Interpreter) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if in.Logger == nil {
		return
	}
	// A broken log handler must not break interpretation.
	defer func() { _ = recover() }()
	in.Logger.LogAttrs(ctx, level, msg, attrs...)
}

func systemPrompt(format Format, st stage) string {
	if st == stageStrict {
		return fmt.Sprintf(`Respond ONLY with valid JSON. No explanations, no markdown, no code fences.
The JSON must be a single object matching this schema:
%s`, format.Schema())
	}
	return fmt.Sprintf(`You convert a coding agent's proposed change into a machine-readable patch.
Output strict JSON only: a single object matching the schema below, with no surrounding prose.
Preserve file paths, search text and replacement text exactly as given.
Schema:
%s`, format.Schema())
}
