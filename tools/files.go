package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"patchwork.dev/evidence"
	"patchwork.dev/llm"
	"patchwork.dev/patch"
)

const maxReadBytes = 1 << 20

const readFileSchema = `
{
  "type": "object",
  "required": ["path"],
  "properties": {
    "path": {"type": "string", "description": "File path relative to the workspace root"},
    "offset": {"type": "integer", "description": "First line to return, 1-based; defaults to 1"},
    "limit": {"type": "integer", "description": "Maximum number of lines to return; defaults to all"}
  }
}
`

// ReadFile returns the read_file tool.
func ReadFile() *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Reads a text file in the workspace, optionally a range of lines.",
		InputSchema: llm.MustSchema(readFileSchema),
		Signal:      evidence.OpenOrSnippet,
		Run:         readFile,
	}
}

type readFileInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type fileData struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Lines int    `json:"lines"`
}

func readFile(ctx context.Context, env *Env, input json.RawMessage) (*Result, error) {
	in, err := decodeInput[readFileInput](input)
	if err != nil {
		return nil, err
	}
	abs, err := env.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", in.Path)
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("%s is too large: %s, max is %s",
			in.Path, humanize.IBytes(uint64(info.Size())), humanize.IBytes(maxReadBytes))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	text := string(data)
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if in.Offset > 1 || in.Limit > 0 {
		start := min(max(in.Offset, 1)-1, len(lines))
		end := len(lines)
		if in.Limit > 0 {
			end = min(start+in.Limit, end)
		}
		text = strings.Join(lines[start:end], "")
	}
	return &Result{
		OK:     true,
		Output: text,
		Data:   fileData{Path: env.Root.Rel(abs), Bytes: len(data), Lines: len(lines)},
	}, nil
}

const writeFileSchema = `
{
  "type": "object",
  "required": ["path", "content"],
  "properties": {
    "path": {"type": "string", "description": "File path relative to the workspace root"},
    "content": {"type": "string", "description": "Complete new file content"}
  }
}
`

// WriteFile returns the write_file tool. Writes go through the patch applier
// and report a unified diff of the change.
func WriteFile() *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Creates or overwrites a file in the workspace with the given content.",
		InputSchema: llm.MustSchema(writeFileSchema),
		Run:         writeFile,
	}
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func writeFile(ctx context.Context, env *Env, input json.RawMessage) (*Result, error) {
	in, err := decodeInput[writeFileInput](input)
	if err != nil {
		return nil, err
	}
	a := &patch.Applier{Root: env.Root}
	res, err := a.Apply(ctx, []patch.Action{patch.Create(in.Path, in.Content)})
	if err != nil {
		return nil, err
	}
	var diff string
	if len(res.Diffs) > 0 {
		diff = res.Diffs[0].Diff
	}
	return &Result{
		OK:     true,
		Output: diff,
		Data:   fileData{Path: in.Path, Bytes: len(in.Content), Lines: strings.Count(in.Content, "\n")},
	}, nil
}
