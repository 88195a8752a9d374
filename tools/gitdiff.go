package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/diff"
	"patchwork.dev/evidence"
	"patchwork.dev/git_tools"
	"patchwork.dev/llm"
)

const gitDiffSchema = `
{
  "type": "object",
  "properties": {
    "paths": {"type": "array", "items": {"type": "string"}, "description": "Limit the summary to these paths, relative to the workspace root"},
    "diff": {"type": "boolean", "description": "Include the full unified diff"}
  }
}
`

// GitDiff returns the git_diff tool. The workspace root is expected to be
// the top level of a Git repository.
func GitDiff() *Tool {
	return &Tool{
		Name:        "git_diff",
		Description: "Summarizes uncommitted changes in the workspace: status and added/deleted line counts per file, optionally with the full diff.",
		InputSchema: llm.MustSchema(gitDiffSchema),
		Signal:      evidence.Impact,
		Run:         gitDiff,
	}
}

type gitDiffInput struct {
	Paths []string `json:"paths"`
	Diff  bool     `json:"diff"`
}

// ChangedFile summarizes one changed path.
type ChangedFile struct {
	Path    string `json:"path"`
	Status  string `json:"status"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	Binary  bool   `json:"binary,omitempty"`
}

func gitDiff(ctx context.Context, env *Env, input json.RawMessage) (*Result, error) {
	in, err := decodeInput[gitDiffInput](input)
	if err != nil {
		return nil, err
	}
	var pathspecs []string
	for _, p := range in.Paths {
		abs, err := env.Resolve(p)
		if err != nil {
			return nil, err
		}
		pathspecs = append(pathspecs, env.Root.Rel(abs))
	}
	dir := env.Root.String()

	status, err := git_tools.Status(ctx, dir)
	if err != nil {
		return nil, err
	}
	stats, err := git_tools.DiffNumStat(ctx, dir, pathspecs...)
	if err != nil {
		return nil, err
	}
	counts := map[string]git_tools.NumStat{}
	for _, s := range stats {
		counts[s.Path] = s
	}

	var (
		files     []ChangedFile
		untracked []string
		out       strings.Builder
	)
	for _, e := range status {
		if !underAny(e.Path, pathspecs) {
			continue
		}
		cf := ChangedFile{Path: e.Path, Status: e.Code}
		if ns, ok := counts[e.Path]; ok {
			cf.Added, cf.Deleted, cf.Binary = ns.Added, ns.Deleted, ns.Binary
		} else if e.Untracked() {
			untracked = append(untracked, e.Path)
			if content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(e.Path))); err == nil {
				cf.Added = lineCount(string(content))
			}
		}
		files = append(files, cf)
		fmt.Fprintf(&out, "%-2s %s +%d -%d\n", cf.Status, cf.Path, cf.Added, cf.Deleted)
	}
	if len(files) == 0 {
		out.WriteString("no changes\n")
	}

	if in.Diff && len(files) > 0 {
		tracked, err := git_tools.Diff(ctx, dir, pathspecs...)
		if err != nil {
			return nil, err
		}
		out.WriteString("\n")
		out.WriteString(tracked)
		for _, p := range untracked {
			content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
			if err != nil {
				continue
			}
			if err := diff.Text("/dev/null", "b/"+p, "", string(content), &out); err != nil {
				return nil, err
			}
		}
	}
	if files == nil {
		files = []ChangedFile{}
	}
	return &Result{OK: true, Output: out.String(), Data: files}, nil
}

func underAny(p string, specs []string) bool {
	if len(specs) == 0 {
		return true
	}
	for _, s := range specs {
		if s == "." || p == s || strings.HasPrefix(p, strings.TrimSuffix(s, "/")+"/") {
			return true
		}
	}
	return false
}

func lineCount(s string) int {
	n := strings.Count(s, "\n")
	if s != "" && !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
