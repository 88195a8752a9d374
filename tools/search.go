package tools

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
	"patchwork.dev/evidence"
	"patchwork.dev/llm"
)

const (
	defaultMaxResults = 100
	searchWorkers     = 8
	maxSearchFileSize = 1 << 20
	maxMatchLineLen   = 240
)

// skipDirs are never searched.
var skipDirs = map[string]bool{".git": true, ".patchwork": true, "node_modules": true}

const searchSchema = `
{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "description": "Text to search for"},
    "path": {"type": "string", "description": "Directory or file to search, relative to the workspace root; defaults to the root"},
    "regex": {"type": "boolean", "description": "Treat query as a Go regular expression"},
    "ignore_case": {"type": "boolean", "description": "Match case-insensitively"},
    "max_results": {"type": "integer", "description": "Maximum matches to return; defaults to 100"}
  }
}
`

// Search returns the search tool.
func Search() *Tool {
	return &Tool{
		Name:        "search",
		Description: "Searches workspace text files for a literal string or regular expression, returning path:line: text matches.",
		InputSchema: llm.MustSchema(searchSchema),
		Signal:      evidence.SearchHits,
		Run:         search,
	}
}

type searchInput struct {
	Query      string `json:"query"`
	Path       string `json:"path"`
	Regex      bool   `json:"regex"`
	IgnoreCase bool   `json:"ignore_case"`
	MaxResults int    `json:"max_results"`
}

// Match is one matching line.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type searchData struct {
	Matches   []Match `json:"matches"`
	Files     int     `json:"files_searched"`
	Truncated bool    `json:"truncated,omitempty"`
}

func search(ctx context.Context, env *Env, input json.RawMessage) (*Result, error) {
	in, err := decodeInput[searchInput](input)
	if err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is empty")
	}
	expr := in.Query
	if !in.Regex {
		expr = regexp.QuoteMeta(expr)
	}
	if in.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression: %w", err)
	}
	base, err := env.Resolve(cmp.Or(in.Path, "."))
	if err != nil {
		return nil, err
	}
	limit := in.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}

	files, err := listFiles(base)
	if err != nil {
		return nil, err
	}
	perFile := make([][]Match, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchWorkers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := searchFile(f, env.Root.Rel(f), re)
			if err != nil {
				return err
			}
			perFile[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := searchData{Matches: []Match{}, Files: len(files)}
	var out strings.Builder
	for _, ms := range perFile {
		for _, m := range ms {
			if len(data.Matches) == limit {
				data.Truncated = true
				break
			}
			data.Matches = append(data.Matches, m)
			fmt.Fprintf(&out, "%s:%d: %s\n", m.Path, m.Line, m.Text)
		}
	}
	if len(data.Matches) == 0 {
		out.WriteString("no matches\n")
	} else if data.Truncated {
		fmt.Fprintf(&out, "(results truncated at %d matches)\n", limit)
	}
	return &Result{OK: true, Output: out.String(), Data: data}, nil
}

// listFiles returns the regular files beneath base (or base itself), in walk order.
func listFiles(base string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != base && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func searchFile(abs, rel string, re *regexp.Regexp) ([]Match, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) > maxSearchFileSize || bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		// too large or binary
		return nil, nil
	}
	var matches []Match
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxSearchFileSize)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(line) > maxMatchLineLen {
			line = line[:maxMatchLineLen] + "..."
		}
		matches = append(matches, Match{Path: rel, Line: n, Text: strings.TrimRight(line, "\r")})
	}
	return matches, sc.Err()
}
