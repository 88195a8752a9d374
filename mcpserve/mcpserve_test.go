package mcpserve

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"patchwork.dev/tools"
	"patchwork.dev/workspace"
)

func newServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	reg := tools.NewBuiltinRegistry(tools.ShellConfig{})
	return New(reg, &tools.Env{Root: root}, "test"), dir
}

func call(t *testing.T, s *Server, name string, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
	res, err := s.handler(name)(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned protocol error: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content = %v", res.Content)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content %T is not text", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestCallReadFile(t *testing.T) {
	s, dir := newServer(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, isErr := call(t, s, "read_file", map[string]any{"path": "a.txt"})
	if isErr || text != "hi\n" {
		t.Errorf("read_file = %q, isError %v", text, isErr)
	}
}

func TestCallFailuresAreToolErrors(t *testing.T) {
	s, _ := newServer(t)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"read_file", map[string]any{}, "Missing required arguments: path"},
		{"read_file", map[string]any{"path": "../etc/passwd"}, "path escapes workspace root"},
		{"shell", map[string]any{"command": "ls"}, "shell tool is disabled"},
		{"nope", nil, "Unknown tool"},
	}
	for _, tt := range tests {
		text, isErr := call(t, s, tt.name, tt.args)
		if !isErr || !strings.Contains(text, tt.want) {
			t.Errorf("%s(%v) = %q, isError %v; want error containing %q", tt.name, tt.args, text, isErr, tt.want)
		}
	}
}

func TestToCallResultData(t *testing.T) {
	res := toCallResult(&tools.Result{OK: true, Data: map[string]int{"n": 1}})
	if got := res.Content[0].(mcp.TextContent).Text; got != `{"n":1}` {
		t.Errorf("text = %q", got)
	}
}
