package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"patchwork.dev/evidence"
	"patchwork.dev/interpret"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFile(t *testing.T) {
	p := writeConfig(t, `
workspace:
  root: repo
evidence:
  minSearchHits: 2
  minOpenOrSnippet: 1
  maxWarnings: 0
  requireIndex: true
  toolQuota:
    search: 1
interpreter:
  format: files
  retries: 3
shell:
  enabled: true
  allow: [go, git]
  timeout: 30s
provider:
  name: openai
  model: gpt-test
`)
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(filepath.Dir(p), "repo"); c.Workspace.Root != want {
		t.Errorf("root = %q, want %q", c.Workspace.Root, want)
	}
	wantEvidence := evidence.Config{
		Thresholds:   evidence.Thresholds{MinSearchHits: 2, MinOpenOrSnippet: 1},
		RequireIndex: true,
		ToolQuota:    map[string]int{"search": 1},
	}
	if diff := cmp.Diff(wantEvidence, c.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
	if c.Interpreter.Format != interpret.FormatFiles || *c.Interpreter.Retries != 3 {
		t.Errorf("interpreter = %+v", c.Interpreter)
	}
	if !c.Shell.Enabled || c.Shell.Timeout != 30*time.Second || len(c.Shell.Allow) != 2 {
		t.Errorf("shell = %+v", c.Shell)
	}
	if c.Provider.APIKeyEnv != "OPENAI_API_KEY" || c.Provider.Model != "gpt-test" {
		t.Errorf("provider = %+v", c.Provider)
	}
	if c.Workspace.StorageDir != ".patchwork/lanes" {
		t.Errorf("storage dir = %q", c.Workspace.StorageDir)
	}
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Shell.Enabled {
		t.Error("shell enabled by default")
	}
	if c.Interpreter.Format != interpret.FormatPatches || *c.Interpreter.Retries != interpret.DefaultRetries {
		t.Errorf("interpreter defaults = %+v", c.Interpreter)
	}
	if c.Provider.Name != "anthropic" || c.Provider.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("provider defaults = %+v", c.Provider)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicit missing config loaded")
	}
	t.Chdir(t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatalf("implicit missing config: %v", err)
	}
	if c.Workspace.Root != "." {
		t.Errorf("root = %q", c.Workspace.Root)
	}
}

func TestZeroRetriesKept(t *testing.T) {
	c, err := Load(writeConfig(t, "interpreter:\n  retries: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if *c.Interpreter.Retries != 0 {
		t.Errorf("retries = %d, want 0", *c.Interpreter.Retries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"format", "interpreter:\n  format: diff\n", "interpreter.format"},
		{"retries", "interpreter:\n  retries: -1\n", "interpreter.retries"},
		{"shell_without_allow", "shell:\n  enabled: true\n", "shell.allow"},
		{"allow_path", "shell:\n  allow: [/bin/sh]\n", "bare executable"},
		{"provider", "provider:\n  name: llama\n", "provider.name"},
		{"quota", "evidence:\n  toolQuota:\n    search: -1\n", "toolQuota"},
		{"bad_yaml", "evidence: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PATCHWORK_FORMAT":          "files",
		"PATCHWORK_RETRIES":         "2",
		"PATCHWORK_MIN_SEARCH_HITS": "4",
		"PATCHWORK_SHELL_ENABLED":   "true",
		"PATCHWORK_SHELL_ALLOW":     "go, git",
		"PATCHWORK_SHELL_TIMEOUT":   "5s",
		"PATCHWORK_PROVIDER":        "openai",
	}
	c := &Config{}
	if err := c.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatal(err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Interpreter.Format != interpret.FormatFiles || *c.Interpreter.Retries != 2 {
		t.Errorf("interpreter = %+v", c.Interpreter)
	}
	if c.Evidence.MinSearchHits != 4 {
		t.Errorf("min search hits = %v", c.Evidence.MinSearchHits)
	}
	if diff := cmp.Diff([]string{"go", "git"}, c.Shell.Allow); diff != "" {
		t.Errorf("allow mismatch (-want +got):\n%s", diff)
	}
	if c.Shell.Timeout != 5*time.Second || c.Provider.Name != "openai" {
		t.Errorf("shell/provider = %+v %+v", c.Shell, c.Provider)
	}

	bad := &Config{}
	err := bad.applyEnv(func(k string) (string, bool) {
		if k == "PATCHWORK_RETRIES" || k == "PATCHWORK_SHELL_TIMEOUT" {
			return "x", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "PATCHWORK_RETRIES") || !strings.Contains(err.Error(), "PATCHWORK_SHELL_TIMEOUT") {
		t.Errorf("bad env err = %v", err)
	}
}
