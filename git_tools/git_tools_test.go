package git_tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
	} {
		runGit(t, dir, args...)
	}
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v - %s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseStatus(t *testing.T) {
	out := []byte(" M a.go\x00A  b.go\x00?? dir/new file.txt\x00D  gone.go\x00")
	got, err := parseStatus(out)
	if err != nil {
		t.Fatal(err)
	}
	want := []StatusEntry{
		{Path: "a.go", Index: ' ', Worktree: 'M', Code: "M"},
		{Path: "b.go", Index: 'A', Worktree: ' ', Code: "A"},
		{Path: "dir/new file.txt", Index: '?', Worktree: '?', Code: "??"},
		{Path: "gone.go", Index: 'D', Worktree: ' ', Code: "D"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseStatus mismatch (-want +got):\n%s", diff)
	}
	if !got[2].Untracked() || got[0].Untracked() {
		t.Error("Untracked misreported")
	}
	if _, err := parseStatus([]byte("XY\x00")); err == nil {
		t.Error("malformed record accepted")
	}
}

func TestParseNumStat(t *testing.T) {
	got, err := parseNumStat([]byte("3\t1\ta.go\n-\t-\tlogo.png\n0\t12\tdir/old.go\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []NumStat{
		{Path: "a.go", Added: 3, Deleted: 1},
		{Path: "logo.png", Binary: true},
		{Path: "dir/old.go", Deleted: 12},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseNumStat mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseNumStat([]byte("x\t1\ta.go\n")); err == nil {
		t.Error("non-numeric count accepted")
	}
}

func TestRepoSummary(t *testing.T) {
	ctx := context.Background()
	dir := setupTestRepo(t)

	if HasHead(ctx, dir) {
		t.Fatal("fresh repo has HEAD")
	}
	if stats, err := DiffNumStat(ctx, dir); err != nil || stats != nil {
		t.Fatalf("DiffNumStat without HEAD = %v, %v", stats, err)
	}

	writeFile(t, dir, "a.txt", "one\ntwo\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-q", "-m", "init")

	writeFile(t, dir, "a.txt", "one\nTWO\nthree\n")
	writeFile(t, dir, "sub/new.txt", "fresh\n")

	status, err := Status(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []StatusEntry{
		{Path: "a.txt", Index: ' ', Worktree: 'M', Code: "M"},
		{Path: "sub/new.txt", Index: '?', Worktree: '?', Code: "??"},
	}
	if diff := cmp.Diff(want, status); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}

	stats, err := DiffNumStat(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]NumStat{{Path: "a.txt", Added: 2, Deleted: 1}}, stats); diff != "" {
		t.Errorf("DiffNumStat mismatch (-want +got):\n%s", diff)
	}

	d, err := Diff(ctx, dir, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(d, "+TWO") || !strings.Contains(d, "-two") {
		t.Errorf("Diff output:\n%s", d)
	}
}
