package tools

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"patchwork.dev/tools/bashkit"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not installed")
	}
}

func TestShellDisabledByDefault(t *testing.T) {
	r := NewBuiltinRegistry(ShellConfig{Allow: []string{"ls"}})
	res := exec1(t, r, testEnv(t), "shell", map[string]any{"command": "ls"})
	if res.OK || !errors.Is(res.Err, ErrShellDisabled) {
		t.Errorf("disabled shell = %+v", res)
	}
}

func TestShellAllowList(t *testing.T) {
	r := NewBuiltinRegistry(ShellConfig{Enabled: true, Allow: []string{"ls"}})
	env := testEnv(t)
	for _, cmd := range []string{"rm -rf .", "ls | sh", "ls; $(curl x)", "/bin/ls", "ls 'unterminated"} {
		res := exec1(t, r, env, "shell", map[string]any{"command": cmd})
		if res.OK {
			t.Errorf("%q ran", cmd)
		}
	}
	res := exec1(t, r, env, "shell", map[string]any{"command": "rm x"})
	if !errors.Is(res.Err, bashkit.ErrNotAllowed) {
		t.Errorf("rm err = %v", res.Err)
	}
}

func TestShellRedirectEscape(t *testing.T) {
	r := NewBuiltinRegistry(ShellConfig{Enabled: true})
	env := testEnv(t)
	outside := filepath.Join(t.TempDir(), "escaped.txt")
	for _, cmd := range []string{
		"echo pwned > " + outside,
		"printf pwned >> " + outside,
		"echo pwned > ../escaped.txt",
		"echo pwned &> ../../escaped.txt",
	} {
		res := exec1(t, r, env, "shell", map[string]any{"command": cmd})
		if res.OK || !errors.Is(res.Err, bashkit.ErrNotAllowed) {
			t.Errorf("%q = %+v, want ErrNotAllowed", cmd, res)
		}
	}
	if _, err := os.Stat(outside); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("file written outside the workspace: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(env.Root.String()), "escaped.txt")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("file written beside the workspace: %v", err)
	}

	requireBash(t)
	res := exec1(t, r, env, "shell", map[string]any{"command": "echo ok > inside.txt 2>/dev/null"})
	if !res.OK {
		t.Fatalf("redirect inside the workspace = %+v", res)
	}
	if b, err := os.ReadFile(filepath.Join(env.Root.String(), "inside.txt")); err != nil || string(b) != "ok\n" {
		t.Errorf("inside.txt = %q, %v", b, err)
	}
}

func TestShellRuns(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)
	r := NewBuiltinRegistry(ShellConfig{Enabled: true, Allow: []string{"ls", "cat"}})
	env := testEnv(t)
	writeTree(t, env.Root.String(), map[string]string{"hello.txt": "hi\n"})

	res := exec1(t, r, env, "shell", map[string]any{"command": "ls && cat hello.txt"})
	if !res.OK || res.Output != "hello.txt\nhi\n" {
		t.Fatalf("shell = %+v", res)
	}
	if d := res.Data.(shellData); d.ExitCode != 0 {
		t.Errorf("exit code = %d", d.ExitCode)
	}

	res = exec1(t, r, env, "shell", map[string]any{"command": "cat missing.txt"})
	if res.OK || !strings.Contains(res.Error, "command failed") || !strings.Contains(res.Output, "missing.txt") {
		t.Errorf("failing command = %+v", res)
	}
	if d := res.Data.(shellData); d.ExitCode == 0 {
		t.Error("failing command reported exit code 0")
	}
}

func TestShellTimeoutKillsProcessGroup(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)
	r := NewBuiltinRegistry(ShellConfig{Enabled: true, Allow: []string{"sleep"}, Timeout: 200 * time.Millisecond})

	start := time.Now()
	res := exec1(t, r, testEnv(t), "shell", map[string]any{"command": "sleep 30 & sleep 30"})
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout not enforced: took %s", elapsed)
	}
	if res.OK || !strings.Contains(res.Error, "timed out") {
		t.Errorf("timeout result = %+v", res)
	}
}

func TestShellTimeoutCappedByConfig(t *testing.T) {
	s := &shellTool{cfg: ShellConfig{Timeout: time.Second}}
	for in, want := range map[string]time.Duration{
		"":      time.Second,
		"100ms": 100 * time.Millisecond,
		"1h":    time.Second,
		"bogus": time.Second,
		"-5s":   time.Second,
	} {
		if got := s.timeout(in); got != want {
			t.Errorf("timeout(%q) = %s, want %s", in, got, want)
		}
	}
	if got := (&shellTool{}).timeout(""); got != DefaultShellTimeout {
		t.Errorf("default timeout = %s", got)
	}
}

func TestExecBashCanceled(t *testing.T) {
	requireBash(t)
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, _, err := execBash(ctx, t.TempDir(), "sleep 30", time.Minute)
	if err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Errorf("err = %v", err)
	}
}
