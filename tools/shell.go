package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
	"patchwork.dev/llm"
	"patchwork.dev/tools/bashkit"
)

// ErrShellDisabled reports a shell call while the shell tool is disabled.
var ErrShellDisabled = errors.New("shell tool is disabled")

const (
	DefaultShellTimeout  = time.Minute
	maxShellOutputLength = 128 << 10
)

// ShellConfig controls the shell tool. The zero value is disabled.
type ShellConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Allow   []string      `yaml:"allow" json:"allow"`     // executable names
	Timeout time.Duration `yaml:"timeout" json:"timeout"` // upper bound per call; defaults to DefaultShellTimeout
}

const shellSchema = `
{
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": {"type": "string", "description": "Shell script to execute with bash -c in the workspace root"},
    "timeout": {"type": "string", "description": "Timeout as a Go duration string; capped by the configured maximum"}
  }
}
`

// Shell returns the shell tool governed by cfg.
func Shell(cfg ShellConfig) *Tool {
	s := &shellTool{cfg: cfg}
	return &Tool{
		Name:        "shell",
		Description: "Executes a shell command with bash -c in the workspace root, returning combined stdout and stderr. Only allow-listed commands may run.",
		InputSchema: llm.MustSchema(shellSchema),
		Run:         s.run,
	}
}

type shellTool struct {
	cfg ShellConfig
}

type shellInput struct {
	Command string `json:"command"`
	Timeout string `json:"timeout"`
}

type shellData struct {
	ExitCode int `json:"exit_code"`
}

func (s *shellTool) timeout(req string) time.Duration {
	limit := s.cfg.Timeout
	if limit <= 0 {
		limit = DefaultShellTimeout
	}
	if d, err := time.ParseDuration(req); err == nil && d > 0 && d < limit {
		return d
	}
	return limit
}

func (s *shellTool) run(ctx context.Context, env *Env, input json.RawMessage) (*Result, error) {
	if !s.cfg.Enabled {
		return nil, ErrShellDisabled
	}
	in, err := decodeInput[shellInput](input)
	if err != nil {
		return nil, err
	}
	if err := bashkit.CheckAllowed(in.Command, s.cfg.Allow); err != nil {
		return nil, err
	}
	if err := bashkit.CheckRedirects(in.Command, env.Root); err != nil {
		return nil, err
	}
	if err := bashkit.Check(in.Command); err != nil {
		return nil, err
	}
	dir, err := env.Resolve(".")
	if err != nil {
		return nil, err
	}
	timeout := s.timeout(in.Timeout)
	out, code, err := execBash(ctx, dir, in.Command, timeout)
	if err != nil {
		return &Result{OK: false, Output: out, Data: shellData{ExitCode: code}, Error: err.Error(), Err: err}, nil
	}
	return &Result{OK: true, Output: out, Data: shellData{ExitCode: code}}, nil
}

// execBash runs command in its own process group, killing the whole group
// when ctx is done or timeout passes.
func execBash(ctx context.Context, dir, command string, timeout time.Duration) (string, int, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Start(); err != nil {
		return "", -1, fmt.Errorf("command failed: %w", err)
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-execCtx.Done():
			if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
				_ = unix.Kill(pid, unix.SIGKILL)
			}
		case <-done:
		}
	}()
	err := cmd.Wait()
	close(done)
	<-watcher

	out := output.String()
	if output.Len() > maxShellOutputLength {
		out = fmt.Sprintf("output too long: got %s, max is %s\ninitial bytes of output:\n%s",
			humanize.IBytes(uint64(output.Len())), humanize.IBytes(maxShellOutputLength), output.Bytes()[:1024])
	}
	code := cmd.ProcessState.ExitCode()
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return out, code, fmt.Errorf("command timed out after %s", timeout)
	case execCtx.Err() != nil:
		return out, code, fmt.Errorf("command canceled: %w", execCtx.Err())
	case err != nil:
		return out, code, fmt.Errorf("command failed: %w", err)
	}
	return out, code, nil
}
