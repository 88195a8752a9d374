// Package git_tools summarizes working-tree changes of a Git repository.
package git_tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// StatusEntry is one path reported by git status.
type StatusEntry struct {
	Path     string `json:"path"`
	Index    byte   `json:"-"` // staged status code
	Worktree byte   `json:"-"` // unstaged status code
	Code     string `json:"status"`
}

// Untracked reports whether git does not track the path.
func (e StatusEntry) Untracked() bool { return e.Index == '?' }

// NumStat holds line counts for one changed path. Binary files have Binary set and zero counts.
type NumStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	Binary  bool   `json:"binary,omitempty"`
}

func git(ctx context.Context, repoDir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repoDir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("error executing git %s: %w - %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Status returns the changed and untracked paths of the working tree.
func Status(ctx context.Context, repoDir string) ([]StatusEntry, error) {
	out, err := git(ctx, repoDir, "status", "--porcelain=v1", "-z", "--no-renames", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parseStatus(out)
}

// parseStatus parses NUL-terminated "XY path" records.
func parseStatus(out []byte) ([]StatusEntry, error) {
	var entries []StatusEntry
	for rec := range bytes.SplitSeq(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		if len(rec) < 4 || rec[2] != ' ' {
			return nil, fmt.Errorf("malformed git status record %q", rec)
		}
		entries = append(entries, StatusEntry{
			Path:     string(rec[3:]),
			Index:    rec[0],
			Worktree: rec[1],
			Code:     strings.TrimSpace(string(rec[:2])),
		})
	}
	return entries, nil
}

// HasHead reports whether the repository has at least one commit.
func HasHead(ctx context.Context, repoDir string) bool {
	_, err := git(ctx, repoDir, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// DiffNumStat returns per-path line counts of tracked changes against HEAD,
// staged and unstaged together. Repositories without commits have none.
func DiffNumStat(ctx context.Context, repoDir string, paths ...string) ([]NumStat, error) {
	if !HasHead(ctx, repoDir) {
		return nil, nil
	}
	args := []string{"diff", "--numstat", "--no-renames", "HEAD", "--"}
	out, err := git(ctx, repoDir, append(args, paths...)...)
	if err != nil {
		return nil, err
	}
	return parseNumStat(out)
}

// parseNumStat parses "added<TAB>deleted<TAB>path" lines; binary files use "-".
func parseNumStat(out []byte) ([]NumStat, error) {
	var stats []NumStat
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed numstat line %q", line)
		}
		ns := NumStat{Path: parts[2]}
		if parts[0] == "-" && parts[1] == "-" {
			ns.Binary = true
		} else {
			var err error
			if ns.Added, err = strconv.Atoi(parts[0]); err != nil {
				return nil, fmt.Errorf("malformed numstat line %q: %w", line, err)
			}
			if ns.Deleted, err = strconv.Atoi(parts[1]); err != nil {
				return nil, fmt.Errorf("malformed numstat line %q: %w", line, err)
			}
		}
		stats = append(stats, ns)
	}
	return stats, scanner.Err()
}

// Diff returns the unified diff of tracked changes to paths against HEAD.
func Diff(ctx context.Context, repoDir string, paths ...string) (string, error) {
	if !HasHead(ctx, repoDir) {
		return "", nil
	}
	args := []string{"diff", "--no-color", "--no-renames", "HEAD", "--"}
	out, err := git(ctx, repoDir, append(args, paths...)...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
