// Package workspace confines filesystem paths to a single root directory.
//
// Every component that reads or writes beneath the workspace resolves its
// paths through Resolve, so that no subsystem can be used to escape another's
// confinement.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape reports that a path resolves outside the workspace root.
var ErrPathEscape = errors.New("path escapes workspace root")

// Root is an absolute, cleaned workspace root directory.
type Root string

// New returns the Root for dir, made absolute and cleaned.
func New(dir string) (Root, error) {
	if dir == "" {
		return "", fmt.Errorf("workspace root is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root %q: %w", dir, err)
	}
	return Root(filepath.Clean(abs)), nil
}

// String returns the root directory.
func (r Root) String() string { return string(r) }

// Resolve joins p onto the root and returns the absolute result.
// p may be relative (to the root) or absolute; either way the result
// must lie at or beneath the root, otherwise Resolve returns an error
// wrapping ErrPathEscape. Existing symbolic links along the result
// must also point beneath the root; missing components are not checked.
func (r Root) Resolve(p string) (string, error) {
	if r == "" {
		return "", fmt.Errorf("workspace root is not set")
	}
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(string(r), p)
	}
	if !r.Contains(abs) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, p)
	}
	if err := r.checkLinks(abs); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrPathEscape, p, err)
	}
	return abs, nil
}

// checkLinks walks abs from the root down, failing on the first symbolic
// link that is dangling or leads outside the root.
func (r Root) checkLinks(abs string) error {
	rel, err := filepath.Rel(string(r), abs)
	if err != nil || rel == "." {
		return nil
	}
	// Link targets come back fully resolved, so compare against the
	// resolved root.
	canon := r
	if resolved, err := filepath.EvalSymlinks(string(r)); err == nil {
		canon = Root(resolved)
	}
	cur := string(r)
	for part := range strings.SplitSeq(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			// Nothing exists from here down to be followed.
			return nil
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(cur)
		if err != nil {
			return fmt.Errorf("symlink %s is dangling", r.Rel(cur))
		}
		if !canon.Contains(target) {
			return fmt.Errorf("symlink %s points to %s", r.Rel(cur), target)
		}
	}
	return nil
}

// Contains reports whether the absolute path abs is the root or lies beneath it.
func (r Root) Contains(abs string) bool {
	rel, err := filepath.Rel(string(r), filepath.Clean(abs))
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// Rel returns abs relative to the root, using forward slashes.
func (r Root) Rel(abs string) string {
	rel, err := filepath.Rel(string(r), abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
