package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/diff"
	"patchwork.dev/patchkit"
	"patchwork.dev/workspace"
)

// ValidateFunc runs after a file has been written by Apply.
// path is workspace-relative; abs is the absolute path on disk.
// A non-nil error aborts the remaining actions.
type ValidateFunc func(ctx context.Context, path, abs string) error

// An Applier applies actions to the files beneath a workspace root.
// Appliers are not concurrency-safe.
type Applier struct {
	Root workspace.Root
	// Validate is called after each create or replace write, if set.
	Validate ValidateFunc
}

// NewApplier returns an Applier rooted at dir.
func NewApplier(dir string) (*Applier, error) {
	root, err := workspace.New(dir)
	if err != nil {
		return nil, err
	}
	return &Applier{Root: root}, nil
}

// RollbackEntry is the pre-image of one action's target.
type RollbackEntry struct {
	Path    string      // workspace-relative path, as given in the action
	Abs     string      // resolved absolute path
	Existed bool        // whether the file existed when the plan was captured
	Content []byte      // prior content, if Existed
	Mode    fs.FileMode // prior permission bits, if Existed
}

// A RollbackPlan is the ordered pre-image set for an action list,
// one entry per action.
type RollbackPlan struct {
	ID      string
	Entries []RollbackEntry
}

// Result reports what Apply changed.
type Result struct {
	Touched []string   // workspace-relative paths, in first-touch order
	Diffs   []FileDiff // one per touched file, in the same order
}

// FileDiff is a unified diff of one file's content before and after Apply.
type FileDiff struct {
	Path string
	Diff string
}

// resolveAll resolves every action's path, failing before any I/O.
func (a *Applier) resolveAll(actions []Action) ([]string, error) {
	abs := make([]string, len(actions))
	for i, act := range actions {
		if err := act.Validate(); err != nil {
			return nil, &ActionError{Index: i, Action: act, Err: err}
		}
		p, err := a.Root.Resolve(act.File)
		if err != nil {
			return nil, &ActionError{Index: i, Action: act, Err: err}
		}
		abs[i] = p
	}
	return abs, nil
}

// CreateRollbackPlan captures the current state of every file targeted by actions.
// It never mutates anything. It must be called, and the result kept,
// before Apply, for Rollback to be able to restore the prior state.
func (a *Applier) CreateRollbackPlan(actions []Action) (*RollbackPlan, error) {
	abs, err := a.resolveAll(actions)
	if err != nil {
		return nil, err
	}
	plan := &RollbackPlan{ID: uuid.NewString(), Entries: make([]RollbackEntry, 0, len(actions))}
	for i, act := range actions {
		entry := RollbackEntry{Path: act.File, Abs: abs[i]}
		info, err := os.Stat(abs[i])
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("capture %s: %w", act.File, err)
		case info.IsDir():
			return nil, fmt.Errorf("capture %s: is a directory", act.File)
		default:
			content, err := os.ReadFile(abs[i])
			if err != nil {
				return nil, fmt.Errorf("capture %s: %w", act.File, err)
			}
			entry.Existed = true
			entry.Content = content
			entry.Mode = info.Mode().Perm()
		}
		plan.Entries = append(plan.Entries, entry)
	}
	return plan, nil
}

// Apply executes actions in order.
// It does not roll back on failure: the returned Result describes the files
// touched before the failing action, and the error is an *ActionError.
// Callers decide whether to call Rollback with the plan captured beforehand.
func (a *Applier) Apply(ctx context.Context, actions []Action) (*Result, error) {
	abs, err := a.resolveAll(actions)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	before := map[string]string{}
	record := func(path, absPath, prior string) {
		if _, ok := before[absPath]; ok {
			return
		}
		before[absPath] = prior
		res.Touched = append(res.Touched, path)
	}

	for i, act := range actions {
		prior, err := readIfExists(abs[i])
		if err == nil {
			record(act.File, abs[i], prior)
			err = a.applyOne(ctx, act, abs[i], prior)
		}
		if err != nil {
			a.fillDiffs(res, before)
			return res, &ActionError{Index: i, Action: act, Err: err}
		}
	}
	a.fillDiffs(res, before)
	return res, nil
}

func (a *Applier) applyOne(ctx context.Context, act Action, abs, prior string) error {
	switch act.Kind {
	case KindCreate:
		if err := writeFile(abs, []byte(act.Content), 0o644); err != nil {
			return err
		}
		slog.DebugContext(ctx, "patch_applied", "action", act.Kind, "file", act.File)
		return a.validate(ctx, act.File, abs)
	case KindDelete:
		err := os.Remove(abs)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		slog.DebugContext(ctx, "patch_applied", "action", act.Kind, "file", act.File, "existed", err == nil)
		return nil
	case KindReplace:
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		spec, method, err := locate(prior, act.SearchBlock, act.ReplaceBlock)
		if err != nil {
			return err
		}
		if err := writeFile(abs, []byte(spec.Apply(prior)), info.Mode().Perm()); err != nil {
			return err
		}
		slog.DebugContext(ctx, "patch_applied", "action", act.Kind, "file", act.File, "method", method)
		return a.validate(ctx, act.File, abs)
	}
	return fmt.Errorf("unrecognized action %q", act.Kind)
}

// locate finds the unique span to replace: exact first, then whitespace-collapsed.
func locate(content, search, replace string) (*patchkit.Spec, string, error) {
	spec, count := patchkit.Unique(content, search, replace)
	switch count {
	case 1:
		return spec, "exact", nil
	case 2:
		return nil, "", fmt.Errorf("%w (add surrounding context):\n%s", ErrAmbiguousMatch, search)
	}
	spec, count = patchkit.UniqueCollapsed(content, search, replace)
	switch count {
	case 1:
		return spec, "collapsed", nil
	case 2:
		return nil, "", fmt.Errorf("%w after ignoring whitespace (add surrounding context):\n%s", ErrAmbiguousMatch, search)
	}
	return nil, "", fmt.Errorf("%w:\n%s", ErrNotFound, search)
}

func (a *Applier) validate(ctx context.Context, path, abs string) error {
	if a.Validate == nil {
		return nil
	}
	if err := a.Validate(ctx, path, abs); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// fillDiffs records one diff per touched file. A file whose diff cannot be
// computed still gets an entry naming the failure.
func (a *Applier) fillDiffs(res *Result, before map[string]string) {
	for _, path := range res.Touched {
		diff, err := a.diffOf(path, before)
		if err != nil {
			diff = fmt.Sprintf("(diff unavailable: %v)\n", err)
		}
		res.Diffs = append(res.Diffs, FileDiff{Path: path, Diff: diff})
	}
}

func (a *Applier) diffOf(path string, before map[string]string) (string, error) {
	abs, err := a.Root.Resolve(path)
	if err != nil {
		return "", err
	}
	after, err := readIfExists(abs)
	if err != nil {
		return "", err
	}
	return unifiedDiff(path, before[abs], after), nil
}

// Rollback restores every entry of plan to its captured state.
// Files that did not exist are removed; already-missing files are not an error.
// Rollback continues past failures and returns them joined.
func (a *Applier) Rollback(plan *RollbackPlan) error {
	if plan == nil {
		return fmt.Errorf("no rollback plan")
	}
	var errs error
	for _, e := range slices.Backward(plan.Entries) {
		if !a.Root.Contains(e.Abs) {
			errs = errors.Join(errs, fmt.Errorf("rollback %s: %w", e.Path, workspace.ErrPathEscape))
			continue
		}
		if e.Existed {
			mode := e.Mode
			if mode == 0 {
				mode = 0o644
			}
			if err := writeFile(e.Abs, e.Content, mode); err != nil {
				errs = errors.Join(errs, fmt.Errorf("rollback %s: %w", e.Path, err))
			}
			continue
		}
		if err := os.Remove(e.Abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = errors.Join(errs, fmt.Errorf("rollback %s: %w", e.Path, err))
		}
	}
	return errs
}

func readIfExists(abs string) (string, error) {
	b, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(b), err
}

func writeFile(abs string, content []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", filepath.Dir(abs), err)
	}
	if err := os.WriteFile(abs, content, mode); err != nil {
		return fmt.Errorf("write %q: %w", abs, err)
	}
	// WriteFile leaves the mode of an existing file alone.
	return os.Chmod(abs, mode)
}

func unifiedDiff(path, before, after string) string {
	buf := new(strings.Builder)
	if err := diff.Text("a/"+path, "b/"+path, before, after, buf); err != nil {
		return fmt.Sprintf("(diff generation failed: %v)\n", err)
	}
	return buf.String()
}
