// Package bashkit inspects shell scripts before the shell tool runs them.
package bashkit

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/syntax"
	"patchwork.dev/workspace"
)

// ErrNotAllowed reports a command outside the shell allow-list.
var ErrNotAllowed = errors.New("command not allowed")

// inert builtins neither run other programs nor touch files, so they
// never need an allow-list entry. Their redirections are checked by
// CheckRedirects like any other.
var inert = []string{"echo", "printf", "true", "false", "test", "[", "pwd", ":"}

func parse(script string) (*syntax.File, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(script), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse shell script: %w", err)
	}
	return file, nil
}

// Commands returns the name of every command the script may invoke,
// in first-seen order, including those inside pipelines, substitutions
// and function bodies. A command whose name is not a plain word
// (for example "$CMD" or "'ls'") is reported as an error.
func Commands(script string) ([]string, error) {
	file, err := parse(script)
	if err != nil {
		return nil, err
	}
	var (
		commands []string
		seen     = map[string]bool{}
		walkErr  error
	)
	syntax.Walk(file, func(node syntax.Node) bool {
		if walkErr != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			// bare assignments have no command
			return true
		}
		name := call.Args[0].Lit()
		if name == "" {
			walkErr = fmt.Errorf("command name at %s must be a plain word", call.Args[0].Pos())
			return false
		}
		if !seen[name] {
			seen[name] = true
			commands = append(commands, name)
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return commands, nil
}

// CheckAllowed fails unless every command in script is in allow
// or is an inert builtin. Unparseable scripts are rejected.
func CheckAllowed(script string, allow []string) error {
	commands, err := Commands(script)
	if err != nil {
		return err
	}
	for _, c := range commands {
		if slices.Contains(allow, c) || slices.Contains(inert, c) {
			continue
		}
		if strings.Contains(c, "/") {
			return fmt.Errorf("%w: %s (commands must be invoked by name, not path)", ErrNotAllowed, c)
		}
		return fmt.Errorf("%w: %s", ErrNotAllowed, c)
	}
	return nil
}

// dirChangers move the shell away from the workspace root, after which
// relative redirect targets can no longer be checked against it.
var dirChangers = []string{"cd", "pushd", "popd"}

// CheckRedirects fails unless every file redirection in script targets a
// plain path inside root, resolved from root as the working directory.
// Descriptor duplications (2>&1, <&-), heredocs and /dev/null are allowed.
// Scripts that change directory may not redirect to files at all.
// Unparseable scripts are rejected.
func CheckRedirects(script string, root workspace.Root) error {
	file, err := parse(script)
	if err != nil {
		return err
	}
	var (
		targets []*syntax.Word
		movesDir bool
	)
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) > 0 && slices.Contains(dirChangers, n.Args[0].Lit()) {
				movesDir = true
			}
		case *syntax.Redirect:
			if target := fileTarget(n); target != nil {
				targets = append(targets, target)
			}
		}
		return true
	})
	for _, w := range targets {
		name := w.Lit()
		switch {
		case name == "/dev/null":
			continue
		case name == "" || strings.ContainsAny(name, "*?[~"):
			return fmt.Errorf("%w: redirect target at %s must be a plain path", ErrNotAllowed, w.Pos())
		case movesDir:
			return fmt.Errorf("%w: redirect to %s after changing directory", ErrNotAllowed, name)
		}
		if _, err := root.Resolve(name); err != nil {
			return fmt.Errorf("%w: redirect to %s: %w", ErrNotAllowed, name, err)
		}
	}
	return nil
}

// fileTarget returns the word naming the file r opens, or nil when r
// opens no file.
func fileTarget(r *syntax.Redirect) *syntax.Word {
	switch r.Op {
	case syntax.Hdoc, syntax.DashHdoc, syntax.WordHdoc:
		return nil
	case syntax.DplIn, syntax.DplOut:
		// n>&m and n>&- only duplicate or close descriptors;
		// bash treats any other word as a file name.
		if lit := r.Word.Lit(); lit == "-" || isDigits(lit) {
			return nil
		}
	}
	return r.Word
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

var checks = []func(*syntax.CallExpr) error{
	noGitConfigUsernameEmailChanges,
	noBlindGitAdd,
}

// Check inspects script for commands a patching agent ought not run.
// Check DOES NOT PROVIDE SECURITY; CheckAllowed is the confinement gate.
// Scripts that fail to parse pass Check; CheckAllowed rejects them.
func Check(script string) error {
	file, err := parse(script)
	if err != nil {
		return nil
	}
	syntax.Walk(file, func(node syntax.Node) bool {
		if err != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		for _, check := range checks {
			if err = check(call); err != nil {
				return false
			}
		}
		return true
	})
	return err
}

func gitSubcommand(cmd *syntax.CallExpr, sub string) int {
	if len(cmd.Args) < 2 || cmd.Args[0].Lit() != "git" {
		return -1
	}
	for i, arg := range cmd.Args {
		if arg.Lit() == sub {
			return i
		}
	}
	return -1
}

// noGitConfigUsernameEmailChanges rejects git config writes to user.name or user.email.
func noGitConfigUsernameEmailChanges(cmd *syntax.CallExpr) error {
	at := gitSubcommand(cmd, "config")
	if at < 0 {
		return nil
	}
	for i := at + 1; i < len(cmd.Args)-1; i++ {
		if k := cmd.Args[i].Lit(); k == "user.name" || k == "user.email" {
			return fmt.Errorf("permission denied: changing git config username/email is not allowed, use env vars instead")
		}
	}
	return nil
}

// noBlindGitAdd rejects git add -A, git add ., git add --all and git add *.
func noBlindGitAdd(cmd *syntax.CallExpr) error {
	at := gitSubcommand(cmd, "add")
	if at < 0 {
		return nil
	}
	for _, arg := range cmd.Args[at+1:] {
		switch arg.Lit() {
		case "-A", "--all", ".", "*":
			return fmt.Errorf("permission denied: blind git add commands are not allowed, specify files explicitly")
		}
	}
	return nil
}
