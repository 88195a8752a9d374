// Package patch applies structured file mutations to a workspace,
// with a rollback plan captured before anything changes.
package patch

import (
	"errors"
	"fmt"
)

// Kind is the type of a patch action.
type Kind string

const (
	KindCreate  Kind = "create"
	KindDelete  Kind = "delete"
	KindReplace Kind = "replace"
)

var (
	// ErrAmbiguousMatch reports that a search block matched more than one location.
	ErrAmbiguousMatch = errors.New("search block matches more than one location")
	// ErrNotFound reports that a search block matched nowhere.
	ErrNotFound = errors.New("search block not found")
	// ErrEmptySearch reports a replace action with an empty search block.
	ErrEmptySearch = errors.New("search block is empty")
)

// An Action is one file mutation.
// The JSON shape matches the "patches" payload format.
type Action struct {
	Kind         Kind   `json:"action"`
	File         string `json:"file"`
	Content      string `json:"content,omitempty"`       // for create
	SearchBlock  string `json:"search_block,omitempty"`  // for replace
	ReplaceBlock string `json:"replace_block,omitempty"` // for replace
}

// Create returns an action writing content to file, overwriting it if present.
func Create(file, content string) Action {
	return Action{Kind: KindCreate, File: file, Content: content}
}

// Delete returns an action removing file.
func Delete(file string) Action {
	return Action{Kind: KindDelete, File: file}
}

// Replace returns an action replacing the unique occurrence of search in file.
func Replace(file, search, replace string) Action {
	return Action{Kind: KindReplace, File: file, SearchBlock: search, ReplaceBlock: replace}
}

// Validate checks that a has a known kind and a file.
// It does not check the file path against a workspace.
func (a Action) Validate() error {
	if a.File == "" {
		return fmt.Errorf("%s action has no file", a.Kind)
	}
	switch a.Kind {
	case KindCreate, KindDelete:
	case KindReplace:
		if a.SearchBlock == "" {
			return ErrEmptySearch
		}
	default:
		return fmt.Errorf("unrecognized action %q", a.Kind)
	}
	return nil
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s", a.Kind, a.File)
}

// ActionError is returned by Apply when a single action fails.
type ActionError struct {
	Index  int
	Action Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("patch action %d (%s): %v", e.Index, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
