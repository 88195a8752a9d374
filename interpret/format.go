package interpret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"patchwork.dev/patch"
)

// Format names a supported patch payload shape.
type Format string

const (
	// FormatPatches is {"patches": [{action, file, search_block?, replace_block?, content?}]}.
	FormatPatches Format = "patches"
	// FormatFiles is {"files": [{path, content}]}, whole-file writes.
	FormatFiles Format = "files"
)

// FileWrite is one whole-file write in a FormatFiles payload.
type FileWrite struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PatchPayload is a parsed patch in either format.
// Exactly one of Patches or Files is populated, according to Format.
type PatchPayload struct {
	Format  Format         `json:"-"`
	Patches []patch.Action `json:"patches,omitempty"`
	Files   []FileWrite    `json:"files,omitempty"`
}

// Actions converts p into applier actions.
// Whole-file writes become create actions.
func (p *PatchPayload) Actions() []patch.Action {
	if p.Format == FormatFiles {
		actions := make([]patch.Action, len(p.Files))
		for i, f := range p.Files {
			actions[i] = patch.Create(f.Path, f.Content)
		}
		return actions
	}
	return p.Patches
}

const patchesSchema = `
{
  "type": "object",
  "required": ["patches"],
  "properties": {
    "patches": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action", "file"],
        "properties": {
          "action": {"enum": ["create", "delete", "replace"]},
          "file": {"type": "string", "minLength": 1},
          "search_block": {"type": "string"},
          "replace_block": {"type": "string"},
          "content": {"type": "string"}
        },
        "allOf": [
          {
            "if": {"properties": {"action": {"const": "replace"}}},
            "then": {"required": ["search_block"]}
          },
          {
            "if": {"properties": {"action": {"const": "create"}}},
            "then": {"required": ["content"]}
          }
        ]
      }
    }
  }
}
`

const filesSchema = `
{
  "type": "object",
  "required": ["files"],
  "properties": {
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "content"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "content": {"type": "string"}
        }
      }
    }
  }
}
`

var schemas = map[Format]*jsonschema.Schema{
	FormatPatches: jsonschema.MustCompileString("patches.json", patchesSchema),
	FormatFiles:   jsonschema.MustCompileString("files.json", filesSchema),
}

// Schema returns the JSON schema text for f, as sent to the model.
func (f Format) Schema() string {
	if f == FormatFiles {
		return strings.TrimSpace(filesSchema)
	}
	return strings.TrimSpace(patchesSchema)
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatPatches || f == FormatFiles
}

// decode parses candidate as a payload in format f.
// A bare JSON array is accepted as the contents of the format's list.
func decode(candidate string, f Format) (*PatchPayload, error) {
	data := []byte(strings.TrimSpace(candidate))
	if bytes.HasPrefix(data, []byte("[")) {
		data = fmt.Appendf(nil, `{%q: %s}`, string(f), data)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if err := schemas[f].Validate(doc); err != nil {
		return nil, err
	}
	p := &PatchPayload{Format: f}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
