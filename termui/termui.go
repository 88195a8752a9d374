// Package termui renders patchwork results for humans at a terminal.
package termui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"
	"patchwork.dev/convstore"
	"patchwork.dev/evidence"
	"patchwork.dev/llm"
	"patchwork.dev/patch"
	"patchwork.dev/tools"
)

var (
	// toolUseTemplTxt defines how tool invocations appear in the terminal.
	// Keep it in sync with the built-in tools in package tools.
	toolUseTemplTxt = `{{if .failed}}〰️ {{end -}}
{{if eq .name "read_file" -}}
 📖 {{.input.path}}{{if .input.offset}}:{{.input.offset}}{{end -}}
{{else if eq .name "write_file" -}}
 ⌨️  {{.input.path -}}
{{else if eq .name "search" -}}
 🔍 {{.input.query}}{{if .input.path}} in {{.input.path}}{{end -}}
{{else if eq .name "git_diff" -}}
 🌱 git diff{{range .input.paths}} {{.}}{{end -}}
{{else if eq .name "shell" -}}
 🖥️  {{.input.command -}}
{{else -}}
 🛠️  {{.name}}: {{.raw -}}
{{end}}
`
	toolUseTmpl = template.Must(template.New("tool_use").Parse(toolUseTemplTxt))
)

// Printer writes human-readable renderings to an output stream.
type Printer struct {
	w io.Writer

	bold, green, red, yellow, faint *color.Color
}

// New returns a Printer for w. Color is used only when w is a terminal.
func New(w io.Writer) *Printer {
	p := &Printer{
		w:      w,
		bold:   color.New(color.Bold),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		faint:  color.New(color.Faint),
	}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		for _, c := range []*color.Color{p.bold, p.green, p.red, p.yellow, p.faint} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Assessment renders an evidence assessment.
func (p *Printer) Assessment(a *evidence.Assessment) {
	status := p.green.Sprint("PASS")
	if !a.Passed() {
		status = p.red.Sprint("FAIL")
	}
	p.printf("%s evidence %s score %.0f%%\n", p.bold.Sprint("▶"), status, a.Score*100)
	for _, s := range evidence.Signals {
		mark := p.green.Sprint("✓")
		for _, m := range a.Missing {
			if m == s {
				mark = p.red.Sprint("✗")
			}
		}
		op := "≥"
		if s == evidence.Warnings {
			op = "≤"
		}
		p.printf("  %s %-16s %d %s %d\n", mark, s, a.Observed.Get(s), op, a.Required.Get(s))
	}
	for _, w := range a.Warnings {
		p.printf("  %s %s\n", p.yellow.Sprint("warning:"), w)
	}
	for _, g := range a.Gaps {
		p.printf("  %s %s\n", p.faint.Sprint("gap:"), g)
	}
}

// GateError renders a gating failure with its remediation steps.
func (p *Printer) GateError(e *evidence.GateError) {
	p.printf("%s %s: %s\n", p.red.Sprint("✗"), p.bold.Sprint(e.Code), e.Message)
	for i, r := range e.Remediation {
		p.printf("  %d. %s\n", i+1, r)
	}
}

// Snapshot renders a lane snapshot.
func (p *Printer) Snapshot(s *convstore.Snapshot) {
	updated := "never"
	if !s.UpdatedAt.IsZero() {
		updated = humanize.Time(s.UpdatedAt)
	}
	p.printf("%s %s: %s messages, %s, updated %s\n",
		p.bold.Sprint("lane"), s.Lane, humanize.Comma(int64(s.MessageCount)),
		humanize.Bytes(uint64(s.TotalBytes)), updated)
	for _, m := range s.Messages {
		model := ""
		if m.Model != "" {
			model = " " + p.faint.Sprint("("+m.Model+")")
		}
		p.printf("%s %s%s\n%s\n", p.faint.Sprint(m.Timestamp.Format(time.DateTime)), p.bold.Sprint(m.Role), model, indent(m.Content))
	}
}

// ApplyResult renders the files touched by an apply and their diffs.
func (p *Printer) ApplyResult(r *patch.Result, planID string) {
	p.printf("%s applied to %d file(s), rollback plan %s\n", p.green.Sprint("✓"), len(r.Touched), planID)
	for _, d := range r.Diffs {
		p.Diff(d.Diff)
	}
}

// Diff renders a unified diff with added and removed lines colored.
func (p *Printer) Diff(diff string) {
	for line := range strings.Lines(diff) {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			p.printf("%s", p.bold.Sprint(line))
		case strings.HasPrefix(line, "+"):
			p.printf("%s", p.green.Sprint(line))
		case strings.HasPrefix(line, "-"):
			p.printf("%s", p.red.Sprint(line))
		case strings.HasPrefix(line, "@@"):
			p.printf("%s", p.faint.Sprint(line))
		default:
			p.printf("%s", line)
		}
	}
}

// ToolUse renders a tool invocation and its result.
func (p *Printer) ToolUse(name string, input json.RawMessage, res *tools.Result) {
	var in map[string]any
	_ = json.Unmarshal(input, &in)
	err := toolUseTmpl.Execute(p.w, map[string]any{
		"name":   name,
		"input":  in,
		"raw":    string(input),
		"failed": !res.OK,
	})
	if err != nil {
		p.printf(" 🛠️  %s: %s\n", name, input)
	}
	if !res.OK {
		p.printf("%s %s\n", p.red.Sprint("error:"), res.Error)
	}
	if res.Output != "" {
		p.printf("%s", res.Output)
		if !strings.HasSuffix(res.Output, "\n") {
			p.printf("\n")
		}
	}
}

// Tools lists tool descriptions.
func (p *Printer) Tools(descs []*llm.Tool) {
	for _, d := range descs {
		p.printf("%s\n  %s\n", p.bold.Sprint(d.Name), d.Description)
	}
}

// Usage renders token usage.
func (p *Printer) Usage(u llm.Usage) {
	if u.IsZero() {
		return
	}
	p.printf("%s input %s, output %s tokens, $%.4f\n", p.faint.Sprint("usage:"),
		humanize.Comma(int64(u.InputTokens)), humanize.Comma(int64(u.OutputTokens)), u.CostUSD)
}

func indent(s string) string {
	var b strings.Builder
	for line := range strings.Lines(s) {
		b.WriteString("    ")
		b.WriteString(line)
	}
	if !strings.HasSuffix(s, "\n") && s != "" {
		b.WriteString("\n")
	}
	return b.String()
}
