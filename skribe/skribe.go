// Package skribe defines patchwork-wide logging types and functions.
//
// Logging happens via slog. Attributes attached to a context with
// ContextWithAttr are added to every record logged with that context
// once the handler is wrapped with AttrsWrap.
package skribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
)

type attrsKey struct{}

// secretSuffixes mark environment variables whose values are never logged.
var secretSuffixes = []string{"_API_KEY", "_TOKEN", "_SECRET"}

// Redact masks the values of secret-looking KEY=VALUE environment entries.
func Redact(arr []string) []string {
	ret := make([]string, 0, len(arr))
	for _, s := range arr {
		k, _, ok := strings.Cut(s, "=")
		if ok && slices.ContainsFunc(secretSuffixes, func(suf string) bool { return strings.HasSuffix(k, suf) }) {
			ret = append(ret, k+"=[REDACTED]")
		} else {
			ret = append(ret, s)
		}
	}
	return ret
}

func ContextWithAttr(ctx context.Context, add ...slog.Attr) context.Context {
	attrs := slices.Clone(Attrs(ctx))
	attrs = append(attrs, add...)
	return context.WithValue(ctx, attrsKey{}, attrs)
}

func Attrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	return attrs
}

func AttrsWrap(h slog.Handler) slog.Handler {
	return &augmentHandler{Handler: h}
}

type augmentHandler struct {
	slog.Handler
}

func (h *augmentHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := Attrs(ctx)
	r.AddAttrs(attrs...)
	return h.Handler.Handle(ctx, r)
}

func (h *augmentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &augmentHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *augmentHandler) WithGroup(name string) slog.Handler {
	return &augmentHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// NewHandler returns a context-aware handler writing text or JSON records to w.
func NewHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return AttrsWrap(h)
}
