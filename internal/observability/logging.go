// Package observability provides the gateway's structured logging and
// tracing setup: a redacting slog handler wrapper, and a trimmed
// OpenTelemetry tracer with no OTLP exporter (this module does not depend
// on one).
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "json".
	Format string
	// AddSource includes the calling file:line in every record.
	AddSource bool
	// Output defaults to os.Stderr.
	Output io.Writer
	// RedactPatterns overrides the built-in secret patterns applied to
	// every string attribute value before it is written. A nil slice uses
	// DefaultRedactPatterns.
	RedactPatterns []*regexp.Regexp
}

// LevelFromString parses a case-insensitive level name, defaulting to Info
// for anything unrecognized.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultRedactPatterns catches the secret shapes this gateway actually
// handles: bearer tokens and JWTs passed through internal/auth, the
// oauth2/jwt secrets in internal/config, and generic high-entropy API-key
// assignments a connector's ConnectParams.Headers might carry.
var DefaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]+`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*\S+`),
}

const redactedPlaceholder = "[REDACTED]"

// NewLogger builds a *slog.Logger whose handler redacts secret-shaped
// string attribute values before writing, wrapping either a JSON or text
// handler depending on cfg.Format.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	patterns := cfg.RedactPatterns
	if patterns == nil {
		patterns = DefaultRedactPatterns
	}

	opts := &slog.HandlerOptions{
		AddSource: cfg.AddSource,
		Level:     LevelFromString(cfg.Level),
	}

	var base slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	return slog.New(&redactingHandler{next: base, patterns: patterns})
}

// redactingHandler wraps a slog.Handler, rewriting string attribute values
// that match a secret pattern before delegating. It does not redact the
// log message itself: messages are developer-authored, attribute values
// carry caller data.
type redactingHandler struct {
	next     slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(h.redactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = h.redactAttr(ga)
		}
		a.Value = slog.GroupValue(redacted...)
	}
	return a
}

func (h *redactingHandler) redactString(s string) string {
	for _, p := range h.patterns {
		s = p.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), patterns: h.patterns}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}
