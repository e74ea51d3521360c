// Package logging renders slog records as severity-prefixed lines, the format
// a supervising process parses to recover log levels:
//
//	INFO: Writing EML file path=/data/acct/top/32802/2097188.eml
//	WARNING: Skipping corrupt item folderID=32802 itemID=2097220 err="..."
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LevelCritical is used for failures that end the run.
const LevelCritical = slog.LevelError + 4

// Prefix returns the line prefix for level, without the colon.
func Prefix(level slog.Level) string {
	switch {
	case level >= LevelCritical:
		return "CRITICAL"
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// ParseLine splits a line produced by PrefixHandler into its level and the
// remaining text. A line without a recognized prefix is informational.
func ParseLine(line string) (slog.Level, string) {
	prefix, rest, ok := strings.Cut(line, ":")
	if ok {
		switch strings.ToLower(strings.TrimSpace(prefix)) {
		case "debug":
			return slog.LevelDebug, strings.TrimSpace(rest)
		case "info":
			return slog.LevelInfo, strings.TrimSpace(rest)
		case "warning":
			return slog.LevelWarn, strings.TrimSpace(rest)
		case "error":
			return slog.LevelError, strings.TrimSpace(rest)
		case "critical":
			return LevelCritical, strings.TrimSpace(rest)
		}
	}
	return slog.LevelInfo, strings.TrimSpace(line)
}

// PrefixHandler is a slog.Handler writing one "LEVEL: message key=value" line
// per record. Time is omitted; the consumer stamps lines on arrival.
type PrefixHandler struct {
	opts   slog.HandlerOptions
	attrs  string
	groups []string

	mu *sync.Mutex
	w  io.Writer
}

// NewPrefixHandler returns a PrefixHandler writing to w.
func NewPrefixHandler(w io.Writer, opts *slog.HandlerOptions) *PrefixHandler {
	h := &PrefixHandler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *PrefixHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrefixHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(Prefix(r.Level))
	sb.WriteString(": ")
	sb.WriteString(r.Message)
	sb.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, h.groups, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *PrefixHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&sb, h.groups, a)
	}
	clone := *h
	clone.attrs = sb.String()
	return &clone
}

func (h *PrefixHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func appendAttr(sb *strings.Builder, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		nested := groups
		if a.Key != "" {
			nested = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			appendAttr(sb, nested, ga)
		}
		return
	}

	sb.WriteByte(' ')
	for _, g := range groups {
		sb.WriteString(g)
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	}

	if s == "" || strings.ContainsAny(s, " \t\n\r\"=") {
		return strconv.Quote(s)
	}
	return s
}
