package logger

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

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// prettyHandler renders records as one colored line:
//
//	15:04:05.000 INFO  message key=value group.key=value
type prettyHandler struct {
	level  slog.Level
	prefix string
	attrs  []slog.Attr

	mu *sync.Mutex
	w  io.Writer
}

func newPrettyHandler(w io.Writer, level slog.Level) *prettyHandler {
	return &prettyHandler{level: level, mu: &sync.Mutex{}, w: w}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.Grow(128)

	b.WriteString(ansiGray)
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteString(ansiReset)
	b.WriteByte(' ')

	b.WriteString(levelBadge(r.Level))
	b.WriteByte(' ')

	b.WriteString(r.Message)

	h.writeAttrs(&b, h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a, h.prefix)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = joinKey(h.prefix, a.Key)
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = joinKey(h.prefix, name)
	return &c
}

func (h *prettyHandler) writeAttrs(b *strings.Builder, attrs []slog.Attr) {
	for _, a := range attrs {
		h.writeAttr(b, a, "")
	}
}

func (h *prettyHandler) writeAttr(b *strings.Builder, a slog.Attr, prefix string) {
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, g := range a.Value.Group() {
			h.writeAttr(b, g, joinKey(prefix, a.Key))
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(ansiCyan)
	b.WriteString(joinKey(prefix, a.Key))
	b.WriteByte('=')
	b.WriteString(formatValue(a.Value))
	b.WriteString(ansiReset)
}

func levelBadge(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed + ansiBold + "ERROR" + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + ansiBold + "WARN " + ansiReset
	case level >= slog.LevelInfo:
		return ansiGreen + ansiBold + "INFO " + ansiReset
	default:
		return ansiGray + ansiBold + "DEBUG" + ansiReset
	}
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return fmt.Sprint(v.Any())
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
