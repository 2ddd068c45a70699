package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"
)

// SetupLogger configures the global slog logger. Format is "json",
// "pretty" (also "text") or "auto", which picks pretty on a terminal.
func SetupLogger(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: RedactAttr}

	var handler slog.Handler
	switch resolveFormat(format, w) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = NewPrettyHandler(w, opts)
	}

	handler = &TraceHandler{Handler: handler}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func resolveFormat(format string, w io.Writer) string {
	if format != "auto" {
		return format
	}
	if f, ok := w.(interface{ Fd() uintptr }); ok && isatty.IsTerminal(f.Fd()) {
		return "pretty"
	}
	return "json"
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// botTokenPattern matches the token segment of a Bot API URL path.
var botTokenPattern = regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_-]+`)

// RedactString masks bot tokens embedded in URLs.
func RedactString(s string) string {
	if !strings.Contains(s, "/bot") {
		return s
	}
	return botTokenPattern.ReplaceAllString(s, "/bot***")
}

// RedactAttr is a slog ReplaceAttr func that masks bot tokens in string
// and error values, including the message.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); strings.Contains(s, "/bot") {
			a.Value = slog.StringValue(RedactString(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			if s := err.Error(); strings.Contains(s, "/bot") {
				a.Value = slog.StringValue(RedactString(s))
			}
		}
	}
	return a
}

// TraceHandler wraps a slog.Handler and injects trace_id/span_id from context.
type TraceHandler struct {
	slog.Handler
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// PrettyHandler outputs colored, human-readable log lines.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	w     io.Writer
	mu    sync.Mutex
	attrs []slog.Attr
	group string
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{opts: *opts, w: w}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format(time.TimeOnly)
	lvl := colorLevel(r.Level)

	h.mu.Lock()
	defer h.mu.Unlock()

	_, _ = fmt.Fprintf(h.w, "%s %s %s", ts, lvl, RedactString(r.Message))
	for _, a := range h.attrs {
		h.writeAttr("", a)
	}
	prefix := ""
	if h.group != "" {
		prefix = h.group + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(prefix, a)
		return true
	})
	_, _ = fmt.Fprintln(h.w)
	return nil
}

func (h *PrettyHandler) writeAttr(prefix string, a slog.Attr) {
	if h.opts.ReplaceAttr != nil {
		a = h.opts.ReplaceAttr(nil, a)
	}
	if a.Value.Kind() == slog.KindDuration {
		_, _ = fmt.Fprintf(h.w, " %s%s=%s", prefix, a.Key, a.Value.Duration().Round(time.Millisecond))
		return
	}
	_, _ = fmt.Fprintf(h.w, " %s%s=%v", prefix, a.Key, a.Value)
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &PrettyHandler{opts: h.opts, w: h.w, attrs: newAttrs, group: h.group}
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if h.group != "" {
		name = h.group + "." + name
	}
	return &PrettyHandler{opts: h.opts, w: h.w, attrs: h.attrs, group: name}
}

var levelColors = map[slog.Level]*color.Color{
	slog.LevelError: forced(color.FgRed, color.Bold),
	slog.LevelWarn:  forced(color.FgYellow),
	slog.LevelInfo:  forced(color.FgCyan),
	slog.LevelDebug: forced(color.FgHiBlack),
}

// forced ignores color.NoColor: the handler is only chosen for terminals
// or when pretty output was requested explicitly.
func forced(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}

func colorLevel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return levelColors[slog.LevelError].Sprint("ERR")
	case l >= slog.LevelWarn:
		return levelColors[slog.LevelWarn].Sprint("WRN")
	case l >= slog.LevelInfo:
		return levelColors[slog.LevelInfo].Sprint("INF")
	default:
		return levelColors[slog.LevelDebug].Sprint("DBG")
	}
}
