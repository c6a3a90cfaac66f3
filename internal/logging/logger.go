package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

type Options struct {
	Level      string
	Format     string // "pretty" or "json"
	NoColor    bool
	StackTrace bool
}

type prettyHandler struct {
	out    io.Writer
	level  slog.Leveler
	source bool
	color  bool
	stacks bool
	attrs  []slog.Attr
	group  string
}

func NewPrettyHandler(out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if out == nil {
		out = os.Stdout
	}
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &prettyHandler{
		out:    out,
		level:  opts.Level,
		source: opts.AddSource,
		color:  true,
	}
}

func Init(levelName string) {
	InitWithOptions(os.Stdout, Options{Level: levelName, StackTrace: true})
}

func InitWithOptions(out io.Writer, o Options) {
	slog.SetDefault(slog.New(newHandler(out, o)))
}

func newHandler(out io.Writer, o Options) slog.Handler {
	level := parseLogLevel(o.Level)

	if strings.EqualFold(o.Format, "json") {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: true})
	}

	h := NewPrettyHandler(out, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}).(*prettyHandler)
	h.color = !o.NoColor
	h.stacks = o.StackTrace
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.level == nil {
		return true
	}
	return lvl >= h.level.Level()
}

func (h *prettyHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	var buf bytes.Buffer

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&buf, "%s ", ts.Format("2006-01-02 15:04:05.000"))

	level := levelToUpper(r.Level)
	if h.color {
		fmt.Fprintf(&buf, "%s%-5s%s ", colorForLevel(r.Level), level, "\033[0m")
	} else {
		fmt.Fprintf(&buf, "%-5s ", level)
	}

	if h.source {
		if file, line := resolveCaller(); file != "" {
			loc := fmt.Sprintf("%s:%d", filepath.Base(file), line)
			fmt.Fprintf(&buf, "%-25s ", loc)
		}
	}

	buf.WriteString(r.Message)

	var errVal error
	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		if a.Key == "error" {
			if e, ok := a.Value.Any().(error); ok {
				errVal = e
			}
		}
		fmt.Fprintf(&buf, " %s=%v", key, a.Value.Any())
	}

	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	buf.WriteByte('\n')

	if errVal != nil && h.stacks && r.Level >= slog.LevelError {
		fmt.Fprintf(&buf, "ERROR: %v\n", errVal)
		buf.Write(debug.Stack())
		buf.WriteByte('\n')
	}

	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

func levelToUpper(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

func parseLogLevel(l string) slog.Level {
	switch strings.ToLower(l) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func colorForLevel(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "\033[36m" // cyan
	case l < slog.LevelWarn:
		return "\033[32m" // green
	case l < slog.LevelError:
		return "\033[33m" // yellow
	default:
		return "\033[31m" // red
	}
}

// resolveCaller walks the stack and returns the first frame outside
// internal/logging and log/slog.
func resolveCaller() (string, int) {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	sep := string(os.PathSeparator)
	for {
		f, more := frames.Next()

		if !strings.Contains(f.File, sep+"internal"+sep+"logging"+sep) &&
			!strings.Contains(f.File, sep+"log"+sep+"slog"+sep) &&
			f.File != "" {
			return f.File, f.Line
		}

		if !more {
			break
		}
	}

	return "", 0
}
