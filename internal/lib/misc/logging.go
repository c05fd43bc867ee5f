package misc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"runtime"
	"time"
)

func Errorf(logger *slog.Logger, format string, args ...any) {
	helperf(logger, slog.LevelError, format, args...)
}

func Warnf(logger *slog.Logger, format string, args ...any) {
	helperf(logger, slog.LevelWarn, format, args...)
}

func Infof(logger *slog.Logger, format string, args ...any) {
	helperf(logger, slog.LevelInfo, format, args...)
}

func Debugf(logger *slog.Logger, format string, args ...any) {
	helperf(logger, slog.LevelDebug, format, args...)
}

func helperf(logger *slog.Logger, level slog.Level, format string, args ...any) {
	if !logger.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, helperf, [info/warn/debug]f]
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = logger.Handler().Handle(context.Background(), r)
}

type MinimalHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// MinimalHandler writes console friendly lines: the message, prefixed by the level when
// it's above info, followed by any attributes as a json object.
type MinimalHandler struct {
	opts  slog.HandlerOptions
	l     *log.Logger
	attrs []slog.Attr
	group string
}

func NewMinimalHandler(out io.Writer, opts MinimalHandlerOptions) *MinimalHandler {
	return &MinimalHandler{
		opts: opts.SlogOpts,
		l:    log.New(out, "", 0),
	}
}

func (h *MinimalHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *MinimalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.key(a.Key)] = a.Value.String()
		return true
	})

	msg := r.Message
	if r.Level > slog.LevelInfo {
		msg = r.Level.String() + " " + msg
	}
	if len(fields) == 0 {
		h.l.Println(msg)
		return nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	h.l.Println(msg, string(b))
	return nil
}

func (h *MinimalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &nh
}

func (h *MinimalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.group = h.key(name)
	return &nh
}

func (h *MinimalHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}
