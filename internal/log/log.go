package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	DestStderr  = "stderr"
	DestStdout  = "stdout"
	DestDiscard = "discard"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler appends attributes stored by ContextAttrs to every record
// logged with that context.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context handler in the chain; the embedded
// implementation would return the bare inner handler.
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	} else {
		// never share the backing array with the parent context
		a = append(make([]slog.Attr, 0, len(a)+len(attrs)), a...)
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	ctxHandler := NewContextHandler(base)
	return slog.New(ctxHandler)
}

// Open resolves a log destination: stderr, stdout, discard or a file path,
// which is opened for appending. The returned close function is never nil.
func Open(dest string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch dest {
	case "", DestStderr:
		return os.Stderr, noop, nil
	case DestStdout:
		return os.Stdout, noop, nil
	case DestDiscard:
		return io.Discard, noop, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("opening log file %s: %w", dest, err)
	}
	return f, f.Close, nil
}
