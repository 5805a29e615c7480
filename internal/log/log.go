package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger passed through the service. Every method
// takes a context so trace/span ids can be attached to the record.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	// Sync flushes buffered entries; only the zap backend buffers
	Sync() error
}

// Backend names accepted by Options.Backend
const (
	BackendSlog = "slog"
	BackendZap  = "zap"
)

type Options struct {
	App               string
	Version           string
	Environment       string
	Backend           string
	Level             slog.Level
	StacktraceLevel   slog.Level
	JSON              bool
	IncludeErrorLinks bool
	MaxErrorLinks     int
	Writer            io.Writer
}

// New builds a Logger for the configured backend, slog when unset.
func New(opts Options) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSlog:
		return newSlog(opts)
	case BackendZap:
		return newZap(opts)
	default:
		return nil, fmt.Errorf("unknown log backend %q (valid backends are slog|zap)", opts.Backend)
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}

// baseFields are attached to every record regardless of backend
func baseFields(opts Options) []any {
	kv := []any{"app", opts.App}
	if opts.Version != "" {
		kv = append(kv, "version", opts.Version)
	}
	if opts.Environment != "" {
		kv = append(kv, "env", opts.Environment)
	}
	return kv
}

func normalize(opts Options) Options {
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}
	return opts
}
