package log

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	z          *zap.Logger
	stackLevel zapcore.Level
	links      bool
	maxLinks   int
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l < slog.LevelInfo:
		return zapcore.DebugLevel
	case l < slog.LevelWarn:
		return zapcore.InfoLevel
	case l < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func newZap(opts Options) (Logger, error) {
	opts = normalize(opts)
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.MessageKey = "msg"
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	ec.StacktraceKey = "" // stack is attached as a field by the logger
	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(ec)
	} else {
		enc = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zapLevel(opts.Level))
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).
		With(toZapFields(baseFields(opts))...)

	return &zapLogger{
		z:          z,
		stackLevel: zapLevel(opts.StacktraceLevel),
		links:      opts.IncludeErrorLinks,
		maxLinks:   opts.MaxErrorLinks,
	}, nil
}

func toZapFields(kv []any) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			out = append(out, zap.String(k, err.Error()))
			continue
		}
		out = append(out, zap.Any(k, kv[i+1]))
	}
	return out
}

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{
		z:          l.z.With(toZapFields(kv)...),
		stackLevel: l.stackLevel,
		links:      l.links,
		maxLinks:   l.maxLinks,
	}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, zapcore.DebugLevel, msg, nil, kv)
}

func (l *zapLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, zapcore.InfoLevel, msg, nil, kv)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.emit(ctx, zapcore.WarnLevel, msg, nil, kv)
}

func (l *zapLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	l.emit(ctx, zapcore.ErrorLevel, msg, err, append(kv, errorFields(err, l.links, l.maxLinks)...))
}

func (l *zapLogger) Sync() error { return l.z.Sync() }

func (l *zapLogger) emit(ctx context.Context, lvl zapcore.Level, msg string, err error, kv []any) {
	ce := l.z.Check(lvl, msg)
	if ce == nil {
		return
	}
	fields := toZapFields(kv)
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}
	if lvl >= l.stackLevel {
		stack := stackOf(err)
		if stack == "" {
			stack = captureStack()
		}
		fields = append(fields, zap.String("stack", stack))
	}
	ce.Write(fields...)
}
