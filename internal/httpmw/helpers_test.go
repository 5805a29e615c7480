package httpmw

import (
	"context"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/webguard/internal/log"
)

type capturedLog struct {
	msg    string
	err    error
	fields []any
}

// flatLogger records With/Info/Error calls and returns itself from With
// so every record lands in one place.
type flatLogger struct {
	log.Logger
	mu     sync.Mutex
	withs  [][]any
	infos  []capturedLog
	errors []capturedLog
}

func newFlatLogger() *flatLogger { return &flatLogger{Logger: log.Nop()} }

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, capturedLog{msg: msg, err: err, fields: kv})
}

// field returns the value following key in kv
func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

// newRecordingSpan returns a context carrying a live recording span.
func newRecordingSpan(t *testing.T, name string) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, _ := tp.Tracer("test").Start(context.Background(), name)
	return ctx, sr
}
