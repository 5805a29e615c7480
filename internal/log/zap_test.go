package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/keithlinneman/webguard/internal/xerrors"
)

func newZapTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *zapLogger {
	t.Helper()
	opts.Writer = buf
	opts.JSON = true
	l, err := newZap(opts)
	if err != nil {
		t.Fatalf("newZap: %v", err)
	}
	return l.(*zapLogger)
}

func TestZap_BaseFieldsAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := newZapTestLogger(t, &buf, Options{App: "webguard", Environment: "development"})
	l.Info(context.Background(), "hello", "route", "/api/secure/users")
	_ = l.Sync()

	m := jsonRecord(t, &buf)
	if m["msg"] != "hello" || m["app"] != "webguard" || m["env"] != "development" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["route"] != "/api/secure/users" {
		t.Fatalf("route = %v", m["route"])
	}
}

func TestZap_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newZapTestLogger(t, &buf, Options{App: "test", Level: slog.LevelWarn})
	l.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info below warn should be dropped: %s", buf.String())
	}
}

func TestZap_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newZapTestLogger(t, &buf, Options{App: "test"})
	l.Info(tracedContext(), "traced")
	if jsonRecord(t, &buf)["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("missing trace id: %s", buf.String())
	}
}

func TestZap_ErrorFields(t *testing.T) {
	var buf bytes.Buffer
	l := newZapTestLogger(t, &buf, Options{App: "test"})
	l.With("component", "csrf").Error(context.Background(), xerrors.New("bad signature"), "verify failed")

	m := jsonRecord(t, &buf)
	if m["err"] != "bad signature" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["component"] != "csrf" {
		t.Fatalf("component = %v", m["component"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("missing stack")
	}
}
