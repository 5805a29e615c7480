// Package audit records security decisions (rate limit and CSRF rejections,
// burst denials) as structured events.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/keithlinneman/webguard/internal/httpmw"
	"github.com/keithlinneman/webguard/internal/log"
)

// Event types
const (
	TypeRateLimited  = "rate_limited"
	TypeCSRFRejected = "csrf_rejected"
	TypeBurstDenied  = "burst_denied"
)

// Event is one security decision. Query strings, bodies and cookies are
// never recorded.
type Event struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	// Rule is the limiter tier or the CSRF rejection code
	Rule   string `json:"rule,omitempty"`
	Status int    `json:"status,omitempty"`
}

// FromRequest fills request fields from r and the context populated by the
// httpmw chain.
func FromRequest(r *http.Request, typ, rule string, status int) Event {
	ctx := r.Context()
	return Event{
		Type:      typ,
		Time:      time.Now().UTC(),
		RequestID: httpmw.RequestIDFromContext(ctx),
		ClientIP:  httpmw.ClientIPFromContext(ctx),
		Method:    r.Method,
		Path:      r.URL.Path,
		Rule:      rule,
		Status:    status,
	}
}

// Sink receives events. Emit must not block the request path.
type Sink interface {
	Emit(ctx context.Context, ev Event)
	Close() error
}

// LogSink writes events to a logger at warn level.
type LogSink struct {
	L log.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) {
	L := s.L
	if L == nil {
		L = log.FromContext(ctx)
	}
	L.Warn(ctx, "security event",
		"event.type", ev.Type,
		"event.rule", ev.Rule,
		"http.response.status_code", ev.Status,
		"client.address", ev.ClientIP,
		"http.request.method", ev.Method,
		"url.path", ev.Path,
		"request_id", ev.RequestID,
	)
}

func (LogSink) Close() error { return nil }

// Multi fans events out to every sink.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop drops events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
func (Nop) Close() error                { return nil }
