package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/log"
)

// CodeRateLimited is the envelope code on every rate limit rejection.
const CodeRateLimited = "RATE_LIMIT_EXCEEDED"

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed    bool
	Name       string
	Key        string
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration

	// Message and StatusCode are what a rejection answers with
	Message    string
	StatusCode int
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	s := int((d.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// ResetUnix is ResetAt in epoch seconds, rounded up.
func (d Decision) ResetUnix() int64 {
	u := d.ResetAt.Unix()
	if d.ResetAt.Nanosecond() > 0 {
		u++
	}
	return u
}

// Err is the envelope for a denied decision.
func (d Decision) Err() *apierr.Error {
	e := apierr.New(d.StatusCode, d.Message, CodeRateLimited)
	e.RetryAfter = d.RetryAfterSeconds()
	return e
}

// Limiter counts a request against a limit.
type Limiter interface {
	Check(r *http.Request) Decision
}

// SetHeaders writes the X-RateLimit-* headers for d.
func SetHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
		h.Set("X-RateLimit-Remaining", "0")
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetUnix(), 10))
		return
	}
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
}

// WriteDenied answers a denied request with headers and the JSON envelope.
func WriteDenied(w http.ResponseWriter, d Decision) {
	SetHeaders(w.Header(), d)
	apierr.Respond(w, d.Err())
}

// Middleware rejects requests l denies and passes the rest through with
// X-RateLimit-Limit / X-RateLimit-Remaining set.
func Middleware(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Check(r)
			if !d.Allowed {
				WriteDenied(w, d)
				return
			}
			SetHeaders(w.Header(), d)
			next.ServeHTTP(w, r)
		})
	}
}

// Option configures FixedWindow and SlidingWindow limiters.
type Option func(*hooks)

type hooks struct {
	store        Store
	onDenied     func(r *http.Request, d Decision)
	onStoreError func(err error)
	now          func() time.Time
}

// WithStore sets the counter store of a FixedWindow (default: a new MemoryStore).
func WithStore(s Store) Option {
	return func(h *hooks) { h.store = s }
}

// WithOnDenied is called on every denied request, outside any lock.
func WithOnDenied(fn func(r *http.Request, d Decision)) Option {
	return func(h *hooks) { h.onDenied = fn }
}

// WithOnStoreError is called when the store fails and the request is let through.
func WithOnStoreError(fn func(err error)) Option {
	return func(h *hooks) { h.onStoreError = fn }
}

func withClock(now func() time.Time) Option {
	return func(h *hooks) { h.now = now }
}

func buildHooks(opts []Option) hooks {
	h := hooks{now: time.Now}
	for _, o := range opts {
		o(&h)
	}
	return h
}

// FixedWindow allows Max requests per key per Window.
type FixedWindow struct {
	cfg Config
	hooks
}

// NewFixedWindow builds a limiter for cfg; zero fields take Default values.
func NewFixedWindow(cfg Config, opts ...Option) *FixedWindow {
	l := &FixedWindow{cfg: cfg.withDefaults(), hooks: buildHooks(opts)}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	return l
}

func (l *FixedWindow) Config() Config { return l.cfg }

// Check counts r. Store failures allow the request.
func (l *FixedWindow) Check(r *http.Request) Decision {
	ctx := r.Context()
	key := l.cfg.KeyFunc(r)
	now := l.now()
	d := Decision{
		Allowed:    true,
		Name:       l.cfg.Name,
		Key:        key,
		Limit:      l.cfg.Max,
		Message:    l.cfg.Message,
		StatusCode: l.cfg.StatusCode,
	}

	count, resetAt, err := l.store.Increment(ctx, key, l.cfg.Window)
	if err != nil {
		l.storeFailed(ctx, err)
		d.Remaining = l.cfg.Max
		d.ResetAt = now.Add(l.cfg.Window)
		return d
	}

	d.ResetAt = resetAt
	d.Remaining = max(l.cfg.Max-count, 0)
	if count > l.cfg.Max {
		d.Allowed = false
		d.RetryAfter = resetAt.Sub(now)
		if l.onDenied != nil {
			l.onDenied(r, d)
		}
	}
	return d
}

func (l *FixedWindow) storeFailed(ctx context.Context, err error) {
	log.FromContext(ctx).Error(ctx, err, "rate limit store failed, allowing request", "limiter", l.cfg.Name)
	if l.onStoreError != nil {
		l.onStoreError(err)
	}
}

// Middleware rejects requests over the limit with the configured status.
func (l *FixedWindow) Middleware(next http.Handler) http.Handler {
	return Middleware(l)(next)
}

// Reset clears the counter for key, e.g. after a successful sign-in.
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Tiered checks every limiter in order; the first denial wins. When all allow,
// the decision with the least remaining budget is returned for headers.
func Tiered(limiters ...Limiter) Limiter {
	return tiered(limiters)
}

type tiered []Limiter

func (t tiered) Check(r *http.Request) Decision {
	var best Decision
	for i, l := range t {
		d := l.Check(r)
		if !d.Allowed {
			return d
		}
		if i == 0 || d.Remaining < best.Remaining {
			best = d
		}
	}
	if len(t) == 0 {
		best.Allowed = true
	}
	return best
}
