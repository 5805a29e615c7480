package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/keithlinneman/webguard/internal/httpmw"
)

func newTestFixed(cfg Config, clock *fakeClock, opts ...Option) *FixedWindow {
	store := newTestMemoryStore(clock)
	all := append([]Option{WithStore(store), withClock(clock.Now)}, opts...)
	return NewFixedWindow(cfg, all...)
}

func requestFrom(ip, path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	return r.WithContext(httpmw.WithClientIP(r.Context(), ip))
}

type envelope struct {
	Error struct {
		Message    string `json:"message"`
		Code       string `json:"code"`
		StatusCode int    `json:"statusCode"`
		RetryAfter int    `json:"retryAfter"`
	} `json:"error"`
}

func TestPresets(t *testing.T) {
	tests := []struct {
		cfg    Config
		window time.Duration
		max    int64
		msg    string
	}{
		{Default, 15 * time.Minute, 100, "Too many requests, please try again later"},
		{Auth, 15 * time.Minute, 5, "Too many authentication attempts, please try again later"},
		{API, time.Minute, 60, "API rate limit exceeded"},
		{Upload, time.Hour, 10, "Upload limit exceeded, please try again later"},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Name, func(t *testing.T) {
			if tt.cfg.Window != tt.window || tt.cfg.Max != tt.max || tt.cfg.Message != tt.msg {
				t.Fatalf("preset = %+v", tt.cfg)
			}
			if got := tt.cfg.withDefaults().StatusCode; got != http.StatusTooManyRequests {
				t.Fatalf("status = %d", got)
			}
		})
	}
}

func TestClientPathKey(t *testing.T) {
	if got := ClientPathKey(requestFrom("1.2.3.4", "/api/x?y=1")); got != "ratelimit:1.2.3.4:/api/x" {
		t.Fatalf("key = %q", got)
	}
	r := httptest.NewRequest(http.MethodGet, "/p", nil)
	if got := ClientPathKey(r); got != "ratelimit:unknown:/p" {
		t.Fatalf("key = %q", got)
	}
	if got := PrefixedKey("delete", nil)(requestFrom("1.2.3.4", "/p")); got != "delete:ratelimit:1.2.3.4:/p" {
		t.Fatalf("key = %q", got)
	}
}

func TestFixedWindow_DeniesMaxPlusOne(t *testing.T) {
	clock := newFakeClock()
	l := newTestFixed(Config{Name: "t", Window: time.Minute, Max: 3, Message: "slow down"}, clock)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 1; i <= 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("203.0.113.1", "/api/x"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(3-i) {
			t.Fatalf("request %d: remaining %q", i, got)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "3" {
			t.Fatalf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	clock.Advance(20 * time.Second)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("203.0.113.1", "/api/x"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 4: status %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Errorf("Retry-After = %q, want 40", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining = %q", got)
	}
	wantReset := strconv.FormatInt(clock.Now().Add(40*time.Second).Unix(), 10)
	if got := rec.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Errorf("reset = %q, want %q", got, wantReset)
	}

	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" || body.Error.Message != "slow down" ||
		body.Error.StatusCode != 429 || body.Error.RetryAfter != 40 {
		t.Fatalf("body = %+v", body.Error)
	}

	clock.Advance(40 * time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("203.0.113.1", "/api/x"))
	if rec.Code != http.StatusOK || rec.Header().Get("X-RateLimit-Remaining") != "2" {
		t.Fatalf("after expiry: status %d remaining %q", rec.Code, rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestFixedWindow_PathsAndClientsIndependent(t *testing.T) {
	l := newTestFixed(Config{Window: time.Minute, Max: 1}, newFakeClock())
	if !l.Check(requestFrom("1.1.1.1", "/a")).Allowed {
		t.Fatal("first request denied")
	}
	if l.Check(requestFrom("1.1.1.1", "/a")).Allowed {
		t.Fatal("second request allowed")
	}
	if !l.Check(requestFrom("1.1.1.1", "/b")).Allowed {
		t.Fatal("other path shares the counter")
	}
	if !l.Check(requestFrom("2.2.2.2", "/a")).Allowed {
		t.Fatal("other client shares the counter")
	}
}

func TestFixedWindow_CustomStatusAndHook(t *testing.T) {
	var denied []Decision
	l := newTestFixed(Config{Name: "upload", Window: time.Hour, Max: 1, StatusCode: http.StatusServiceUnavailable}, newFakeClock(),
		WithOnDenied(func(r *http.Request, d Decision) { denied = append(denied, d) }))

	l.Check(requestFrom("1.1.1.1", "/u"))
	rec := httptest.NewRecorder()
	l.Middleware(http.NotFoundHandler()).ServeHTTP(rec, requestFrom("1.1.1.1", "/u"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(denied) != 1 || denied[0].Name != "upload" || denied[0].Key != "ratelimit:1.1.1.1:/u" {
		t.Fatalf("denied = %+v", denied)
	}
}

func TestFixedWindow_StoreErrorFailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockStore(ctrl)
	store.EXPECT().Increment(gomock.Any(), "ratelimit:1.1.1.1:/x", time.Minute).
		Return(int64(0), time.Time{}, errors.New("redis down")).Times(2)

	var storeErrs int
	l := NewFixedWindow(Config{Window: time.Minute, Max: 1}, WithStore(store),
		WithOnStoreError(func(error) { storeErrs++ }))

	for i := 0; i < 2; i++ {
		d := l.Check(requestFrom("1.1.1.1", "/x"))
		if !d.Allowed || d.Remaining != 1 {
			t.Fatalf("decision = %+v", d)
		}
	}
	if storeErrs != 2 {
		t.Fatalf("store errors = %d", storeErrs)
	}
}

func TestFixedWindow_UsesStoreCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockStore(ctrl)
	reset := time.Now().Add(30 * time.Second)
	gomock.InOrder(
		store.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(5), reset, nil),
		store.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(6), reset, nil),
	)
	store.EXPECT().Reset(gomock.Any(), "ratelimit:1.1.1.1:/x").Return(nil)

	l := NewFixedWindow(Config{Window: time.Minute, Max: 5}, WithStore(store))
	if d := l.Check(requestFrom("1.1.1.1", "/x")); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("5th = %+v", d)
	}
	d := l.Check(requestFrom("1.1.1.1", "/x"))
	if d.Allowed || !d.ResetAt.Equal(reset) {
		t.Fatalf("6th = %+v", d)
	}
	if err := l.Reset(t.Context(), d.Key); err != nil {
		t.Fatal(err)
	}
}

func TestDecision_Rounding(t *testing.T) {
	d := Decision{RetryAfter: 1500 * time.Millisecond, ResetAt: time.Unix(100, 1)}
	if d.RetryAfterSeconds() != 2 {
		t.Fatalf("RetryAfterSeconds = %d", d.RetryAfterSeconds())
	}
	if d.ResetUnix() != 101 {
		t.Fatalf("ResetUnix = %d", d.ResetUnix())
	}
	if (Decision{}).RetryAfterSeconds() != 1 {
		t.Fatal("minimum retry is one second")
	}
}

type stubLimiter Decision

func (s stubLimiter) Check(*http.Request) Decision { return Decision(s) }

func TestTiered(t *testing.T) {
	r := requestFrom("1.1.1.1", "/")
	a := stubLimiter{Allowed: true, Name: "a", Remaining: 9}
	b := stubLimiter{Allowed: true, Name: "b", Remaining: 2}
	deny := stubLimiter{Allowed: false, Name: "deny"}
	deny2 := stubLimiter{Allowed: false, Name: "deny2"}

	if d := Tiered(a, b).Check(r); !d.Allowed || d.Name != "b" {
		t.Fatalf("all allowed = %+v", d)
	}
	if d := Tiered(a, deny, deny2).Check(r); d.Allowed || d.Name != "deny" {
		t.Fatalf("first denial = %+v", d)
	}
	if d := Tiered().Check(r); !d.Allowed {
		t.Fatal("empty tier should allow")
	}
}
