package httpserver

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/webguard/internal/health"
	"github.com/keithlinneman/webguard/internal/httpmw"
	"github.com/keithlinneman/webguard/internal/log"
)

type registrarFunc func(chi.Router)

func (f registrarFunc) RegisterRoutes(r chi.Router) { f(r) }

type stubPolicy struct{}

func (stubPolicy) PolicyVersion() string { return "2026-10-01" }
func (stubPolicy) PolicyHash() string    { return "0123456789abcdef0123" }

func prodOpts() *Options {
	return &Options{Logger: log.Nop(), Headers: httpmw.ProductionHeaders()}
}

func do(h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_SecurityHeadersOnEveryResponse(t *testing.T) {
	opts := prodOpts()
	opts.GuardMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(opts)

	for _, target := range []string{"/-/healthy", "/missing", "/api/blocked"} {
		rec := do(h, http.MethodGet, target, nil)
		for _, name := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options"} {
			if rec.Header().Get(name) == "" {
				t.Errorf("%s (%d): missing %s", target, rec.Code, name)
			}
		}
	}
}

func TestNewHandler_DevelopmentProfile(t *testing.T) {
	h := NewHandler(&Options{Headers: httpmw.DevelopmentHeaders()})
	rec := do(h, http.MethodGet, "/-/ping", nil)
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("development profile sent HSTS")
	}
	if rec.Header().Get("Content-Security-Policy-Report-Only") == "" {
		t.Fatal("development CSP should be report-only")
	}
}

func TestNewHandler_RequestID(t *testing.T) {
	h := NewHandler(prodOpts())

	a := do(h, http.MethodGet, "/-/ping", nil).Header().Get("X-Request-Id")
	b := do(h, http.MethodGet, "/-/ping", nil).Header().Get("X-Request-Id")
	if a == "" || a == b {
		t.Fatalf("generated ids %q %q", a, b)
	}
	got := do(h, http.MethodGet, "/-/ping", map[string]string{"X-Request-Id": "edge-42"}).Header().Get("X-Request-Id")
	if got != "edge-42" {
		t.Fatalf("propagated id = %q", got)
	}
}

func TestNewHandler_HealthRoutes(t *testing.T) {
	var gate health.ShutdownGate
	opts := prodOpts()
	opts.Health = health.Fixed(true, "")
	opts.Readiness = gate.Probe()
	opts.Site = registrarFunc(func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	})
	h := NewHandler(opts)

	tests := []struct {
		path string
		want int
	}{
		{"/-/ping", http.StatusOK},
		{"/-/healthy", http.StatusOK},
		{"/-/ready", http.StatusOK},
		{"/nothing", http.StatusTeapot},
	}
	for _, tt := range tests {
		if rec := do(h, http.MethodGet, tt.path, nil); rec.Code != tt.want {
			t.Errorf("%s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	gate.Set("draining")
	if rec := do(h, http.MethodGet, "/-/ready", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while draining = %d", rec.Code)
	}
}

func TestNewHandler_APIRoutesBeforeSiteFallback(t *testing.T) {
	opts := prodOpts()
	opts.APIRoutes = []RouteRegistrar{
		registrarFunc(func(r chi.Router) {
			r.Get("/api/a", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "a") })
		}),
		nil,
		registrarFunc(func(r chi.Router) {
			r.Get("/api/b", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "b") })
		}),
	}
	opts.Site = registrarFunc(func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "site")
		})
	})
	h := NewHandler(opts)

	for path, want := range map[string]string{"/api/a": "a", "/api/b": "b", "/api/c": "site"} {
		if got := do(h, http.MethodGet, path, nil).Body.String(); got != want {
			t.Errorf("%s body = %q, want %q", path, got, want)
		}
	}
}

func TestNewHandler_MiddlewareSeesResolvedClient(t *testing.T) {
	var burstIP, guardIP, guardReqID string
	opts := prodOpts()
	opts.BurstMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			burstIP = httpmw.ClientIPFromContext(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	opts.GuardMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guardIP = httpmw.ClientIPFromContext(r.Context())
			guardReqID = httpmw.RequestIDFromContext(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(opts)

	req := httptest.NewRequest(http.MethodGet, "/-/ping", nil)
	req.RemoteAddr = "198.51.100.9:4444"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if burstIP != "198.51.100.9" || guardIP != "198.51.100.9" {
		t.Fatalf("burst=%q guard=%q", burstIP, guardIP)
	}
	if guardReqID == "" {
		t.Fatal("request id missing in guard")
	}
}

func TestNewHandler_CORSOnlyForAPI(t *testing.T) {
	guardCalls := 0
	opts := prodOpts()
	opts.CORSOrigins = []string{"https://app.example.com"}
	opts.GuardMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guardCalls++
			next.ServeHTTP(w, r)
		})
	}
	opts.APIRoutes = []RouteRegistrar{registrarFunc(func(r chi.Router) {
		r.Post("/api/things", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) })
	})}
	h := NewHandler(opts)

	preflight := map[string]string{
		"Origin":                         "https://app.example.com",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "X-CSRF-Token",
	}
	rec := do(h, http.MethodOptions, "/api/things", preflight)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("preflight allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials not allowed")
	}
	if guardCalls != 0 {
		t.Fatal("preflight reached the guard")
	}

	rec = do(h, http.MethodGet, "/-/ping", map[string]string{"Origin": "https://app.example.com"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("CORS applied outside /api/")
	}

	rec = do(h, http.MethodPost, "/api/things", map[string]string{"Origin": "https://evil.example"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin allowed")
	}
}

func TestNewHandler_Recover(t *testing.T) {
	panics := 0
	opts := prodOpts()
	opts.UseRecoverMW = true
	opts.OnPanic = func() { panics++ }
	opts.APIRoutes = []RouteRegistrar{registrarFunc(func(r chi.Router) {
		r.Get("/api/boom", func(http.ResponseWriter, *http.Request) { panic(errors.New("boom")) })
	})}
	h := NewHandler(opts)

	rec := do(h, http.MethodGet, "/api/boom", nil)
	if rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status=%d panics=%d", rec.Code, panics)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_SERVER_ERROR") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("panic response lost security headers")
	}
}

func TestNewHandler_PolicyHeaders(t *testing.T) {
	opts := prodOpts()
	opts.Policy = stubPolicy{}
	rec := do(NewHandler(opts), http.MethodGet, "/-/ping", nil)
	if rec.Header().Get("X-Security-Policy-Version") != "2026-10-01" {
		t.Fatalf("version = %q", rec.Header().Get("X-Security-Policy-Version"))
	}
	if rec.Header().Get("X-Security-Policy-Hash") != "0123456789ab" {
		t.Fatalf("hash = %q", rec.Header().Get("X-Security-Policy-Hash"))
	}
}

func TestNewHandler_MaxBody(t *testing.T) {
	opts := prodOpts()
	opts.MaxBodyBytes = 8
	opts.APIRoutes = []RouteRegistrar{registrarFunc(func(r chi.Router) {
		r.Post("/api/echo", func(w http.ResponseWriter, r *http.Request) {
			if _, err := io.ReadAll(r.Body); err != nil {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	})}
	h := NewHandler(opts)

	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNewHandler_RejectsTraversal(t *testing.T) {
	opts := prodOpts()
	opts.APIRoutes = []RouteRegistrar{registrarFunc(func(r chi.Router) {
		r.Get("/api/*", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	})}
	h := NewHandler(opts)

	rec := do(h, http.MethodGet, "/api/%2e%2e/admin", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing on rejected path")
	}
	if rec := do(h, http.MethodGet, "/api/anything", nil); rec.Code != http.StatusOK {
		t.Errorf("clean path status = %d", rec.Code)
	}
}

func TestNewHandler_CompressesJSON(t *testing.T) {
	payload := `{"data":"` + strings.Repeat("x", 2048) + `"}`
	opts := prodOpts()
	opts.APIRoutes = []RouteRegistrar{registrarFunc(func(r chi.Router) {
		r.Get("/api/big", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, payload)
		})
	})}
	h := NewHandler(opts)

	rec := do(h, http.MethodGet, "/api/big", map[string]string{"Accept-Encoding": "gzip"})
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	b, _ := io.ReadAll(zr)
	if string(b) != payload {
		t.Fatal("decompressed body mismatch")
	}

	if rec := do(h, http.MethodGet, "/api/big", nil); rec.Header().Get("Content-Encoding") != "" {
		t.Fatal("compressed without Accept-Encoding")
	}
}

func TestShouldTrace(t *testing.T) {
	for p, want := range map[string]bool{
		"/":                 true,
		"/api/secure/users": true,
		"/-/ready":          false,
		"/favicon.svg":      false,
		"/static/site.css":  false,
		"/robots.txt":       false,
	} {
		if got := shouldTrace(p); got != want {
			t.Errorf("shouldTrace(%q) = %v", p, got)
		}
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.ReadTimeout != DefaultReadTimeout ||
		srv.WriteTimeout != DefaultWriteTimeout || srv.IdleTimeout != DefaultIdleTimeout ||
		srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("server = %+v", srv)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStart_Lifecycle(t *testing.T) {
	opts := prodOpts()
	opts.Port = freePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/-/ping", opts.Port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("live response = %d", resp.StatusCode)
	}

	if _, err := Start(ctx, opts); err == nil {
		t.Fatal("second Start on the same port should fail")
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := stop(sctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still serving after stop")
	}
}
