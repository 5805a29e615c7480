package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/webguard/internal/health"
	"github.com/keithlinneman/webguard/internal/httpmw"
	"github.com/keithlinneman/webguard/internal/log"
)

// RouteRegistrar mounts a group of routes on the public router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger log.Logger
	Port   int

	// Headers is stamped on every response, rejections included.
	Headers httpmw.HeaderPolicy
	// Policy adds X-Security-Policy-Version/Hash when set.
	Policy       httpmw.PolicyInfo
	ClientIPOpts httpmw.ClientIPOptions

	UseRecoverMW bool
	OnPanic      func()

	// BurstMW is the per-ip token bucket run before tracing and logging.
	BurstMW func(http.Handler) http.Handler
	// GuardMW is the tiered rate limit and CSRF pipeline.
	GuardMW   func(http.Handler) http.Handler
	MetricsMW func(http.Handler) http.Handler

	// CORSOrigins enables CORS for /api/ when non-empty.
	CORSOrigins  []string
	MaxBodyBytes int64

	Health    health.Probe
	Readiness health.Probe

	APIRoutes []RouteRegistrar
	// Site is registered last and owns NotFound and MethodNotAllowed.
	Site RouteRegistrar
}
