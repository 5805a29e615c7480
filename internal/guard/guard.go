// Package guard is the per-request security pipeline that runs ahead of
// the router: a rate limit tier chosen by path, the CSRF double-submit
// check, and CSRF cookie issuance on page loads.
package guard

import (
	"net/http"
	"path"
	"strings"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/audit"
	"github.com/keithlinneman/webguard/internal/csrf"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/policy"
	"github.com/keithlinneman/webguard/internal/ratelimit"
	"github.com/keithlinneman/webguard/internal/xerrors"
)

const (
	apiPrefix  = "/api/"
	authPrefix = "/api/auth/"
)

// Recorder receives rejection counts. *metrics.ServerMetrics satisfies it.
type Recorder interface {
	IncRateLimited(tier string)
	IncRateLimitStoreError(tier string)
	IncCSRFRejected(reason string)
	IncCSRFIssued()
}

type nopRecorder struct{}

func (nopRecorder) IncRateLimited(string)         {}
func (nopRecorder) IncRateLimitStoreError(string) {}
func (nopRecorder) IncCSRFRejected(string)        {}
func (nopRecorder) IncCSRFIssued()                {}

type Options struct {
	// Store backs every tier; nil gives each tier its own MemoryStore
	Store  ratelimit.Store
	Policy *policy.Policy
	CSRF   csrf.Config
	Signer csrf.Signer

	Recorder Recorder
	Audit    audit.Sink
}

// Pipeline holds the tiers and the CSRF guard.
type Pipeline struct {
	def, auth, api *ratelimit.FixedWindow
	csrf           *csrf.Guard
}

// New builds the tiers from the policy and hooks rejections into
// metrics, audit and the request logger.
func New(opts Options) (*Pipeline, error) {
	if opts.Signer == nil {
		return nil, xerrors.New("guard: csrf signer is required")
	}
	if opts.Policy == nil {
		opts.Policy = policy.Builtin()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	rec, sink := opts.Recorder, opts.Audit

	tier := func(base ratelimit.Config) *ratelimit.FixedWindow {
		cfg := opts.Policy.Tier(base)
		o := []ratelimit.Option{
			ratelimit.WithOnDenied(func(r *http.Request, d ratelimit.Decision) {
				rec.IncRateLimited(d.Name)
				ctx := r.Context()
				log.FromContext(ctx).Warn(ctx, "rate limit exceeded",
					"limiter", d.Name,
					"limit", d.Limit,
					"retry_after_seconds", d.RetryAfterSeconds(),
				)
				sink.Emit(ctx, audit.FromRequest(r, audit.TypeRateLimited, d.Name, d.StatusCode))
			}),
			ratelimit.WithOnStoreError(func(error) { rec.IncRateLimitStoreError(cfg.Name) }),
		}
		if opts.Store != nil {
			o = append(o, ratelimit.WithStore(opts.Store))
		}
		return ratelimit.NewFixedWindow(cfg, o...)
	}

	ccfg := opts.CSRF
	ccfg.ExemptPrefixes = opts.Policy.ExemptPrefixes(ccfg.ExemptPrefixes)
	g := csrf.New(ccfg, opts.Signer,
		csrf.WithOnReject(func(r *http.Request, e *apierr.Error) {
			rec.IncCSRFRejected(e.Code)
			ctx := r.Context()
			log.FromContext(ctx).Warn(ctx, "csrf check failed", "code", e.Code)
			sink.Emit(ctx, audit.FromRequest(r, audit.TypeCSRFRejected, e.Code, e.StatusCode))
		}),
		csrf.WithOnIssue(rec.IncCSRFIssued),
	)

	return &Pipeline{
		def:  tier(ratelimit.Default),
		auth: tier(ratelimit.Auth),
		api:  tier(ratelimit.API),
		csrf: g,
	}, nil
}

// CSRF exposes the guard for the token endpoint.
func (p *Pipeline) CSRF() *csrf.Guard { return p.csrf }

// Tier returns the limiter applied to urlPath.
func (p *Pipeline) Tier(urlPath string) *ratelimit.FixedWindow {
	switch {
	case strings.HasPrefix(urlPath, authPrefix):
		return p.auth
	case strings.HasPrefix(urlPath, apiPrefix):
		return p.api
	default:
		return p.def
	}
}

// load balancer probes live under /-/ and must never be throttled
const probePrefix = "/-/"

var staticPrefixes = []string{"/_next/static", "/_next/image", "/static/", "/favicon.ico"}

var staticExtensions = map[string]bool{
	".svg": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// IsStatic reports whether urlPath is a static asset that skips the pipeline.
func IsStatic(urlPath string) bool {
	for _, p := range staticPrefixes {
		if strings.HasPrefix(urlPath, p) {
			return true
		}
	}
	return staticExtensions[strings.ToLower(path.Ext(urlPath))]
}

// needsCSRF: everything outside the auth provider's routes that changes
// state or targets the API.
func needsCSRF(r *http.Request) bool {
	p := r.URL.Path
	if strings.HasPrefix(p, authPrefix) {
		return false
	}
	return r.Method != http.MethodGet || strings.HasPrefix(p, apiPrefix)
}

// Middleware runs the pipeline. Denials short-circuit with 429 or 403.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlPath := r.URL.Path
		if IsStatic(urlPath) || strings.HasPrefix(urlPath, probePrefix) {
			next.ServeHTTP(w, r)
			return
		}

		d := p.Tier(urlPath).Check(r)
		if !d.Allowed {
			ratelimit.WriteDenied(w, d)
			return
		}
		ratelimit.SetHeaders(w.Header(), d)

		if needsCSRF(r) {
			if e := p.csrf.Check(r); e != nil {
				p.csrf.Reject(w, r, e)
				return
			}
		}

		if r.Method == http.MethodGet && !strings.HasPrefix(urlPath, apiPrefix) {
			if _, err := p.csrf.Issue(r.Context(), w); err != nil {
				ctx := r.Context()
				log.FromContext(ctx).Error(ctx, err, "issue csrf token")
			}
		}
		next.ServeHTTP(w, r)
	})
}
