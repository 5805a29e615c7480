package httpmw

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
)

// Directive is one CSP directive; Sources may be empty for flag directives
// such as upgrade-insecure-requests.
type Directive struct {
	Name    string   `yaml:"name"`
	Sources []string `yaml:"sources"`
}

type CSPPolicy struct {
	Enabled    bool        `yaml:"enabled"`
	ReportOnly bool        `yaml:"report_only"`
	Directives []Directive `yaml:"directives"`
	// Nonce adds a per-request 'nonce-...' source to script-src
	Nonce bool `yaml:"nonce"`
}

type HSTSPolicy struct {
	Enabled           bool `yaml:"enabled"`
	MaxAgeSeconds     int  `yaml:"max_age_seconds"`
	IncludeSubDomains bool `yaml:"include_subdomains"`
	Preload           bool `yaml:"preload"`
}

// Permission is one Permissions-Policy feature and its allowlist.
type Permission struct {
	Feature   string   `yaml:"feature"`
	Allowlist []string `yaml:"allowlist"`
}

// HeaderPolicy is the set of security headers stamped on every response.
type HeaderPolicy struct {
	CSP                CSPPolicy    `yaml:"csp"`
	HSTS               HSTSPolicy   `yaml:"hsts"`
	FrameOptions       string       `yaml:"frame_options"`
	ContentTypeOptions bool         `yaml:"content_type_options"`
	ReferrerPolicy     string       `yaml:"referrer_policy"`
	PermissionsPolicy  []Permission `yaml:"permissions_policy"`
}

const hstsDefaultMaxAge = 31536000

var oauthConnectSources = []string{
	"https://api.github.com",
	"https://accounts.google.com",
	"https://login.microsoftonline.com",
}

func baseDirectives(scriptSrc, connectSrc []string) []Directive {
	return []Directive{
		{"default-src", []string{"'self'"}},
		{"script-src", scriptSrc},
		{"style-src", []string{"'self'", "'unsafe-inline'"}},
		{"img-src", []string{"'self'", "data:", "https:", "blob:"}},
		{"font-src", []string{"'self'", "data:"}},
		{"connect-src", connectSrc},
		{"frame-ancestors", []string{"'none'"}},
		{"base-uri", []string{"'self'"}},
		{"form-action", []string{"'self'"}},
		{"object-src", []string{"'none'"}},
		{"media-src", []string{"'self'"}},
		{"worker-src", []string{"'self'", "blob:"}},
		{"manifest-src", []string{"'self'"}},
	}
}

func lockedDownPermissions() []Permission {
	features := []string{"accelerometer", "camera", "geolocation", "gyroscope", "magnetometer", "microphone", "payment", "usb"}
	out := make([]Permission, 0, len(features))
	for _, f := range features {
		out = append(out, Permission{Feature: f, Allowlist: []string{"'none'"}})
	}
	return out
}

// DevelopmentHeaders is the local profile: report-only CSP that admits hot
// reload and dev tooling sources, and no HSTS.
func DevelopmentHeaders() HeaderPolicy {
	connect := append([]string{"'self'", "ws://localhost:*", "http://localhost:*"}, oauthConnectSources...)
	return HeaderPolicy{
		CSP: CSPPolicy{
			Enabled:    true,
			ReportOnly: true,
			Directives: baseDirectives([]string{"'self'", "'unsafe-eval'", "'unsafe-inline'", "webpack://"}, connect),
		},
		HSTS:               HSTSPolicy{Enabled: false, MaxAgeSeconds: hstsDefaultMaxAge, IncludeSubDomains: true, Preload: true},
		FrameOptions:       "DENY",
		ContentTypeOptions: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		PermissionsPolicy:  lockedDownPermissions(),
	}
}

// ProductionHeaders enforces CSP with upgrade-insecure-requests and sends HSTS.
func ProductionHeaders() HeaderPolicy {
	connect := append([]string{"'self'"}, oauthConnectSources...)
	dirs := append(baseDirectives([]string{"'self'", "'unsafe-eval'"}, connect), Directive{Name: "upgrade-insecure-requests"})
	return HeaderPolicy{
		CSP:                CSPPolicy{Enabled: true, ReportOnly: false, Directives: dirs},
		HSTS:               HSTSPolicy{Enabled: true, MaxAgeSeconds: hstsDefaultMaxAge, IncludeSubDomains: true, Preload: true},
		FrameOptions:       "DENY",
		ContentTypeOptions: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		PermissionsPolicy:  lockedDownPermissions(),
	}
}

// HeaderProfile returns the production profile when production is true.
func HeaderProfile(production bool) HeaderPolicy {
	if production {
		return ProductionHeaders()
	}
	return DevelopmentHeaders()
}

// Value renders the directives in order, e.g. "default-src 'self'; upgrade-insecure-requests".
// A non-empty nonce is appended to script-src.
func (c CSPPolicy) Value(nonce string) string {
	parts := make([]string, 0, len(c.Directives))
	for _, d := range c.Directives {
		srcs := d.Sources
		if nonce != "" && d.Name == "script-src" {
			srcs = append(append([]string(nil), srcs...), "'nonce-"+nonce+"'")
		}
		if len(srcs) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		parts = append(parts, d.Name+" "+strings.Join(srcs, " "))
	}
	return strings.Join(parts, "; ")
}

// HeaderName is the enforcing or report-only CSP header name.
func (c CSPPolicy) HeaderName() string {
	if c.ReportOnly {
		return "Content-Security-Policy-Report-Only"
	}
	return "Content-Security-Policy"
}

func (h HSTSPolicy) Value() string {
	maxAge := h.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = hstsDefaultMaxAge
	}
	v := "max-age=" + strconv.Itoa(maxAge)
	if h.IncludeSubDomains {
		v += "; includeSubDomains"
	}
	if h.Preload {
		v += "; preload"
	}
	return v
}

// PermissionsValue renders "feature=(allowlist), ..." in order.
func PermissionsValue(perms []Permission) string {
	parts := make([]string, 0, len(perms))
	for _, p := range perms {
		parts = append(parts, p.Feature+"=("+strings.Join(p.Allowlist, " ")+")")
	}
	return strings.Join(parts, ", ")
}

// ApplyHeaders writes the policy headers into h.
func ApplyHeaders(h http.Header, p HeaderPolicy) { applyHeaders(h, p, "") }

func applyHeaders(h http.Header, p HeaderPolicy, nonce string) {
	if p.CSP.Enabled {
		h.Set(p.CSP.HeaderName(), p.CSP.Value(nonce))
	}
	if p.HSTS.Enabled {
		h.Set("Strict-Transport-Security", p.HSTS.Value())
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if len(p.PermissionsPolicy) > 0 {
		h.Set("Permissions-Policy", PermissionsValue(p.PermissionsPolicy))
	}

	h.Set("X-DNS-Prefetch-Control", "off")
	h.Set("X-Download-Options", "noopen")
	h.Set("X-Permitted-Cross-Domain-Policies", "none")
	h.Del("Server")
	h.Del("X-Powered-By")
}

type cspNonceKey struct{}

// CSPNonceFromContext returns the nonce added to script-src for this request, if any.
func CSPNonceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(cspNonceKey{}).(string)
	return s
}

// CSPNonce returns 16 random bytes, base64 encoded.
func CSPNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// SecurityHeaders stamps p on every response, including ones produced by
// inner middleware that short-circuits, and strips server identification
// headers set by handlers.
func SecurityHeaders(p HeaderPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce := ""
			if p.CSP.Enabled && p.CSP.Nonce {
				if n, err := CSPNonce(); err == nil {
					nonce = n
					r = r.WithContext(context.WithValue(r.Context(), cspNonceKey{}, n))
				}
			}
			applyHeaders(w.Header(), p, nonce)
			next.ServeHTTP(&identityScrubber{ResponseWriter: w}, r)
		})
	}
}

// identityScrubber drops Server / X-Powered-By right before headers are sent
type identityScrubber struct {
	http.ResponseWriter
	wrote bool
}

func (s *identityScrubber) scrub() {
	if s.wrote {
		return
	}
	s.wrote = true
	h := s.ResponseWriter.Header()
	h.Del("Server")
	h.Del("X-Powered-By")
}

func (s *identityScrubber) WriteHeader(code int) {
	s.scrub()
	s.ResponseWriter.WriteHeader(code)
}

func (s *identityScrubber) Write(b []byte) (int, error) {
	s.scrub()
	return s.ResponseWriter.Write(b)
}

func (s *identityScrubber) Flush() {
	s.scrub()
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *identityScrubber) Unwrap() http.ResponseWriter { return s.ResponseWriter }
