package csrf

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/cryptoutil"
	"github.com/keithlinneman/webguard/internal/log"
)

const (
	DefaultTokenLength = 32

	CodeMissing  = "CSRF_TOKEN_MISSING"
	CodeRequired = "CSRF_TOKEN_REQUIRED"
	CodeInvalid  = "CSRF_TOKEN_INVALID"

	// urlencoded bodies are read up to this size when looking for the form
	// field; Check runs before the router's body cap
	maxFormBytes = 1 << 20
)

// Config controls token size, where tokens travel and which requests are checked.
type Config struct {
	TokenLength    int
	CookieName     string
	HeaderName     string
	FormFieldName  string
	SameSite       http.SameSite
	Secure         bool
	HTTPOnly       bool
	MaxAge         time.Duration
	SafeMethods    []string
	ExemptPrefixes []string
}

// DefaultConfig returns the stock settings; Secure should be set in production.
func DefaultConfig() Config {
	return Config{
		TokenLength:    DefaultTokenLength,
		CookieName:     "csrf-token",
		HeaderName:     "x-csrf-token",
		FormFieldName:  "_csrf",
		SameSite:       http.SameSiteLaxMode,
		HTTPOnly:       false,
		MaxAge:         24 * time.Hour,
		SafeMethods:    []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		ExemptPrefixes: []string{"/api/auth/"},
	}
}

// Guard checks and issues tokens.
type Guard struct {
	cfg    Config
	signer Signer

	onReject func(r *http.Request, e *apierr.Error)
	onIssue  func()
}

type Option func(*Guard)

// WithOnReject runs for every rejected request (metrics, audit).
func WithOnReject(fn func(r *http.Request, e *apierr.Error)) Option {
	return func(g *Guard) { g.onReject = fn }
}

// WithOnIssue runs after a token was issued.
func WithOnIssue(fn func()) Option {
	return func(g *Guard) { g.onIssue = fn }
}

// New builds a Guard. Empty Config fields take DefaultConfig values.
func New(cfg Config, signer Signer, opts ...Option) *Guard {
	def := DefaultConfig()
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = def.TokenLength
	}
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = def.FormFieldName
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = def.SameSite
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = def.SafeMethods
	}
	if cfg.ExemptPrefixes == nil {
		cfg.ExemptPrefixes = def.ExemptPrefixes
	}
	g := &Guard{cfg: cfg, signer: signer}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) Config() Config { return g.cfg }

func (g *Guard) safe(method string) bool {
	for _, m := range g.cfg.SafeMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Exempt reports whether path is under an exempt prefix.
func (g *Guard) Exempt(path string) bool {
	for _, p := range g.cfg.ExemptPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Check returns nil when r may proceed, otherwise the 403 to answer with.
func (g *Guard) Check(r *http.Request) *apierr.Error {
	if g.safe(r.Method) || g.Exempt(r.URL.Path) {
		return nil
	}

	cookie := g.cookieToken(r)
	if cookie == "" {
		return apierr.New(http.StatusForbidden, "CSRF token missing", CodeMissing)
	}
	submitted := g.submittedToken(r)
	if submitted == "" {
		return apierr.New(http.StatusForbidden, "CSRF token required", CodeRequired)
	}

	invalid := apierr.New(http.StatusForbidden, "Invalid CSRF token", CodeInvalid)
	if !cryptoutil.HashEqual(cookie, submitted) {
		return invalid
	}
	// the two are identical, one verification covers both
	ok, err := VerifySignedToken(r.Context(), g.signer, cookie)
	if err != nil {
		ctx := r.Context()
		log.FromContext(ctx).Error(ctx, err, "csrf token verification failed")
	}
	if !ok {
		return invalid
	}
	return nil
}

func (g *Guard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// submittedToken reads the header, falling back to the form field for
// urlencoded posts. Multipart bodies are never parsed here.
func (g *Guard) submittedToken(r *http.Request) string {
	if v := r.Header.Get(g.cfg.HeaderName); v != "" {
		return v
	}
	if g.cfg.FormFieldName == "" || r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/x-www-form-urlencoded" {
		return ""
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostForm.Get(g.cfg.FormFieldName)
}

// Issue mints a token, sets the cookie and mirrors the token in the
// response header.
func (g *Guard) Issue(ctx context.Context, w http.ResponseWriter) (string, error) {
	token, err := CreateSignedToken(ctx, g.signer, g.cfg.TokenLength)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.cfg.MaxAge / time.Second),
		Expires:  time.Now().Add(g.cfg.MaxAge),
		HttpOnly: g.cfg.HTTPOnly,
		Secure:   g.cfg.Secure,
		SameSite: g.cfg.SameSite,
	})
	w.Header().Set(g.cfg.HeaderName, token)
	if g.onIssue != nil {
		g.onIssue()
	}
	return token, nil
}

// Reject answers with e and runs the reject hook.
func (g *Guard) Reject(w http.ResponseWriter, r *http.Request, e *apierr.Error) {
	if g.onReject != nil {
		g.onReject(r, e)
	}
	apierr.Respond(w, e)
}

// Middleware rejects requests failing Check with 403.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e := g.Check(r); e != nil {
			g.Reject(w, r, e)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ValidatePlain is the unsigned double-submit check: the cookie and header
// are present and equal. Use Check where tokens are signed.
func (g *Guard) ValidatePlain(r *http.Request) bool {
	cookie := g.cookieToken(r)
	header := r.Header.Get(g.cfg.HeaderName)
	return cookie != "" && header != "" && cryptoutil.HashEqual(cookie, header)
}

// Handler issues a token and returns it as {"token": "..."} for script clients.
func (g *Guard) Handler() http.Handler {
	return apierr.Handler(func(w http.ResponseWriter, r *http.Request) error {
		token, err := g.Issue(r.Context(), w)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		return json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}
