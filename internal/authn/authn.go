// Package authn looks up the authenticated principal for a request.
// Authentication itself happens upstream; this package only consumes the
// result.
package authn

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/keithlinneman/webguard/internal/apierr"
)

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Email string
}

// Authenticator resolves the principal for r. ok is false for anonymous requests.
type Authenticator interface {
	Authenticate(r *http.Request) (p Principal, ok bool)
}

// ProxyHeader trusts identity headers set by an auth proxy, and only when
// the request arrived from a private or loopback peer.
type ProxyHeader struct {
	// Header carries the principal id, e.g. X-Auth-Request-User
	Header string
	// EmailHeader is optional
	EmailHeader string
}

var principalPattern = regexp.MustCompile(`^[A-Za-z0-9._@:+-]{1,256}$`)

func (p ProxyHeader) Authenticate(r *http.Request) (Principal, bool) {
	if p.Header == "" || !privatePeer(r.RemoteAddr) {
		return Principal{}, false
	}
	id := strings.TrimSpace(r.Header.Get(p.Header))
	if !principalPattern.MatchString(id) {
		return Principal{}, false
	}
	pr := Principal{ID: id}
	if p.EmailHeader != "" {
		if e := strings.TrimSpace(r.Header.Get(p.EmailHeader)); principalPattern.MatchString(e) {
			pr.Email = e
		}
	}
	return pr, true
}

func privatePeer(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback())
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Middleware stores the principal, when there is one, in the request context.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := a.Authenticate(r); ok {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require answers 401 for anonymous requests.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			apierr.Respond(w, apierr.Unauthorized(""))
			return
		}
		next.ServeHTTP(w, r)
	})
}
