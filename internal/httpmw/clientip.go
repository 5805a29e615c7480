package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies appending to
	// X-Forwarded-For. 0 ignores the header, 1 takes the rightmost entry
	// (single load balancer), 2 the second from the end, and so on.
	TrustedHops int

	// TrustedHeader names a single-value header (X-Real-IP, CF-Connecting-IP)
	// set by the edge. It is consulted before X-Forwarded-For and only for
	// requests arriving from a private peer.
	TrustedHeader string
}

// ClientIP uses default options: no trusted proxies, forwarded headers are ignored.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions resolves the client address once per request and
// stores it in the context for rate limiting, logging and audit.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	trusted := http.CanonicalHeaderKey(strings.TrimSpace(opts.TrustedHeader))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops, trusted)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func stripForwarded(r *http.Request, trustedHeader string) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
	if trustedHeader != "" {
		r.Header.Del(trustedHeader)
	}
}

// resolveClientIP trusts forwarding headers only from private peers; public
// peers have them stripped so nothing downstream reads spoofed values.
func resolveClientIP(r *http.Request, trustedHops int, trustedHeader string) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return "0.0.0.0"
	}
	if !ip.IsPrivate() && !ip.IsLoopback() {
		stripForwarded(r, trustedHeader)
		return peer
	}

	if trustedHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(trustedHeader)); net.ParseIP(v) != nil {
			return v
		}
	}

	if trustedHops <= 0 {
		stripForwarded(r, trustedHeader)
		return peer
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return peer
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than configured proxies: fail closed
		stripForwarded(r, trustedHeader)
		return peer
	}
	if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
		return candidate
	}
	return peer
}

// ClientIPFromContext returns the resolved client address, or "" before ClientIP ran.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
