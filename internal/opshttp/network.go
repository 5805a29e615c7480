package opshttp

import (
	"net"
	"net/http"

	"github.com/keithlinneman/webguard/internal/log"
)

// requireNonPublicNetwork serves only peers on loopback, private or
// link-local addresses. A forwarded request means the admin port was put
// behind a public proxy, so those are refused too.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		ip := net.ParseIP(host)
		if err != nil || ip == nil {
			L.Warn(r.Context(), "admin request with unparseable peer", "network.peer.address", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) || r.Header.Get("X-Forwarded-For") != "" {
			L.Warn(r.Context(), "admin request from public network refused",
				"network.peer.address", host,
				"url.path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
