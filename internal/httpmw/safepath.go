package httpmw

import (
	"net/http"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/pathutil"
)

// SafePath refuses traversal-shaped paths with a 400 envelope before routing.
func SafePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pathutil.Unsafe(r.URL.Path, r.URL.EscapedPath()) {
			ctx := r.Context()
			log.FromContext(ctx).Warn(ctx, "rejected unsafe request path")
			apierr.Respond(w, apierr.BadRequest("Invalid request path"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
