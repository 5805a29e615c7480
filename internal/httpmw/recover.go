package httpmw

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/xerrors"
)

// Recover turns handler panics into a logged error and a 500 envelope.
// onPanic, when non-nil, runs after logging (metrics hook).
// http.ErrAbortHandler is re-panicked so net/http can abort the connection quietly.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.WithStack(v)
				default:
					err = xerrors.New(fmt.Sprint(v))
				}

				ctx := r.Context()
				L.Error(ctx, err, "panic in http handler",
					"request_id", RequestIDFromContext(ctx),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if onPanic != nil {
					onPanic()
				}
				apierr.Respond(w, apierr.Internal(""))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
