package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PolicyInfo describes the security policy document currently in force.
type PolicyInfo interface {
	PolicyVersion() string
	PolicyHash() string
}

// PolicyHeaders adds X-Security-Policy-Version and a short policy hash to
// responses and the active span, so rejections can be tied to the rules
// that produced them.
func PolicyHeaders(info PolicyInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}
			v, h := info.PolicyVersion(), info.PolicyHash()
			if v != "" {
				w.Header().Set("X-Security-Policy-Version", v)
			}
			if len(h) > 12 {
				h = h[:12]
			}
			if h != "" {
				w.Header().Set("X-Security-Policy-Hash", h)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("security.policy.version", v),
					attribute.String("security.policy.hash", h),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
