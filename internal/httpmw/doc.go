// Package httpmw provides HTTP middleware for the public-facing server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP extraction, burst guard, OTel tracing,
// trace response headers, metrics, request logger, policy headers, then the
// guard pipeline and the chi router (compression, route annotation, access log,
// body limit).
//
// Security headers sit outside everything else so 403 and 429 responses
// produced further in carry the same CSP and HSTS as successful ones.
// Query strings, user agents and other client-supplied headers stay out of logs.
package httpmw
