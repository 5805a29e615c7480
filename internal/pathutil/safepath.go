// Package pathutil holds request path checks shared by the router and guards.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// Unsafe reports whether a request path should be refused before routing:
// dot segments in either the decoded or the raw (escaped) form, NUL bytes,
// and backslashes that some backends treat as separators.
func Unsafe(decoded, raw string) bool {
	if strings.ContainsAny(decoded, "\x00\\") {
		return true
	}
	if HasDotSegments(decoded) {
		return true
	}
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "%00") || strings.Contains(lower, "%5c") {
		return true
	}
	return HasDotSegments(strings.ReplaceAll(lower, "%2e", "."))
}
