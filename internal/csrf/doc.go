// Package csrf implements the double-submit cookie pattern with signed tokens.
//
// A token is hex(random bytes) + "." + hex(MAC(token)). It is set in a
// readable cookie and echoed by the client in a request header (or the _csrf
// form field). Unsafe requests must present the same validly signed token in
// both places. No server-side state is kept.
package csrf
