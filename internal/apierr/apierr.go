// Package apierr renders errors as the JSON error envelope shared by every
// API endpoint and by the security middleware:
//
//	{"error":{"message":"...","code":"...","statusCode":403}}
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/validate"
)

// ErrUnauthenticated marks errors that should surface as 401.
var ErrUnauthenticated = errors.New("authentication required")

// Error is an error with an HTTP status and machine readable code.
type Error struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Details    any    `json:"details,omitempty"`
	// RetryAfter is in seconds; rendered for rate limit rejections only
	RetryAfter int `json:"retryAfter,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// New builds an Error; an empty code is derived from status.
func New(status int, message, code string) *Error {
	if code == "" {
		code = DefaultCode(status)
	}
	return &Error{Message: message, Code: code, StatusCode: status}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// DefaultCode maps a status to its envelope code.
func DefaultCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	case http.StatusTooManyRequests:
		return "TOO_MANY_REQUESTS"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

type envelope struct {
	Error *Error `json:"error"`
}

// Respond writes e as the error envelope with e.StatusCode.
func Respond(w http.ResponseWriter, e *Error) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if e.RetryAfter > 0 && h.Get("Retry-After") == "" {
		h.Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(envelope{Error: e})
}

// Responder converts arbitrary handler errors to envelopes.
// Development exposes the message of unexpected errors to the client.
type Responder struct {
	Development bool
}

// Write classifies err and writes the matching envelope. Unexpected errors
// are logged with the request-scoped logger.
func (rs Responder) Write(ctx context.Context, w http.ResponseWriter, err error) {
	e := rs.classify(err)
	if e.StatusCode >= http.StatusInternalServerError {
		log.FromContext(ctx).Error(ctx, err, "api error", "status", e.StatusCode, "code", e.Code)
	} else {
		log.FromContext(ctx).Debug(ctx, "api error", "status", e.StatusCode, "code", e.Code, "err", err.Error())
	}
	Respond(w, e)
}

func (rs Responder) classify(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var ve *validate.Errors
	if errors.As(err, &ve) {
		if ve.Code == validate.CodeInvalidJSON {
			return New(http.StatusBadRequest, ve.Message, ve.Code)
		}
		return New(http.StatusUnprocessableEntity, ve.Message, ve.Code).WithDetails(ve.Issues)
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return New(http.StatusRequestEntityTooLarge, "Request body too large", "PAYLOAD_TOO_LARGE")
	}
	if errors.Is(err, ErrUnauthenticated) {
		return Unauthorized("")
	}
	if rs.Development {
		return Internal(err.Error())
	}
	return Internal("")
}

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler adapts fn to http.Handler, writing returned errors as envelopes.
func (rs Responder) Handler(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			rs.Write(r.Context(), w, err)
		}
	})
}

// Handler uses a production Responder.
func Handler(fn HandlerFunc) http.Handler {
	return Responder{}.Handler(fn)
}

// Write uses a production Responder.
func Write(ctx context.Context, w http.ResponseWriter, err error) {
	Responder{}.Write(ctx, w, err)
}

// factories

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func NotFound(resource string) *Error {
	return New(http.StatusNotFound, or(resource, "Resource")+" not found", "NOT_FOUND")
}

func Unauthorized(msg string) *Error {
	return New(http.StatusUnauthorized, or(msg, "Authentication required"), "UNAUTHORIZED")
}

func Forbidden(msg string) *Error {
	return New(http.StatusForbidden, or(msg, "Access denied"), "FORBIDDEN")
}

func BadRequest(msg string) *Error {
	return New(http.StatusBadRequest, or(msg, "Invalid request"), "BAD_REQUEST")
}

func Validation(msg string) *Error {
	return New(http.StatusUnprocessableEntity, or(msg, "Validation failed"), "VALIDATION_ERROR")
}

func Conflict(msg string) *Error {
	return New(http.StatusConflict, or(msg, "Resource conflict"), "CONFLICT")
}

func RateLimited(msg string) *Error {
	return New(http.StatusTooManyRequests, or(msg, "Too many requests"), "TOO_MANY_REQUESTS")
}

func Internal(msg string) *Error {
	return New(http.StatusInternalServerError, or(msg, "Internal server error"), "INTERNAL_SERVER_ERROR")
}
