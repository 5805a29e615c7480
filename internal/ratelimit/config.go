package ratelimit

import (
	"net/http"
	"time"

	"github.com/keithlinneman/webguard/internal/httpmw"
)

// KeyFunc derives the counter key for a request.
type KeyFunc func(r *http.Request) string

// Config describes one fixed or sliding window limit.
type Config struct {
	// Name labels metrics, logs and audit events ("default", "auth", ...)
	Name       string
	Window     time.Duration
	Max        int64
	Message    string
	StatusCode int
	KeyFunc    KeyFunc
}

// Preset limits.
var (
	Default = Config{
		Name:    "default",
		Window:  15 * time.Minute,
		Max:     100,
		Message: "Too many requests, please try again later",
	}
	Auth = Config{
		Name:    "auth",
		Window:  15 * time.Minute,
		Max:     5,
		Message: "Too many authentication attempts, please try again later",
	}
	API = Config{
		Name:    "api",
		Window:  time.Minute,
		Max:     60,
		Message: "API rate limit exceeded",
	}
	Upload = Config{
		Name:    "upload",
		Window:  time.Hour,
		Max:     10,
		Message: "Upload limit exceeded, please try again later",
	}
)

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Window <= 0 {
		c.Window = Default.Window
	}
	if c.Max <= 0 {
		c.Max = Default.Max
	}
	if c.Message == "" {
		c.Message = Default.Message
	}
	if c.StatusCode == 0 {
		c.StatusCode = http.StatusTooManyRequests
	}
	if c.KeyFunc == nil {
		c.KeyFunc = ClientPathKey
	}
	return c
}

// ClientPathKey is "ratelimit:{ip}:{path}", with the ip resolved by
// httpmw.ClientIP. Requests without a resolved ip share the "unknown" bucket.
func ClientPathKey(r *http.Request) string {
	ip := httpmw.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = "unknown"
	}
	return "ratelimit:" + ip + ":" + r.URL.Path
}

// PrefixedKey scopes keys from kf under name so two limiters on the same
// path keep separate counters.
func PrefixedKey(name string, kf KeyFunc) KeyFunc {
	if kf == nil {
		kf = ClientPathKey
	}
	return func(r *http.Request) string { return name + ":" + kf(r) }
}
