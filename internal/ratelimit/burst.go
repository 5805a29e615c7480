package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/webguard/internal/apierr"
	"github.com/keithlinneman/webguard/internal/httpmw"
)

// visitor tracks a single ip's bucket and last activity
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged is set after the first-denial hook ran; resets on eviction
	logged bool
}

// BurstGuard is a per-ip token bucket with background eviction of idle ips.
// It sits outside the window limiters and only stops floods.
type BurstGuard struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	// maxVisitors bounds the map; new ips beyond it are denied
	maxVisitors int

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type BurstOption func(*BurstGuard)

// WithRate sets the bucket size and refill rate.
// WithRate(10, 50) allows 50 requests at once, then 10 per second.
func WithRate(perSecond float64, burst int) BurstOption {
	return func(g *BurstGuard) {
		g.perSecond = rate.Limit(perSecond)
		g.burst = burst
	}
}

// WithTTL controls how long an idle ip stays tracked.
func WithTTL(d time.Duration) BurstOption {
	return func(g *BurstGuard) { g.ttl = d }
}

// WithMaxVisitors caps the number of tracked ips.
func WithMaxVisitors(n int) BurstOption {
	return func(g *BurstGuard) { g.maxVisitors = n }
}

// WithOnFirstDenied runs once per visitor on its first denial (logging),
// separate from WithOnBurstDenied which runs on every denial (counters).
func WithOnFirstDenied(fn func(ip string)) BurstOption {
	return func(g *BurstGuard) { g.onFirstDenied = fn }
}

func WithOnBurstDenied(fn func(ip string)) BurstOption {
	return func(g *BurstGuard) { g.onDenied = fn }
}

// WithOnCapacity runs when a new ip is turned away because the map is full.
func WithOnCapacity(fn func()) BurstOption {
	return func(g *BurstGuard) { g.onCapacity = fn }
}

// NewBurstGuard starts the eviction goroutine, which stops when ctx is done.
func NewBurstGuard(ctx context.Context, opts ...BurstOption) *BurstGuard {
	g := &BurstGuard{
		visitors:    make(map[string]*visitor),
		perSecond:   20,
		burst:       40,
		ttl:         5 * time.Minute,
		maxVisitors: 100000,
	}
	for _, o := range opts {
		o(g)
	}
	go g.cleanup(ctx)
	return g
}

// allow reports whether ip may proceed, creating its visitor on first sight.
func (g *BurstGuard) allow(ip string) bool {
	g.mu.Lock()
	v, exists := g.visitors[ip]
	if !exists {
		if len(g.visitors) >= g.maxVisitors {
			g.mu.Unlock()
			if g.onCapacity != nil {
				g.onCapacity()
			}
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(g.perSecond, g.burst)}
		g.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()
	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	// hooks may do slow work, never run them under the lock
	g.mu.Unlock()

	if allowed {
		return true
	}
	if first && g.onFirstDenied != nil {
		g.onFirstDenied(ip)
	}
	if g.onDenied != nil {
		g.onDenied(ip)
	}
	return false
}

// Len is the number of tracked ips.
func (g *BurstGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visitors)
}

// cleanup evicts visitors idle longer than ttl, checking every ttl/2.
func (g *BurstGuard) cleanup(ctx context.Context) {
	ticker := time.NewTicker(g.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.mu.Lock()
			for ip, v := range g.visitors {
				if now.Sub(v.lastSeen) > g.ttl {
					delete(g.visitors, ip)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Middleware answers 429 to ips over their bucket. The body carries no
// detail about limits or refill timing.
func (g *BurstGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())
		if !g.allow(ip) {
			e := apierr.RateLimited("Too many requests, please try again later")
			e.Code = CodeRateLimited
			e.RetryAfter = 30
			apierr.Respond(w, e)
			return
		}
		next.ServeHTTP(w, r)
	})
}
