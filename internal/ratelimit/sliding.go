package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// SlidingWindow keeps the timestamps of recent hits per key and denies once
// Max of them fall inside the trailing Window.
type SlidingWindow struct {
	cfg Config
	hooks

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindow builds a sliding limiter; the default message is
// "Rate limit exceeded".
func NewSlidingWindow(cfg Config, opts ...Option) *SlidingWindow {
	if cfg.Message == "" {
		cfg.Message = "Rate limit exceeded"
	}
	return &SlidingWindow{
		cfg:   cfg.withDefaults(),
		hooks: buildHooks(opts),
		hits:  make(map[string][]time.Time),
	}
}

func (l *SlidingWindow) Config() Config { return l.cfg }

func (l *SlidingWindow) Check(r *http.Request) Decision {
	key := l.cfg.KeyFunc(r)
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	if len(l.hits) > sweepThreshold {
		l.sweepLocked(cutoff)
	}
	recent := trim(l.hits[key], cutoff)

	d := Decision{
		Name:       l.cfg.Name,
		Key:        key,
		Limit:      l.cfg.Max,
		Message:    l.cfg.Message,
		StatusCode: l.cfg.StatusCode,
	}
	if int64(len(recent)) >= l.cfg.Max {
		l.hits[key] = recent
		l.mu.Unlock()

		d.ResetAt = recent[0].Add(l.cfg.Window)
		d.RetryAfter = d.ResetAt.Sub(now)
		if l.onDenied != nil {
			l.onDenied(r, d)
		}
		return d
	}

	recent = append(recent, now)
	l.hits[key] = recent
	l.mu.Unlock()

	d.Allowed = true
	d.Remaining = l.cfg.Max - int64(len(recent))
	d.ResetAt = recent[0].Add(l.cfg.Window)
	return d
}

// Middleware rejects requests over the limit with the configured status.
func (l *SlidingWindow) Middleware(next http.Handler) http.Handler {
	return Middleware(l)(next)
}

// Len is the number of tracked keys.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

func (l *SlidingWindow) sweepLocked(cutoff time.Time) {
	for k, ts := range l.hits {
		if len(trim(ts, cutoff)) == 0 {
			delete(l.hits, k)
		}
	}
}

// trim drops timestamps at or before cutoff; ts is in ascending order.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
