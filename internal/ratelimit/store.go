package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("ratelimit: store closed")

// Store holds fixed window counters.
//
// Increment adds one hit to key. When the key is missing or its window has
// passed, the counter restarts at 1 with resetAt = now + window.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
	Len() int
	Close() error
}
