package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
)

const (
	memoryShards = 16
	// sweepThreshold is the live entry count past which writes also sweep
	// expired entries from the shard they touch
	sweepThreshold = 1000
)

type window struct {
	count   int64
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*window
}

// MemoryStore is a process-local Store. Keys are spread over shards by
// murmur3 hash so concurrent requests for different clients rarely share a lock.
// Counts are lost on restart and not shared between instances.
type MemoryStore struct {
	shards [memoryShards]shard
	size   atomic.Int64
	closed atomic.Bool
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*window)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return &s.shards[murmur3.Sum32([]byte(key))%memoryShards]
}

func (s *MemoryStore) Increment(_ context.Context, key string, win time.Duration) (int64, time.Time, error) {
	if s.closed.Load() {
		return 0, time.Time{}, ErrStoreClosed
	}
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if s.size.Load() > sweepThreshold {
		s.sweepLocked(sh, now)
	}

	w, ok := sh.entries[key]
	if !ok {
		w = &window{}
		sh.entries[key] = w
		s.size.Add(1)
	}
	if !ok || !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(win)
	}
	w.count++
	return w.count, w.resetAt, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	if _, ok := sh.entries[key]; ok {
		delete(sh.entries, key)
		s.size.Add(-1)
	}
	sh.mu.Unlock()
	return nil
}

// Len is the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int { return int(s.size.Load()) }

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) sweepLocked(sh *shard, now time.Time) {
	for k, w := range sh.entries {
		if !now.Before(w.resetAt) {
			delete(sh.entries, k)
			s.size.Add(-1)
		}
	}
}

// Sweep drops expired entries from every shard.
func (s *MemoryStore) Sweep() {
	now := s.now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		s.sweepLocked(sh, now)
		sh.mu.Unlock()
	}
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
