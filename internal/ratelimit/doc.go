// Package ratelimit limits requests per client and path.
//
// Two layers live here:
//   - FixedWindow and SlidingWindow count requests per key over a window and
//     reject with the JSON error envelope and X-RateLimit-* headers. Counters
//     sit in a Store: MemoryStore for a single instance, RedisStore when
//     replicas must share counts.
//   - BurstGuard is a coarse per-ip token bucket at the outer edge of the
//     chain. It protects the process from a single flooding address before
//     any other work happens.
//
// What this does NOT protect against:
//   - distributed attacks across many ips
//   - bandwidth-bill attacks, inbound data is already accepted by the time this runs
//
// Use an upstream WAF or CDN-level rate limiting for those.
package ratelimit
