package daemon

import (
	"sync"
	"time"

	"github.com/beefsack/go-rate"
)

// FloodGuard caps how often datagrams from a single client address are accepted for processing,
// protecting the socket ceiling (spec.md §5, §6) from one noisy source monopolizing fan-out. Each
// client address gets its own token bucket, created lazily on first sighting; this is a feature the
// distilled spec is silent on, not a change to any of the core's documented dispatch or coalescing
// policy (see DESIGN.md).
type FloodGuard struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	buckets  map[string]*rate.RateLimiter
}

// NewFloodGuard returns a FloodGuard allowing up to limit datagrams per interval per client
// address. A limit of zero disables the guard (Allow always returns true).
func NewFloodGuard(limit int, interval time.Duration) *FloodGuard {
	return &FloodGuard{
		limit:    limit,
		interval: interval,
		buckets:  make(map[string]*rate.RateLimiter),
	}
}

// Allow reports whether a datagram from client should be processed, consuming one token from that
// client's bucket if so.
func (f *FloodGuard) Allow(client string) bool {
	if f.limit <= 0 {
		return true
	}

	f.mu.Lock()
	rl, ok := f.buckets[client]
	if !ok {
		rl = rate.New(f.limit, f.interval)
		f.buckets[client] = rl
	}
	f.mu.Unlock()

	ok, _ = rl.Try()

	return ok
}
