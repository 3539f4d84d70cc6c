package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Decision is the outcome of a rate limit check. ResetAt is when the
// current window ends and the counter starts fresh.
type Decision struct {
	Allowed bool
	ResetAt time.Time
}

// Limiter decides whether an attempt identified by key is allowed within
// a fixed window. Implementations must serialize the check-increment-compare
// sequence per key.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

const shardCount = 64

type entry struct {
	count       int
	windowStart time.Time
	resetAt     time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryLimiter is an in-process fixed-window counter table. Keys are
// distributed across shards so unrelated keys never contend on the same lock.
type MemoryLimiter struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryLimiter creates a new MemoryLimiter
func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Check records an attempt for key and decides whether it is allowed.
// The first attempt of a window (or any attempt after the window elapsed)
// opens a fresh window with count=1. Denied attempts are still counted but
// never extend the window.
func (l *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	// A wall clock jump backward must not leave a window that never expires,
	// so a windowStart in the future also resets the window.
	if !ok || !now.Before(e.resetAt) || now.Before(e.windowStart) {
		s.entries[key] = &entry{
			count:       1,
			windowStart: now,
			resetAt:     now.Add(window),
		}
		return Decision{Allowed: true, ResetAt: now.Add(window)}, nil
	}

	e.count++
	return Decision{Allowed: e.count <= limit, ResetAt: e.resetAt}, nil
}

// Sweep removes entries whose window has already ended. Absence of an entry
// is equivalent to a zero count, so this is purely a memory reclaim.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0

	for _, s := range l.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if !now.Before(e.resetAt) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	return removed
}

// LoginKeyForIP builds the namespaced limiter key for login attempts from a
// client IP. An undeterminable address falls into a shared "unknown" bucket
// rather than bypassing limiting.
func LoginKeyForIP(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "auth:login:ip:" + ip
}
