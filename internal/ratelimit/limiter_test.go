package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiter_AllowsUpToLimitWithinWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		decision, err := limiter.Check(ctx, "auth:login:ip:192.168.1.1", 20, 10*time.Minute)
		assert.NoError(t, err)
		assert.True(t, decision.Allowed, "attempt %d should be allowed", i+1)
	}

	decision, err := limiter.Check(ctx, "auth:login:ip:192.168.1.1", 20, 10*time.Minute)
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestMemoryLimiter_DeniedAttemptKeepsWindowResetTime(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	first, err := limiter.Check(ctx, "k", 1, 10*time.Minute)
	assert.NoError(t, err)
	assert.True(t, first.Allowed)

	denied, err := limiter.Check(ctx, "k", 1, 10*time.Minute)
	assert.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, first.ResetAt, denied.ResetAt)

	// Further denied attempts must not push the reset time out.
	deniedAgain, err := limiter.Check(ctx, "k", 1, 10*time.Minute)
	assert.NoError(t, err)
	assert.False(t, deniedAgain.Allowed)
	assert.Equal(t, first.ResetAt, deniedAgain.ResetAt)
}

func TestMemoryLimiter_WindowExpiryResetsCount(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, "k", 2, 10*time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, i < 2, decision.Allowed)
	}

	// Advance past the window: counter starts over.
	now = now.Add(10*time.Minute + time.Second)

	decision, err := limiter.Check(ctx, "k", 2, 10*time.Minute)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, now.Add(10*time.Minute), decision.ResetAt)
}

func TestMemoryLimiter_KeysAreIsolated(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "auth:login:ip:10.0.0.1", 3, time.Minute)
		assert.NoError(t, err)
	}

	decision, err := limiter.Check(ctx, "auth:login:ip:10.0.0.2", 3, time.Minute)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestMemoryLimiter_ClockJumpBackwardResetsWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	_, err := limiter.Check(ctx, "k", 1, time.Minute)
	assert.NoError(t, err)

	// Wall clock jumps backward: the window must not become immortal.
	now = now.Add(-time.Hour)

	decision, err := limiter.Check(ctx, "k", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, now.Add(time.Minute), decision.ResetAt)
}

func TestMemoryLimiter_ConcurrentChecksNeverExceedLimit(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	const attempts = 50
	const limit = 10

	var wg sync.WaitGroup
	allowed := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Check(ctx, "k", limit, time.Minute)
			assert.NoError(t, err)
			allowed <- decision.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	allowedCount := 0
	for ok := range allowed {
		if ok {
			allowedCount++
		}
	}
	assert.Equal(t, limit, allowedCount)
}

func TestMemoryLimiter_SweepRemovesExpiredEntries(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	_, err := limiter.Check(ctx, "expired", 5, time.Minute)
	assert.NoError(t, err)
	_, err = limiter.Check(ctx, "live", 5, time.Hour)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)

	removed := limiter.Sweep()
	assert.Equal(t, 1, removed)

	// Swept key behaves like a fresh window.
	decision, err := limiter.Check(ctx, "expired", 5, time.Minute)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLoginKeyForIP(t *testing.T) {
	assert.Equal(t, "auth:login:ip:203.0.113.9", LoginKeyForIP("203.0.113.9"))
	assert.Equal(t, "auth:login:ip:unknown", LoginKeyForIP(""))
}
