// Package ratelimit provides per-key token bucket rate limiting for
// delegated decision-provider calls.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // tokens per second
	burst   int              // max burst size (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow checks if a request for the given key should be allowed.
// Returns true if allowed, false if rate limited.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()

	b, ok := l.buckets[key]
	if !ok {
		// First request for this key: start with full burst
		b = &bucket{
			tokens:    float64(l.burst),
			lastCheck: now,
		}
		l.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += l.rate * elapsed
		if b.tokens > float64(l.burst) {
			b.tokens = float64(l.burst)
		}
		b.lastCheck = now
	}

	// Check if we have at least 1 token
	if b.tokens < 1.0 {
		return false
	}

	b.tokens--
	return true
}

// Wait blocks until a token is available for key or the deadline passes.
// It polls rather than scheduling wakeups; provider calls are infrequent
// enough that the coarse interval does not matter.
func (l *Limiter) Wait(key string, deadline time.Time) error {
	for {
		if l.Allow(key) {
			return nil
		}
		if !l.nowFunc().Before(deadline) {
			return fmt.Errorf("rate limit wait for %s exceeded deadline", key)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ProviderLimiters maps provider names to their rate limiters.
type ProviderLimiters map[string]*Limiter

// NewProviderLimiters creates the default per-provider rate limiters.
// Remote APIs get a conservative rate; the local model is bounded only
// by burst to keep one slow call from queueing unbounded work.
func NewProviderLimiters() ProviderLimiters {
	return ProviderLimiters{
		"openai": NewLimiter(2.0, 4),  // 2/second, burst 4
		"local":  NewLimiter(10.0, 2), // 10/second, burst 2
	}
}

// WaitLimit blocks up to wait for the provider's limiter to admit a
// call. Providers without a configured limiter are always allowed, and
// a non-positive wait degrades to the immediate CheckLimit behavior.
func WaitLimit(limiters ProviderLimiters, provider string, wait time.Duration) error {
	if wait <= 0 {
		return CheckLimit(limiters, provider)
	}
	limiter, ok := limiters[provider]
	if !ok {
		return nil
	}
	return limiter.Wait(provider, time.Now().Add(wait))
}

// CheckLimit checks the rate limit for a given provider name.
// Returns nil if allowed, or an error if rate limited.
// Providers without a configured limiter are always allowed.
func CheckLimit(limiters ProviderLimiters, provider string) error {
	limiter, ok := limiters[provider]
	if !ok {
		return nil // No limiter configured = no limit
	}

	if !limiter.Allow(provider) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", provider)
	}

	return nil
}
