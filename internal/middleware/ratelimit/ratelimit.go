// Package ratelimit throttles POST requests per client with a token bucket.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limiter keeps one token bucket per client key. A bucket holds up to
// RequestsPerMinute tokens and refills continuously at the same rate.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	capacity        float64
	cleanupInterval time.Duration
	idleAfter       time.Duration
	now             func() time.Time
}

type bucket struct {
	tokens  float64
	updated time.Time
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter and starts its cleanup goroutine.
func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	capacity := float64(config.RequestsPerMinute)
	rl := &Limiter{
		buckets:         make(map[string]*bucket),
		stopCleanup:     make(chan struct{}),
		capacity:        capacity,
		cleanupInterval: config.CleanupInterval,
		// A bucket idle this long is full again and can be forgotten.
		idleAfter: time.Minute,
		now:       time.Now,
	}
	go rl.startCleanup()
	return rl
}

// Allow reports whether a request from key may proceed.
func (rl *Limiter) Allow(key string) bool {
	ok, _ := rl.Take(key)
	return ok
}

// Take consumes one token for key. When none is left it returns false and
// how long until the next token is available.
func (rl *Limiter) Take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity, updated: now}
		rl.buckets[key] = b
	}

	if elapsed := now.Sub(b.updated); elapsed > 0 {
		refill := float64(elapsed) / float64(time.Minute) * rl.capacity
		b.tokens = math.Min(rl.capacity, b.tokens+refill)
		b.updated = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration(float64(time.Minute) * (1 - b.tokens) / rl.capacity)
	return false, wait
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleAfter)
	for key, b := range rl.buckets {
		if b.updated.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Middleware limits POST requests per key returned by extractIP. Rejected
// requests carry a Retry-After header in whole seconds and are handed to
// onLimit, or answered with a plain 429 when onLimit is nil.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ok, wait := rl.Take(extractIP(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}

func retryAfterSeconds(wait time.Duration) int {
	s := int(math.Ceil(wait.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
