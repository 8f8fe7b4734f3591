package httpx

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rateLimiterSweepInterval = 5 * time.Minute

// RateLimiter counts requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed bool
	// count is the number of requests in the window, including this one
	// when it was allowed.
	count int
	// reset is when the oldest request in the window expires.
	reset time.Time
}

// retryAfter reports whole seconds until a slot frees up, at least one.
func (d rateDecision) retryAfter(now time.Time) int {
	secs := int(math.Ceil(d.reset.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	window  time.Duration
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemoryRateLimiter returns a process-local sliding-window limiter.
func NewMemoryRateLimiter() RateLimiter {
	rl := newMemoryRateLimiter(time.Now)
	go rl.sweepLoop()
	return rl
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		entries: make(map[string][]time.Time),
		stopCh:  make(chan struct{}),
		now:     now,
	}
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.window = window

	hits := prune(rl.entries[key], now.Add(-window))
	if len(hits) >= limit {
		rl.entries[key] = hits
		return rateDecision{allowed: false, count: len(hits), reset: hits[0].Add(window)}
	}
	hits = append(hits, now)
	rl.entries[key] = hits
	return rateDecision{allowed: true, count: len(hits), reset: hits[0].Add(window)}
}

// prune drops timestamps at or before cutoff. hits is in arrival order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.window <= 0 {
		return
	}
	cutoff := now.Add(-rl.window)
	for key, hits := range rl.entries {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(rl.entries, key)
		} else {
			rl.entries[key] = hits
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

// withRateLimit applies the per-client limit to every route except health
// probes and metrics scraping.
func (r *Router) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil || r.rateLimit <= 0 || rateLimitExempt(req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}
		key := rateLimitKeyIP(req)
		decision := r.limiter.Allow(req.Context(), key, r.rateLimit, r.rateWindow)
		r.applyRateHeaders(w, decision)
		if !decision.allowed {
			r.recordRateLimitHit(r.route(req), rateMetricKey(key))
			retry := decision.retryAfter(time.Now())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retry),
				"retry_after": retry,
			})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, decision rateDecision) {
	remaining := r.rateLimit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(r.rateLimit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.reset.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.reset.Unix(), 10))
	}
}

func rateLimitExempt(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
