package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/httputil"
)

// CounterStore counts hits per key within a fixed window. Implementations
// decide where the counters live; the limiter is indifferent.
type CounterStore interface {
	// Incr bumps the counter for key, starting a new window if none is
	// open, and returns the count inside the current window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig sets the window shape.
type RateLimitConfig struct {
	RequestsPerWindow int64
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig suits anonymous traffic.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// PerUserRateLimitConfig suits authenticated traffic.
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute}
}

// RateLimitPolicy names paths the limiter skips, such as health checks.
type RateLimitPolicy interface {
	IsRateLimitExempt(path string) bool
}

// Counter is the slice of a metrics counter the middleware needs.
type Counter interface {
	Inc()
}

// RateLimiter is the fixed-window limiter middleware. One store may back
// several limiters with different configs under distinct prefixes.
type RateLimiter struct {
	store  CounterStore
	config *RateLimitConfig
	policy RateLimitPolicy
	prefix string
	hits   Counter
}

// NewRateLimiter builds a limiter over store. config may be nil for the
// defaults, policy may be nil when nothing is exempt.
func NewRateLimiter(store CounterStore, config *RateLimitConfig, policy RateLimitPolicy, prefix string) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{store: store, config: config, policy: policy, prefix: prefix}
}

// SetHitCounter attaches a counter incremented per limited request.
func (rl *RateLimiter) SetHitCounter(c Counter) {
	rl.hits = c
}

// Handler wraps next with the limiter. Counter-store failures fail open;
// a broken cache must not take the portal down with it.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.policy != nil && rl.policy.IsRateLimitExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("%s:ip:%s", rl.prefix, httputil.ClientIP(r))
		count, err := rl.store.Incr(r.Context(), key, rl.config.WindowDuration)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.config.RequestsPerWindow - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > rl.config.RequestsPerWindow {
			if rl.hits != nil {
				rl.hits.Inc()
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rl.config.WindowDuration.Seconds()))
			httputil.WriteDomainError(w, auth.ErrRateLimited, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MemoryCounterStore keeps windows in process. Good enough as a local
// guard; multi-process deployments want the Redis store so the window is
// shared. The LRU bound keeps an address-spraying client from growing the
// map without limit.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *window]
	now     func() time.Time
}

type window struct {
	start time.Time
	count int64
}

// NewMemoryCounterStore creates an in-process store tracking at most size
// distinct keys.
func NewMemoryCounterStore(size int) (*MemoryCounterStore, error) {
	cache, err := lru.New[string, *window](size)
	if err != nil {
		return nil, fmt.Errorf("creating counter cache: %w", err)
	}
	return &MemoryCounterStore{windows: cache, now: time.Now}, nil
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, windowDur time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows.Get(key)
	if !ok || now.Sub(w.start) >= windowDur {
		w = &window{start: now}
		s.windows.Add(key, w)
	}
	w.count++
	return w.count, nil
}
