package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hitoshi/authcore/internal/model"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	// RetryAfter is the wait suggested to rejected clients.
	RetryAfter() time.Duration
}

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RecordRateLimited(scope string)
}

// RateLimiterConfig holds the edge limit settings.
type RateLimiterConfig struct {
	Rate            rate.Limit    // requests per second per client
	Burst           int           // bucket size
	CleanupInterval time.Duration // how often idle entries are dropped
}

// DefaultRateLimiterConfig returns 20 requests per minute with a burst of 10.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(20.0 / 60.0),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter holds one client's bucket and last access time.
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter is an in-process token bucket limiter keyed by client.
type MemoryLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh chan struct{}
}

// NewMemoryLimiter creates a MemoryLimiter and starts its cleanup loop.
func NewMemoryLimiter(config RateLimiterConfig) *MemoryLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}
	ml := &MemoryLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go ml.cleanupLoop()

	return ml
}

// Stop ends the cleanup goroutine.
func (ml *MemoryLimiter) Stop() {
	close(ml.stopCh)
}

// Allow takes one token from key's bucket.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return ml.getOrCreate(key).Allow(), nil
}

// RetryAfter is the time for one token to refill.
func (ml *MemoryLimiter) RetryAfter() time.Duration {
	if ml.config.Rate <= 0 {
		return time.Second
	}
	d := time.Duration(float64(time.Second) / float64(ml.config.Rate))
	return d.Round(time.Millisecond)
}

// Count returns the number of tracked clients.
func (ml *MemoryLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.limiters)
}

func (ml *MemoryLimiter) getOrCreate(key string) *rate.Limiter {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if cl, ok := ml.limiters[key]; ok {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(ml.config.Rate, ml.config.Burst)
	ml.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

func (ml *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(ml.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.cleanup(time.Now())
		case <-ml.stopCh:
			return
		}
	}
}

// cleanup drops entries idle for more than twice the cleanup interval.
func (ml *MemoryLimiter) cleanup(now time.Time) {
	ttl := ml.config.CleanupInterval * 2

	ml.mu.Lock()
	defer ml.mu.Unlock()
	for key, cl := range ml.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(ml.limiters, key)
		}
	}
}

// RedisLimiter is a fixed-window counter shared by every instance through Redis.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per key in each window.
func NewRedisLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "authcore:edge:",
	}
}

// Allow increments key's counter and sets its expiry in the same MULTI block.
// EXPIRE NX leaves a running window alone and repairs a counter that lost
// its TTL.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := rl.prefix + key

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, rl.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	return incr.Val() <= int64(rl.limit), nil
}

// RetryAfter is the window length.
func (rl *RedisLimiter) RetryAfter() time.Duration {
	return rl.window
}

// NewEdgeRateLimitMiddleware throttles requests per client IP. Limiter errors
// fail open because the durable per-user limits still apply. rec may be nil.
func NewEdgeRateLimitMiddleware(limiter Limiter, scope string, rec RateLimitRecorder, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			allowed, err := limiter.Allow(r.Context(), scope+":"+ip)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					zap.String("scope", scope),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				if rec != nil {
					rec.RecordRateLimited(scope)
				}
				logger.Warn("rate limit exceeded",
					zap.String("client_ip", ip),
					zap.String("limit_type", scope),
				)
				writeRateLimitResponse(w, limiter.RetryAfter())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr. chi's RealIP runs first.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse writes 429 with Retry-After in whole seconds.
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	sec := int(math.Ceil(retryAfter.Seconds()))
	if sec < 1 {
		sec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(sec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     string(model.KindRateLimited),
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait and retry after the time in Retry-After.",
	})
}

// compile-time interface check
var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
