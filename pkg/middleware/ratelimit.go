package middleware

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Rate limit classes
const (
	ClassWebhook     = "webhook"
	ClassUnsubscribe = "public-unsubscribe"
)

// AnonymousCaller keys requests that carry no forwarded address
const AnonymousCaller = "anonymous"

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the sliding window
	RequestsPerWindow int
	// WindowDuration is the sliding window length
	WindowDuration time.Duration
}

// WebhookRateLimitConfig returns the webhook limit: 100 per minute
func WebhookRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// UnsubscribeRateLimitConfig returns the public unsubscribe limit: 20 per minute
func UnsubscribeRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 20, WindowDuration: time.Minute}
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 1
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = time.Minute
	}
	return c
}

// Option configures a limiter
type Option func(*limiterOptions)

type limiterOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now, so window boundaries can be pinned
func WithClock(now func() time.Time) Option {
	return func(o *limiterOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) limiterOptions {
	o := limiterOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current fixed window ends and its count starts
	// decaying out of the sliding estimate.
	Reset time.Time
}

// RetryAfter returns whole seconds until Reset, never less than 1
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.Reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter checks and consumes one request for key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// slidingWindow computes the weighted estimate used by both limiters: the
// previous fixed window's count decays linearly as the current one elapses.
type slidingWindow struct {
	limit  int
	window time.Duration
}

// bounds returns the current window index, the weight of the previous
// window, and the end of the current window.
func (s slidingWindow) bounds(now time.Time) (int64, float64, time.Time) {
	windowMs := s.window.Milliseconds()
	nowMs := now.UnixMilli()
	index := nowMs / windowMs
	elapsed := float64(nowMs-index*windowMs) / float64(windowMs)
	reset := time.UnixMilli((index + 1) * windowMs)
	return index, 1 - elapsed, reset
}

func (s slidingWindow) decide(allowed bool, current, previous int, weight float64, reset time.Time) Decision {
	used := int(math.Ceil(float64(previous)*weight)) + current
	remaining := s.limit - used
	if remaining < 0 || !allowed {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     s.limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// RateLimiter is an in-process sliding window limiter. Counts are not
// shared between instances; use RedisSlidingWindow for that.
type RateLimiter struct {
	slidingWindow
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	index    int64
	current  int
	previous int
}

// NewRateLimiter creates a new in-memory sliding window limiter
func NewRateLimiter(config RateLimitConfig, opts ...Option) *RateLimiter {
	config = config.normalized()
	o := applyOptions(opts)
	return &RateLimiter{
		slidingWindow: slidingWindow{limit: config.RequestsPerWindow, window: config.WindowDuration},
		buckets:       make(map[string]*bucket),
		now:           o.now,
	}
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	index, weight, reset := rl.bounds(rl.now())

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{index: index}
		rl.buckets[key] = b
	}
	switch {
	case b.index == index:
	case b.index == index-1:
		b.previous, b.current, b.index = b.current, 0, index
	default:
		b.previous, b.current, b.index = 0, 0, index
	}

	if float64(b.previous)*weight+float64(b.current) >= float64(rl.limit) {
		return rl.decide(false, b.current, b.previous, weight, reset), nil
	}
	b.current++
	return rl.decide(true, b.current, b.previous, weight, reset), nil
}

// Cleanup removes buckets that no longer influence any decision
func (rl *RateLimiter) Cleanup() {
	index, _, _ := rl.bounds(rl.now())

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if b.index < index-1 {
			delete(rl.buckets, key)
		}
	}
}

// Reset forgets the counters for key
func (rl *RateLimiter) Reset(_ context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
	return nil
}

// StartCleanup starts a background goroutine to cleanup old buckets
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// ClassLimiter applies a per-class limiter to a caller and fails open when
// the backing store errors. A nil *ClassLimiter or an unknown class means
// rate limiting is disabled.
type ClassLimiter struct {
	limiters map[string]Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewClassLimiter creates a class limiter. limiters maps a class
// (ClassWebhook, ClassUnsubscribe) to its limiter.
func NewClassLimiter(limiters map[string]Limiter, logger *observability.Logger, metrics *observability.Metrics) *ClassLimiter {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &ClassLimiter{
		limiters: limiters,
		logger:   logger,
		metrics:  metrics,
	}
}

// Check consumes one request for caller in class. ok is false when no limit
// applied: no limiter for the class, or the backend failed.
func (c *ClassLimiter) Check(ctx context.Context, class, caller string) (decision Decision, ok bool) {
	if c == nil {
		return Decision{}, false
	}
	limiter, exists := c.limiters[class]
	if !exists || limiter == nil {
		c.metrics.ObserveRateLimit(class, "disabled")
		return Decision{}, false
	}

	decision, err := limiter.Allow(ctx, class+":"+caller)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).WithField("class", class).Warn("rate limit backend unavailable, failing open")
		}
		c.metrics.ObserveRateLimit(class, "error")
		return Decision{}, false
	}

	if decision.Allowed {
		c.metrics.ObserveRateLimit(class, "allowed")
	} else {
		c.metrics.ObserveRateLimit(class, "limited")
	}
	return decision, true
}

// SetHeaders writes the X-RateLimit-* headers for a decision
func SetHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}

// RateLimitExceeded writes the 429 response with rate limit headers
func RateLimitExceeded(w http.ResponseWriter, d Decision, now time.Time) {
	SetHeaders(w.Header(), d)
	httputil.WriteTooManyRequests(w, "rate limit exceeded", d.RetryAfter(now))
}

// CallerID identifies the caller for rate limiting: the first
// X-Forwarded-For entry, then X-Real-IP, then AnonymousCaller.
func CallerID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	return AnonymousCaller
}
