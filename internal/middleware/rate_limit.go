package middleware

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrLimited is returned when a caller's quota for the current window is
// exhausted. This is local admission rejection, distinct from provider-side
// throttling.
var ErrLimited = errors.New("rate limit exceeded")

// RateLimitConfig defines admission quotas.
type RateLimitConfig struct {
	// RequestsPerMinute by tier name. The empty tier falls back to
	// DefaultTier.
	PerTier map[string]int
	// DefaultTier applies when a caller has no tier.
	DefaultTier string
	// Window length; one minute unless overridden.
	Window time.Duration
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerTier: map[string]int{
			"free":    10,
			"basic":   60,
			"premium": 300,
		},
		DefaultTier: "free",
		Window:      time.Minute,
	}
}

// rateWindow tracks one (identity, path, method) scope: a fixed window
// with a start time and a request count.
type rateWindow struct {
	count     int
	startedAt time.Time
}

// RateLimiter is the admission controller: it enforces per-identity quotas
// before a request reaches the pipeline. Windows are fixed-length; the
// first request after rollover starts a fresh window.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	windows map[string]*rateWindow
	logger  *zap.Logger
	now     func() time.Time
	done    chan struct{}
}

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds until the window rolls over, set when rejected
}

// NewRateLimiter creates an admission controller and starts its stale-window
// sweeper.
func NewRateLimiter(config RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.DefaultTier == "" {
		config.DefaultTier = "free"
	}
	if len(config.PerTier) == 0 {
		config.PerTier = DefaultRateLimitConfig().PerTier
	}

	rl := &RateLimiter{
		config:  config,
		windows: make(map[string]*rateWindow),
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Check admits or rejects one request for the given caller identity and
// request scope. Unknown tiers fall back to the default tier's quota.
func (rl *RateLimiter) Check(identity, tier, path, method string) Result {
	limit := rl.limitFor(tier)
	key := identity + "|" + path + "|" + method

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.startedAt) >= rl.config.Window {
		w = &rateWindow{startedAt: now}
		rl.windows[key] = w
	}

	resetAt := w.startedAt.Add(rl.config.Window)
	if w.count >= limit {
		retryAfter := int(resetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		rl.logger.Debug("request rejected by admission control",
			zap.String("identity", identity),
			zap.String("tier", tier),
			zap.String("path", path))
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}
	}

	w.count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: resetAt}
}

func (rl *RateLimiter) limitFor(tier string) int {
	if tier == "" {
		tier = rl.config.DefaultTier
	}
	if limit, ok := rl.config.PerTier[tier]; ok {
		return limit
	}
	if limit, ok := rl.config.PerTier[rl.config.DefaultTier]; ok {
		return limit
	}
	return 10
}

// sweepLoop drops windows that rolled over long ago.
func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.windows {
				if now.Sub(w.startedAt) > 2*rl.config.Window {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the sweeper goroutine.
func (rl *RateLimiter) Close() {
	close(rl.done)
}
