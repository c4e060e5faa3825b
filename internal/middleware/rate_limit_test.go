package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, config RateLimitConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(config, nil)
	t.Cleanup(rl.Close)
	return rl
}

func TestRateLimiter_QuotaBoundary(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		PerTier:     map[string]int{"free": 3},
		DefaultTier: "free",
		Window:      time.Minute,
	})

	// Q requests pass, the (Q+1)-th is rejected.
	for i := 0; i < 3; i++ {
		result := rl.Check("user-1", "free", "/api/v1/orchestrate", "POST")
		assert.True(t, result.Allowed, "request %d should be admitted", i+1)
	}

	result := rl.Check("user-1", "free", "/api/v1/orchestrate", "POST")
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.GreaterOrEqual(t, result.RetryAfter, 1)
}

func TestRateLimiter_WindowRollover(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		PerTier:     map[string]int{"free": 1},
		DefaultTier: "free",
		Window:      time.Minute,
	})

	fakeNow := time.Now()
	rl.now = func() time.Time { return fakeNow }

	assert.True(t, rl.Check("user-1", "free", "/p", "POST").Allowed)
	assert.False(t, rl.Check("user-1", "free", "/p", "POST").Allowed)

	// First request after rollover succeeds.
	fakeNow = fakeNow.Add(61 * time.Second)
	assert.True(t, rl.Check("user-1", "free", "/p", "POST").Allowed)
}

func TestRateLimiter_ScopesAreIndependent(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		PerTier:     map[string]int{"free": 1},
		DefaultTier: "free",
		Window:      time.Minute,
	})

	assert.True(t, rl.Check("user-1", "free", "/a", "POST").Allowed)
	assert.False(t, rl.Check("user-1", "free", "/a", "POST").Allowed)

	// Different identity, path, or method each get their own window.
	assert.True(t, rl.Check("user-2", "free", "/a", "POST").Allowed)
	assert.True(t, rl.Check("user-1", "free", "/b", "POST").Allowed)
	assert.True(t, rl.Check("user-1", "free", "/a", "GET").Allowed)
}

func TestRateLimiter_TierQuotas(t *testing.T) {
	rl := newTestLimiter(t, RateLimitConfig{
		PerTier:     map[string]int{"free": 1, "premium": 5},
		DefaultTier: "free",
		Window:      time.Minute,
	})

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Check("pro", "premium", "/p", "POST").Allowed)
	}
	assert.False(t, rl.Check("pro", "premium", "/p", "POST").Allowed)

	// Unknown tier falls back to the default tier's quota.
	assert.True(t, rl.Check("mystery", "gold", "/p", "POST").Allowed)
	assert.False(t, rl.Check("mystery", "gold", "/p", "POST").Allowed)
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := newTestLimiter(t, RateLimitConfig{
		PerTier:     map[string]int{"free": 2},
		DefaultTier: "free",
		Window:      time.Minute,
	})

	router := gin.New()
	router.Use(rl.Middleware())
	router.POST("/api/v1/orchestrate", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orchestrate", nil)
		req.Header.Set("X-API-Key", "k-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := do()
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	_ = do()
	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
}
