package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "buckets are per key")

	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refills every 30s")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	l.Allow("a")
	l.Allow("b")
	assert.Len(t, l.clients, 2)

	now = now.Add(idleTTL + time.Minute)
	l.Allow("c")
	assert.Len(t, l.clients, 1)
}

func TestRateLimiter_Disabled(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
}

func TestRateLimiter_GinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(1).GinMiddleware(), SecurityHeaders())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
		} else {
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
