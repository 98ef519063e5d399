package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commlink/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRateLimitRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doGet(router *gin.Engine, remoteAddr, forwardedFor string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_DisabledPassesEverything(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newRateLimitRouter(cfg)

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doGet(router, "", ""))
	}
}

func TestRateLimit_SecondRequestLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newRateLimitRouter(cfg)

	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusTooManyRequests, doGet(router, "10.0.0.1:1234", ""))
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newRateLimitRouter(cfg)

	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusTooManyRequests, doGet(router, "10.0.0.1:1234", ""))

	// A different client still has its own budget.
	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.2:1234", ""))
}

func TestRequestIP_ForwardedForFirstHop(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", requestIP(req))

	// Garbage in the header falls back to the socket address.
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "127.0.0.1", requestIP(req))
}

func TestIPLimiters_EvictIdle(t *testing.T) {
	limiters := newIPLimiters(1, 1)
	limiters.get("10.0.0.1")
	limiters.get("10.0.0.2")

	limiters.mu.Lock()
	assert.Len(t, limiters.buckets, 2)
	limiters.buckets["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	limiters.mu.Unlock()

	limiters.evictIdle(time.Now().Add(-limiterIdleEviction))

	limiters.mu.Lock()
	defer limiters.mu.Unlock()
	assert.Len(t, limiters.buckets, 1)
	assert.Contains(t, limiters.buckets, "10.0.0.2")
}
