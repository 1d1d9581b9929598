package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitAPIGlobal: "1000-M",
		RateLimitAPIPublic: "3-M",
		RateLimitAPIRooms:  "2-M",
		RateLimitWsIP:      "100-M",
		RateLimitWsUser:    "2-M",
	}
}

func TestNewRateLimiter_MemoryStore(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, rl)
}

func TestNewRateLimiter_InvalidRate(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitAPIPublic = "lots"

	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestGlobalMiddleware_LimitsByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(rl.GlobalMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	var lastCode int
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		router.ServeHTTP(w, req)
		lastCode = w.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestCheckWebSocketUser_Limit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, rl.CheckWebSocketUser(ctx, "u1"))
	require.NoError(t, rl.CheckWebSocketUser(ctx, "u1"))
	assert.Error(t, rl.CheckWebSocketUser(ctx, "u1"))

	// A different user has an independent budget.
	assert.NoError(t, rl.CheckWebSocketUser(ctx, "u2"))
}
