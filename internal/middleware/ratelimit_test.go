package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/rashiddalii/moodlog-server/internal/config"
	"github.com/rashiddalii/moodlog-server/internal/model"
)

func rateContext(user string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/auth/login")
	if user != "" {
		bindUser(c, &model.User{ID: user})
	}
	return c
}

func TestBuildRateKey(t *testing.T) {
	cases := []struct {
		strategy string
		user     string
		want     string
	}{
		{"ip", "", "rl:ip:203.0.113.7"},
		{"user", "u1", "rl:user:u1"},
		{"route", "", "rl:route:POST /api/auth/login"},
		{"ip_user", "", "rl:ip:203.0.113.7"},
		{"ip_user", "u1", "rl:user:u1"},
		{"ip_route", "", "rl:ip:203.0.113.7:route:POST /api/auth/login"},
		{"user_route", "u1", "rl:user:u1:route:POST /api/auth/login"},
		{"", "", "rl:ip:203.0.113.7:user:anon:route:POST /api/auth/login"},
	}
	for _, tc := range cases {
		cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: tc.strategy}
		assert.Equal(t, tc.want, buildRateKey(cfg, rateContext(tc.user)), tc.strategy)
	}
}

func TestTokenBucketPassThroughWithoutRedis(t *testing.T) {
	e := echo.New()
	cfg := config.APIRateLimitDefaults
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, nil, nil))

	for range cfg.Capacity + 5 {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestParseBucketResult(t *testing.T) {
	allowed, remaining, retry, ok := parseBucketResult([]any{int64(0), int64(0), int64(1500)})
	assert.True(t, ok)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, int64(1500), retry)
	assert.Equal(t, 2, retryAfterSeconds(retry))

	_, _, _, ok = parseBucketResult("OK")
	assert.False(t, ok)
	assert.Equal(t, 0, retryAfterSeconds(-10))
}
