package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"z-class-ai-api/internal/interfaces/http/dto"
)

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error

	gotLimit  int
	gotWindow time.Duration
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.gotLimit, l.gotWindow = limit, window
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

func newLimitedEngine(cfg RateLimitConfig, limiter RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/jobs", RateLimit(cfg, limiter), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return r
}

func post(r http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerClientIP(t *testing.T) {
	limiter := &countingLimiter{limit: 2}
	r := newLimitedEngine(RateLimitConfig{Enabled: true, Requests: 2, Window: 30 * time.Second}, limiter)

	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i, status := range want {
		if w := post(r, "10.0.0.1:1234"); w.Code != status {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, status)
		} else if status == http.StatusTooManyRequests && w.Header().Get("Retry-After") != "30" {
			t.Errorf("Retry-After = %q, want 30", w.Header().Get("Retry-After"))
		}
	}

	// 其他客户端不受影响
	if w := post(r, "10.0.0.2:1234"); w.Code != http.StatusAccepted {
		t.Errorf("other client status = %d, want 202", w.Code)
	}
	if limiter.gotLimit != 2 || limiter.gotWindow != 30*time.Second {
		t.Errorf("limiter called with limit=%d window=%s", limiter.gotLimit, limiter.gotWindow)
	}
	if _, ok := limiter.seen["ratelimit:10.0.0.1:/v1/jobs"]; !ok {
		t.Errorf("unexpected keys: %v", limiter.seen)
	}
}

func TestRateLimitPassThrough(t *testing.T) {
	cases := []struct {
		name    string
		cfg     RateLimitConfig
		limiter RateLimiter
	}{
		{"disabled", RateLimitConfig{Enabled: false}, &countingLimiter{limit: 0}},
		{"no limiter", RateLimitConfig{Enabled: true}, nil},
		{"limiter error", RateLimitConfig{Enabled: true}, &countingLimiter{err: stderrors.New("redis down")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newLimitedEngine(tc.cfg, tc.limiter)
			for i := 0; i < 3; i++ {
				if w := post(r, "10.0.0.1:1234"); w.Code != http.StatusAccepted {
					t.Fatalf("request %d: status = %d, want 202", i, w.Code)
				}
			}
		})
	}
}

func TestRateLimitRejectsWithErrorResponse(t *testing.T) {
	r := newLimitedEngine(RateLimitConfig{Enabled: true, Requests: 1}, &countingLimiter{limit: 1})
	post(r, "10.0.0.1:1234")

	w := post(r, "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != http.StatusTooManyRequests || body.Message != "rate limit exceeded" {
		t.Errorf("body = %+v", body)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
}
