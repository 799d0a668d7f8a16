package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingRecorder struct {
	spyRecorder
	rateLimited int
}

func (c *countingRecorder) RecordRateLimited() { c.rateLimited++ }

func newTestLoginLimiter(t *testing.T, cfg LoginLimiterConfig) (*LoginLimiter, *miniredis.Miniredis, *countingRecorder) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rec := &countingRecorder{}
	return NewLoginLimiter(rdb, cfg, rec), mr, rec
}

func loginRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestLoginLimiter_BlocksAfterMaxAttempts(t *testing.T) {
	limiter, _, rec := newTestLoginLimiter(t, LoginLimiterConfig{MaxAttempts: 5, Window: 15 * time.Minute})

	calls := 0
	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("192.0.2.1"))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, w.Code, http.StatusUnauthorized)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th attempt: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if calls != 5 {
		t.Errorf("handler calls = %d, want 5", calls)
	}
	if rec.rateLimited != 1 {
		t.Errorf("rate limited count = %d, want 1", rec.rateLimited)
	}

	sec, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || sec < 1 || sec > int((15*time.Minute).Seconds()) {
		t.Errorf("Retry-After = %q, want 1..900", w.Header().Get("Retry-After"))
	}

	body := decodeEnvelope(t, w)
	if body.Success || body.Message == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestLoginLimiter_CountsSuccessfulAttemptsToo(t *testing.T) {
	limiter, _, _ := newTestLoginLimiter(t, LoginLimiterConfig{MaxAttempts: 2, Window: time.Minute})

	handler := limiter.Middleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("192.0.2.2"))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.2"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestLoginLimiter_WindowResets(t *testing.T) {
	limiter, mr, _ := newTestLoginLimiter(t, LoginLimiterConfig{MaxAttempts: 1, Window: time.Minute})
	handler := limiter.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.3"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.3"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	mr.FastForward(61 * time.Second)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.3"))
	if w.Code != http.StatusOK {
		t.Errorf("after window: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestLoginLimiter_SetsExpiryOnFirstAttempt(t *testing.T) {
	limiter, mr, _ := newTestLoginLimiter(t, LoginLimiterConfig{MaxAttempts: 5, Window: 15 * time.Minute})
	limiter.Middleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.4"))

	if ttl := mr.TTL(loginLimitKeyPrefix + "192.0.2.4"); ttl != 15*time.Minute {
		t.Errorf("TTL = %v, want 15m", ttl)
	}
}

func TestLoginLimiter_IsolatesClients(t *testing.T) {
	limiter, _, _ := newTestLoginLimiter(t, LoginLimiterConfig{MaxAttempts: 1, Window: time.Minute})
	handler := limiter.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.5"))
	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.5"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.6"))
	if w.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestLoginLimiter_RedisDown_FailsOpen(t *testing.T) {
	limiter, mr, _ := newTestLoginLimiter(t, LoginLimiterConfig{MaxAttempts: 1, Window: time.Minute})
	mr.Close()

	handler := limiter.Middleware()(okHandler())
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("192.0.2.7"))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}
