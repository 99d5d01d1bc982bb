package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow("other") {
		t.Fatalf("other clients have their own bucket")
	}

	now = now.Add(31 * time.Second)
	if !l.Allow("k") {
		t.Fatalf("one token should refill after half a window")
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	l := NewIPRateLimiter(5, time.Minute)
	start := time.Now()
	l.now = func() time.Time { return start }
	l.Allow("a")

	if n := l.Sweep(start.Add(time.Minute)); n != 0 {
		t.Fatalf("recent client swept, n=%d", n)
	}
	if n := l.Sweep(start.Add(4 * time.Minute)); n != 1 {
		t.Fatalf("expected idle client swept, n=%d", n)
	}
}

func TestRateLimitMiddlewareUsesHost(t *testing.T) {
	mw := RateLimitMiddleware(NewIPRateLimiter(1, time.Hour))
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for _, addr := range []string{"10.0.0.1:5000", "10.0.0.1:5001"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		next.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected second request from same host limited, got %v", codes)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected headers %v", w.Header())
	}
}
