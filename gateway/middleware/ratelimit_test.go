package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	var throttled []string
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1}, nil, func(route string) {
		throttled = append(throttled, route)
	})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	handler := limiter.Middleware("deals")(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/v1/deals/1/ship", nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if len(throttled) != 1 || throttled[0] != "deals" {
		t.Fatalf("unexpected throttle callbacks %v", throttled)
	}

	now = now.Add(time.Second)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected token refill after a second, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1}, nil, nil)
	handler := limiter.Middleware("offers")(okHandler())

	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	for _, caller := range []common.Address{alice, bob} {
		req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req = req.WithContext(WithCaller(req.Context(), caller))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("caller %s should have its own bucket, got %d", caller.Hex(), res.Code)
		}
	}

	anon := httptest.NewRequest(http.MethodGet, "/v1/offers/1", nil)
	anon.RemoteAddr = "10.0.0.1:5555"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, anon)
	if res.Code != http.StatusOK {
		t.Fatalf("anonymous caller keyed by IP should be separate, got %d", res.Code)
	}
}

func TestRateLimiterEvictsIdleCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1, Idle: time.Minute}, nil, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("offers")(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/v1/offers/1", nil)
	first.RemoteAddr = "10.0.0.1:1"
	handler.ServeHTTP(httptest.NewRecorder(), first)
	second := httptest.NewRequest(http.MethodGet, "/v1/offers/1", nil)
	second.RemoteAddr = "10.0.0.2:1"
	handler.ServeHTTP(httptest.NewRecorder(), second)
	if got := limiter.tracked(); got != 2 {
		t.Fatalf("expected 2 tracked callers, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	handler.ServeHTTP(httptest.NewRecorder(), second)
	if got := limiter.tracked(); got != 1 {
		t.Fatalf("expected idle caller evicted, got %d tracked", got)
	}
}

func TestClientIPPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("unexpected remote ip %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("unexpected forwarded ip %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("unexpected real ip %q", got)
	}
}
