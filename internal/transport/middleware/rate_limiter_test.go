// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limiterLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploadRateLimitAllowsWithinLimit(t *testing.T) {
	handler := UploadRateLimit(3, limiterLogger())(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestUploadRateLimitBlocksOverLimit(t *testing.T) {
	handler := UploadRateLimit(2, limiterLogger())(okHandler())

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on denial")
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("unexpected X-RateLimit-Limit %q", last.Header().Get("X-RateLimit-Limit"))
	}
}

func TestUploadRateLimitIsPerClient(t *testing.T) {
	handler := UploadRateLimit(1, limiterLogger())(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/documents", nil)
	first.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/documents", nil)
	other.RemoteAddr = "10.0.0.2:4000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client: expected 200, got %d", rec.Code)
	}
}

func TestUploadRateLimitDisabled(t *testing.T) {
	handler := UploadRateLimit(0, limiterLogger())(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestBucketRefills(t *testing.T) {
	limiter := newInMemoryRateLimiter()
	now := time.Now()

	if d := limiter.Allow("c", 60, now); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	for i := 0; i < 59; i++ {
		limiter.Allow("c", 60, now)
	}
	if d := limiter.Allow("c", 60, now); d.Allowed {
		t.Fatal("bucket should be empty")
	}

	// One token refills per second at 60/min.
	if d := limiter.Allow("c", 60, now.Add(1100*time.Millisecond)); !d.Allowed {
		t.Fatal("expected refill after one second")
	}
}
