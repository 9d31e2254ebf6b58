// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMintedWhenAbsent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seenInContext string
	h := requestIDMiddleware()(requestLoggingMiddleware(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := requestIDFromContext(r.Context())
			if !ok {
				t.Fatal("expected request id in context")
			}
			seenInContext = id
			w.WriteHeader(http.StatusNoContent)
		})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	headerID := rec.Header().Get(headerRequestID)
	if headerID == "" {
		t.Fatal("expected X-Request-Id response header")
	}
	if seenInContext != headerID {
		t.Fatalf("context id %q does not match header %q", seenInContext, headerID)
	}
}

func TestRequestIDPreservedFromCaller(t *testing.T) {
	h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := requestIDFromContext(r.Context())
		if id != "upstream-trace-7" {
			t.Fatalf("expected caller's request id, got %q", id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set(headerRequestID, "upstream-trace-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(headerRequestID); got != "upstream-trace-7" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestResponseCaptureCountsBytes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
