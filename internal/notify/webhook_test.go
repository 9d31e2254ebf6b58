// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPostMessageSignsAndReturnsRef(t *testing.T) {
	secret := "s3cret"
	var gotSig string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhook(srv.URL, secret, srv.Client(), testLogger())
	ref, err := ch.PostMessage(context.Background(), "approvals", Message{
		Subject: "Approval required",
		Body:    "Document ready for review",
	})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ref == "" {
		t.Fatal("expected a non-empty message reference")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, want)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Ref != ref || payload.Update || payload.Channel != "approvals" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestUpdateMessageCarriesRef(t *testing.T) {
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhook(srv.URL, "", srv.Client(), testLogger())
	if err := ch.UpdateMessage(context.Background(), "approvals", "ref-123", Message{Subject: "Approved"}); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if payload.Ref != "ref-123" || !payload.Update {
		t.Fatalf("unexpected update payload: %+v", payload)
	}
}

func TestUpdateMessageRejectsEmptyRef(t *testing.T) {
	ch := NewWebhook("http://localhost:0", "", nil, testLogger())
	if err := ch.UpdateMessage(context.Background(), "approvals", "  ", Message{}); err == nil {
		t.Fatal("expected error for empty reference")
	}
}

func TestPostMessageRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhook(srv.URL, "", srv.Client(), testLogger())
	if _, err := ch.PostMessage(context.Background(), "approvals", Message{Subject: "x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestPostMessageExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhook(srv.URL, "", srv.Client(), testLogger())
	if _, err := ch.PostMessage(context.Background(), "approvals", Message{Subject: "x"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != webhookRetryAttempts {
		t.Fatalf("expected %d attempts, got %d", webhookRetryAttempts, calls.Load())
	}
}

func TestNoopChannel(t *testing.T) {
	var ch Channel = Noop{}
	ref, err := ch.PostMessage(context.Background(), "approvals", Message{})
	if err != nil || ref != "" {
		t.Fatalf("unexpected noop result: %q %v", ref, err)
	}
	if err := ch.UpdateMessage(context.Background(), "approvals", "ref", Message{}); err != nil {
		t.Fatalf("unexpected noop update error: %v", err)
	}
}
