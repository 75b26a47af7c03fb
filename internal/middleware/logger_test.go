package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	var seenID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"PoolExists"}`))
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/pools", nil)

	RequestLogger(logger)(next).ServeHTTP(w, r)

	if seenID == "" {
		t.Fatalf("request id not in context")
	}
	if got := w.Header().Get(RequestIDHeader); got != seenID {
		t.Fatalf("response header id = %q, want %q", got, seenID)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusConflict) {
		t.Fatalf("status field = %v", fields["status"])
	}
	if fields["path"] != "/api/pools" {
		t.Fatalf("path field = %v", fields["path"])
	}
}

func TestRequestLogger_KeepsClientID(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/pools/x", nil)
	r.Header.Set(RequestIDHeader, "client-id")

	RequestLogger(zap.NewNop())(next).ServeHTTP(w, r)

	if got := w.Header().Get(RequestIDHeader); got != "client-id" {
		t.Fatalf("request id = %q, want client-id", got)
	}
}
