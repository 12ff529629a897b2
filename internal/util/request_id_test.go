package util

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveWithID(t *testing.T, incoming string) (header, seen string) {
	t.Helper()
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		if LoggerFromContext(r.Context()) == slog.Default() {
			t.Fatal("expected request-scoped logger in context")
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header().Get(RequestIDHeader), seen
}

func TestWithRequestIDKeepsWellFormedID(t *testing.T) {
	header, seen := serveWithID(t, "edge-7f3a.01_b")
	if header != "edge-7f3a.01_b" || seen != header {
		t.Fatalf("expected incoming id to be kept, got header %q context %q", header, seen)
	}
}

func TestWithRequestIDReplacesMissingOrUnsafeID(t *testing.T) {
	for _, incoming := range []string{"", "evil\nlevel=error", strings.Repeat("a", maxRequestIDLength+1), "spaces are bad"} {
		header, seen := serveWithID(t, incoming)
		if header == "" || header == incoming || seen != header {
			t.Fatalf("%q: expected a fresh id, got header %q context %q", incoming, header, seen)
		}
	}
}

func TestRequestIDOutsideRequest(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
