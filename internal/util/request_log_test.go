package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatusAndRequestID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	initLogger(&buf, "info")

	h := WithRequestID(WithRequestLog("blog", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	})))
	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	req.Header.Set("X-Request-Id", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["msg"] != "http_request" || line["request_id"] != "req-1" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["status"] != float64(http.StatusTeapot) || line["bytes"] != float64(3) {
		t.Fatalf("unexpected status/bytes: %v", line)
	}
}
