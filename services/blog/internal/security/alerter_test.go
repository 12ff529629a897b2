package security

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAlerter(t *testing.T) *AuditAlerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuditAlerter(client, "test:alerts", nil)
}

func TestAuditAlerterObserveTriggers(t *testing.T) {
	alerter := newAlerter(t)
	var lastTriggered bool
	for i := 0; i < 10; i++ {
		result, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		lastTriggered = result.Triggered
	}
	if !lastTriggered {
		t.Fatalf("expected alert threshold to trigger")
	}
}

func TestAuditAlerterObserveIgnoresUnknownRule(t *testing.T) {
	alerter := newAlerter(t)
	result, err := alerter.Observe(context.Background(), "auth.custom", "success", "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered {
		t.Fatalf("unexpected trigger for unknown rule")
	}
}

func TestRecordAlertsOnceAtThreshold(t *testing.T) {
	alerter := newAlerter(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	for i := 0; i < 7; i++ {
		alerter.Record(context.Background(), logger, EventRegister, OutcomeBanned, "10.1.1.1")
	}
	if n := strings.Count(buf.String(), `"msg":"security_alert"`); n != 1 {
		t.Fatalf("expected one alert line, got %d", n)
	}
	if n := strings.Count(buf.String(), `"msg":"security_event"`); n != 7 {
		t.Fatalf("expected seven event lines, got %d", n)
	}
}

func TestNilAlerterIsSafe(t *testing.T) {
	var alerter *AuditAlerter
	if _, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, ""); err != nil {
		t.Fatalf("nil alerter observe: %v", err)
	}
}
