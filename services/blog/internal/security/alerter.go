package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Security event names observed by the HTTP layer.
const (
	EventLogin          = "auth.login"
	EventRegister       = "auth.register"
	EventRefresh        = "auth.refresh"
	EventPasswordChange = "auth.password.change"
	EventAuthorize      = "auth.authorize"
	EventCaptcha        = "auth.captcha"

	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
	OutcomeBanned      = "banned"
)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter aggregates security events and triggers threshold alerts.
type AuditAlerter struct {
	redisClient *redis.Client
	prefix      string
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuditAlerter creates an alerter backed by Redis counters. A nil client disables it.
func NewAuditAlerter(client *redis.Client, prefix string, logger *slog.Logger) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "blog:alerts"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditAlerter{redisClient: client, prefix: prefix, logger: logger, now: time.Now}
}

// Observe records a security event and returns whether alert threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.redisClient == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	windowMs := window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.redisClient, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

// Record logs a security_event and, when a threshold is crossed, a security_alert.
// Counter failures are logged and otherwise ignored.
func (a *AuditAlerter) Record(ctx context.Context, logger *slog.Logger, event, outcome, ip string, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("security_event", append([]any{"event", event, "outcome", outcome, "ip", ip}, attrs...)...)
	result, err := a.Observe(ctx, event, outcome, ip)
	if err != nil {
		logger.Error("security_alert_counter_failed", "event", event, "err", err)
		return
	}
	// only the crossing itself alerts
	if result.Triggered && result.Count == result.Threshold {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"window", result.Window.String(),
		)
	}
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	switch outcome {
	case OutcomeRateLimited:
		return 20, time.Minute, true
	case OutcomeBanned:
		return 5, time.Hour, true
	case OutcomeFail:
	default:
		return 0, 0, false
	}
	switch event {
	case EventLogin, EventRegister, EventCaptcha:
		return 10, 5 * time.Minute, true
	case EventRefresh, EventPasswordChange:
		return 15, 5 * time.Minute, true
	case EventAuthorize:
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
