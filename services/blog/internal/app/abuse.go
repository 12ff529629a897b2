package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"blogcore/pkg/events"
	"blogcore/pkg/store"
)

const (
	defaultBanThreshold = 10
	defaultBanWindow    = time.Hour
	defaultBanDuration  = 24 * time.Hour
	defaultBanReason    = "request rate too high"
)

// AbuseConfig tunes request counting and bans.
type AbuseConfig struct {
	// Threshold is the number of requests inside Window that is still allowed.
	Threshold   int
	Window      time.Duration
	BanDuration time.Duration
	Reason      string
}

func (c AbuseConfig) withDefaults() AbuseConfig {
	if c.Threshold <= 0 {
		c.Threshold = defaultBanThreshold
	}
	if c.Window <= 0 {
		c.Window = defaultBanWindow
	}
	if c.BanDuration <= 0 {
		c.BanDuration = defaultBanDuration
	}
	if strings.TrimSpace(c.Reason) == "" {
		c.Reason = defaultBanReason
	}
	return c
}

// BanStatus is the admission result for one IP.
type BanStatus struct {
	Banned    bool       `json:"banned"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// AbuseGuard records requests per IP and bans sources that exceed the threshold.
// Expired bans are lifted lazily by the next call that touches the IP.
type AbuseGuard struct {
	store  store.Store
	tx     *store.TxRunner
	events events.Publisher
	logger *slog.Logger
	cfg    AbuseConfig
	now    func() time.Time
}

func newAbuseGuard(s store.Store, tx *store.TxRunner, pub events.Publisher, logger *slog.Logger, cfg AbuseConfig, now func() time.Time) *AbuseGuard {
	return &AbuseGuard{store: s, tx: tx, events: pub, logger: logger, cfg: cfg.withDefaults(), now: now}
}

// RecordRequest admits one request from ip, banning it once the trailing
// window holds more than Threshold requests.
func (g *AbuseGuard) RecordRequest(ctx context.Context, ip string) (BanStatus, error) {
	ip = normalizeIP(ip)
	return store.Execute(ctx, g.tx, store.Required, func(ctx context.Context) (BanStatus, error) {
		now := g.now().UTC()
		status, err := g.currentBan(ctx, ip, now)
		if err != nil || status.Banned {
			return status, err
		}
		if err := g.store.AppendIPRecord(ctx, ip, now); err != nil {
			return BanStatus{}, err
		}
		count, err := g.store.CountIPRecordsSince(ctx, ip, now.Add(-g.cfg.Window))
		if err != nil {
			return BanStatus{}, err
		}
		if count <= int64(g.cfg.Threshold) {
			return BanStatus{}, nil
		}
		until := now.Add(g.cfg.BanDuration)
		if err := g.store.BanIP(ctx, ip, g.cfg.Reason, until); err != nil {
			return BanStatus{}, err
		}
		g.logger.Warn("ip_banned", "ip", ip, "requests", count, "until", until)
		publishAfterCommit(ctx, g.events, g.logger, events.New(events.TypeIPBanned, map[string]any{
			"ip":        ip,
			"reason":    g.cfg.Reason,
			"expiresAt": until,
			"requests":  count,
		}))
		return BanStatus{Banned: true, Reason: g.cfg.Reason, ExpiresAt: &until}, nil
	})
}

// IsBanned reports whether ip is under an unexpired ban, clearing an expired one.
func (g *AbuseGuard) IsBanned(ctx context.Context, ip string) (bool, error) {
	status, err := g.Status(ctx, ip)
	return status.Banned, err
}

// Status is IsBanned with the ban reason and expiry.
func (g *AbuseGuard) Status(ctx context.Context, ip string) (BanStatus, error) {
	ip = normalizeIP(ip)
	return store.Execute(ctx, g.tx, store.Required, func(ctx context.Context) (BanStatus, error) {
		return g.currentBan(ctx, ip, g.now().UTC())
	})
}

// currentBan reads the latest ban row. A row without expiry is a permanent ban.
func (g *AbuseGuard) currentBan(ctx context.Context, ip string, now time.Time) (BanStatus, error) {
	rec, ok, err := g.store.LatestIPBan(ctx, ip)
	if err != nil || !ok {
		return BanStatus{}, err
	}
	if rec.BanExpireAt != nil && !rec.BanExpireAt.After(now) {
		if err := g.store.ClearIPBan(ctx, ip); err != nil {
			return BanStatus{}, err
		}
		g.logger.Info("ip_ban_lifted", "ip", ip, "expired_at", *rec.BanExpireAt)
		return BanStatus{}, nil
	}
	return BanStatus{Banned: true, Reason: rec.BanReason, ExpiresAt: rec.BanExpireAt}, nil
}

func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "unknown"
	}
	return ip
}

// publishAfterCommit sends e once the ambient transaction commits. Delivery
// failures are logged only; the change is already durable.
func publishAfterCommit(ctx context.Context, pub events.Publisher, logger *slog.Logger, e events.Event) {
	if pub == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	store.AfterCommit(ctx, func() {
		pubCtx, cancel := context.WithTimeout(base, 3*time.Second)
		defer cancel()
		if err := pub.Publish(pubCtx, e); err != nil {
			logger.Warn("event_publish_failed", "type", e.Type, "id", e.ID, "err", err)
		}
	})
}
