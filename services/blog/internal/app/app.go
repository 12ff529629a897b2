package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"blogcore/pkg/captcha"
	"blogcore/pkg/events"
	"blogcore/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	JWTIssuer     string
	JWTAudience   string
	JWTLeeway     time.Duration

	CaptchaTTL time.Duration
	Abuse      AbuseConfig

	AMQPURL      string
	AMQPExchange string
	EventStream  string

	// Injected dependencies win over the connection settings above.
	Store   store.Store
	Redis   *redis.Client
	Revoker store.TokenRevoker
	Events  events.Publisher
	Logger  *slog.Logger
	Now     func() time.Time
}

// App wires storage, tokens, captchas and events into the core components.
type App struct {
	Abuse      *AbuseGuard
	RBAC       *RBAC
	Identity   *Identity
	Moderation *Moderation

	store   store.Store
	redis   *redis.Client
	logger  *slog.Logger
	closers []io.Closer
}

// New constructs the application. An empty DatabaseURL selects the in-memory store.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	a := &App{logger: logger}

	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			logger.Warn("database URL not set, using in-memory store")
			dataStore = store.NewMemoryStore()
		} else {
			gs, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gs
			a.closers = append(a.closers, gs)
		}
	}
	a.store = dataStore

	client := cfg.Redis
	if client == nil {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			a.Close()
			return nil, errors.New("redisAddr is required for captcha and token revocation")
		}
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, client)
	}
	a.redis = client

	revoker := cfg.Revoker
	if revoker == nil {
		revoker = store.NewRedisTokenRevoker(client, "")
	}
	tokens, err := store.NewJWTTokenIssuer(store.TokenIssuerConfig{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		JWTOptions: store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		},
	}, revoker)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	publisher := cfg.Events
	if publisher == nil {
		publisher, err = a.buildPublisher(cfg, client)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	tx := store.NewTxRunner(dataStore, logger)
	captchas := captcha.NewManager(captcha.NewRedisStore(client, ""), cfg.CaptchaTTL)

	a.Abuse = newAbuseGuard(dataStore, tx, publisher, logger, cfg.Abuse, now)
	a.RBAC = newRBAC(dataStore, tx, logger)
	a.Identity = &Identity{
		store:    dataStore,
		tx:       tx,
		tokens:   tokens,
		captchas: captchas,
		guard:    a.Abuse,
		rbac:     a.RBAC,
		events:   publisher,
		logger:   logger,
		now:      now,
	}
	a.Moderation = &Moderation{store: dataStore, tx: tx, events: publisher, logger: logger}
	return a, nil
}

func (a *App) buildPublisher(cfg Config, client *redis.Client) (events.Publisher, error) {
	stream, err := events.NewRedisStreamPublisher(client, events.RedisStreamConfig{Stream: cfg.EventStream})
	if err != nil {
		return nil, fmt.Errorf("init event stream: %w", err)
	}
	if strings.TrimSpace(cfg.AMQPURL) == "" {
		return stream, nil
	}
	broker, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, fmt.Errorf("init amqp publisher: %w", err)
	}
	a.closers = append(a.closers, broker)
	return events.Fanout{stream, broker}, nil
}

// Seed installs the default role and permission catalog.
func (a *App) Seed(ctx context.Context) error {
	if err := a.RBAC.Seed(ctx, DefaultCatalog); err != nil {
		return fmt.Errorf("seed rbac catalog: %w", err)
	}
	a.logger.Info("rbac_catalog_seeded", "roles", len(DefaultCatalog))
	return nil
}

// Redis exposes the shared client for transport-level helpers.
func (a *App) Redis() *redis.Client { return a.redis }

// Ping checks that Redis answers.
func (a *App) Ping(ctx context.Context) error {
	return a.redis.Ping(ctx).Err()
}

// Close releases connections opened by New, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
