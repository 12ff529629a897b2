package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blogcore/internal/ratelimit"
	"blogcore/internal/util"
	"blogcore/services/blog/internal/app"
	"blogcore/services/blog/internal/config"
	"blogcore/services/blog/internal/security"
	"blogcore/services/blog/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	durations, err := cfg.ParseDurations()
	if err != nil {
		log.Fatalf("failed to parse durations: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     durations.AccessTTL,
		RefreshTTL:    durations.RefreshTTL,
		JWTIssuer:     cfg.JWTIssuer,
		JWTAudience:   cfg.JWTAudience,
		JWTLeeway:     durations.JWTLeeway,
		CaptchaTTL:    durations.CaptchaTTL,
		Abuse: app.AbuseConfig{
			Threshold:   cfg.BanThreshold,
			Window:      durations.BanWindow,
			BanDuration: durations.BanDuration,
			Reason:      cfg.BanReason,
		},
		AMQPURL:      cfg.AMQPURL,
		AMQPExchange: cfg.AMQPExchange,
		EventStream:  cfg.EventStream,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := appCore.Seed(seedCtx); err != nil {
		cancel()
		log.Fatalf("failed to seed roles: %v", err)
	}
	cancel()

	serverCfg := server.Config{
		App:            appCore,
		Alerter:        security.NewAuditAlerter(appCore.Redis(), "", logger),
		TrustedProxies: trusted,
	}
	if cfg.AuthRateLimitPerMinute > 0 {
		serverCfg.AuthLimiter, err = ratelimit.NewRedisFixedWindowLimiter(appCore.Redis(), "blog:ratelimit:auth", cfg.AuthRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init auth limiter: %v", err)
		}
	}
	if cfg.CommentRateLimitPerMinute > 0 {
		serverCfg.CommentLimiter, err = ratelimit.NewRedisFixedWindowLimiter(appCore.Redis(), "blog:ratelimit:comment", cfg.CommentRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init comment limiter: %v", err)
		}
	}
	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("blog server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
