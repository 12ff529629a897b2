package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseYAML = `
port: "9000"
redisAddr: "localhost:6379"
accessTokenSecret: "access"
refreshTokenSecret: "refresh"
accessTTL: "30m"
banThreshold: 5
trustedProxies: ["10.0.0.0/8"]
`

func TestLoadReadsYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" || cfg.BanThreshold != 5 || len(cfg.TrustedProxies) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	d, err := cfg.ParseDurations()
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	if d.AccessTTL != 30*time.Minute || d.RefreshTTL != 0 {
		t.Fatalf("unexpected durations: %+v", d)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("DATABASE_URL", "postgres://blog@db/blog")
	t.Setenv("BAN_THRESHOLD", "7")
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "redis:6380" || cfg.DatabaseURL != "postgres://blog@db/blog" || cfg.BanThreshold != 7 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ACCESS_TOKEN_SECRET", "a")
	t.Setenv("REFRESH_TOKEN_SECRET", "b")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
}

func TestValidateConfig(t *testing.T) {
	good := FileConfig{RedisAddr: "r:6379", AccessTokenSecret: "a", RefreshTokenSecret: "b"}
	if err := validateConfig(good); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
	cases := map[string]func(*FileConfig){
		"missing redis":   func(c *FileConfig) { c.RedisAddr = "" },
		"missing secret":  func(c *FileConfig) { c.RefreshTokenSecret = "" },
		"shared secret":   func(c *FileConfig) { c.RefreshTokenSecret = "a" },
		"negative limit":  func(c *FileConfig) { c.AuthRateLimitPerMinute = -1 },
		"bad duration":    func(c *FileConfig) { c.BanWindow = "soon" },
		"negative window": func(c *FileConfig) { c.BanWindow = "-1h" },
	}
	for name, mutate := range cases {
		cfg := good
		mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected missing explicit file to fail")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	env := "REDIS_ADDR=dotenv:6379\nACCESS_TOKEN_SECRET=from-file-a\nREFRESH_TOKEN_SECRET=from-file-b\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ACCESS_TOKEN_SECRET", "from-process")
	t.Cleanup(func() {
		_ = os.Unsetenv("REDIS_ADDR")
		_ = os.Unsetenv("REFRESH_TOKEN_SECRET")
	})

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "dotenv:6379" {
		t.Fatalf("expected .env value, got %q", cfg.RedisAddr)
	}
	if cfg.AccessTokenSecret != "from-process" {
		t.Fatalf("process env must win over .env, got %q", cfg.AccessTokenSecret)
	}
}
