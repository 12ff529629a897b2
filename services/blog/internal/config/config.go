package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with BLOG_CONFIG.
var ConfigPath = "config.yaml"

// EnvFile is loaded into the process environment when present. Variables
// already set are left alone.
var EnvFile = ".env"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	AccessTokenSecret  string `yaml:"accessTokenSecret"`
	RefreshTokenSecret string `yaml:"refreshTokenSecret"`
	AccessTTL          string `yaml:"accessTTL"`
	RefreshTTL         string `yaml:"refreshTTL"`
	JWTIssuer          string `yaml:"jwtIssuer"`
	JWTAudience        string `yaml:"jwtAudience"`
	JWTLeeway          string `yaml:"jwtLeeway"`

	CaptchaTTL     string   `yaml:"captchaTTL"`
	BanThreshold   int      `yaml:"banThreshold"`
	BanWindow      string   `yaml:"banWindow"`
	BanDuration    string   `yaml:"banDuration"`
	BanReason      string   `yaml:"banReason"`
	TrustedProxies []string `yaml:"trustedProxies"`

	AuthRateLimitPerMinute    int `yaml:"authRateLimitPerMinute"`
	CommentRateLimitPerMinute int `yaml:"commentRateLimitPerMinute"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
	EventStream  string `yaml:"eventStream"`
}

// Durations holds the parsed duration fields.
type Durations struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	JWTLeeway   time.Duration
	CaptchaTTL  time.Duration
	BanWindow   time.Duration
	BanDuration time.Duration
}

// Load reads config from path (defaults to BLOG_CONFIG, then config.yaml).
// A missing file is an error only when the path was given explicitly.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := loadEnvFile(EnvFile); err != nil {
		return cfg, err
	}
	explicit := path != ""
	if v := os.Getenv("BLOG_CONFIG"); !explicit && v != "" {
		path, explicit = v, true
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *FileConfig) {
	str := map[string]*string{
		"PORT":                 &cfg.Port,
		"LOG_LEVEL":            &cfg.LogLevel,
		"DATABASE_URL":         &cfg.DatabaseURL,
		"REDIS_ADDR":           &cfg.RedisAddr,
		"REDIS_PASSWORD":       &cfg.RedisPassword,
		"ACCESS_TOKEN_SECRET":  &cfg.AccessTokenSecret,
		"REFRESH_TOKEN_SECRET": &cfg.RefreshTokenSecret,
		"ACCESS_TOKEN_TTL":     &cfg.AccessTTL,
		"REFRESH_TOKEN_TTL":    &cfg.RefreshTTL,
		"JWT_ISSUER":           &cfg.JWTIssuer,
		"JWT_AUDIENCE":         &cfg.JWTAudience,
		"JWT_LEEWAY":           &cfg.JWTLeeway,
		"CAPTCHA_TTL":          &cfg.CaptchaTTL,
		"BAN_WINDOW":           &cfg.BanWindow,
		"BAN_DURATION":         &cfg.BanDuration,
		"AMQP_URL":             &cfg.AMQPURL,
		"AMQP_EXCHANGE":        &cfg.AMQPExchange,
		"EVENT_STREAM":         &cfg.EventStream,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"BAN_THRESHOLD":                 &cfg.BanThreshold,
		"AUTH_RATE_LIMIT_PER_MINUTE":    &cfg.AuthRateLimitPerMinute,
		"COMMENT_RATE_LIMIT_PER_MINUTE": &cfg.CommentRateLimitPerMinute,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for captcha and token revocation (set REDIS_ADDR)")
	}
	if strings.TrimSpace(cfg.AccessTokenSecret) == "" || strings.TrimSpace(cfg.RefreshTokenSecret) == "" {
		return errors.New("config: accessTokenSecret and refreshTokenSecret are required")
	}
	if strings.TrimSpace(cfg.AccessTokenSecret) == strings.TrimSpace(cfg.RefreshTokenSecret) {
		return errors.New("config: accessTokenSecret and refreshTokenSecret must differ")
	}
	if cfg.BanThreshold < 0 || cfg.AuthRateLimitPerMinute < 0 || cfg.CommentRateLimitPerMinute < 0 {
		return errors.New("config: thresholds and rate limits must be >= 0")
	}
	if _, err := cfg.ParseDurations(); err != nil {
		return err
	}
	return nil
}

// ParseDurations parses every optional duration field. Empty means default.
func (cfg FileConfig) ParseDurations() (Durations, error) {
	var d Durations
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"accessTTL", cfg.AccessTTL, &d.AccessTTL},
		{"refreshTTL", cfg.RefreshTTL, &d.RefreshTTL},
		{"jwtLeeway", cfg.JWTLeeway, &d.JWTLeeway},
		{"captchaTTL", cfg.CaptchaTTL, &d.CaptchaTTL},
		{"banWindow", cfg.BanWindow, &d.BanWindow},
		{"banDuration", cfg.BanDuration, &d.BanDuration},
	}
	for _, f := range fields {
		dur, err := parseDuration(f.name, f.raw)
		if err != nil {
			return Durations{}, err
		}
		*f.dst = dur
	}
	return d, nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}
