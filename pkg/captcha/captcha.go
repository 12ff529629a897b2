package captcha

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 5 * time.Minute
	defaultLength = 4
	alphabet      = "abcdefghijklmnopqrstuvwxyz"
)

var (
	// ErrExpired means no captcha is stored under the key (never issued, used or expired).
	ErrExpired = errors.New("captcha expired or missing")
	// ErrMismatch means the answer did not match; the captcha is consumed anyway.
	ErrMismatch = errors.New("captcha mismatch")
)

// Store persists captcha answers with a TTL. Take must read and delete in
// one step so that a value is handed out at most once.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, bool, error)
}

// Challenge is handed to the client; Code is the expected answer.
type Challenge struct {
	Key       string `json:"captchaKey"`
	Code      string `json:"captcha"`
	ExpiresIn int    `json:"expiresIn"`
}

// Manager issues and verifies one-time captchas.
type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// Issue stores a fresh captcha and returns its key and answer.
func (m *Manager) Issue(ctx context.Context) (Challenge, error) {
	code, err := generateCode(defaultLength)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate captcha: %w", err)
	}
	key := uuid.NewString()
	if err := m.store.Set(ctx, key, code, m.ttl); err != nil {
		return Challenge{}, fmt.Errorf("store captcha: %w", err)
	}
	return Challenge{Key: key, Code: code, ExpiresIn: int(m.ttl.Seconds())}, nil
}

// Verify consumes the captcha under key and compares it case-insensitively.
// The stored value is deleted whether or not the answer matches.
func (m *Manager) Verify(ctx context.Context, key, answer string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrExpired
	}
	stored, ok, err := m.store.Take(ctx, key)
	if err != nil {
		return fmt.Errorf("consume captcha: %w", err)
	}
	if !ok {
		return ErrExpired
	}
	if !strings.EqualFold(strings.TrimSpace(answer), stored) {
		return ErrMismatch
	}
	return nil
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	limit := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// RedisStore keeps captchas in Redis under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "blog:captcha"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

// Take consumes the captcha with GETDEL.
func (s *RedisStore) Take(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	val, err := s.client.GetDel(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}
