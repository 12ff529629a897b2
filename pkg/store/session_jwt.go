package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer   = "blog-auth"
	defaultJWTAudience = "blog-api"

	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var defaultJWTLeeway = 30 * time.Second

// ErrInvalidToken is the only error Verify returns for a rejected token.
var ErrInvalidToken = errors.New("invalid token")

// TokenKind separates access tokens from refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// TokenIssuerConfig holds signing secrets and lifetimes. The two secrets
// must differ.
type TokenIssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	JWTOptions
}

// TokenClaims is the payload of both token kinds. Permissions are a snapshot
// taken when the access token was issued.
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind        TokenKind `json:"typ"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`

	UserID int64 `json:"-"`
}

// HasPermission reports whether the snapshot contains perm.
func (c TokenClaims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// IssuedToken is a signed token with its id and expiry.
type IssuedToken struct {
	Token     string    `json:"token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JWTTokenIssuer issues and validates HS256 access and refresh tokens.
type JWTTokenIssuer struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoker    TokenRevoker

	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTTokenIssuer builds an issuer. revoker may be nil.
func NewJWTTokenIssuer(cfg TokenIssuerConfig, revoker TokenRevoker) (*JWTTokenIssuer, error) {
	access := strings.TrimSpace(cfg.AccessSecret)
	refresh := strings.TrimSpace(cfg.RefreshSecret)
	if access == "" || refresh == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if access == refresh {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	opts := normalizeJWTOptions(cfg.JWTOptions)
	return &JWTTokenIssuer{
		accessKey:  []byte(access),
		refreshKey: []byte(refresh),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		revoker:    revoker,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		leeway:     opts.Leeway,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *JWTTokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccess signs an access token carrying the permission snapshot.
func (i *JWTTokenIssuer) IssueAccess(userID int64, email, role string, permissions []string) (IssuedToken, error) {
	perms := append([]string(nil), permissions...)
	return i.sign(TokenClaims{
		Kind:        AccessToken,
		Email:       email,
		Role:        role,
		Permissions: perms,
	}, userID, i.accessTTL, i.accessKey)
}

// IssueRefresh signs a refresh token for the user.
func (i *JWTTokenIssuer) IssueRefresh(userID int64) (IssuedToken, error) {
	return i.sign(TokenClaims{Kind: RefreshToken}, userID, i.refreshTTL, i.refreshKey)
}

func (i *JWTTokenIssuer) sign(claims TokenClaims, userID int64, ttl time.Duration, key []byte) (IssuedToken, error) {
	now := i.now().UTC()
	expires := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    i.issuer,
		Audience:  jwt.ClaimStrings{i.audience},
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", claims.Kind, err)
	}
	return IssuedToken{Token: signed, ID: claims.ID, ExpiresAt: expires}, nil
}

// Verify checks signature, claims, kind and revocation. Any failure yields ErrInvalidToken.
func (i *JWTTokenIssuer) Verify(ctx context.Context, token string, kind TokenKind) (TokenClaims, error) {
	claims, err := i.parseAndVerify(token, kind)
	if err != nil {
		return TokenClaims{}, ErrInvalidToken
	}
	if i.revoker != nil {
		revoked, err := i.revoker.IsRevoked(ctx, claims.ID)
		if err != nil || revoked {
			return TokenClaims{}, ErrInvalidToken
		}
	}
	return claims, nil
}

// Revoke blocks a valid token until it expires. Invalid tokens are ignored.
func (i *JWTTokenIssuer) Revoke(ctx context.Context, token string, kind TokenKind) error {
	if i.revoker == nil {
		return nil
	}
	claims, err := i.parseAndVerify(token, kind)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(i.now())
	return i.revoker.Revoke(ctx, claims.ID, ttl)
}

func (i *JWTTokenIssuer) parseAndVerify(token string, kind TokenKind) (TokenClaims, error) {
	claims := TokenClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("invalid token format")
	}
	var key []byte
	switch kind {
	case AccessToken:
		key = i.accessKey
	case RefreshToken:
		key = i.refreshKey
	default:
		return claims, fmt.Errorf("unknown token kind %q", kind)
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.leeway),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(i.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	if claims.Kind != kind {
		return claims, errors.New("token kind mismatch")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, errors.New("token jti missing")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return claims, errors.New("token subject invalid")
	}
	claims.UserID = userID
	return claims, nil
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
