package app

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"blogcore/pkg/auth"
	"blogcore/pkg/captcha"
	"blogcore/pkg/domain"
	"blogcore/pkg/events"
	"blogcore/pkg/store"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 128
	minUsernameLength = 3
	maxUsernameLength = 32

	// dummyPasswordHash is checked when the email is unknown so that the
	// miss costs one full key derivation, like a wrong password.
	dummyPasswordHash = "9c2f4e8a1b7d3f6e0a5c8b2d4f7e1a3c:" +
		"3b8f2a6d9e1c4f7a0b5d8e2c6f9a1d4b7e0c3f6a9d2b5e8c1f4a7d0b3e6c9f2a"
)

// RegisterInput is a sign-up request. IP is the resolved client address.
type RegisterInput struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	InviteCode string `json:"inviteCode,omitempty"`
	CaptchaKey string `json:"captchaKey"`
	Captcha    string `json:"captcha"`
	IP         string `json:"-"`
}

// LoginInput is a sign-in request.
type LoginInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	CaptchaKey string `json:"captchaKey"`
	Captcha    string `json:"captcha"`
	IP         string `json:"-"`
}

// Session is the token pair handed to a signed-in user.
type Session struct {
	AccessToken      string      `json:"accessToken"`
	RefreshToken     string      `json:"refreshToken"`
	TokenType        string      `json:"tokenType"`
	ExpiresIn        int64       `json:"expiresIn"`
	RefreshExpiresAt time.Time   `json:"refreshExpiresAt"`
	User             domain.User `json:"user"`
	Permissions      []string    `json:"permissions"`
}

// Identity turns credentials into users and signed sessions.
type Identity struct {
	store    store.Store
	tx       *store.TxRunner
	tokens   *store.JWTTokenIssuer
	captchas *captcha.Manager
	guard    *AbuseGuard
	rbac     *RBAC
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// Register creates an active USER account pending verification.
func (s *Identity) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if err := validateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := validateUsername(username); err != nil {
		return domain.User{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return domain.User{}, err
	}
	if err := s.admit(ctx, in.IP, in.CaptchaKey, in.Captcha); err != nil {
		return domain.User{}, err
	}

	user, err := store.Execute(ctx, s.tx, store.Required, func(ctx context.Context) (domain.User, error) {
		if _, ok, err := s.store.GetUserByEmail(ctx, email); err != nil {
			return domain.User{}, err
		} else if ok {
			return domain.User{}, ErrEmailExists
		}
		if _, ok, err := s.store.GetUserByUsername(ctx, username); err != nil {
			return domain.User{}, err
		} else if ok {
			return domain.User{}, ErrUsernameExists
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return domain.User{}, err
		}
		created, err := s.store.CreateUser(ctx, domain.User{
			Email:              email,
			Username:           username,
			PasswordHash:       hash,
			Role:               domain.RoleUser,
			IsActive:           true,
			VerificationStatus: domain.VerificationPending,
			InviteCode:         strings.TrimSpace(in.InviteCode),
		})
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			return domain.User{}, ErrEmailExists
		case errors.Is(err, store.ErrDuplicateUsername):
			return domain.User{}, ErrUsernameExists
		case err != nil:
			return domain.User{}, err
		}
		role, ok, err := s.store.GetRoleByName(ctx, domain.RoleUser)
		if err != nil {
			return domain.User{}, err
		}
		if ok {
			if err := s.store.AddUserRole(ctx, created.ID, role.ID); err != nil {
				return domain.User{}, err
			}
		}
		publishAfterCommit(ctx, s.events, s.logger, events.New(events.TypeUserRegistered, map[string]any{
			"userId":   created.ID,
			"username": created.Username,
		}))
		return created, nil
	})
	if err != nil {
		return domain.User{}, internal(err)
	}
	s.logger.Info("user_registered", "user_id", user.ID, "ip", in.IP)
	return user, nil
}

// Login verifies credentials and issues a session. Unknown email, inactive
// account and wrong password are indistinguishable to the caller, including
// in how long they take.
func (s *Identity) Login(ctx context.Context, in LoginInput) (Session, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return Session{}, invalid("email and password are required")
	}
	if err := s.admit(ctx, in.IP, in.CaptchaKey, in.Captcha); err != nil {
		return Session{}, err
	}
	session, err := store.Execute(ctx, s.tx, store.Required, func(ctx context.Context) (Session, error) {
		user, ok, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return Session{}, err
		}
		stored := dummyPasswordHash
		if ok {
			stored = user.PasswordHash
		}
		matched := auth.CheckPassword(in.Password, stored)
		if !ok || !user.IsActive || !matched {
			return Session{}, ErrInvalidCredentials
		}
		now := s.now().UTC()
		if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
			return Session{}, err
		}
		user.LastLoginAt = &now
		return s.issueSession(ctx, user, "")
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.logger.Warn("security_event", "event", "login_failed", "ip", in.IP)
		}
		return Session{}, internal(err)
	}
	s.logger.Info("user_login", "user_id", session.User.ID, "ip", in.IP)
	return session, nil
}

// Refresh issues a new access token for a valid refresh token. The refresh
// token itself is returned unchanged.
func (s *Identity) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	claims, err := s.tokens.Verify(ctx, refreshToken, store.RefreshToken)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	session, err := store.Execute(ctx, s.tx, store.Required, func(ctx context.Context) (Session, error) {
		user, ok, err := s.store.GetUserByID(ctx, claims.UserID)
		if err != nil {
			return Session{}, err
		}
		if !ok || !user.IsActive {
			return Session{}, ErrInvalidToken
		}
		return s.issueSession(ctx, user, refreshToken)
	})
	if err != nil {
		return Session{}, internal(err)
	}
	if claims.ExpiresAt != nil {
		session.RefreshExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// ChangePassword replaces the password hash after checking the current password.
func (s *Identity) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	err := s.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		user, ok, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}
		if !auth.CheckPassword(oldPassword, user.PasswordHash) {
			return ErrPasswordMismatch
		}
		hash, err := auth.HashPassword(newPassword)
		if err != nil {
			return err
		}
		return s.store.UpdateUserPassword(ctx, userID, hash)
	})
	if err != nil {
		return internal(err)
	}
	s.logger.Info("password_changed", "user_id", userID)
	return nil
}

// Authenticate verifies an access token and returns its claims.
func (s *Identity) Authenticate(ctx context.Context, accessToken string) (store.TokenClaims, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return store.TokenClaims{}, ErrUnauthenticated
	}
	claims, err := s.tokens.Verify(ctx, accessToken, store.AccessToken)
	if err != nil {
		return store.TokenClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes an access token until it would have expired.
func (s *Identity) Logout(ctx context.Context, accessToken string) error {
	if err := s.tokens.Revoke(ctx, strings.TrimSpace(accessToken), store.AccessToken); err != nil {
		return internal(err)
	}
	return nil
}

// IssueCaptcha hands out a one-time captcha to a client that is not banned.
func (s *Identity) IssueCaptcha(ctx context.Context, ip string) (captcha.Challenge, error) {
	if err := s.checkBan(ctx, ip); err != nil {
		return captcha.Challenge{}, err
	}
	ch, err := s.captchas.Issue(ctx)
	if err != nil {
		return captcha.Challenge{}, internal(err)
	}
	return ch, nil
}

// DeleteUser removes a user together with their role links, votes, reports and comments.
func (s *Identity) DeleteUser(ctx context.Context, userID int64) error {
	err := s.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		if err := s.store.DeleteUser(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return internal(err)
	}
	s.logger.Info("user_deleted", "user_id", userID)
	return nil
}

// admit runs the abuse check and consumes the captcha. The request is
// recorded before the captcha is checked, so failed attempts count.
func (s *Identity) admit(ctx context.Context, ip, captchaKey, answer string) error {
	if err := s.checkBan(ctx, ip); err != nil {
		return err
	}
	status, err := s.guard.RecordRequest(ctx, ip)
	if err != nil {
		return internal(err)
	}
	if status.Banned {
		return banned(status)
	}
	if err := s.captchas.Verify(ctx, captchaKey, answer); err != nil {
		switch {
		case errors.Is(err, captcha.ErrExpired):
			return ErrCaptchaExpired
		case errors.Is(err, captcha.ErrMismatch):
			s.logger.Warn("security_event", "event", "captcha_failed", "ip", ip)
			return ErrCaptchaInvalid
		default:
			return internal(err)
		}
	}
	return nil
}

func (s *Identity) checkBan(ctx context.Context, ip string) error {
	status, err := s.guard.Status(ctx, ip)
	if err != nil {
		return internal(err)
	}
	if status.Banned {
		return banned(status)
	}
	return nil
}

func banned(status BanStatus) error {
	details := map[string]any{"reason": status.Reason}
	if status.ExpiresAt != nil {
		details["expiresAt"] = status.ExpiresAt.UTC()
	}
	return ErrIPBanned.withDetails(details)
}

// issueSession signs an access token with the user's current permissions.
// An empty refreshToken means a new one is issued.
func (s *Identity) issueSession(ctx context.Context, user domain.User, refreshToken string) (Session, error) {
	perms, err := s.rbac.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return Session{}, internal(err)
	}
	access, err := s.tokens.IssueAccess(user.ID, user.Email, user.Role, perms)
	if err != nil {
		return Session{}, internal(err)
	}
	session := Session{
		AccessToken:  access.Token,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user,
		Permissions:  perms,
	}
	if refreshToken == "" {
		refresh, err := s.tokens.IssueRefresh(user.ID)
		if err != nil {
			return Session{}, internal(err)
		}
		session.RefreshToken = refresh.Token
		session.RefreshExpiresAt = refresh.ExpiresAt
	}
	return session, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("invalid email address")
	}
	return nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return invalid("username must be %d-%d characters", minUsernameLength, maxUsernameLength)
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength || n > maxPasswordLength {
		return invalid("password must be %d-%d characters", minPasswordLength, maxPasswordLength)
	}
	return nil
}
