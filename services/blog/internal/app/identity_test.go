package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blogcore/pkg/auth"
	"blogcore/pkg/domain"
	"blogcore/pkg/events"
	"blogcore/pkg/store"
)

func TestRegisterCreatesPendingUser(t *testing.T) {
	h := newHarness(t, permissive)
	u := h.register(t, " Alice@Example.com ", "alice", "secret123")

	if u.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", u.Email)
	}
	if u.Role != domain.RoleUser || !u.IsActive || u.VerificationStatus != domain.VerificationPending {
		t.Fatalf("unexpected user: %+v", u)
	}
	if !auth.CheckPassword("secret123", u.PasswordHash) {
		t.Fatalf("stored hash does not verify")
	}
	roles := h.app.RBAC.RolesOf(context.Background(), u.ID)
	if !slices.Equal(roles, []string{domain.RoleUser}) {
		t.Fatalf("expected USER role row, got %v", roles)
	}
	if h.events.count(events.TypeUserRegistered) != 1 {
		t.Fatalf("expected registration event")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	h := newHarness(t, permissive)
	h.register(t, "bob@example.com", "bob", "secret123")
	ctx := context.Background()

	key, code := h.captcha(t, "10.0.0.1")
	_, err := h.app.Identity.Register(ctx, RegisterInput{
		Email: "BOB@example.com", Username: "bobby", Password: "secret123",
		CaptchaKey: key, Captcha: code, IP: "10.0.0.1",
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	key, code = h.captcha(t, "10.0.0.1")
	_, err = h.app.Identity.Register(ctx, RegisterInput{
		Email: "other@example.com", Username: "bob", Password: "secret123",
		CaptchaKey: key, Captcha: code, IP: "10.0.0.1",
	})
	if !errors.Is(err, ErrUsernameExists) {
		t.Fatalf("expected ErrUsernameExists, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	h := newHarness(t, permissive)
	cases := []RegisterInput{
		{Email: "not-an-email", Username: "carol", Password: "secret123"},
		{Email: "carol@example.com", Username: "c", Password: "secret123"},
		{Email: "carol@example.com", Username: "carol", Password: "123"},
	}
	for _, in := range cases {
		_, err := h.app.Identity.Register(context.Background(), in)
		var appErr *Error
		if !errors.As(err, &appErr) || appErr.Kind != KindValidation {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}

func TestConcurrentRegistrationHasOneWinner(t *testing.T) {
	h := newHarness(t, permissive)
	const n = 8
	inputs := make([]RegisterInput, n)
	for i := range inputs {
		key, code := h.captcha(t, "10.0.0.3")
		inputs[i] = RegisterInput{
			Email:      "race@example.com",
			Username:   fmt.Sprintf("racer%d", i),
			Password:   "secret123",
			CaptchaKey: key,
			Captcha:    code,
			IP:         "10.0.0.3",
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.app.Identity.Register(context.Background(), inputs[i])
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrEmailExists):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one registration, got %d", wins)
	}
}

func TestCaptchaIsConsumedOnFailure(t *testing.T) {
	h := newHarness(t, permissive)
	ctx := context.Background()
	key, code := h.captcha(t, "10.0.0.1")
	in := RegisterInput{
		Email: "dave@example.com", Username: "dave", Password: "secret123",
		CaptchaKey: key, Captcha: "wrong", IP: "10.0.0.1",
	}
	if _, err := h.app.Identity.Register(ctx, in); !errors.Is(err, ErrCaptchaInvalid) {
		t.Fatalf("expected ErrCaptchaInvalid, got %v", err)
	}
	in.Captcha = code
	if _, err := h.app.Identity.Register(ctx, in); !errors.Is(err, ErrCaptchaExpired) {
		t.Fatalf("expected consumed captcha to be gone, got %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, permissive)
	h.register(t, "erin@example.com", "erin", "secret123")

	_, wrongPassword := h.login(t, "erin@example.com", "nope12345")
	_, unknownEmail := h.login(t, "nobody@example.com", "secret123")
	if !errors.Is(wrongPassword, ErrInvalidCredentials) || !errors.Is(unknownEmail, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("messages differ: %q vs %q", wrongPassword.Error(), unknownEmail.Error())
	}
}

func TestUnknownEmailLoginCostsAKeyDerivation(t *testing.T) {
	h := newHarness(t, permissive)
	h.register(t, "gail@example.com", "gail", "secret123")
	ctx := context.Background()

	timed := func(email string) time.Duration {
		var total time.Duration
		for i := 0; i < 5; i++ {
			key, code := h.captcha(t, "10.0.0.3")
			start := time.Now()
			_, err := h.app.Identity.Login(ctx, LoginInput{
				Email: email, Password: "wrong-pass", CaptchaKey: key, Captcha: code, IP: "10.0.0.3",
			})
			total += time.Since(start)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("%s: expected invalid credentials, got %v", email, err)
			}
		}
		return total / 5
	}
	wrong := timed("gail@example.com")
	unknown := timed("ghost@example.com")
	if unknown*4 < wrong {
		t.Fatalf("unknown email answered too fast: %v vs %v for a wrong password", unknown, wrong)
	}
}

func TestLoginIssuesPermissionSnapshot(t *testing.T) {
	h := newHarness(t, permissive)
	u := h.register(t, "frank@example.com", "frank", "secret123")
	if err := h.app.RBAC.AssignRole(context.Background(), u.ID, domain.RoleEditor); err != nil {
		t.Fatalf("assign editor: %v", err)
	}

	session, err := h.login(t, "frank@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.User.LastLoginAt == nil {
		t.Fatalf("expected last login to be recorded")
	}
	claims, err := h.app.Identity.Authenticate(context.Background(), session.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.UserID != u.ID || claims.Role != domain.RoleUser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasPermission(PermCommentModerate) || !claims.HasPermission(PermCommentCreate) {
		t.Fatalf("expected editor and user permissions, got %v", claims.Permissions)
	}
	if err := h.app.RBAC.Authorize(claims, PermRoleManage); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRefreshReusesRefreshToken(t *testing.T) {
	h := newHarness(t, permissive)
	h.register(t, "gina@example.com", "gina", "secret123")
	session, err := h.login(t, "gina@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ctx := context.Background()

	refreshed, err := h.app.Identity.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken != session.RefreshToken {
		t.Fatalf("refresh token should not rotate")
	}
	if _, err := h.app.Identity.Authenticate(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if _, err := h.app.Identity.Refresh(ctx, session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not refresh, got %v", err)
	}
}

func TestRefreshRejectsDeletedUser(t *testing.T) {
	h := newHarness(t, permissive)
	u := h.register(t, "hank@example.com", "hank", "secret123")
	session, err := h.login(t, "hank@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := h.app.Identity.DeleteUser(context.Background(), u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.app.Identity.Refresh(context.Background(), session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := h.app.Identity.DeleteUser(context.Background(), u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on second delete, got %v", err)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	h := newHarness(t, permissive)
	h.register(t, "ivy@example.com", "ivy", "secret123")
	session, err := h.login(t, "ivy@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ctx := context.Background()
	if err := h.app.Identity.Logout(ctx, session.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := h.app.Identity.Authenticate(ctx, session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, permissive)
	u := h.register(t, "jack@example.com", "jack", "secret123")
	ctx := context.Background()

	err := h.app.Identity.ChangePassword(ctx, u.ID, "wrong-old", "newsecret1")
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Code != "BUSINESS_ERROR" {
		t.Fatalf("expected BUSINESS_ERROR, got %v", err)
	}
	if err := h.app.Identity.ChangePassword(ctx, u.ID, "secret123", "newsecret1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := h.login(t, "jack@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := h.login(t, "jack@example.com", "newsecret1"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

type countingStore struct {
	*store.MemoryStore
	begins atomic.Int32
}

func (c *countingStore) BeginTx(ctx context.Context) (store.Tx, error) {
	c.begins.Add(1)
	return c.MemoryStore.BeginTx(ctx)
}

func TestLoginAndRefreshRunInTransactions(t *testing.T) {
	h := newHarness(t, permissive)
	h.register(t, "hana@example.com", "hana", "secret123")
	counting := &countingStore{MemoryStore: h.store}
	h.app.Identity.store = counting
	h.app.Identity.tx = store.NewTxRunner(counting, nil)

	session, err := h.login(t, "hana@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if n := counting.begins.Load(); n != 1 {
		t.Fatalf("expected login to open one transaction, got %d", n)
	}
	if _, err := h.app.Identity.Refresh(context.Background(), session.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := counting.begins.Load(); n != 2 {
		t.Fatalf("expected refresh to open one transaction, got %d", n)
	}
}
