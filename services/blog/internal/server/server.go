package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"blogcore/internal/ratelimit"
	"blogcore/internal/util"
	"blogcore/pkg/domain"
	"blogcore/pkg/store"
	"blogcore/services/blog/internal/app"
	"blogcore/services/blog/internal/security"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Alerter        *security.AuditAlerter
	AuthLimiter    *ratelimit.FixedWindowLimiter
	CommentLimiter *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the blog service.
type Server struct {
	app            *app.App
	alerter        *security.AuditAlerter
	authLimiter    *ratelimit.FixedWindowLimiter
	commentLimiter *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		alerter:        cfg.Alerter,
		authLimiter:    cfg.AuthLimiter,
		commentLimiter: cfg.CommentLimiter,
		trusted:        cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("blog", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// identity
	s.mux.Handle("GET /api/captcha", s.limited(s.authLimiter, s.handleCaptcha))
	s.mux.Handle("POST /api/auth/register", s.limited(s.authLimiter, s.handleRegister))
	s.mux.Handle("POST /api/auth/login", s.limited(s.authLimiter, s.handleLogin))
	s.mux.Handle("POST /api/auth/refresh", s.limited(s.authLimiter, s.handleRefresh))
	s.mux.Handle("POST /api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("GET /api/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("POST /api/auth/password", s.authenticated(s.handleChangePassword))

	// administration
	s.mux.Handle("POST /api/users/{id}/roles", s.requirePermission(app.PermRoleManage, s.handleAssignRole))
	s.mux.Handle("DELETE /api/users/{id}/roles/{role}", s.requirePermission(app.PermRoleManage, s.handleRemoveRole))
	s.mux.Handle("GET /api/users/{id}/permissions", s.requirePermission(app.PermRoleManage, s.handleUserPermissions))
	s.mux.Handle("DELETE /api/users/{id}", s.requirePermission(app.PermUserDelete, s.handleDeleteUser))
	s.mux.Handle("GET /api/ip/{ip}", s.requirePermission(app.PermIPInspect, s.handleIPStatus))

	// role and permission catalog
	s.mux.Handle("GET /api/roles", s.requirePermission(app.PermRoleManage, s.handleListRoles))
	s.mux.Handle("POST /api/roles", s.requirePermission(app.PermRoleManage, s.handleCreateRole))
	s.mux.Handle("GET /api/roles/{id}", s.requirePermission(app.PermRoleManage, s.handleGetRole))
	s.mux.Handle("PUT /api/roles/{id}", s.requirePermission(app.PermRoleManage, s.handleUpdateRole))
	s.mux.Handle("DELETE /api/roles/{id}", s.requirePermission(app.PermRoleManage, s.handleDeleteRole))
	s.mux.Handle("POST /api/roles/{id}/permissions", s.requirePermission(app.PermRoleManage, s.handleGrantPermission))
	s.mux.Handle("DELETE /api/roles/{id}/permissions/{name}", s.requirePermission(app.PermRoleManage, s.handleRevokePermission))
	s.mux.Handle("GET /api/permissions", s.requirePermission(app.PermRoleManage, s.handleListPermissions))
	s.mux.Handle("POST /api/permissions", s.requirePermission(app.PermRoleManage, s.handleCreatePermission))
	s.mux.Handle("GET /api/permissions/{id}", s.requirePermission(app.PermRoleManage, s.handleGetPermission))
	s.mux.Handle("PUT /api/permissions/{id}", s.requirePermission(app.PermRoleManage, s.handleUpdatePermission))
	s.mux.Handle("DELETE /api/permissions/{id}", s.requirePermission(app.PermRoleManage, s.handleDeletePermission))

	// comments
	s.mux.Handle("POST /api/comments", s.requirePermission(app.PermCommentCreate, s.throttled(s.handleCreateComment)))
	s.mux.HandleFunc("GET /api/comments/{id}", s.handleGetComment)
	s.mux.Handle("PUT /api/comments/{id}", s.authenticated(s.throttled(s.handleUpdateComment)))
	s.mux.HandleFunc("GET /api/articles/{id}/comments", s.handleArticleComments)
	s.mux.Handle("GET /api/comments/stats", s.requirePermission(app.PermCommentStats, s.handleCommentStats))
	s.mux.Handle("POST /api/comments/{id}/vote", s.requirePermission(app.PermCommentVote, s.throttled(s.handleVote)))
	s.mux.Handle("POST /api/comments/{id}/report", s.requirePermission(app.PermCommentReport, s.throttled(s.handleReport)))
	s.mux.Handle("PATCH /api/comments/{id}/status", s.requirePermission(app.PermCommentModerate, s.handleCommentStatus))
	s.mux.Handle("DELETE /api/comments/{id}", s.requirePermission(app.PermCommentDelete, s.handleDeleteComment))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, store.TokenClaims)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.writeAppError(w, r, app.ErrUnauthenticated)
			return
		}
		claims, err := s.app.Identity.Authenticate(r.Context(), token)
		if err != nil {
			s.security(r, security.EventAuthorize, security.OutcomeFail)
			s.writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", claims.UserID))
		next(w, r.WithContext(ctx), claims)
	})
}

func (s *Server) requirePermission(permission string, next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
		if err := s.app.RBAC.Authorize(claims, permission); err != nil {
			s.security(r, security.EventAuthorize, security.OutcomeFail, "permission", permission)
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, claims)
	})
}

// limited applies a per-IP limiter ahead of an anonymous handler.
func (s *Server) limited(limiter *ratelimit.FixedWindowLimiter, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r, limiter, "ip:"+s.clientIP(r)) {
			return
		}
		next(w, r)
	})
}

// throttled applies the per-user comment limiter.
func (s *Server) throttled(next authHandler) authHandler {
	return func(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
		if !s.allow(w, r, s.commentLimiter, "user:"+strconv.FormatInt(claims.UserID, 10)) {
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key string) bool {
	if limiter == nil {
		return true
	}
	decision, err := limiter.Allow(r.Context(), key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate_limit_failed", "key", key, "err", err)
	}
	if decision.Allowed {
		return true
	}
	s.security(r, r.URL.Path, security.OutcomeRateLimited)
	seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	return false
}

// identity handlers
func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	ch, err := s.app.Identity.IssueCaptcha(r.Context(), s.clientIP(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req app.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}
	req.IP = s.clientIP(r)
	user, err := s.app.Identity.Register(r.Context(), req)
	if err != nil {
		s.securityFailure(r, security.EventRegister, err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req app.LoginInput
	if !decodeJSON(w, r, &req) {
		return
	}
	req.IP = s.clientIP(r)
	session, err := s.app.Identity.Login(r.Context(), req)
	if err != nil {
		s.securityFailure(r, security.EventLogin, err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.app.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.securityFailure(r, security.EventRefresh, err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	token, _ := bearerToken(r)
	if err := s.app.Identity.Logout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, claims store.TokenClaims) {
	writeJSON(w, http.StatusOK, meResponse{
		ID:          claims.UserID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "currentPassword and newPassword are required")
		return
	}
	if err := s.app.Identity.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		s.securityFailure(r, security.EventPasswordChange, err)
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// admin handlers
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.RBAC.AssignRole(r.Context(), userID, req.Role); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.RBAC.RemoveRole(r.Context(), userID, r.PathValue("role")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	perms, err := s.app.RBAC.EffectivePermissions(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles":       s.app.RBAC.RolesOf(r.Context(), userID),
		"permissions": perms,
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.Identity.DeleteUser(r.Context(), userID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIPStatus(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	status, err := s.app.Abuse.Status(r.Context(), r.PathValue("ip"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// comment handlers
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
	var req app.CreateCommentInput
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.app.Moderation.CreateComment(r.Context(), claims.UserID, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.app.Moderation.Comment(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCommentStats(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	stats, err := s.app.Moderation.Statistics(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Moderation.Vote(r.Context(), id, claims.UserID, domain.VoteType(req.VoteType))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Moderation.Report(r.Context(), id, claims.UserID, domain.ReportReason(req.Reason), req.Description)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleCommentStatus(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Moderation.SetCommentStatus(r.Context(), id, domain.CommentStatus(req.Status)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.Moderation.DeleteComment(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type voteRequest struct {
	VoteType string `json:"voteType"`
}

type reportRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type meResponse struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

func (s *Server) security(r *http.Request, event, outcome string, attrs ...any) {
	s.alerter.Record(r.Context(), util.LoggerFromContext(r.Context()), event, outcome, s.clientIP(r), attrs...)
}

// securityFailure records failed credential flows; validation errors are not security events.
func (s *Server) securityFailure(r *http.Request, event string, err error) {
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		return
	}
	switch {
	case errors.Is(err, app.ErrIPBanned):
		s.security(r, event, security.OutcomeBanned)
	case appErr.Kind == app.KindAuthentication,
		errors.Is(err, app.ErrCaptchaInvalid),
		errors.Is(err, app.ErrPasswordMismatch):
		s.security(r, event, security.OutcomeFail, "code", appErr.Code)
	}
}

// statusFor maps an error kind to an HTTP status, with a few code overrides.
func statusFor(e *app.Error) int {
	switch {
	case errors.Is(e, app.ErrIPBanned):
		return http.StatusForbidden
	case errors.Is(e, app.ErrCaptchaExpired), errors.Is(e, app.ErrCaptchaInvalid), errors.Is(e, app.ErrPasswordMismatch):
		return http.StatusBadRequest
	}
	switch e.Kind {
	case app.KindValidation:
		return http.StatusBadRequest
	case app.KindAuthentication:
		return http.StatusUnauthorized
	case app.KindAuthorization:
		return http.StatusForbidden
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindBusiness:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	cause := err
	var appErr *app.Error
	if errors.As(err, &appErr) {
		if c := appErr.Unwrap(); c != nil {
			cause = c
		}
	} else {
		appErr = app.ErrInternal
	}
	status := statusFor(appErr)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", cause)
	}
	body := errorResponse{Code: appErr.Code, Error: appErr.Message, Details: appErr.Details, RequestID: util.RequestID(r.Context())}
	writeJSON(w, status, body)
}

type errorResponse struct {
	Code      string         `json:"code"`
	Error     string         `json:"error"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid "+name)
		return 0, false
	}
	return id, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Debug("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}
