package server

import (
	"net/http"
	"strconv"

	"blogcore/pkg/domain"
	"blogcore/pkg/store"
	"blogcore/services/blog/internal/app"
)

type catalogRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type grantRequest struct {
	Permission string `json:"permission"`
}

type contentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	params, ok := listParams(w, r)
	if !ok {
		return
	}
	page, err := s.app.RBAC.Roles(r.Context(), params)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	var req catalogRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := s.app.RBAC.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := s.app.RBAC.Role(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.CatalogUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := s.app.RBAC.UpdateRole(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.RBAC.DeleteRole(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := s.app.RBAC.Role(r.Context(), id)
	if err == nil {
		err = s.app.RBAC.GrantPermission(r.Context(), role.Name, req.Permission)
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := s.app.RBAC.Role(r.Context(), id)
	if err == nil {
		err = s.app.RBAC.RevokePermission(r.Context(), role.Name, r.PathValue("name"))
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	params, ok := listParams(w, r)
	if !ok {
		return
	}
	page, err := s.app.RBAC.Permissions(r.Context(), params)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	var req catalogRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	perm, err := s.app.RBAC.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	perm, err := s.app.RBAC.Permission(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.CatalogUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	perm, err := s.app.RBAC.UpdatePermission(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request, _ store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.app.RBAC.DeletePermission(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request, claims store.TokenClaims) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	canModerate := claims.HasPermission(app.PermCommentModerate)
	c, err := s.app.Moderation.UpdateComment(r.Context(), id, claims.UserID, canModerate, req.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleArticleComments(w http.ResponseWriter, r *http.Request) {
	articleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	params, ok := listParams(w, r)
	if !ok {
		return
	}
	status := domain.CommentStatus(r.URL.Query().Get("status"))
	page, err := s.app.Moderation.ArticleComments(r.Context(), articleID, status, params)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// listParams reads page, pageSize, sort and order from the query string.
func listParams(w http.ResponseWriter, r *http.Request) (app.ListParams, bool) {
	q := r.URL.Query()
	params := app.ListParams{Sort: q.Get("sort"), Order: q.Get("order")}
	for name, dst := range map[string]*int{"page": &params.Page, "pageSize": &params.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid "+name)
			return app.ListParams{}, false
		}
		*dst = n
	}
	return params, true
}
