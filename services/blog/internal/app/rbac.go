package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"blogcore/pkg/domain"
	"blogcore/pkg/store"
)

// Permission names granted through roles.
const (
	PermCommentCreate   = "comment:create"
	PermCommentVote     = "comment:vote"
	PermCommentReport   = "comment:report"
	PermCommentModerate = "comment:moderate"
	PermCommentDelete   = "comment:delete"
	PermCommentStats    = "comment:stats"
	PermRoleManage      = "role:manage"
	PermUserDelete      = "user:delete"
	PermIPInspect       = "ip:inspect"
)

// RoleGrant is one seeded role with its permissions.
type RoleGrant struct {
	Role        string
	Description string
	Permissions []string
}

// DefaultCatalog is seeded at start-up.
var DefaultCatalog = []RoleGrant{
	{
		Role:        domain.RoleUser,
		Description: "registered reader",
		Permissions: []string{PermCommentCreate, PermCommentVote, PermCommentReport},
	},
	{
		Role:        domain.RoleEditor,
		Description: "comment moderator",
		Permissions: []string{PermCommentCreate, PermCommentVote, PermCommentReport, PermCommentModerate, PermCommentDelete, PermCommentStats},
	},
	{
		Role:        domain.RoleAdmin,
		Description: "administrator",
		Permissions: []string{
			PermCommentCreate, PermCommentVote, PermCommentReport, PermCommentModerate, PermCommentDelete,
			PermCommentStats, PermRoleManage, PermUserDelete, PermIPInspect,
		},
	},
}

// RBAC resolves roles and permissions through the user_roles and
// role_permissions join tables.
type RBAC struct {
	store  store.Store
	tx     *store.TxRunner
	logger *slog.Logger
}

func newRBAC(s store.Store, tx *store.TxRunner, logger *slog.Logger) *RBAC {
	return &RBAC{store: s, tx: tx, logger: logger}
}

// RolesOf returns the user's role names. Lookup failures yield an empty set.
func (r *RBAC) RolesOf(ctx context.Context, userID int64) []string {
	names, err := r.store.ListUserRoleNames(ctx, userID)
	if err != nil {
		r.logger.Warn("rbac_roles_lookup_failed", "user_id", userID, "err", err)
		return []string{}
	}
	return dedupe(names)
}

// PermissionsOf returns the permission names granted to a role.
func (r *RBAC) PermissionsOf(ctx context.Context, roleName string) ([]string, error) {
	names, err := r.store.ListRolePermissionNames(ctx, roleName)
	if err != nil {
		return nil, internal(err)
	}
	return dedupe(names), nil
}

// EffectivePermissions is the union of PermissionsOf over RolesOf.
func (r *RBAC) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	roles := r.RolesOf(ctx, userID)
	if len(roles) == 0 {
		return []string{}, nil
	}
	results := make([][]string, len(roles))
	g, gctx := errgroup.WithContext(ctx)
	// a database transaction is one connection; keep its queries sequential
	if store.InTransaction(ctx) {
		g.SetLimit(1)
	}
	for i, role := range roles {
		g.Go(func() error {
			perms, err := r.PermissionsOf(gctx, role)
			if err != nil {
				return err
			}
			results[i] = perms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []string
	for _, perms := range results {
		all = append(all, perms...)
	}
	return dedupe(all), nil
}

// AssignRole links a role to a user. Re-assigning an existing pair is an error.
func (r *RBAC) AssignRole(ctx context.Context, userID int64, roleName string) error {
	roleName = strings.TrimSpace(roleName)
	err := r.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		if _, ok, err := r.store.GetUserByID(ctx, userID); err != nil {
			return err
		} else if !ok {
			return ErrUserNotFound
		}
		role, ok, err := r.store.GetRoleByName(ctx, roleName)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoleNotFound
		}
		exists, err := r.store.HasUserRole(ctx, userID, role.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrRoleAlreadyAssigned
		}
		if err := r.store.AddUserRole(ctx, userID, role.ID); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrRoleAlreadyAssigned
			}
			return err
		}
		return nil
	})
	if err != nil {
		return internal(err)
	}
	r.logger.Info("role_assigned", "user_id", userID, "role", roleName)
	return nil
}

// RemoveRole unlinks a role; a missing pair is not an error, an unknown role is.
func (r *RBAC) RemoveRole(ctx context.Context, userID int64, roleName string) error {
	roleName = strings.TrimSpace(roleName)
	err := r.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		role, ok, err := r.store.GetRoleByName(ctx, roleName)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoleNotFound
		}
		return r.store.RemoveUserRole(ctx, userID, role.ID)
	})
	if err != nil {
		return internal(err)
	}
	r.logger.Info("role_removed", "user_id", userID, "role", roleName)
	return nil
}

// Seed ensures every role, permission and grant in catalog exists.
func (r *RBAC) Seed(ctx context.Context, catalog []RoleGrant) error {
	return r.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		for _, grant := range catalog {
			role, err := r.store.EnsureRole(ctx, grant.Role, grant.Description)
			if err != nil {
				return err
			}
			for _, name := range grant.Permissions {
				perm, err := r.store.EnsurePermission(ctx, name, "")
				if err != nil {
					return err
				}
				if err := r.store.GrantPermission(ctx, role.ID, perm.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Authorize checks the permission snapshot carried by an access token.
func (r *RBAC) Authorize(claims store.TokenClaims, permission string) error {
	if claims.HasPermission(permission) {
		return nil
	}
	return ErrForbidden
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
