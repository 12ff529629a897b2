package app

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"blogcore/pkg/domain"
	"blogcore/pkg/store"
)

var (
	roleNamePattern       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{1,31}$`)
	permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*(:[a-z0-9_.-]+)*$`)
)

const (
	maxPermissionNameLength = 64
	maxDescriptionLength    = 255
)

var builtinRoles = map[string]struct{}{
	domain.RoleUser:   {},
	domain.RoleEditor: {},
	domain.RoleAdmin:  {},
}

// CatalogUpdate changes a role or permission. Nil fields are left alone.
type CatalogUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

var (
	roleListing       = listDefaults{pageSize: 20, sort: domain.SortName, allowed: []string{domain.SortName, domain.SortCreatedAt}}
	permissionListing = listDefaults{pageSize: 20, sort: domain.SortName, allowed: []string{domain.SortID, domain.SortName, domain.SortCreatedAt}}
)

func validateRoleName(name string) error {
	if !roleNamePattern.MatchString(name) {
		return invalid("role name must be 2-32 letters, digits or underscores")
	}
	return nil
}

func validatePermissionName(name string) error {
	if len(name) > maxPermissionNameLength || !permissionNamePattern.MatchString(name) {
		return invalid("permission name must look like resource:action")
	}
	return nil
}

func validateDescription(desc string) error {
	if len([]rune(desc)) > maxDescriptionLength {
		return invalid("description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

// CreateRole adds a role with no permissions.
func (r *RBAC) CreateRole(ctx context.Context, name, description string) (domain.Role, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validateRoleName(name); err != nil {
		return domain.Role{}, err
	}
	if err := validateDescription(description); err != nil {
		return domain.Role{}, err
	}
	role, err := store.Execute(ctx, r.tx, store.Required, func(ctx context.Context) (domain.Role, error) {
		if _, ok, err := r.store.GetRoleByName(ctx, name); err != nil {
			return domain.Role{}, err
		} else if ok {
			return domain.Role{}, ErrRoleNameExists
		}
		role, err := r.store.CreateRole(ctx, name, description)
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Role{}, ErrRoleNameExists
		}
		return role, err
	})
	if err != nil {
		return domain.Role{}, internal(err)
	}
	r.logger.Info("role_created", "role_id", role.ID, "role", role.Name)
	return role, nil
}

// UpdateRole renames or re-describes a role. Built-in roles keep their names.
func (r *RBAC) UpdateRole(ctx context.Context, id int64, in CatalogUpdate) (domain.Role, error) {
	role, err := store.Execute(ctx, r.tx, store.Required, func(ctx context.Context) (domain.Role, error) {
		cur, ok, err := r.store.GetRoleByID(ctx, id)
		if err != nil {
			return domain.Role{}, err
		}
		if !ok {
			return domain.Role{}, ErrRoleNotFound
		}
		next := cur
		if in.Name != nil {
			next.Name = strings.TrimSpace(*in.Name)
			if err := validateRoleName(next.Name); err != nil {
				return domain.Role{}, err
			}
		}
		if in.Description != nil {
			next.Description = strings.TrimSpace(*in.Description)
			if err := validateDescription(next.Description); err != nil {
				return domain.Role{}, err
			}
		}
		if next.Name != cur.Name {
			if _, builtin := builtinRoles[cur.Name]; builtin {
				return domain.Role{}, ErrBuiltinRole
			}
			if other, ok, err := r.store.GetRoleByName(ctx, next.Name); err != nil {
				return domain.Role{}, err
			} else if ok && other.ID != id {
				return domain.Role{}, ErrRoleNameExists
			}
		}
		updated, err := r.store.UpdateRole(ctx, next)
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Role{}, ErrRoleNameExists
		}
		return updated, err
	})
	if err != nil {
		return domain.Role{}, notFoundAs(err, ErrRoleNotFound)
	}
	r.logger.Info("role_updated", "role_id", id, "role", role.Name)
	return role, nil
}

// DeleteRole removes a role together with its user and permission links.
func (r *RBAC) DeleteRole(ctx context.Context, id int64) error {
	err := r.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		cur, ok, err := r.store.GetRoleByID(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoleNotFound
		}
		if _, builtin := builtinRoles[cur.Name]; builtin {
			return ErrBuiltinRole
		}
		return r.store.DeleteRole(ctx, id)
	})
	if err != nil {
		return notFoundAs(err, ErrRoleNotFound)
	}
	r.logger.Info("role_deleted", "role_id", id)
	return nil
}

// Role fetches one role.
func (r *RBAC) Role(ctx context.Context, id int64) (domain.Role, error) {
	role, ok, err := r.store.GetRoleByID(ctx, id)
	if err != nil {
		return domain.Role{}, internal(err)
	}
	if !ok {
		return domain.Role{}, ErrRoleNotFound
	}
	return role, nil
}

// Roles pages the role catalog, sorted by name or createdAt.
func (r *RBAC) Roles(ctx context.Context, params ListParams) (domain.Page[domain.Role], error) {
	q, err := params.query(roleListing)
	if err != nil {
		return domain.Page[domain.Role]{}, err
	}
	roles, total, err := r.store.ListRoles(ctx, q)
	if err != nil {
		return domain.Page[domain.Role]{}, internal(err)
	}
	return domain.NewPage(roles, total, q), nil
}

// CreatePermission adds a permission that no role grants yet.
func (r *RBAC) CreatePermission(ctx context.Context, name, description string) (domain.Permission, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validatePermissionName(name); err != nil {
		return domain.Permission{}, err
	}
	if err := validateDescription(description); err != nil {
		return domain.Permission{}, err
	}
	perm, err := store.Execute(ctx, r.tx, store.Required, func(ctx context.Context) (domain.Permission, error) {
		if _, ok, err := r.store.GetPermissionByName(ctx, name); err != nil {
			return domain.Permission{}, err
		} else if ok {
			return domain.Permission{}, ErrPermissionExists
		}
		perm, err := r.store.CreatePermission(ctx, name, description)
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Permission{}, ErrPermissionExists
		}
		return perm, err
	})
	if err != nil {
		return domain.Permission{}, internal(err)
	}
	r.logger.Info("permission_created", "permission_id", perm.ID, "permission", perm.Name)
	return perm, nil
}

// UpdatePermission renames or re-describes a permission.
func (r *RBAC) UpdatePermission(ctx context.Context, id int64, in CatalogUpdate) (domain.Permission, error) {
	perm, err := store.Execute(ctx, r.tx, store.Required, func(ctx context.Context) (domain.Permission, error) {
		cur, ok, err := r.store.GetPermissionByID(ctx, id)
		if err != nil {
			return domain.Permission{}, err
		}
		if !ok {
			return domain.Permission{}, ErrPermissionNotFound
		}
		next := cur
		if in.Name != nil {
			next.Name = strings.TrimSpace(*in.Name)
			if err := validatePermissionName(next.Name); err != nil {
				return domain.Permission{}, err
			}
		}
		if in.Description != nil {
			next.Description = strings.TrimSpace(*in.Description)
			if err := validateDescription(next.Description); err != nil {
				return domain.Permission{}, err
			}
		}
		if next.Name != cur.Name {
			if other, ok, err := r.store.GetPermissionByName(ctx, next.Name); err != nil {
				return domain.Permission{}, err
			} else if ok && other.ID != id {
				return domain.Permission{}, ErrPermissionExists
			}
		}
		updated, err := r.store.UpdatePermission(ctx, next)
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Permission{}, ErrPermissionExists
		}
		return updated, err
	})
	if err != nil {
		return domain.Permission{}, notFoundAs(err, ErrPermissionNotFound)
	}
	r.logger.Info("permission_updated", "permission_id", id, "permission", perm.Name)
	return perm, nil
}

// DeletePermission removes a permission and every grant of it.
func (r *RBAC) DeletePermission(ctx context.Context, id int64) error {
	err := r.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		return r.store.DeletePermission(ctx, id)
	})
	if err != nil {
		return notFoundAs(err, ErrPermissionNotFound)
	}
	r.logger.Info("permission_deleted", "permission_id", id)
	return nil
}

// Permission fetches one permission.
func (r *RBAC) Permission(ctx context.Context, id int64) (domain.Permission, error) {
	perm, ok, err := r.store.GetPermissionByID(ctx, id)
	if err != nil {
		return domain.Permission{}, internal(err)
	}
	if !ok {
		return domain.Permission{}, ErrPermissionNotFound
	}
	return perm, nil
}

// Permissions pages the permission catalog, sorted by id, name or createdAt.
func (r *RBAC) Permissions(ctx context.Context, params ListParams) (domain.Page[domain.Permission], error) {
	q, err := params.query(permissionListing)
	if err != nil {
		return domain.Page[domain.Permission]{}, err
	}
	perms, total, err := r.store.ListPermissions(ctx, q)
	if err != nil {
		return domain.Page[domain.Permission]{}, internal(err)
	}
	return domain.NewPage(perms, total, q), nil
}

// GrantPermission lets every holder of roleName use permName. Granting twice is a no-op.
func (r *RBAC) GrantPermission(ctx context.Context, roleName, permName string) error {
	return r.changeGrant(ctx, roleName, permName, true)
}

// RevokePermission withdraws permName from roleName. Revoking a missing grant is a no-op.
func (r *RBAC) RevokePermission(ctx context.Context, roleName, permName string) error {
	return r.changeGrant(ctx, roleName, permName, false)
}

func (r *RBAC) changeGrant(ctx context.Context, roleName, permName string, grant bool) error {
	roleName = strings.TrimSpace(roleName)
	permName = strings.TrimSpace(permName)
	err := r.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		role, ok, err := r.store.GetRoleByName(ctx, roleName)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoleNotFound
		}
		perm, ok, err := r.store.GetPermissionByName(ctx, permName)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPermissionNotFound
		}
		if grant {
			return r.store.GrantPermission(ctx, role.ID, perm.ID)
		}
		return r.store.RevokePermission(ctx, role.ID, perm.ID)
	})
	if err != nil {
		return internal(err)
	}
	r.logger.Info("role_grant_changed", "role", roleName, "permission", permName, "granted", grant)
	return nil
}
