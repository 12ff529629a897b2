package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"blogcore/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func TestCreateRoleRejectsTakenName(t *testing.T) {
	h := newHarness(t, permissive)
	ctx := context.Background()

	role, err := h.app.RBAC.CreateRole(ctx, " AUTHOR ", "writes articles")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if role.Name != "AUTHOR" || role.ID == 0 || role.CreatedAt.IsZero() {
		t.Fatalf("unexpected role: %+v", role)
	}
	if _, err := h.app.RBAC.CreateRole(ctx, "AUTHOR", ""); !errors.Is(err, ErrRoleNameExists) {
		t.Fatalf("expected ErrRoleNameExists, got %v", err)
	}
	if _, err := h.app.RBAC.CreateRole(ctx, "bad name!", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateRole(t *testing.T) {
	h := newHarness(t, permissive)
	ctx := context.Background()
	role, err := h.app.RBAC.CreateRole(ctx, "AUTHOR", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := h.app.RBAC.UpdateRole(ctx, role.ID, CatalogUpdate{Name: ptr("WRITER"), Description: ptr("long form")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "WRITER" || updated.Description != "long form" {
		t.Fatalf("unexpected role: %+v", updated)
	}
	if _, err := h.app.RBAC.UpdateRole(ctx, role.ID, CatalogUpdate{Name: ptr(domain.RoleEditor)}); !errors.Is(err, ErrRoleNameExists) {
		t.Fatalf("expected ErrRoleNameExists, got %v", err)
	}
	if _, err := h.app.RBAC.UpdateRole(ctx, 9999, CatalogUpdate{Description: ptr("x")}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}

	admin, ok, err := h.store.GetRoleByName(ctx, domain.RoleAdmin)
	if err != nil || !ok {
		t.Fatalf("admin role: ok=%v err=%v", ok, err)
	}
	if _, err := h.app.RBAC.UpdateRole(ctx, admin.ID, CatalogUpdate{Name: ptr("ROOT")}); !errors.Is(err, ErrBuiltinRole) {
		t.Fatalf("expected ErrBuiltinRole, got %v", err)
	}
	if _, err := h.app.RBAC.UpdateRole(ctx, admin.ID, CatalogUpdate{Description: ptr("full access")}); err != nil {
		t.Fatalf("describing a built-in role should work: %v", err)
	}
}

func TestDeleteRoleDropsAssignments(t *testing.T) {
	h := newHarness(t, permissive)
	u := h.register(t, "nina@example.com", "nina", "secret123")
	ctx := context.Background()
	role, err := h.app.RBAC.CreateRole(ctx, "AUTHOR", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.app.RBAC.CreatePermission(ctx, "article:publish", ""); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := h.app.RBAC.GrantPermission(ctx, "AUTHOR", "article:publish"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := h.app.RBAC.AssignRole(ctx, u.ID, "AUTHOR"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	perms, err := h.app.RBAC.EffectivePermissions(ctx, u.ID)
	if err != nil || !slices.Contains(perms, "article:publish") {
		t.Fatalf("expected article:publish, got %v (%v)", perms, err)
	}

	if err := h.app.RBAC.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if roles := h.app.RBAC.RolesOf(ctx, u.ID); slices.Contains(roles, "AUTHOR") {
		t.Fatalf("deleted role still assigned: %v", roles)
	}
	perms, err = h.app.RBAC.EffectivePermissions(ctx, u.ID)
	if err != nil || slices.Contains(perms, "article:publish") {
		t.Fatalf("deleted role still grants: %v (%v)", perms, err)
	}
	if err := h.app.RBAC.DeleteRole(ctx, role.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	user, _, _ := h.store.GetRoleByName(ctx, domain.RoleUser)
	if err := h.app.RBAC.DeleteRole(ctx, user.ID); !errors.Is(err, ErrBuiltinRole) {
		t.Fatalf("expected ErrBuiltinRole, got %v", err)
	}
}

func TestRolesPaging(t *testing.T) {
	h := newHarness(t, permissive)
	ctx := context.Background()
	for _, name := range []string{"AUTHOR", "BOT", "CURATOR"} {
		if _, err := h.app.RBAC.CreateRole(ctx, name, ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	page, err := h.app.RBAC.Roles(ctx, ListParams{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	// ADMIN AUTHOR | BOT CURATOR | EDITOR USER
	if page.Total != 6 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[0].Name != "BOT" || page.Items[1].Name != "CURATOR" {
		t.Fatalf("unexpected order: %+v", page.Items)
	}
	page, err = h.app.RBAC.Roles(ctx, ListParams{PageSize: 1, Order: "DESC"})
	if err != nil {
		t.Fatalf("roles desc: %v", err)
	}
	if page.Items[0].Name != domain.RoleUser {
		t.Fatalf("expected USER first, got %+v", page.Items)
	}
	page, err = h.app.RBAC.Roles(ctx, ListParams{Page: 9})
	if err != nil || len(page.Items) != 0 || page.Items == nil {
		t.Fatalf("expected an empty page, got %+v (%v)", page, err)
	}

	for _, params := range []ListParams{
		{Page: -1},
		{PageSize: maxPageSize + 1},
		{Sort: "upvotes"},
		{Order: "sideways"},
	} {
		if _, err := h.app.RBAC.Roles(ctx, params); !errors.Is(err, ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", params, err)
		}
	}
}

func TestPermissionCatalog(t *testing.T) {
	h := newHarness(t, permissive)
	ctx := context.Background()

	perm, err := h.app.RBAC.CreatePermission(ctx, "article:publish", "publish drafts")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.app.RBAC.CreatePermission(ctx, PermCommentVote, ""); !errors.Is(err, ErrPermissionExists) {
		t.Fatalf("expected ErrPermissionExists, got %v", err)
	}
	if _, err := h.app.RBAC.CreatePermission(ctx, "Not A Permission", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := h.app.RBAC.Permission(ctx, perm.ID)
	if err != nil || got.Name != "article:publish" {
		t.Fatalf("get: %+v (%v)", got, err)
	}
	if _, err := h.app.RBAC.UpdatePermission(ctx, perm.ID, CatalogUpdate{Name: ptr(PermCommentVote)}); !errors.Is(err, ErrPermissionExists) {
		t.Fatalf("expected ErrPermissionExists, got %v", err)
	}
	updated, err := h.app.RBAC.UpdatePermission(ctx, perm.ID, CatalogUpdate{Name: ptr("article:release")})
	if err != nil || updated.Name != "article:release" || updated.Description != "publish drafts" {
		t.Fatalf("update: %+v (%v)", updated, err)
	}

	page, err := h.app.RBAC.Permissions(ctx, ListParams{Sort: "id", Order: "desc", PageSize: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Items[0].ID != perm.ID {
		t.Fatalf("expected newest permission first, got %+v", page.Items)
	}
	if page.Total != int64(page.TotalPages) {
		t.Fatalf("one item per page: %+v", page)
	}

	if err := h.app.RBAC.DeletePermission(ctx, perm.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.app.RBAC.Permission(ctx, perm.ID); !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound, got %v", err)
	}
	if err := h.app.RBAC.DeletePermission(ctx, perm.ID); !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound on second delete, got %v", err)
	}
}

func TestGrantAndRevokePermission(t *testing.T) {
	h := newHarness(t, permissive)
	ctx := context.Background()

	if err := h.app.RBAC.GrantPermission(ctx, domain.RoleUser, PermCommentStats); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := h.app.RBAC.GrantPermission(ctx, domain.RoleUser, PermCommentStats); err != nil {
		t.Fatalf("second grant should be a no-op: %v", err)
	}
	perms, err := h.store.ListRolePermissionNames(ctx, domain.RoleUser)
	if err != nil || !slices.Contains(perms, PermCommentStats) {
		t.Fatalf("expected grant, got %v (%v)", perms, err)
	}
	if err := h.app.RBAC.RevokePermission(ctx, domain.RoleUser, PermCommentStats); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := h.app.RBAC.RevokePermission(ctx, domain.RoleUser, PermCommentStats); err != nil {
		t.Fatalf("second revoke should be a no-op: %v", err)
	}
	perms, _ = h.store.ListRolePermissionNames(ctx, domain.RoleUser)
	if slices.Contains(perms, PermCommentStats) {
		t.Fatalf("expected revoke, got %v", perms)
	}
	if err := h.app.RBAC.GrantPermission(ctx, "GHOST", PermCommentStats); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if err := h.app.RBAC.GrantPermission(ctx, domain.RoleUser, "ghost:haunt"); !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound, got %v", err)
	}
}
