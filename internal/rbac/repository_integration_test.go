//go:build integration

package rbac_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/seed"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/testing/pgtest"
	"github.com/sentinel-admin/sentinel/internal/users"
)

type stack struct {
	rbac  *rbac.Service
	users *users.Service
}

func newStack(t *testing.T) stack {
	t.Helper()
	pool := pgtest.Start(t)
	audit := shared.NewAuditLogger(pool)
	rbacSvc := rbac.NewService(rbac.NewRepository(pool), nil, audit)
	userSvc := users.NewService(users.NewRepository(pool), rbacSvc, nil, audit)

	doc, err := seed.Default()
	require.NoError(t, err)
	_, err = seed.New(rbacSvc, nil).Run(context.Background(), doc)
	require.NoError(t, err)
	return stack{rbac: rbacSvc, users: userSvc}
}

func (s stack) createUser(t *testing.T, email string, roleID *int64) users.User {
	t.Helper()
	u, err := s.users.Create(context.Background(), users.Input{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Password:  "password123",
		Status:    users.StatusActive,
		RoleID:    roleID,
	})
	require.NoError(t, err)
	return u
}

func (s stack) roleID(t *testing.T, name string) int64 {
	t.Helper()
	roles, err := s.rbac.ListRoles(context.Background())
	require.NoError(t, err)
	for _, r := range roles {
		if r.Name == name {
			return r.ID
		}
	}
	t.Fatalf("role %s missing", name)
	return 0
}

func TestRoleUpdateReplacesPermissionSet(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	editor, err := s.rbac.CreateRole(ctx, "editor", []string{shared.PermUsersView, shared.PermUsersEdit})
	require.NoError(t, err)
	u := s.createUser(t, "editor@test.local", &editor.ID)

	set, err := s.rbac.EffectivePermissions(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, set.Has(shared.PermUsersView))
	require.False(t, set.Has(shared.PermUsersDelete))

	_, err = s.rbac.UpdateRole(ctx, editor.ID, "editor", []string{shared.PermRolesView})
	require.NoError(t, err)
	set, err = s.rbac.EffectivePermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{shared.PermRolesView}, set.Names())
}

func TestEffectivePermissionsUnionAcrossRoles(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	a, err := s.rbac.CreateRole(ctx, "a", []string{shared.PermUsersView, shared.PermRolesView})
	require.NoError(t, err)
	b, err := s.rbac.CreateRole(ctx, "b", []string{shared.PermRolesView, shared.PermPermissionsView})
	require.NoError(t, err)
	u := s.createUser(t, "multi@test.local", &a.ID)
	require.NoError(t, s.rbac.AssignRole(ctx, u.ID, b.ID))

	set, err := s.rbac.EffectivePermissions(ctx, u.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{shared.PermUsersView, shared.PermRolesView, shared.PermPermissionsView}, set.Names())

	grouped, err := s.rbac.UserPermissionsByGroup(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"administration"}, grouped.Keys())
}

func TestDeletedPermissionDisappearsFromRoles(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	_, err := s.rbac.CreatePermission(ctx, rbac.PermissionInput{Name: "reports.export"})
	require.NoError(t, err)
	analyst, err := s.rbac.CreateRole(ctx, "analyst", []string{"reports.export"})
	require.NoError(t, err)
	u := s.createUser(t, "analyst@test.local", &analyst.ID)

	perms, err := s.rbac.ListPermissions(ctx)
	require.NoError(t, err)
	var id int64
	for _, p := range perms {
		if p.Name == "reports.export" {
			id = p.ID
		}
	}
	require.NotZero(t, id)
	require.NoError(t, s.rbac.DeletePermission(ctx, id))

	structure, err := s.rbac.PermissionStructure(ctx)
	require.NoError(t, err)
	for _, entries := range structure {
		for _, e := range entries {
			require.NotEqual(t, "reports.export", e.Name)
		}
	}
	set, err := s.rbac.EffectivePermissions(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, set.Has("reports.export"))
}

func TestReservedRolesCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	err := s.rbac.DeleteRole(ctx, s.roleID(t, shared.RoleUser))
	require.ErrorIs(t, err, shared.ErrProtectedRole)

	_, err = s.rbac.CreateRole(ctx, shared.RoleAdmin, nil)
	require.ErrorIs(t, err, shared.ErrDuplicateName)
}

func TestDeleteRoleDetachesUsers(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	ops, err := s.rbac.CreateRole(ctx, "ops", []string{shared.PermDashboardView})
	require.NoError(t, err)
	u := s.createUser(t, "ops@test.local", &ops.ID)

	require.NoError(t, s.rbac.DeleteRole(ctx, ops.ID))
	roles, err := s.rbac.EffectiveRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestLastAdministratorIsProtected(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	adminID := s.roleID(t, shared.RoleAdmin)
	admin := s.createUser(t, "admin@test.local", &adminID)

	require.ErrorIs(t, s.rbac.SetSingleRole(ctx, admin.ID, nil), shared.ErrLastAdmin)
	require.ErrorIs(t, s.users.Delete(ctx, 0, admin.ID), shared.ErrLastAdmin)
	_, err := s.users.Update(ctx, admin.ID, users.Input{
		FirstName: "Test",
		LastName:  "User",
		Email:     admin.Email,
		Status:    users.StatusInactive,
		RoleID:    &adminID,
	})
	require.ErrorIs(t, err, shared.ErrLastAdmin)

	second := s.createUser(t, "admin2@test.local", &adminID)
	require.NoError(t, s.users.Delete(ctx, second.ID, admin.ID))

	ac, err := s.rbac.Resolve(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, ac.HasRole(shared.RoleAdmin))
	require.True(t, ac.Permissions.Has(shared.PermPermissionsDelete))
}
