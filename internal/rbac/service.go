package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

// Store defines data access for the permission registry and role service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	SearchPermissions(ctx context.Context, req shared.TableRequest) ([]Permission, int, int, error)
	ListPermissionGroups(ctx context.Context) ([]string, error)

	ListRoles(ctx context.Context) ([]Role, error)
	ListRoleSummaries(ctx context.Context) ([]RoleSummary, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)

	UserRoleNames(ctx context.Context, userID int64) ([]string, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
	FindActor(ctx context.Context, userID int64) (ActorProfile, error)
}

// Service orchestrates permissions, roles and their assignment to users.
type Service struct {
	repo   Store
	logger *slog.Logger
	audit  shared.AuditRecorder
}

// NewService constructs a Service.
func NewService(repo Store, logger *slog.Logger, audit shared.AuditRecorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, logger: logger, audit: audit}
}

// ---------------------------------------------------------------------------
// Permission registry
// ---------------------------------------------------------------------------

// ListPermissions returns every permission in registration order.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// SearchPermissions pages permissions for the data table.
func (s *Service) SearchPermissions(ctx context.Context, req shared.TableRequest) ([]Permission, int, int, error) {
	return s.repo.SearchPermissions(ctx, req)
}

// ListGroups returns the distinct non-empty permission groups.
func (s *Service) ListGroups(ctx context.Context) ([]string, error) {
	groups, err := s.repo.ListPermissionGroups(ctx)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []string{}
	}
	return groups, nil
}

// GetPermission fetches a permission.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// CreatePermission registers a new permission.
func (s *Service) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	in, err := normalizePermissionInput(in)
	if err != nil {
		return Permission{}, err
	}
	var created Permission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreatePermission(ctx, in)
		return err
	})
	if err != nil {
		return Permission{}, fmt.Errorf("create permission: %w", err)
	}
	s.record(ctx, shared.AuditCreate, "permission", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdatePermission overwrites name, label and group of a permission.
func (s *Service) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error) {
	in, err := normalizePermissionInput(in)
	if err != nil {
		return Permission{}, err
	}
	var updated Permission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdatePermission(ctx, id, in)
		return err
	})
	if err != nil {
		return Permission{}, fmt.Errorf("update permission %d: %w", id, err)
	}
	s.record(ctx, shared.AuditUpdate, "permission", id, map[string]any{"name": updated.Name})
	return updated, nil
}

// DeletePermission removes a permission and its grants in one transaction.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DetachPermissionFromRoles(ctx, id); err != nil {
			return err
		}
		return tx.DeletePermission(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete permission %d: %w", id, err)
	}
	s.record(ctx, shared.AuditDelete, "permission", id, nil)
	return nil
}

func normalizePermissionInput(in PermissionInput) (PermissionInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Label = strings.TrimSpace(in.Label)
	in.Group = strings.TrimSpace(in.Group)
	if in.Name == "" {
		return in, fmt.Errorf("%w: permission name required", shared.ErrValidation)
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Role service
// ---------------------------------------------------------------------------

// PermissionStructure groups the full registry by group key. It is rebuilt on
// every call so registry edits are visible immediately.
func (s *Service) PermissionStructure(ctx context.Context) (Structure, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return BuildStructure(perms), nil
}

// BuildStructure groups permissions by GroupKey preserving input order.
func BuildStructure(perms []Permission) Structure {
	structure := make(Structure)
	for _, p := range perms {
		key := GroupKey(p.Group)
		structure[key] = append(structure[key], PermissionEntry{Name: p.Name, Label: p.DisplayLabel()})
	}
	return structure
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// RoleNames returns every role name.
func (s *Service) RoleNames(ctx context.Context) ([]string, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// ListRolesWithCounts returns roles with the number of permissions each grants.
func (s *Service) ListRolesWithCounts(ctx context.Context) ([]RoleSummary, error) {
	return s.repo.ListRoleSummaries(ctx)
}

// GetRole returns a role together with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	perms, err := s.repo.RolePermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{Role: role, Permissions: perms}, nil
}

// CreateRole creates a role granting the named permissions.
func (s *Service) CreateRole(ctx context.Context, name string, permissionNames []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	var created Role
	var granted int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreateRole(ctx, name)
		if err != nil {
			return err
		}
		granted, err = s.grant(ctx, tx, created, permissionNames)
		return err
	})
	if err != nil {
		return Role{}, fmt.Errorf("create role: %w", err)
	}
	s.record(ctx, shared.AuditCreate, "role", created.ID, map[string]any{"name": created.Name, "permissions": granted})
	return created, nil
}

// UpdateRole renames a role and replaces its permission set wholesale.
func (s *Service) UpdateRole(ctx context.Context, id int64, name string, permissionNames []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	var updated Role
	var granted int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if current.Reserved() && current.Name != name {
			return shared.ErrProtectedRole
		}
		updated, err = tx.RenameRole(ctx, id, name)
		if err != nil {
			return err
		}
		if err := tx.ClearRolePermissions(ctx, id); err != nil {
			return err
		}
		granted, err = s.grant(ctx, tx, updated, permissionNames)
		return err
	})
	if err != nil {
		return Role{}, fmt.Errorf("update role %d: %w", id, err)
	}
	s.record(ctx, shared.AuditUpdate, "role", id, map[string]any{"name": updated.Name, "permissions": granted})
	return updated, nil
}

// DeleteRole removes a role, its grants and its user assignments. Reserved
// roles are refused before anything is touched.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	var deleted Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.Reserved() {
			return shared.ErrProtectedRole
		}
		deleted = role
		if err := tx.DetachRoleFromUsers(ctx, id); err != nil {
			return err
		}
		if err := tx.ClearRolePermissions(ctx, id); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete role %d: %w", id, err)
	}
	s.record(ctx, shared.AuditDelete, "role", id, map[string]any{"name": deleted.Name})
	return nil
}

// grant attaches the named permissions to role. Names missing from the
// registry are skipped and reported.
func (s *Service) grant(ctx context.Context, tx TxRepository, role Role, names []string) (int, error) {
	names = dedupe(names)
	ids, err := tx.ResolvePermissionIDs(ctx, names)
	if err != nil {
		return 0, err
	}
	attach := make([]int64, 0, len(ids))
	var unknown []string
	for _, n := range names {
		id, ok := ids[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		attach = append(attach, id)
	}
	if len(unknown) > 0 {
		s.logger.Warn("ignoring unknown permissions", slog.String("role", role.Name), slog.Any("permissions", unknown))
	}
	if err := tx.AttachPermissions(ctx, role.ID, attach); err != nil {
		return 0, err
	}
	return len(attach), nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ---------------------------------------------------------------------------
// User-role assignment
// ---------------------------------------------------------------------------

// AssignRole grants role to user. Assigning a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		return tx.AssignRole(ctx, userID, roleID)
	})
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	s.record(ctx, shared.AuditAssign, "user", userID, map[string]any{"role_id": roleID})
	return nil
}

// RemoveAllRoles strips every role from user.
func (s *Service) RemoveAllRoles(ctx context.Context, userID int64) error {
	return s.SetSingleRole(ctx, userID, nil)
}

// SetSingleRole replaces the user's roles with roleID, or with none when nil.
func (s *Service) SetSingleRole(ctx context.Context, userID int64, roleID *int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return ReplaceUserRole(ctx, tx, userID, roleID)
	})
	if err != nil {
		return fmt.Errorf("sync user roles: %w", err)
	}
	meta := map[string]any{"role_id": nil}
	if roleID != nil {
		meta["role_id"] = *roleID
	}
	s.record(ctx, shared.AuditSync, "user", userID, meta)
	return nil
}

// ReplaceUserRole clears the user's roles and assigns roleID when set, inside
// the caller's transaction. It refuses to leave the system without an admin.
func ReplaceUserRole(ctx context.Context, tx AssignmentTx, userID int64, roleID *int64) error {
	var target Role
	if roleID != nil {
		var err error
		target, err = tx.GetRole(ctx, *roleID)
		if err != nil {
			return err
		}
	}
	if target.Name != shared.RoleAdmin {
		if err := GuardLastAdmin(ctx, tx, userID); err != nil {
			return err
		}
	}
	if err := tx.RemoveAllRoles(ctx, userID); err != nil {
		return err
	}
	if roleID == nil {
		return nil
	}
	return tx.AssignRole(ctx, userID, target.ID)
}

// GuardLastAdmin fails with ErrLastAdmin when userID holds admin and no other
// active user does.
func GuardLastAdmin(ctx context.Context, tx AssignmentTx, userID int64) error {
	held, err := tx.UserRoleNames(ctx, userID)
	if err != nil {
		return err
	}
	if !contains(held, shared.RoleAdmin) {
		return nil
	}
	others, err := tx.CountOtherActiveHolders(ctx, shared.RoleAdmin, userID)
	if err != nil {
		return err
	}
	if others == 0 {
		return shared.ErrLastAdmin
	}
	return nil
}

func contains(list []string, needle string) bool {
	for _, v := range list {
		if v == needle {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Permission resolution
// ---------------------------------------------------------------------------

// EffectivePermissions returns the union of permissions over the user's roles.
// A user without roles has an empty set.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	names, err := s.repo.UserPermissionNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(names...), nil
}

// EffectiveRoles returns the role names the user holds.
func (s *Service) EffectiveRoles(ctx context.Context, userID int64) ([]string, error) {
	roles, err := s.repo.UserRoleNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}

// UserPermissionsByGroup returns the permission structure reduced to what the
// user holds. Groups without a held permission are omitted.
func (s *Service) UserPermissionsByGroup(ctx context.Context, userID int64) (Structure, error) {
	var (
		structure Structure
		set       PermissionSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		structure, err = s.PermissionStructure(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		set, err = s.EffectivePermissions(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return structure.Filter(set), nil
}

// CanAccessGroup reports whether the user holds any permission in group.
func (s *Service) CanAccessGroup(ctx context.Context, userID int64, group string) (bool, error) {
	grouped, err := s.UserPermissionsByGroup(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(grouped[GroupKey(group)]) > 0, nil
}

// Resolve builds the AuthContext for userID. Unknown and inactive users
// resolve to ErrNotFound.
func (s *Service) Resolve(ctx context.Context, userID int64) (*AuthContext, error) {
	var (
		profile ActorProfile
		roles   []string
		perms   PermissionSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = s.repo.FindActor(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		roles, err = s.EffectiveRoles(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		perms, err = s.EffectivePermissions(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !profile.Active {
		return nil, fmt.Errorf("user %d inactive: %w", userID, shared.ErrNotFound)
	}
	return &AuthContext{
		UserID:      profile.ID,
		Name:        strings.TrimSpace(profile.FirstName + " " + profile.LastName),
		Email:       profile.Email,
		Roles:       roles,
		Permissions: perms,
	}, nil
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.AuditActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: shared.FormatID(id),
		Meta:     meta,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("entity", entity), slog.Any("error", err))
	}
}
