package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

// memStore is an in-memory Store whose transactions roll back on error.
type memStore struct {
	perms     map[int64]Permission
	roles     map[int64]Role
	rolePerms map[int64]map[int64]struct{}
	userRoles map[int64]map[int64]struct{}
	users     map[int64]ActorProfile
	nextPerm  int64
	nextRole  int64

	txError error
}

func newMemStore() *memStore {
	return &memStore{
		perms:     make(map[int64]Permission),
		roles:     make(map[int64]Role),
		rolePerms: make(map[int64]map[int64]struct{}),
		userRoles: make(map[int64]map[int64]struct{}),
		users:     make(map[int64]ActorProfile),
		nextPerm:  1,
		nextRole:  1,
	}
}

func (m *memStore) snapshot() *memStore {
	c := newMemStore()
	c.nextPerm, c.nextRole = m.nextPerm, m.nextRole
	for k, v := range m.perms {
		c.perms[k] = v
	}
	for k, v := range m.roles {
		c.roles[k] = v
	}
	for k, v := range m.users {
		c.users[k] = v
	}
	for k, set := range m.rolePerms {
		c.rolePerms[k] = copySet(set)
	}
	for k, set := range m.userRoles {
		c.userRoles[k] = copySet(set)
	}
	return c
}

func (m *memStore) restore(from *memStore) {
	m.perms, m.roles, m.users = from.perms, from.roles, from.users
	m.rolePerms, m.userRoles = from.rolePerms, from.userRoles
	m.nextPerm, m.nextRole = from.nextPerm, from.nextRole
}

func copySet(in map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	saved := m.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

func (m *memStore) addUser(id int64, first, last string, active bool) {
	m.users[id] = ActorProfile{ID: id, FirstName: first, LastName: last, Email: strings.ToLower(first) + "@example.com", Active: active}
}

func (m *memStore) roleByName(name string) (Role, bool) {
	for _, r := range m.roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

func (m *memStore) sortedPerms(filter func(Permission) bool) []Permission {
	var out []Permission
	for _, p := range m.perms {
		if filter == nil || filter(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memStore) SearchPermissions(ctx context.Context, req shared.TableRequest) ([]Permission, int, int, error) {
	all := m.sortedPerms(nil)
	filtered := m.sortedPerms(func(p Permission) bool {
		return req.Search == "" || strings.Contains(p.Name, req.Search)
	})
	end := req.Start + req.Length
	if end > len(filtered) {
		end = len(filtered)
	}
	if req.Start > end {
		return nil, len(all), len(filtered), nil
	}
	return filtered[req.Start:end], len(all), len(filtered), nil
}

func (m *memStore) ListPermissionGroups(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var groups []string
	for _, p := range m.perms {
		if p.Group == "" {
			continue
		}
		if _, ok := seen[p.Group]; ok {
			continue
		}
		seen[p.Group] = struct{}{}
		groups = append(groups, p.Group)
	}
	sort.Strings(groups)
	return groups, nil
}

func (m *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) ListRoleSummaries(ctx context.Context) ([]RoleSummary, error) {
	roles, _ := m.ListRoles(ctx)
	out := make([]RoleSummary, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleSummary{Role: r, PermissionCount: len(m.rolePerms[r.ID])})
	}
	return out, nil
}

func (m *memStore) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memStore) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	granted := m.rolePerms[roleID]
	return m.sortedPerms(func(p Permission) bool {
		_, ok := granted[p.ID]
		return ok
	}), nil
}

func (m *memStore) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	for roleID := range m.userRoles[userID] {
		names = append(names, m.roles[roleID].Name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	seen := map[string]struct{}{}
	var names []string
	for roleID := range m.userRoles[userID] {
		for permID := range m.rolePerms[roleID] {
			name := m.perms[permID].Name
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) FindActor(ctx context.Context, userID int64) (ActorProfile, error) {
	u, ok := m.users[userID]
	if !ok {
		return ActorProfile{}, shared.ErrNotFound
	}
	return u, nil
}

type memTx struct {
	m *memStore
}

func (t *memTx) nameTaken(name string, exceptID int64, perms bool) bool {
	if perms {
		for id, p := range t.m.perms {
			if p.Name == name && id != exceptID {
				return true
			}
		}
		return false
	}
	for id, r := range t.m.roles {
		if r.Name == name && id != exceptID {
			return true
		}
	}
	return false
}

func (t *memTx) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	if t.nameTaken(in.Name, 0, true) {
		return Permission{}, shared.ErrDuplicateName
	}
	p := Permission{ID: t.m.nextPerm, Name: in.Name, Label: in.Label, Group: in.Group}
	t.m.nextPerm++
	t.m.perms[p.ID] = p
	return p, nil
}

func (t *memTx) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error) {
	p, ok := t.m.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	if t.nameTaken(in.Name, id, true) {
		return Permission{}, shared.ErrDuplicateName
	}
	p.Name, p.Label, p.Group = in.Name, in.Label, in.Group
	t.m.perms[id] = p
	return p, nil
}

func (t *memTx) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := t.m.perms[id]; !ok {
		return shared.ErrNotFound
	}
	for _, set := range t.m.rolePerms {
		if _, ok := set[id]; ok {
			// mirrors the foreign key on role_permissions
			return errForeignKey
		}
	}
	delete(t.m.perms, id)
	return nil
}

func (t *memTx) DetachPermissionFromRoles(ctx context.Context, permissionID int64) error {
	for _, set := range t.m.rolePerms {
		delete(set, permissionID)
	}
	return nil
}

func (t *memTx) CreateRole(ctx context.Context, name string) (Role, error) {
	if t.nameTaken(name, 0, false) {
		return Role{}, shared.ErrDuplicateName
	}
	r := Role{ID: t.m.nextRole, Name: name}
	t.m.nextRole++
	t.m.roles[r.ID] = r
	return r, nil
}

func (t *memTx) GetRole(ctx context.Context, id int64) (Role, error) {
	return t.m.GetRole(ctx, id)
}

func (t *memTx) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	r, ok := t.m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	if t.nameTaken(name, id, false) {
		return Role{}, shared.ErrDuplicateName
	}
	r.Name = name
	t.m.roles[id] = r
	return r, nil
}

func (t *memTx) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := t.m.roles[id]; !ok {
		return shared.ErrNotFound
	}
	if len(t.m.rolePerms[id]) > 0 {
		return errForeignKey
	}
	for _, set := range t.m.userRoles {
		if _, ok := set[id]; ok {
			return errForeignKey
		}
	}
	delete(t.m.roles, id)
	delete(t.m.rolePerms, id)
	return nil
}

func (t *memTx) ClearRolePermissions(ctx context.Context, roleID int64) error {
	delete(t.m.rolePerms, roleID)
	return nil
}

func (t *memTx) ResolvePermissionIDs(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, n := range names {
		for id, p := range t.m.perms {
			if p.Name == n {
				out[n] = id
			}
		}
	}
	return out, nil
}

func (t *memTx) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if t.m.rolePerms[roleID] == nil {
		t.m.rolePerms[roleID] = make(map[int64]struct{})
	}
	for _, id := range permissionIDs {
		t.m.rolePerms[roleID][id] = struct{}{}
	}
	return nil
}

func (t *memTx) DetachRoleFromUsers(ctx context.Context, roleID int64) error {
	for _, set := range t.m.userRoles {
		delete(set, roleID)
	}
	return nil
}

func (t *memTx) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, ok := t.m.roles[roleID]; !ok {
		return shared.ErrNotFound
	}
	if t.m.userRoles[userID] == nil {
		t.m.userRoles[userID] = make(map[int64]struct{})
	}
	t.m.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (t *memTx) RemoveAllRoles(ctx context.Context, userID int64) error {
	delete(t.m.userRoles, userID)
	return nil
}

func (t *memTx) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	return t.m.UserRoleNames(ctx, userID)
}

func (t *memTx) CountOtherActiveHolders(ctx context.Context, roleName string, userID int64) (int, error) {
	role, ok := t.m.roleByName(roleName)
	if !ok {
		return 0, nil
	}
	count := 0
	for id, set := range t.m.userRoles {
		if id == userID || !t.m.users[id].Active {
			continue
		}
		if _, ok := set[role.ID]; ok {
			count++
		}
	}
	return count, nil
}

type fkError struct{}

func (fkError) Error() string { return "violates foreign key constraint" }

var errForeignKey error = fkError{}
