package rbac

import (
	"sort"
	"time"
)

// Permission represents an atomic capability that can be granted to roles.
type Permission struct {
	ID        int64
	Name      string
	Label     string
	Group     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayLabel returns the label shown to administrators.
func (p Permission) DisplayLabel() string {
	return DisplayLabel(p.Name, p.Label)
}

// PermissionInput carries the mutable fields of a permission.
type PermissionInput struct {
	Name  string `validate:"required,max=255"`
	Label string `validate:"max=255"`
	Group string `validate:"max=255"`
}

// Role represents a named bundle of permissions.
type Role struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reserved reports whether the role is one of the protected system roles.
func (r Role) Reserved() bool {
	return isReserved(r.Name)
}

// RoleSummary is a role row in listings.
type RoleSummary struct {
	Role
	PermissionCount int
}

// RoleDetail is a role together with the permissions it grants.
type RoleDetail struct {
	Role
	Permissions []Permission
}

// PermissionNames returns the names of the granted permissions.
func (d RoleDetail) PermissionNames() []string {
	names := make([]string, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// PermissionEntry is a single permission inside a Structure group.
type PermissionEntry struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Structure maps a group key to its permissions.
type Structure map[string][]PermissionEntry

// Keys returns the group keys in sorted order.
func (s Structure) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Filter returns the groups restricted to permissions held in set. Groups left
// empty are omitted.
func (s Structure) Filter(set PermissionSet) Structure {
	out := make(Structure)
	for group, entries := range s {
		for _, entry := range entries {
			if set.Has(entry.Name) {
				out[group] = append(out[group], entry)
			}
		}
	}
	return out
}

// PermissionSet is a deduplicated set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set. Lookups on a nil set are false.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permission names in sorted order.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ActorProfile is the minimal user record needed to build an AuthContext.
type ActorProfile struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Active    bool
}

// AuthContext describes the signed-in user for the duration of one request.
type AuthContext struct {
	UserID      int64
	Name        string
	Email       string
	Roles       []string
	Permissions PermissionSet
}

// Anonymous reports whether the context carries no user.
func (a *AuthContext) Anonymous() bool {
	return a == nil || a.UserID == 0
}

// HasRole reports whether the actor holds the named role.
func (a *AuthContext) HasRole(role string) bool {
	if a.Anonymous() {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionNames returns the actor's permissions sorted, or nil when anonymous.
func (a *AuthContext) PermissionNames() []string {
	if a.Anonymous() {
		return nil
	}
	return a.Permissions.Names()
}
