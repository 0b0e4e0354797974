// Package seed installs the default permission catalogue and reserved roles.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sentinel-admin/sentinel/internal/rbac"
)

//go:embed permissions.yaml
var defaultCatalog []byte

// Catalog is the subset of the RBAC service the seeder drives.
type Catalog interface {
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	CreatePermission(ctx context.Context, in rbac.PermissionInput) (rbac.Permission, error)
	UpdatePermission(ctx context.Context, id int64, in rbac.PermissionInput) (rbac.Permission, error)
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	CreateRole(ctx context.Context, name string, permissionNames []string) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, name string, permissionNames []string) (rbac.Role, error)
}

// PermissionSpec is one permission entry of the catalogue file.
type PermissionSpec struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
	Group string `yaml:"group"`
}

// RoleSpec is one role entry. GrantAll roles are synced to every catalogue
// permission on each run; other roles keep whatever they were given.
type RoleSpec struct {
	Name     string `yaml:"name"`
	GrantAll bool   `yaml:"grant_all"`
}

// Document is the parsed catalogue file.
type Document struct {
	Permissions []PermissionSpec `yaml:"permissions"`
	Roles       []RoleSpec       `yaml:"roles"`
}

// Names returns the permission names in file order.
func (d Document) Names() []string {
	names := make([]string, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// Report summarises what a run changed.
type Report struct {
	PermissionsCreated int
	PermissionsUpdated int
	RolesCreated       int
	RolesSynced        int
}

// Default parses the embedded catalogue.
func Default() (Document, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a catalogue document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("seed: decode catalogue: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Permissions))
	for i, p := range doc.Permissions {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return Document{}, fmt.Errorf("seed: permission %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return Document{}, fmt.Errorf("seed: permission %s listed twice", name)
		}
		seen[name] = struct{}{}
		doc.Permissions[i].Name = name
	}
	for i, r := range doc.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return Document{}, fmt.Errorf("seed: role %d has no name", i)
		}
		doc.Roles[i].Name = strings.TrimSpace(r.Name)
	}
	return doc, nil
}

// Seeder upserts a Document into a Catalog.
type Seeder struct {
	catalog Catalog
	logger  *slog.Logger
}

// New constructs a Seeder.
func New(catalog Catalog, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{catalog: catalog, logger: logger}
}

// Run applies doc. Running it again against the same data changes nothing
// beyond re-syncing GrantAll roles.
func (s *Seeder) Run(ctx context.Context, doc Document) (Report, error) {
	var report Report
	existing, err := s.catalog.ListPermissions(ctx)
	if err != nil {
		return report, fmt.Errorf("seed: list permissions: %w", err)
	}
	byName := make(map[string]rbac.Permission, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}
	for _, def := range doc.Permissions {
		in := rbac.PermissionInput{Name: def.Name, Label: def.Label, Group: def.Group}
		current, ok := byName[def.Name]
		if !ok {
			if _, err := s.catalog.CreatePermission(ctx, in); err != nil {
				return report, fmt.Errorf("seed: create permission %s: %w", def.Name, err)
			}
			report.PermissionsCreated++
			continue
		}
		if current.Label == def.Label && current.Group == def.Group {
			continue
		}
		if _, err := s.catalog.UpdatePermission(ctx, current.ID, in); err != nil {
			return report, fmt.Errorf("seed: update permission %s: %w", def.Name, err)
		}
		report.PermissionsUpdated++
	}

	roles, err := s.catalog.ListRoles(ctx)
	if err != nil {
		return report, fmt.Errorf("seed: list roles: %w", err)
	}
	roleIDs := make(map[string]int64, len(roles))
	for _, r := range roles {
		roleIDs[r.Name] = r.ID
	}
	all := doc.Names()
	for _, def := range doc.Roles {
		var grant []string
		if def.GrantAll {
			grant = all
		}
		id, ok := roleIDs[def.Name]
		if !ok {
			if _, err := s.catalog.CreateRole(ctx, def.Name, grant); err != nil {
				return report, fmt.Errorf("seed: create role %s: %w", def.Name, err)
			}
			report.RolesCreated++
			continue
		}
		if !def.GrantAll {
			continue
		}
		if _, err := s.catalog.UpdateRole(ctx, id, def.Name, grant); err != nil {
			return report, fmt.Errorf("seed: sync role %s: %w", def.Name, err)
		}
		report.RolesSynced++
	}

	s.logger.Info("seed complete",
		slog.Int("permissions_created", report.PermissionsCreated),
		slog.Int("permissions_updated", report.PermissionsUpdated),
		slog.Int("roles_created", report.RolesCreated),
		slog.Int("roles_synced", report.RolesSynced),
	)
	return report, nil
}
