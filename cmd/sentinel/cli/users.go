package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"

	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/users"
)

// RoleDirectory lists roles and attaches them to users.
type RoleDirectory interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// UserStore is the user management surface the provisioning command needs.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	FirstAdmin(ctx context.Context) (users.User, error)
	Create(ctx context.Context, in users.Input) (users.User, error)
	Update(ctx context.Context, id int64, in users.Input) (users.User, error)
}

// UserCLI provisions accounts from the command line.
type UserCLI struct {
	roles     RoleDirectory
	users     UserStore
	validator *validator.Validate
}

// NewUserCLI constructs the helper.
func NewUserCLI(roles RoleDirectory, store UserStore) (*UserCLI, error) {
	if roles == nil || store == nil {
		return nil, errors.New("user cli: role directory and user store are required")
	}
	return &UserCLI{roles: roles, users: store, validator: validator.New()}, nil
}

// CreateUserOptions mirrors the user:create flags.
type CreateUserOptions struct {
	Role        string
	FirstName   string
	LastName    string
	Email       string
	Password    string
	UpdateAdmin bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// CreateCommand runs user:create and returns the process exit code.
func (c *UserCLI) CreateCommand(ctx context.Context, opts CreateUserOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	fail := func(format string, args ...any) int {
		_, _ = fmt.Fprintf(opts.Stderr, "user:create: "+format+"\n", args...)
		return 1
	}

	roles, err := c.roles.ListRoles(ctx)
	if err != nil {
		return fail("list roles: %v", err)
	}
	role, ok := findRole(roles, strings.TrimSpace(opts.Role))
	if !ok {
		return fail("invalid role %q. Available roles: %s", opts.Role, strings.Join(roleNames(roles), ", "))
	}

	in := users.Input{
		FirstName:            opts.FirstName,
		LastName:             opts.LastName,
		Email:                opts.Email,
		Password:             opts.Password,
		PasswordConfirmation: opts.Password,
		Status:               users.StatusActive,
		EmailVerified:        true,
		RoleID:               &role.ID,
	}
	if err := c.validator.Struct(in); err != nil {
		for field, msg := range shared.FieldErrors(err) {
			_, _ = fmt.Fprintf(opts.Stderr, "user:create: %s: %s\n", field, msg)
		}
		return 1
	}

	if role.Name == shared.RoleAdmin && opts.UpdateAdmin {
		admin, err := c.users.FirstAdmin(ctx)
		switch {
		case err == nil:
			updated, err := c.users.Update(ctx, admin.ID, in)
			if err != nil {
				return fail("update admin: %v", err)
			}
			_, _ = fmt.Fprintln(opts.Stdout, "Admin user updated.")
			renderUserTable(opts.Stdout, updated, role.Name)
			return 0
		case !errors.Is(err, shared.ErrNotFound):
			return fail("find admin: %v", err)
		}
	}

	if in.Password == "" {
		return fail("--password is required when creating a user")
	}

	existing, err := c.users.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if role.Name != shared.RoleAdmin {
			return fail("a user with email %s already exists", existing.Email)
		}
		if err := c.roles.AssignRole(ctx, existing.ID, role.ID); err != nil {
			return fail("assign admin role: %v", err)
		}
		_, _ = fmt.Fprintf(opts.Stdout, "Admin role assigned to existing user %s.\n", existing.Email)
		renderUserTable(opts.Stdout, existing, role.Name)
		return 0
	case !errors.Is(err, shared.ErrNotFound):
		return fail("find user: %v", err)
	}

	created, err := c.users.Create(ctx, in)
	if err != nil {
		return fail("%v", err)
	}
	_, _ = fmt.Fprintln(opts.Stdout, "User created.")
	renderUserTable(opts.Stdout, created, role.Name)
	return 0
}

func findRole(roles []rbac.Role, name string) (rbac.Role, bool) {
	for _, r := range roles {
		if r.Name == name {
			return r, true
		}
	}
	return rbac.Role{}, false
}

func roleNames(roles []rbac.Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

func renderUserTable(out io.Writer, u users.User, role string) {
	status := "inactive"
	if u.Active() {
		status = "active"
	}
	verified := "no"
	if u.Verified() {
		verified = "yes"
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tVERIFIED")
	_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.FullName(), u.Email, role, status, verified)
	_ = tw.Flush()
}
