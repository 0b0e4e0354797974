package users

import (
	"strings"
	"time"

	"github.com/sentinel-admin/sentinel/internal/rbac"
)

// Account status values stored in users.status.
const (
	StatusInactive int16 = 0
	StatusActive   int16 = 1
)

// User represents a user account for management.
type User struct {
	ID               int64
	FirstName        string
	LastName         string
	Email            string
	PasswordHash     string
	Status           int16
	EmailVerifiedAt  *time.Time
	TwoFactorEnabled bool
	Roles            []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Active reports whether the account may sign in.
func (u User) Active() bool {
	return u.Status == StatusActive
}

// Verified reports whether the email address has been confirmed.
func (u User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

// Input carries the fields of the create and edit forms.
type Input struct {
	FirstName            string `validate:"required,max=255"`
	LastName             string `validate:"required,max=255"`
	Email                string `validate:"required,email,max=255"`
	Password             string `validate:"omitempty,min=8"`
	PasswordConfirmation string `validate:"eqfield=Password"`
	Status               int16  `validate:"oneof=0 1"`
	EmailVerified        bool
	// RoleID nil leaves the user without a role.
	RoleID *int64
}

// RoleGrant is a role held by a user with its permissions grouped for display.
type RoleGrant struct {
	ID          int64
	Name        string
	Permissions rbac.Structure
}

// Detail is a user with the roles they hold.
type Detail struct {
	User
	Grants []RoleGrant
}
