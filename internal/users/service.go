package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Search(ctx context.Context, req shared.TableRequest) ([]User, int, int, error)
	Get(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	RoleIDs(ctx context.Context, userID int64) ([]int64, error)
	FirstWithRole(ctx context.Context, role string) (User, error)
	CountAll(ctx context.Context) (total, active int, err error)
}

// RoleReader exposes the role catalogue.
type RoleReader interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error)
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	roles  RoleReader
	logger *slog.Logger
	audit  shared.AuditRecorder
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleReader, logger *slog.Logger, audit shared.AuditRecorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Service{repo: repo, roles: roles, logger: logger, audit: audit, now: time.Now}
}

// Search returns a page of non-admin users.
func (s *Service) Search(ctx context.Context, req shared.TableRequest) ([]User, int, int, error) {
	return s.repo.Search(ctx, req)
}

// Get returns a user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// FindByEmail returns the user registered under email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.FindByEmail(ctx, normalizeEmail(email))
}

// FirstAdmin returns the earliest created administrator.
func (s *Service) FirstAdmin(ctx context.Context) (User, error) {
	return s.repo.FirstWithRole(ctx, shared.RoleAdmin)
}

// Counts returns the total and active number of users.
func (s *Service) Counts(ctx context.Context) (total, active int, err error) {
	return s.repo.CountAll(ctx)
}

// Detail returns a user with every held role and the permissions it grants.
func (s *Service) Detail(ctx context.Context, id int64) (Detail, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	ids, err := s.repo.RoleIDs(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{User: u}
	for _, roleID := range ids {
		role, err := s.roles.GetRole(ctx, roleID)
		if err != nil {
			return Detail{}, err
		}
		detail.Grants = append(detail.Grants, RoleGrant{
			ID:          role.ID,
			Name:        role.Name,
			Permissions: rbac.BuildStructure(role.Permissions),
		})
	}
	return detail, nil
}

// CurrentRoleID returns the first role held by the user, if any.
func (s *Service) CurrentRoleID(ctx context.Context, userID int64) (*int64, error) {
	ids, err := s.repo.RoleIDs(ctx, userID)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return &ids[0], nil
}

// Roles lists assignable roles.
func (s *Service) Roles(ctx context.Context) ([]rbac.Role, error) {
	return s.roles.ListRoles(ctx)
}

// Create registers a user and assigns the selected role in one transaction.
func (s *Service) Create(ctx context.Context, in Input) (User, error) {
	in = normalizeInput(in)
	if in.Password == "" {
		return User{}, fmt.Errorf("%w: password required", shared.ErrValidation)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	u := User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		Status:       in.Status,
	}
	if in.EmailVerified {
		now := s.now().UTC()
		u.EmailVerifiedAt = &now
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, u)
		if err != nil {
			return err
		}
		u.ID = id
		if in.RoleID == nil {
			return nil
		}
		return rbac.ReplaceUserRole(ctx, tx, id, in.RoleID)
	})
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	s.record(ctx, shared.AuditCreate, u.ID, map[string]any{"email": u.Email, "role_id": in.RoleID})
	return u, nil
}

// Update overwrites profile fields, optionally the password, and replaces the
// user's role with the selected one.
func (s *Service) Update(ctx context.Context, id int64, in Input) (User, error) {
	in = normalizeInput(in)
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	var passwordHash *string
	if in.Password != "" {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return User{}, err
		}
		passwordHash = &hash
	}
	u := current
	u.FirstName, u.LastName, u.Email, u.Status = in.FirstName, in.LastName, in.Email, in.Status
	switch {
	case !in.EmailVerified:
		u.EmailVerifiedAt = nil
	case current.EmailVerifiedAt == nil:
		now := s.now().UTC()
		u.EmailVerifiedAt = &now
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if current.Active() && !u.Active() {
			if err := rbac.GuardLastAdmin(ctx, tx, id); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, u, passwordHash); err != nil {
			return err
		}
		return rbac.ReplaceUserRole(ctx, tx, id, in.RoleID)
	})
	if err != nil {
		return User{}, fmt.Errorf("update user %d: %w", id, err)
	}
	s.record(ctx, shared.AuditUpdate, id, map[string]any{"email": u.Email, "role_id": in.RoleID, "password_changed": passwordHash != nil})
	return u, nil
}

// Delete removes a user, their role assignments and login records. Actors
// cannot delete themselves and the last administrator cannot be deleted.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID != 0 && actorID == id {
		return shared.ErrSelfDelete
	}
	return s.remove(ctx, id)
}

// DeleteAccount removes the signed-in user's own account. The last
// administrator still cannot go.
func (s *Service) DeleteAccount(ctx context.Context, id int64) error {
	return s.remove(ctx, id)
}

func (s *Service) remove(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := rbac.GuardLastAdmin(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.RemoveAllRoles(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteSessions(ctx, id); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	s.record(ctx, shared.AuditDelete, id, nil)
	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeInput(in Input) Input {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	return in
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.AuditActorFromContext(ctx),
		Action:   action,
		Entity:   "user",
		EntityID: shared.FormatID(id),
		Meta:     meta,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
