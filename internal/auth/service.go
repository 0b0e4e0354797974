package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

// DefaultOTPTTL is how long an issued one-time code stays valid.
const DefaultOTPTTL = 15 * time.Minute

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	OTPTTL     time.Duration
	TOTPIssuer string
	AppName    string
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	mailer Mailer
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, mailer Mailer, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = DefaultOTPTTL
	}
	if opts.AppName == "" {
		opts.AppName = "Sentinel"
	}
	if opts.TOTPIssuer == "" {
		opts.TOTPIssuer = opts.AppName
	}
	return &Service{repo: repo, mailer: mailer, logger: logger, opts: opts, now: time.Now}
}

// Authenticate validates email/password credentials. Unknown, inactive and
// mismatching accounts all fail with ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("lookup account", slog.Any("error", err))
		}
		return Account{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return Account{}, shared.ErrInvalidCredentials
	}
	if !acct.Active {
		return Account{}, shared.ErrInvalidCredentials
	}
	return acct, nil
}

// Account returns the account with id.
func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// ConfirmPassword checks password against the stored hash of userID.
func (s *Service) ConfirmPassword(ctx context.Context, userID int64, password string) error {
	acct, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return shared.ErrInvalidCredentials
	}
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, in PasswordInput) error {
	if err := s.ConfirmPassword(ctx, userID, in.CurrentPassword); err != nil {
		return err
	}
	return s.setPassword(ctx, userID, in.NewPassword)
}

// UpdateProfile saves names and email. Changing the email clears its
// verification.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (Account, error) {
	current, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	emailChanged := !strings.EqualFold(current.Email, in.Email)
	if err := s.repo.UpdateProfile(ctx, userID, in, emailChanged); err != nil {
		return Account{}, fmt.Errorf("update profile %d: %w", userID, err)
	}
	current.FirstName, current.LastName, current.Email = in.FirstName, in.LastName, in.Email
	if emailChanged {
		current.EmailVerifiedAt = nil
	}
	return current, nil
}

func (s *Service) setPassword(ctx context.Context, userID int64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password %d: %w", userID, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
