package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-admin/sentinel/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id int64) (Account, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	SetOTP(ctx context.Context, userID int64, hash *string, expiresAt *time.Time) error
	MarkEmailVerified(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	UpdateProfile(ctx context.Context, userID int64, in ProfileInput, resetVerification bool) error
	SetTwoFactor(ctx context.Context, userID int64, secret *string, recoveryCodes []string, confirmedAt *time.Time) error
	PurgeExpiredOTP(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, first_name, last_name, email, password_hash, status = 1, email_verified_at,
otp_hash, otp_expires_at, two_factor_secret, COALESCE(two_factor_recovery_codes, '{}'), two_factor_confirmed_at,
created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.PasswordHash, &a.Active, &a.EmailVerifiedAt,
		&a.OTPHash, &a.OTPExpiresAt, &a.TwoFactorSecret, &a.RecoveryCodes, &a.TwoFactorConfirmedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	return a, err
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		id, userID,
		pgtype.Timestamptz{Time: now, Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		ip, ua,
	)
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// SetOTP stores or clears the pending one-time code.
func (r *PGRepository) SetOTP(ctx context.Context, userID int64, hash *string, expiresAt *time.Time) error {
	return r.execOne(ctx, `UPDATE users SET otp_hash = $2, otp_expires_at = $3, updated_at = NOW() WHERE id = $1`, userID, hash, expiresAt)
}

// MarkEmailVerified stamps the verification time and clears any pending code.
func (r *PGRepository) MarkEmailVerified(ctx context.Context, userID int64, at time.Time) error {
	return r.execOne(ctx, `UPDATE users
SET email_verified_at = $2, otp_hash = NULL, otp_expires_at = NULL, updated_at = NOW()
WHERE id = $1`, userID, at.UTC())
}

// UpdatePassword replaces the password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, hash)
}

// UpdateProfile overwrites names and email, clearing verification when asked.
func (r *PGRepository) UpdateProfile(ctx context.Context, userID int64, in ProfileInput, resetVerification bool) error {
	err := r.execOne(ctx, `UPDATE users
SET first_name = $2, last_name = $3, email = $4,
    email_verified_at = CASE WHEN $5::boolean THEN NULL ELSE email_verified_at END,
    updated_at = NOW()
WHERE id = $1`, userID, in.FirstName, in.LastName, in.Email, resetVerification)
	if shared.IsUniqueViolation(err) {
		return shared.ErrDuplicateName
	}
	return err
}

// SetTwoFactor stores the TOTP secret, hashed recovery codes and confirmation time.
func (r *PGRepository) SetTwoFactor(ctx context.Context, userID int64, secret *string, recoveryCodes []string, confirmedAt *time.Time) error {
	return r.execOne(ctx, `UPDATE users
SET two_factor_secret = $2, two_factor_recovery_codes = $3, two_factor_confirmed_at = $4, updated_at = NOW()
WHERE id = $1`, userID, secret, recoveryCodes, confirmedAt)
}

// PurgeExpiredOTP clears codes whose expiry has passed.
func (r *PGRepository) PurgeExpiredOTP(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET otp_hash = NULL, otp_expires_at = NULL
WHERE otp_hash IS NOT NULL AND otp_expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
