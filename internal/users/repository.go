package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-admin/sentinel/internal/platform/db"
	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/shared"
)

// TxRepository exposes transactional operations. Role changes run through the
// embedded rbac assignment operations on the same transaction.
type TxRepository interface {
	rbac.AssignmentTx

	Create(ctx context.Context, u User) (int64, error)
	Update(ctx context.Context, u User, passwordHash *string) error
	Delete(ctx context.Context, id int64) error
	DeleteSessions(ctx context.Context, userID int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{AssignmentTx: rbac.NewTxRepository(tx), tx: tx})
	})
}

type txRepo struct {
	rbac.AssignmentTx
	tx pgx.Tx
}

const userColumns = `u.id, u.first_name, u.last_name, u.email, u.password_hash, u.status, u.email_verified_at,
u.two_factor_confirmed_at IS NOT NULL, u.created_at, u.updated_at,
COALESCE((SELECT array_agg(r.name ORDER BY r.name) FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = u.id), '{}')`

const notAdmin = `NOT EXISTS (
    SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
    WHERE ur.user_id = u.id AND r.name = '` + shared.RoleAdmin + `'
)`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.Status, &u.EmailVerifiedAt,
		&u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt, &u.Roles)
	return u, err
}

// Search pages through non-admin users for the data table.
func (r *Repository) Search(ctx context.Context, req shared.TableRequest) ([]User, int, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u WHERE `+notAdmin).Scan(&total); err != nil {
		return nil, 0, 0, err
	}
	where := ` WHERE ` + notAdmin
	args := []any{}
	if req.Search != "" {
		args = append(args, "%"+req.Search+"%")
		where += ` AND (u.first_name ILIKE $1 OR u.last_name ILIKE $1 OR u.email ILIKE $1 OR (u.first_name || ' ' || u.last_name) ILIKE $1)`
	}
	var filtered int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u`+where, args...).Scan(&filtered); err != nil {
		return nil, 0, 0, err
	}
	order := req.OrderColumn(map[string]string{
		"name":       "u.first_name",
		"email":      "u.email",
		"status":     "u.status",
		"created_at": "u.created_at",
	}, "u.created_at")
	args = append(args, req.Length, req.Start)
	query := fmt.Sprintf(`SELECT %s FROM users u%s ORDER BY %s %s, u.id DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, order, req.Direction(), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		out = append(out, u)
	}
	return out, total, filtered, rows.Err()
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// FindByEmail fetches a user by email, case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE lower(u.email) = lower($1)`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// RoleIDs returns the ids of the roles a user holds.
func (r *Repository) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FirstWithRole returns the oldest user holding role.
func (r *Repository) FirstWithRole(ctx context.Context, role string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u
WHERE EXISTS (SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = u.id AND r.name = $1)
ORDER BY u.id LIMIT 1`, role))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// CountAll returns the number of users and of those active.
func (r *Repository) CountAll(ctx context.Context) (total, active int, err error) {
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 1) FROM users`).Scan(&total, &active)
	return total, active, err
}

func (t *txRepo) Create(ctx context.Context, u User) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO users (first_name, last_name, email, password_hash, status, email_verified_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, u.FirstName, u.LastName, u.Email, u.PasswordHash, u.Status, u.EmailVerifiedAt).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, shared.ErrDuplicateName
	}
	return id, err
}

func (t *txRepo) Update(ctx context.Context, u User, passwordHash *string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users
SET first_name = $2, last_name = $3, email = $4, status = $5, email_verified_at = $6,
    password_hash = COALESCE($7, password_hash), updated_at = $8
WHERE id = $1`, u.ID, u.FirstName, u.LastName, u.Email, u.Status, u.EmailVerifiedAt, passwordHash, time.Now().UTC())
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return shared.ErrDuplicateName
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteSessions(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}
