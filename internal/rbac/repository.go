package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-admin/sentinel/internal/platform/db"
	"github.com/sentinel-admin/sentinel/internal/shared"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AssignmentTx is the subset of transactional operations needed to change a
// user's roles. Other packages embed it so role changes can share their
// transaction.
type AssignmentTx interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveAllRoles(ctx context.Context, userID int64) error
	UserRoleNames(ctx context.Context, userID int64) ([]string, error)
	CountOtherActiveHolders(ctx context.Context, roleName string, userID int64) (int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	AssignmentTx

	CreatePermission(ctx context.Context, in PermissionInput) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	DetachPermissionFromRoles(ctx context.Context, permissionID int64) error

	CreateRole(ctx context.Context, name string) (Role, error)
	RenameRole(ctx context.Context, id int64, name string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ClearRolePermissions(ctx context.Context, roleID int64) error
	ResolvePermissionIDs(ctx context.Context, names []string) (map[string]int64, error)
	AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	DetachRoleFromUsers(ctx context.Context, roleID int64) error
}

// Repository provides PostgreSQL backed persistence for permissions and roles.
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
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds the transactional operations to q, usually a pgx.Tx
// opened by another package.
func NewTxRepository(q Querier) TxRepository {
	return &txRepo{q: q}
}

type txRepo struct {
	q Querier
}

const permissionColumns = `id, name, label, COALESCE("group", ''), created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Label, &p.Group, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func mapWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	case shared.IsUniqueViolation(err):
		return shared.ErrDuplicateName
	default:
		return err
	}
}

// ListPermissions returns all permissions in registration order.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// GetPermission fetches a permission by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return p, err
}

// SearchPermissions pages through permissions for the data table.
func (r *Repository) SearchPermissions(ctx context.Context, req shared.TableRequest) ([]Permission, int, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&total); err != nil {
		return nil, 0, 0, err
	}
	where := ""
	args := []any{}
	if req.Search != "" {
		args = append(args, "%"+req.Search+"%")
		where = ` WHERE name ILIKE $1 OR label ILIKE $1 OR COALESCE("group", '') ILIKE $1`
	}
	var filtered int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions`+where, args...).Scan(&filtered); err != nil {
		return nil, 0, 0, err
	}
	order := req.OrderColumn(map[string]string{
		"name":       "name",
		"label":      "label",
		"group":      `"group"`,
		"created_at": "created_at",
	}, "created_at")
	args = append(args, req.Length, req.Start)
	query := fmt.Sprintf(`SELECT %s FROM permissions%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		permissionColumns, where, order, req.Direction(), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	perms, err := collectPermissions(rows)
	return perms, total, filtered, err
}

// ListPermissionGroups returns distinct non-empty groups in sorted order.
func (r *Repository) ListPermissionGroups(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT "group" FROM permissions WHERE "group" IS NOT NULL AND "group" <> '' ORDER BY "group"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListRoleSummaries returns roles with their permission counts.
func (r *Repository) ListRoleSummaries(ctx context.Context) ([]RoleSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.created_at, r.updated_at, COUNT(rp.permission_id)
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
GROUP BY r.id
ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var summaries []RoleSummary
	for rows.Next() {
		var s RoleSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.UpdatedAt, &s.PermissionCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return getRole(ctx, r.pool, id)
}

// RolePermissions returns the permissions granted to a role, ordered by name.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.label, COALESCE(p."group", ''), p.created_at, p.updated_at
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// UserRoleNames returns the role names held by a user.
func (r *Repository) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	return userRoleNames(ctx, r.pool, userID)
}

// UserPermissionNames returns the distinct permission names granted to a user
// through any of their roles.
func (r *Repository) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// FindActor loads the user fields needed to build an AuthContext.
func (r *Repository) FindActor(ctx context.Context, userID int64) (ActorProfile, error) {
	var a ActorProfile
	var status int16
	err := r.pool.QueryRow(ctx, `SELECT id, first_name, last_name, email, status FROM users WHERE id = $1`, userID).
		Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActorProfile{}, shared.ErrNotFound
	}
	a.Active = status == 1
	return a, err
}

func getRole(ctx context.Context, q Querier, id int64) (Role, error) {
	var role Role
	err := q.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

func userRoleNames(ctx context.Context, q Querier, userID int64) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *txRepo) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	p, err := scanPermission(t.q.QueryRow(ctx, `INSERT INTO permissions (name, label, "group")
VALUES ($1, $2, NULLIF($3, ''))
RETURNING `+permissionColumns, in.Name, in.Label, in.Group))
	return p, mapWriteErr(err)
}

func (t *txRepo) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error) {
	p, err := scanPermission(t.q.QueryRow(ctx, `UPDATE permissions
SET name = $2, label = $3, "group" = NULLIF($4, ''), updated_at = NOW()
WHERE id = $1
RETURNING `+permissionColumns, id, in.Name, in.Label, in.Group))
	return p, mapWriteErr(err)
}

func (t *txRepo) DeletePermission(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DetachPermissionFromRoles(ctx context.Context, permissionID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, permissionID)
	return err
}

func (t *txRepo) CreateRole(ctx context.Context, name string) (Role, error) {
	var role Role
	err := t.q.QueryRow(ctx, `INSERT INTO roles (name) VALUES ($1) RETURNING id, name, created_at, updated_at`, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	return role, mapWriteErr(err)
}

func (t *txRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := t.q.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1 FOR UPDATE`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

func (t *txRepo) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	var role Role
	err := t.q.QueryRow(ctx, `UPDATE roles SET name = $2, updated_at = NOW() WHERE id = $1 RETURNING id, name, created_at, updated_at`, id, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	return role, mapWriteErr(err)
}

func (t *txRepo) DeleteRole(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) ClearRolePermissions(ctx context.Context, roleID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return err
}

func (t *txRepo) ResolvePermissionIDs(ctx context.Context, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}
	rows, err := t.q.Query(ctx, `SELECT id, name FROM permissions WHERE name = ANY($1::text[])`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

func (t *txRepo) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	return err
}

func (t *txRepo) DetachRoleFromUsers(ctx context.Context, roleID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
	return err
}

func (t *txRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := t.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("assign role %d to user %d: %w", roleID, userID, shared.ErrNotFound)
		}
	}
	return err
}

func (t *txRepo) RemoveAllRoles(ctx context.Context, userID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

func (t *txRepo) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	return userRoleNames(ctx, t.q, userID)
}

// CountOtherActiveHolders counts active users other than userID holding the
// role. It locks the role row so concurrent demotions of the last holders
// serialise.
func (t *txRepo) CountOtherActiveHolders(ctx context.Context, roleName string, userID int64) (int, error) {
	var count int
	err := t.q.QueryRow(ctx, `WITH target AS (
    SELECT id FROM roles WHERE name = $1 FOR UPDATE
)
SELECT COUNT(*)
FROM user_roles ur
JOIN target ON target.id = ur.role_id
JOIN users u ON u.id = ur.user_id
WHERE u.status = 1 AND u.id <> $2`, strings.TrimSpace(roleName), userID).Scan(&count)
	return count, err
}
