package identity

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse/gatehouse/internal/platform/db"
	"github.com/gatehouse/gatehouse/internal/rbac"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, password_hash, department, region, level, is_active, attributes, roles_updated_at, created_at, updated_at`

// ListUsers returns all users ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByEmail fetches a user by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// CreateUser inserts a new user.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	attrs, err := marshalAttributes(u.Attributes)
	if err != nil {
		return User{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, department, region, level, is_active, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		u.Email, u.Name, u.PasswordHash, u.Department, u.Region, u.Level, u.IsActive, attrs)
	return scanUser(row)
}

// UpdateUser rewrites profile and attribute fields. roles_updated_at is
// bumped because attribute changes alter policy outcomes the role cache may
// have baked in.
func (r *Repository) UpdateUser(ctx context.Context, u User) (User, error) {
	attrs, err := marshalAttributes(u.Attributes)
	if err != nil {
		return User{}, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE users
		SET name = $2, department = $3, region = $4, level = $5, is_active = $6,
		    attributes = $7, roles_updated_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.Name, u.Department, u.Region, u.Level, u.IsActive, attrs)
	return scanUser(row)
}

// ListUserRoles returns the roles assigned to a user.
func (r *Repository) ListUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name, r.description, r.grants_all, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.GrantsAll, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// AssignRole links a role to a user and bumps roles_updated_at. Both writes
// land in one transaction so the stamp never lies about the membership.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
			ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
		if err != nil {
			return err
		}
		return touchRoles(ctx, tx, userID)
	})
}

// RemoveRole unlinks a role from a user and bumps roles_updated_at.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
		if err != nil {
			return err
		}
		return touchRoles(ctx, tx, userID)
	})
}

func touchRoles(ctx context.Context, tx pgx.Tx, userID int64) error {
	_, err := tx.Exec(ctx, `UPDATE users SET roles_updated_at = NOW() WHERE id = $1`, userID)
	return err
}

func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(attrs)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var attrs []byte
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Department, &u.Region,
		&u.Level, &u.IsActive, &attrs, &u.RolesUpdatedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &u.Attributes); err != nil {
			return User{}, err
		}
	}
	return u, nil
}
