package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the role/feature
// graph.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const roleColumns = `id, name, description, grants_all, created_at, updated_at`

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.GrantsAll, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.GrantsAll, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, grants_all)
		VALUES ($1, $2, $3)
		RETURNING `+roleColumns, role.Name, role.Description, role.GrantsAll).
		Scan(&role.ID, &role.Name, &role.Description, &role.GrantsAll, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// UpdateRole rewrites an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, grants_all = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, role.ID, role.Name, role.Description, role.GrantsAll).
		Scan(&role.ID, &role.Name, &role.Description, &role.GrantsAll, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// DeleteRole removes a role, reporting the number of rows removed.
func (r *Repository) DeleteRole(ctx context.Context, id int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const categoryColumns = `id, name, slug, color, icon, created_at`

// ListCategories returns all feature categories ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]FeatureCategory, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+categoryColumns+` FROM feature_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []FeatureCategory
	for rows.Next() {
		var c FeatureCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Color, &c.Icon, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory inserts a new feature category.
func (r *Repository) CreateCategory(ctx context.Context, c FeatureCategory) (FeatureCategory, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO feature_categories (name, slug, color, icon)
		VALUES ($1, $2, $3, $4)
		RETURNING `+categoryColumns, c.Name, c.Slug, c.Color, c.Icon).
		Scan(&c.ID, &c.Name, &c.Slug, &c.Color, &c.Icon, &c.CreatedAt)
	return c, err
}

const featureColumns = `id, name, description, category_id, created_at, updated_at`

// ListFeatures returns all features ordered by name.
func (r *Repository) ListFeatures(ctx context.Context) ([]Feature, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+featureColumns+` FROM features ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var features []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.CategoryID, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// GetFeature fetches a feature by id.
func (r *Repository) GetFeature(ctx context.Context, id int64) (Feature, error) {
	var f Feature
	err := r.pool.QueryRow(ctx, `SELECT `+featureColumns+` FROM features WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.Description, &f.CategoryID, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// CreateFeature inserts a new feature.
func (r *Repository) CreateFeature(ctx context.Context, f Feature) (Feature, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO features (name, description, category_id)
		VALUES ($1, $2, $3)
		RETURNING `+featureColumns, f.Name, f.Description, f.CategoryID).
		Scan(&f.ID, &f.Name, &f.Description, &f.CategoryID, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// UpdateFeature rewrites an existing feature.
func (r *Repository) UpdateFeature(ctx context.Context, f Feature) (Feature, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE features SET name = $2, description = $3, category_id = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+featureColumns, f.ID, f.Name, f.Description, f.CategoryID).
		Scan(&f.ID, &f.Name, &f.Description, &f.CategoryID, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// DeleteFeature removes a feature, reporting the number of rows removed.
func (r *Repository) DeleteFeature(ctx context.Context, id int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM features WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const roleFeatureColumns = `id, role_id, feature_id, can_create, can_read, can_update, can_delete, created_at, updated_at`

// GetRoleFeature fetches the capability row for one (role, feature) pair.
// Returns pgx.ErrNoRows when the pair has no row.
func (r *Repository) GetRoleFeature(ctx context.Context, roleID, featureID int64) (RoleFeature, error) {
	var rf RoleFeature
	err := r.pool.QueryRow(ctx, `
		SELECT `+roleFeatureColumns+` FROM role_features
		WHERE role_id = $1 AND feature_id = $2`, roleID, featureID).
		Scan(&rf.ID, &rf.RoleID, &rf.FeatureID, &rf.CanCreate, &rf.CanRead, &rf.CanUpdate, &rf.CanDelete, &rf.CreatedAt, &rf.UpdatedAt)
	return rf, err
}

// ListRoleFeatures returns the capability rows of one role.
func (r *Repository) ListRoleFeatures(ctx context.Context, roleID int64) ([]RoleFeature, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roleFeatureColumns+` FROM role_features
		WHERE role_id = $1 ORDER BY feature_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoleFeatures(rows)
}

// UpsertRoleFeature writes one capability row, replacing any existing row
// for the pair. The unique constraint keeps the matrix free of duplicates.
func (r *Repository) UpsertRoleFeature(ctx context.Context, rf RoleFeature) (RoleFeature, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO role_features (role_id, feature_id, can_create, can_read, can_update, can_delete)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (role_id, feature_id) DO UPDATE
		SET can_create = EXCLUDED.can_create,
		    can_read = EXCLUDED.can_read,
		    can_update = EXCLUDED.can_update,
		    can_delete = EXCLUDED.can_delete,
		    updated_at = NOW()
		RETURNING `+roleFeatureColumns,
		rf.RoleID, rf.FeatureID, rf.CanCreate, rf.CanRead, rf.CanUpdate, rf.CanDelete).
		Scan(&rf.ID, &rf.RoleID, &rf.FeatureID, &rf.CanCreate, &rf.CanRead, &rf.CanUpdate, &rf.CanDelete, &rf.CreatedAt, &rf.UpdatedAt)
	return rf, err
}

// DeleteRoleFeature removes one capability row.
func (r *Repository) DeleteRoleFeature(ctx context.Context, roleID, featureID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_features WHERE role_id = $1 AND feature_id = $2`, roleID, featureID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRoleFeatures(rows pgx.Rows) ([]RoleFeature, error) {
	var rfs []RoleFeature
	for rows.Next() {
		var rf RoleFeature
		if err := rows.Scan(&rf.ID, &rf.RoleID, &rf.FeatureID, &rf.CanCreate, &rf.CanRead, &rf.CanUpdate, &rf.CanDelete, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
			return nil, err
		}
		rfs = append(rfs, rf)
	}
	return rfs, rows.Err()
}
