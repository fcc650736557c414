package policy

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, feature_id, attribute, operator, value, created_at, updated_at`

// ListPolicies returns all policies ordered by id.
func (r *Repository) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// GetPoliciesForFeature returns the policy set attached to one feature.
func (r *Repository) GetPoliciesForFeature(ctx context.Context, featureID int64) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE feature_id = $1 ORDER BY id`, featureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// GetPolicy fetches one policy by id.
func (r *Repository) GetPolicy(ctx context.Context, id int64) (Policy, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	return scanPolicy(row)
}

// CreatePolicy inserts a new policy.
func (r *Repository) CreatePolicy(ctx context.Context, p Policy) (Policy, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO policies (feature_id, attribute, operator, value)
		VALUES ($1, $2, $3, $4)
		RETURNING `+policyColumns, p.FeatureID, p.Attribute, p.Operator, p.Value)
	return scanPolicy(row)
}

// UpdatePolicy rewrites an existing policy.
func (r *Repository) UpdatePolicy(ctx context.Context, p Policy) (Policy, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE policies
		SET attribute = $2, operator = $3, value = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+policyColumns, p.ID, p.Attribute, p.Operator, p.Value)
	return scanPolicy(row)
}

// DeletePolicy removes a policy, reporting the number of rows removed.
func (r *Repository) DeletePolicy(ctx context.Context, id int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPolicies(rows pgx.Rows) ([]Policy, error) {
	var policies []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.FeatureID, &p.Attribute, &p.Operator, &p.Value, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.FeatureID, &p.Attribute, &p.Operator, &p.Value, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
