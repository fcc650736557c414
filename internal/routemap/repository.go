package routemap

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const routeColumns = `id, path, method, feature_id, created_at`

// ListRouteFeatures returns all mappings ordered by path.
func (r *Repository) ListRouteFeatures(ctx context.Context) ([]RouteFeature, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+routeColumns+` FROM route_features ORDER BY path, method NULLS LAST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoutes(rows)
}

// FindByPath returns every mapping whose path equals the request path or is
// a segment-boundary prefix of it, longest paths first.
func (r *Repository) FindByPath(ctx context.Context, path string) ([]RouteFeature, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+routeColumns+`
		FROM route_features
		WHERE path = $1 OR $1 LIKE path || '/%'
		ORDER BY length(path) DESC, method NULLS LAST`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoutes(rows)
}

// CreateRouteFeature inserts a new mapping.
func (r *Repository) CreateRouteFeature(ctx context.Context, rf RouteFeature) (RouteFeature, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO route_features (path, method, feature_id)
		VALUES ($1, $2, $3)
		RETURNING `+routeColumns, rf.Path, rf.Method, rf.FeatureID)
	return scanRoute(row)
}

// DeleteRouteFeature removes a mapping, reporting the number of rows removed.
func (r *Repository) DeleteRouteFeature(ctx context.Context, id int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM route_features WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRoutes(rows pgx.Rows) ([]RouteFeature, error) {
	var routes []RouteFeature
	for rows.Next() {
		var rf RouteFeature
		if err := rows.Scan(&rf.ID, &rf.Path, &rf.Method, &rf.FeatureID, &rf.CreatedAt); err != nil {
			return nil, err
		}
		routes = append(routes, rf)
	}
	return routes, rows.Err()
}

func scanRoute(row pgx.Row) (RouteFeature, error) {
	var rf RouteFeature
	err := row.Scan(&rf.ID, &rf.Path, &rf.Method, &rf.FeatureID, &rf.CreatedAt)
	return rf, err
}
