package routemap

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/audit"
)

type memoryRouteRepo struct {
	routes []RouteFeature
	nextID int64
}

func (r *memoryRouteRepo) ListRouteFeatures(ctx context.Context) ([]RouteFeature, error) {
	return append([]RouteFeature(nil), r.routes...), nil
}

func (r *memoryRouteRepo) FindByPath(ctx context.Context, path string) ([]RouteFeature, error) {
	var out []RouteFeature
	for _, rf := range r.routes {
		if rf.Path == path || strings.HasPrefix(path, rf.Path+"/") {
			out = append(out, rf)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Path) > len(out[j].Path)
	})
	return out, nil
}

func (r *memoryRouteRepo) CreateRouteFeature(ctx context.Context, rf RouteFeature) (RouteFeature, error) {
	for _, existing := range r.routes {
		if existing.Path != rf.Path {
			continue
		}
		if existing.Method == nil && rf.Method == nil {
			return RouteFeature{}, &pgconn.PgError{Code: "23505"}
		}
		if existing.Method != nil && rf.Method != nil && *existing.Method == *rf.Method {
			return RouteFeature{}, &pgconn.PgError{Code: "23505"}
		}
	}
	r.nextID++
	rf.ID = r.nextID
	r.routes = append(r.routes, rf)
	return rf, nil
}

func (r *memoryRouteRepo) DeleteRouteFeature(ctx context.Context, id int64) (int64, error) {
	for i, rf := range r.routes {
		if rf.ID == id {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

type routeChanges struct {
	changes []audit.Change
}

func (c *routeChanges) RecordChange(ctx context.Context, change audit.Change) {
	c.changes = append(c.changes, change)
}

func method(m string) *string { return &m }

func TestResolveExactMethodBeatsWildcard(t *testing.T) {
	repo := &memoryRouteRepo{routes: []RouteFeature{
		{ID: 1, Path: "/api/v1/users", Method: nil, FeatureID: 10},
		{ID: 2, Path: "/api/v1/users", Method: method("DELETE"), FeatureID: 20},
	}}
	svc := NewService(repo, nil)

	rf, err := svc.Resolve(context.Background(), "/api/v1/users", "delete")
	require.NoError(t, err)
	require.NotNil(t, rf)
	require.Equal(t, int64(20), rf.FeatureID)

	rf, err = svc.Resolve(context.Background(), "/api/v1/users", "GET")
	require.NoError(t, err)
	require.NotNil(t, rf)
	require.Equal(t, int64(10), rf.FeatureID)
}

func TestResolveMostSpecificPathWins(t *testing.T) {
	repo := &memoryRouteRepo{routes: []RouteFeature{
		{ID: 1, Path: "/api/v1/users", FeatureID: 10},
		{ID: 2, Path: "/api/v1/users/roles", FeatureID: 20},
	}}
	svc := NewService(repo, nil)

	rf, err := svc.Resolve(context.Background(), "/api/v1/users/roles/5", "GET")
	require.NoError(t, err)
	require.NotNil(t, rf)
	require.Equal(t, int64(20), rf.FeatureID)

	rf, err = svc.Resolve(context.Background(), "/api/v1/users/5", "GET")
	require.NoError(t, err)
	require.NotNil(t, rf)
	require.Equal(t, int64(10), rf.FeatureID)
}

func TestResolveUnmappedPathIsNil(t *testing.T) {
	svc := NewService(&memoryRouteRepo{}, nil)
	rf, err := svc.Resolve(context.Background(), "/api/v1/unknown", "GET")
	require.NoError(t, err)
	require.Nil(t, rf)
}

func TestCreateNormalizesAndValidates(t *testing.T) {
	repo := &memoryRouteRepo{}
	changes := &routeChanges{}
	svc := NewService(repo, changes)

	created, err := svc.Create(context.Background(), nil, RouteFeature{
		Path: " /api/v1/users ", Method: method("delete"), FeatureID: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "/api/v1/users", created.Path)
	require.Equal(t, "DELETE", *created.Method)
	require.Len(t, changes.changes, 1)
	require.Equal(t, "route_features", changes.changes[0].TableName)
	require.Equal(t, audit.ActionCreate, changes.changes[0].Action)
}

func TestCreateRejectsMalformedMappings(t *testing.T) {
	svc := NewService(&memoryRouteRepo{}, nil)

	_, err := svc.Create(context.Background(), nil, RouteFeature{Path: "", FeatureID: 10})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(context.Background(), nil, RouteFeature{Path: "users", FeatureID: 10})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(context.Background(), nil, RouteFeature{Path: "/users", Method: method("FETCH"), FeatureID: 10})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(context.Background(), nil, RouteFeature{Path: "/users"})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestCreateBlankMethodBecomesWildcard(t *testing.T) {
	svc := NewService(&memoryRouteRepo{}, nil)
	created, err := svc.Create(context.Background(), nil, RouteFeature{Path: "/users", Method: method("  "), FeatureID: 10})
	require.NoError(t, err)
	require.Nil(t, created.Method)
}

func TestCreateRejectsDuplicateMapping(t *testing.T) {
	svc := NewService(&memoryRouteRepo{}, nil)

	_, err := svc.Create(context.Background(), nil, RouteFeature{Path: "/users", Method: method("GET"), FeatureID: 10})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), nil, RouteFeature{Path: "/users", Method: method("get"), FeatureID: 20})
	require.ErrorIs(t, err, ErrDuplicate)

	// Wildcard rows collide with each other too; NULL methods do not make
	// the pair distinct.
	_, err = svc.Create(context.Background(), nil, RouteFeature{Path: "/users", FeatureID: 10})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), nil, RouteFeature{Path: "/users", FeatureID: 20})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestDeleteRecordsOldMapping(t *testing.T) {
	repo := &memoryRouteRepo{}
	changes := &routeChanges{}
	svc := NewService(repo, changes)

	created, err := svc.Create(context.Background(), nil, RouteFeature{Path: "/users", FeatureID: 10})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), nil, created.ID))
	last := changes.changes[len(changes.changes)-1]
	require.Equal(t, audit.ActionDelete, last.Action)
	require.Equal(t, "/users", last.OldValues["path"])

	require.ErrorIs(t, svc.Delete(context.Background(), nil, created.ID), ErrNotFound)
}

func TestCheckAllReportsEveryMalformedMapping(t *testing.T) {
	repo := &memoryRouteRepo{routes: []RouteFeature{
		{ID: 1, Path: "/ok", FeatureID: 10},
		{ID: 2, Path: "", FeatureID: 10},
		{ID: 3, Path: "/broken", FeatureID: 0},
	}}
	svc := NewService(repo, nil)

	err := svc.CheckAll(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "empty path")
	require.Contains(t, err.Error(), "feature required")
}
