package routemap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gatehouse/gatehouse/internal/audit"
)

// RepositoryPort defines data access methods for route mappings.
type RepositoryPort interface {
	ListRouteFeatures(ctx context.Context) ([]RouteFeature, error)
	FindByPath(ctx context.Context, path string) ([]RouteFeature, error)
	CreateRouteFeature(ctx context.Context, rf RouteFeature) (RouteFeature, error)
	DeleteRouteFeature(ctx context.Context, id int64) (int64, error)
}

// ChangeRecorder captures mutation snapshots.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, change audit.Change)
}

// Service handles route mapping administration and resolution.
type Service struct {
	repo    RepositoryPort
	changes ChangeRecorder
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, changes ChangeRecorder) *Service {
	return &Service{repo: repo, changes: changes}
}

// List returns all mappings.
func (s *Service) List(ctx context.Context) ([]RouteFeature, error) {
	return s.repo.ListRouteFeatures(ctx)
}

// Resolve maps a request (path, method) to the mapping guarding it, nil when
// no mapping exists. A mapping matches its own path and everything nested
// under it, so /users covers /users/3. The most specific path wins; within
// it an exact (path, method) match wins over the wildcard mapping.
func (s *Service) Resolve(ctx context.Context, path, method string) (*RouteFeature, error) {
	candidates, err := s.repo.FindByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return pick(candidates, strings.ToUpper(method)), nil
}

// Create validates and inserts a new mapping.
func (s *Service) Create(ctx context.Context, actorID *int64, rf RouteFeature) (RouteFeature, error) {
	rf.Path = strings.TrimSpace(rf.Path)
	if rf.Method != nil {
		m := strings.ToUpper(strings.TrimSpace(*rf.Method))
		if m == "" {
			rf.Method = nil
		} else {
			rf.Method = &m
		}
	}
	if err := rf.Validate(); err != nil {
		return RouteFeature{}, err
	}
	created, err := s.repo.CreateRouteFeature(ctx, rf)
	if err != nil {
		if isUniqueViolation(err) {
			return RouteFeature{}, ErrDuplicate
		}
		return RouteFeature{}, err
	}
	if s.changes != nil {
		s.changes.RecordChange(ctx, audit.Change{
			ActorID:   actorID,
			TableName: "route_features",
			RecordID:  strconv.FormatInt(created.ID, 10),
			Action:    audit.ActionCreate,
			NewValues: snapshot(created),
		})
	}
	return created, nil
}

// Delete removes a mapping by id.
func (s *Service) Delete(ctx context.Context, actorID *int64, id int64) error {
	routes, err := s.repo.ListRouteFeatures(ctx)
	if err != nil {
		return err
	}
	var old *RouteFeature
	for i := range routes {
		if routes[i].ID == id {
			old = &routes[i]
			break
		}
	}
	rows, err := s.repo.DeleteRouteFeature(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	if s.changes != nil && old != nil {
		s.changes.RecordChange(ctx, audit.Change{
			ActorID:   actorID,
			TableName: "route_features",
			RecordID:  strconv.FormatInt(id, 10),
			Action:    audit.ActionDelete,
			OldValues: snapshot(*old),
		})
	}
	return nil
}

// CheckAll validates every stored mapping. Called at startup so a malformed
// entry fails loudly before traffic flows.
func (s *Service) CheckAll(ctx context.Context) error {
	routes, err := s.repo.ListRouteFeatures(ctx)
	if err != nil {
		return fmt.Errorf("routemap: load mappings: %w", err)
	}
	var errs []error
	for _, rf := range routes {
		if err := rf.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func snapshot(rf RouteFeature) map[string]any {
	snap := map[string]any{
		"path":       rf.Path,
		"feature_id": rf.FeatureID,
	}
	if rf.Method != nil {
		snap["method"] = *rf.Method
	}
	return snap
}
